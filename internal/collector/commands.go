package collector

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strings"
)

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// ServiceSource lists installed services and resolves their binaries.
// The windows build reads the service control manager directly.
type ServiceSource interface {
	Services(ctx context.Context) ([]string, error)
	BinaryPath(ctx context.Context, service string) (string, error)
}

// TaskSource lists scheduled task names.
type TaskSource interface {
	Tasks(ctx context.Context) ([]string, error)
}

// Schtasks lists scheduled tasks through schtasks.exe.
type Schtasks struct {
	Run CommandRunner
}

func (s Schtasks) Tasks(ctx context.Context) ([]string, error) {
	out, err := s.Run(ctx, "schtasks", "/query", "/fo", "csv", "/nh")
	if err != nil {
		return nil, err
	}
	return parseTaskNames(out)
}

// parseTaskNames reads the first column of schtasks CSV output. Header rows
// repeated between task folders are skipped.
func parseTaskNames(out []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(out))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	seen := make(map[string]bool)
	var names []string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse schtasks output: %w", err)
		}
		if len(rec) == 0 {
			continue
		}
		name := strings.TrimSpace(rec[0])
		if name == "" || name == "TaskName" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
