//go:build linux

package collector

import (
	"context"
	"fmt"

	"github.com/prometheus/procfs"
)

type procfsSource struct {
	fs procfs.FS
}

// NewProcessSource reads the process table from /proc.
func NewProcessSource() (ProcessSource, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return procfsSource{fs: fs}, nil
}

// NewProcessSourceAt reads the process table from a procfs mounted at mountPoint.
func NewProcessSourceAt(mountPoint string) (ProcessSource, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs at %s: %w", mountPoint, err)
	}
	return procfsSource{fs: fs}, nil
}

func (s procfsSource) Processes(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	out := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Processes can exit while we walk the table; skip what cannot be read.
		name, err := p.Comm()
		if err != nil {
			continue
		}
		info := ProcessInfo{PID: p.PID, Name: name, Type: ProcessTypeUser}
		if exe, err := p.Executable(); err == nil {
			info.Path = exe
		}
		if st, err := p.NewStatus(); err == nil && st.UIDs[0] == 0 {
			info.Type = ProcessTypeSystem
		}
		out = append(out, info)
	}
	return out, nil
}
