package classify

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/delver/api/schemas"
)

var (
	userPaths   = []string{`\temp\`, `\appdata\`, `\users\`}
	systemPaths = []string{`\windows\system32`, `\windows\syswow64`}
)

// ProcessClassifier rates processes by where their image lives.
type ProcessClassifier struct{}

func (ProcessClassifier) Surface() schemas.Surface { return schemas.SurfaceProcess }

type processKey struct {
	pid  int
	path string
}

// Classify emits one finding per (PID, path) pair in first-seen order,
// keeping the most severe risk seen for the pair. Events without a PID or
// path are skipped.
func (ProcessClassifier) Classify(events []schemas.RawEvent) []schemas.Finding {
	var out []schemas.Finding
	index := make(map[processKey]int)

	for _, ev := range events {
		if ev.PID == 0 || ev.Path == "" {
			continue
		}
		path := strings.ToLower(ev.Path)
		risk := processRisk(path, ev.ProcessType)
		key := processKey{pid: ev.PID, path: path}

		if i, ok := index[key]; ok {
			out[i].RiskLevel = out[i].RiskLevel.Max(risk)
			continue
		}
		index[key] = len(out)
		out = append(out, schemas.Finding{
			Surface:     schemas.SurfaceProcess,
			Category:    "ProcessCreated",
			Description: fmt.Sprintf("Process %s (pid %d) started from %s", ev.Name, ev.PID, ev.Path),
			RiskLevel:   risk,
			Details:     details(ev, map[string]any{"path": path}),
		})
	}
	return out
}

func processRisk(path, processType string) schemas.RiskLevel {
	if path == "" {
		return schemas.RiskMedium
	}
	p := normalizePath(path)
	if containsAny(p, systemPaths) {
		if processType == "system" {
			return schemas.RiskSafe
		}
		return schemas.RiskMedium
	}
	if containsAny(p, userPaths) {
		return schemas.RiskHigh
	}
	return schemas.RiskMedium
}
