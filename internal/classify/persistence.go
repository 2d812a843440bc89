package classify

import (
	"fmt"

	"github.com/xkilldash9x/delver/api/schemas"
)

var safeDirs = []string{`\windows\system32`, `\windows\syswow64`, `\program files`, `\program files (x86)`}

// taskKeywords are words malware uses to make scheduled tasks look legitimate.
var taskKeywords = []string{"update", "service", "system", "agent", "google", "windowsupdate"}

// PersistenceClassifier rates new startup items, run keys, services and tasks.
type PersistenceClassifier struct{}

func (PersistenceClassifier) Surface() schemas.Surface { return schemas.SurfacePersistence }

// Classify emits exactly one finding per event.
func (PersistenceClassifier) Classify(events []schemas.RawEvent) []schemas.Finding {
	out := make([]schemas.Finding, 0, len(events))
	for _, ev := range events {
		filePath := persistencePath(ev)
		extra := map[string]any{"filePath": filePath}
		risk := persistenceRisk(filePath, ev.PersistenceType, ev.Name)

		var category, desc string
		switch ev.PersistenceType {
		case schemas.PersistenceStartupFolder:
			category = "Persistence: Startup Folder"
			desc = fmt.Sprintf("Startup folder item %s: %s", ev.Kind, ev.Name)
		case schemas.PersistenceRunKey:
			category = "Persistence: Run Registry Key"
			desc = fmt.Sprintf("Run key value %s: %s", ev.Kind, ev.Name)
		case schemas.PersistenceService:
			category = "Persistence: Installed Service"
			desc = fmt.Sprintf("Service %s: %s", ev.Kind, ev.Name)
		case schemas.PersistenceScheduledTask:
			category = "Persistence: Scheduled Task"
			desc = fmt.Sprintf("Scheduled task %s: %s", ev.Kind, ev.Name)
		default:
			category = fmt.Sprintf("Unknown Persistence Type (%s)", ev.PersistenceType)
			desc = "Unrecognised persistence event"
			risk = schemas.RiskMedium
			extra = map[string]any{"event": ev}
		}

		out = append(out, schemas.Finding{
			Surface:     schemas.SurfacePersistence,
			Category:    category,
			Description: desc,
			RiskLevel:   risk,
			Details:     details(ev, extra),
		})
	}
	return out
}

// persistencePath is the file an entry points at: its own path, else the
// service binary, else the run key data.
func persistencePath(ev schemas.RawEvent) string {
	switch {
	case ev.Path != "":
		return ev.Path
	case ev.BinaryPath != "":
		return ev.BinaryPath
	default:
		return ev.Value
	}
}

// persistenceRisk is high for launchable files outside the system
// directories and for tasks named to look legitimate.
func persistenceRisk(filePath string, ptype schemas.PersistenceType, name string) schemas.RiskLevel {
	if filePath != "" {
		p := normalizePath(executablePath(filePath))
		if hasSuffixAny(p, launchableExtensions) && !containsAny(p, safeDirs) {
			return schemas.RiskHigh
		}
	}
	if ptype == schemas.PersistenceScheduledTask && containsAny(normalizePath(name), taskKeywords) {
		return schemas.RiskHigh
	}
	return schemas.RiskMedium
}
