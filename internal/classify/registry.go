package classify

import (
	"github.com/xkilldash9x/delver/api/schemas"
)

// RegistryClassifier rates registry value changes.
type RegistryClassifier struct{}

func (RegistryClassifier) Surface() schemas.Surface { return schemas.SurfaceRegistry }

// Classify emits exactly one finding per event. Values that launch a file are
// high, removals are low and everything else is informational.
func (RegistryClassifier) Classify(events []schemas.RawEvent) []schemas.Finding {
	out := make([]schemas.Finding, 0, len(events))
	for _, ev := range events {
		category := "Registry Value Change"
		risk := schemas.RiskInfo

		switch ev.Kind {
		case schemas.KindAdded:
			category = "Registry Value Added"
			if launches(ev.Value) {
				risk = schemas.RiskHigh
			}
		case schemas.KindModified:
			category = "Registry Value Modified"
			if launches(ev.NewValue) {
				risk = schemas.RiskHigh
			}
		case schemas.KindRemoved:
			category = "Registry Value Removed"
			risk = schemas.RiskLow
		}

		out = append(out, schemas.Finding{
			Surface:     schemas.SurfaceRegistry,
			Category:    category,
			Description: category + ": " + ev.Key + `\` + ev.Name,
			RiskLevel:   risk,
			Details:     details(ev, nil),
		})
	}
	return out
}

// launches reports whether data, or the program of data read as a command
// line, ends in a launchable extension.
func launches(data string) bool {
	if data == "" {
		return false
	}
	return hasSuffixAny(normalizePath(data), launchableExtensions) ||
		hasSuffixAny(normalizePath(executablePath(data)), launchableExtensions)
}
