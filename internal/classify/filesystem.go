package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xkilldash9x/delver/api/schemas"
)

var sensitivePaths = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\\AppData\\Roaming`),
	regexp.MustCompile(`(?i)\\AppData\\Local\\Temp`),
	regexp.MustCompile(`(?i)\\ProgramData`),
	regexp.MustCompile(`(?i)\\Windows\\System32`),
	regexp.MustCompile(`(?i)\\Windows\\Temp`),
	regexp.MustCompile(`(?i)\\Users\\.*\\AppData\\LocalLow`),
	regexp.MustCompile(`(?i)\\Startup`),
}

var randomName = regexp.MustCompile(`^[A-Za-z0-9]{8,15}\.(exe|dll|dat|tmp)$`)

var executableExtensions = map[string]bool{
	".exe": true, ".dll": true, ".sys": true, ".bat": true, ".cmd": true, ".ps1": true,
}

// FilesystemClassifier flags file activity in abused locations and dropped executables.
type FilesystemClassifier struct{}

func (FilesystemClassifier) Surface() schemas.Surface { return schemas.SurfaceFilesystem }

// Classify emits every rule that matches an event, or a single safe finding
// when none does. Events without a path are skipped.
func (FilesystemClassifier) Classify(events []schemas.RawEvent) []schemas.Finding {
	var out []schemas.Finding
	for _, ev := range events {
		if ev.Path == "" {
			continue
		}
		kind := string(ev.Kind)
		path := ev.Path
		winPath := strings.ReplaceAll(path, "/", `\`)
		flagged := false

		add := func(category, desc string, risk schemas.RiskLevel, extra map[string]any) {
			out = append(out, schemas.Finding{
				Surface:     schemas.SurfaceFilesystem,
				Category:    category,
				Description: desc,
				RiskLevel:   risk,
				Details:     details(ev, extra),
			})
			flagged = true
		}

		for _, re := range sensitivePaths {
			if re.MatchString(winPath) {
				add("SensitivePath", fmt.Sprintf("%s in sensitive path: %s", strings.ToUpper(kind), path), schemas.RiskMedium, nil)
				break
			}
		}

		ext := extension(path)
		if ev.Kind == schemas.KindCreated && executableExtensions[ext] {
			add("ExecutableCreated", "Created executable file: "+path, schemas.RiskHigh, map[string]any{"extension": ext})
		}

		if ev.Kind == schemas.KindCreated && randomName.MatchString(baseName(path)) {
			add("RandomFilename", "Randomized filename created: "+path, schemas.RiskMedium, nil)
		}

		if ev.Kind == schemas.KindMoved {
			newExt := ""
			if ev.DestPath != "" {
				newExt = extension(ev.DestPath)
			}
			if ext != newExt && executableExtensions[newExt] {
				add("RenameToExecutable", fmt.Sprintf("File renamed to executable: %s -> %s", path, ev.DestPath), schemas.RiskHigh,
					map[string]any{"oldExt": ext, "newExt": newExt})
			}
		}

		if !flagged {
			category := kind
			if category == "" {
				category = "normal"
			}
			add(category, "No suspicious activity detected", schemas.RiskSafe, nil)
		}
	}
	return out
}
