// Package classify turns the raw events of one surface into risk-annotated
// findings. Classifiers hold no state; the same events always produce the
// same findings in the same order.
package classify

import (
	"strings"

	"github.com/xkilldash9x/delver/api/schemas"
)

// Classifier judges the events of a single surface.
type Classifier interface {
	Surface() schemas.Surface
	Classify(events []schemas.RawEvent) []schemas.Finding
}

// Defaults returns one classifier per surface.
func Defaults() map[schemas.Surface]Classifier {
	return map[schemas.Surface]Classifier{
		schemas.SurfaceProcess:     ProcessClassifier{},
		schemas.SurfaceRegistry:    RegistryClassifier{},
		schemas.SurfacePersistence: PersistenceClassifier{},
		schemas.SurfaceFilesystem:  FilesystemClassifier{},
		schemas.SurfaceNetwork:     NetworkClassifier{},
	}
}

// launchableExtensions are the extensions registry and persistence entries
// use to start code.
var launchableExtensions = []string{".exe", ".dll", ".vbs", ".ps1", ".bat", ".cmd", ".scr"}

// commandExtensions are tried, in order, when looking for where the program
// part of an unquoted command line ends.
var commandExtensions = []string{".exe", ".com", ".bat", ".cmd", ".ps1", ".vbs", ".scr", ".dll", ".sys"}

// executablePath extracts the program from a command line such as
// `"C:\Program Files\x.exe" -k` or `C:\Temp\a.exe /silent`.
func executablePath(cmdline string) string {
	s := strings.TrimSpace(cmdline)
	if strings.HasPrefix(s, `"`) {
		if end := strings.Index(s[1:], `"`); end >= 0 {
			return s[1 : end+1]
		}
		return strings.TrimPrefix(s, `"`)
	}

	lower := strings.ToLower(s)
	cut := -1
	for _, ext := range commandExtensions {
		if i := strings.Index(lower, ext+" "); i >= 0 && (cut < 0 || i+len(ext) < cut) {
			cut = i + len(ext)
		}
	}
	if cut >= 0 {
		return s[:cut]
	}
	return s
}

// normalizePath lowercases p and uses backslashes throughout.
func normalizePath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "/", `\`))
}

// baseName returns the last element of a Windows or POSIX path.
func baseName(p string) string {
	if i := strings.LastIndexAny(p, `\/`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// extension returns the lowercased extension of p, including the dot. Dot
// files have no extension.
func extension(p string) string {
	base := baseName(p)
	if i := strings.LastIndex(base, "."); i > 0 {
		return strings.ToLower(base[i:])
	}
	return ""
}

func hasSuffixAny(s string, suffixes []string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// details copies the populated fields of ev and adds extra on top.
func details(ev schemas.RawEvent, extra map[string]any) map[string]any {
	out := ev.Fields()
	for k, v := range extra {
		out[k] = v
	}
	return out
}
