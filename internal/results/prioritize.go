package results

import (
	"sort"

	"github.com/xkilldash9x/delver/api/schemas"
)

// Prioritize returns a copy of findings ordered from most to least severe.
// Findings of equal risk keep their classifier order.
func Prioritize(findings []schemas.Finding) []schemas.Finding {
	out := make([]schemas.Finding, len(findings))
	copy(out, findings)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RiskLevel.Rank() > out[j].RiskLevel.Rank()
	})
	return out
}

// Summarize counts findings per risk level across all surfaces. "total"
// holds the overall count.
func Summarize(findings map[schemas.Surface][]schemas.Finding) map[string]int {
	summary := map[string]int{
		"total":                    0,
		string(schemas.RiskHigh):   0,
		string(schemas.RiskMedium): 0,
		string(schemas.RiskLow):    0,
		string(schemas.RiskInfo):   0,
		string(schemas.RiskSafe):   0,
	}
	for _, fs := range findings {
		summary["total"] += len(fs)
		for _, f := range fs {
			summary[string(f.RiskLevel)]++
		}
	}
	return summary
}
