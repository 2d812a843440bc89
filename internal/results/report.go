package results

import (
	"fmt"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/controller"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Window is the monitoring window of a run.
type Window struct {
	Start time.Time
	End   time.Time
}

// Report is the combined result of one monitored run.
type Report struct {
	RunID      string    `json:"run_id"`
	Sample     string    `json:"sample,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	// Findings holds every surface's findings, most severe first.
	Findings  map[schemas.Surface][]schemas.Finding `json:"findings"`
	Summary   map[string]int                        `json:"summary"`
	Outcomes  []OutcomeSummary                      `json:"outcomes"`
	Breakdown schemas.RiskBreakdown                 `json:"risk"`
}

// OutcomeSummary is the serialisable view of a collector outcome.
type OutcomeSummary struct {
	Surface  schemas.Surface   `json:"surface"`
	Status   controller.Status `json:"status"`
	Error    string            `json:"error,omitempty"`
	Baseline int               `json:"baseline_entries"`
	Events   int               `json:"events"`
}

func summarizeOutcomes(outcomes []controller.Outcome) []OutcomeSummary {
	out := make([]OutcomeSummary, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, OutcomeSummary{
			Surface:  o.Surface,
			Status:   o.Status,
			Error:    o.Error(),
			Baseline: len(o.Result.Baseline),
			Events:   len(o.Result.Events),
		})
	}
	return out
}

// Duration is the length of the monitoring window.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ToJSON serializes the report to an indented JSON byte slice.
func (r *Report) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// WriteFile writes the report as JSON to path.
func (r *Report) WriteFile(path string) error {
	data, err := r.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}
