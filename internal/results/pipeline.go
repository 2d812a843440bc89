package results

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/controller"
	"github.com/xkilldash9x/delver/internal/risk"
)

// Store persists finished reports.
type Store interface {
	PersistRun(ctx context.Context, report *Report) error
}

// Run is everything the pipeline needs from one monitoring window.
type Run struct {
	RunID    string
	Sample   string
	Static   schemas.StaticResults
	Findings map[schemas.Surface][]schemas.Finding
	Outcomes []controller.Outcome
	Window   Window
}

// Pipeline turns a finished run into a scored report.
type Pipeline struct {
	engine *risk.Engine
	store  Store
	logger *zap.Logger
}

// NewPipeline creates a results pipeline. store may be nil, in which case
// reports are not persisted.
func NewPipeline(engine *risk.Engine, store Store, logger *zap.Logger) (*Pipeline, error) {
	if engine == nil {
		return nil, errors.New("risk engine cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		engine: engine,
		store:  store,
		logger: logger.Named("results_pipeline"),
	}, nil
}

// Process scores the run, orders each surface's findings by risk and
// persists the report when a store is configured. A persistence failure is
// returned alongside the report.
func (p *Pipeline) Process(ctx context.Context, run Run) (*Report, error) {
	if run.RunID == "" {
		run.RunID = uuid.NewString()
	}
	logger := p.logger.With(zap.String("run_id", run.RunID))
	logger.Info("Starting results processing")

	findings := make(map[schemas.Surface][]schemas.Finding, len(schemas.Surfaces()))
	for _, surface := range schemas.Surfaces() {
		findings[surface] = Prioritize(run.Findings[surface])
	}

	breakdown := p.engine.Score(schemas.CombinedResults{
		Static:  run.Static,
		Dynamic: findings,
	})

	report := &Report{
		RunID:      run.RunID,
		Sample:     run.Sample,
		StartedAt:  run.Window.Start,
		FinishedAt: run.Window.End,
		Findings:   findings,
		Summary:    Summarize(findings),
		Outcomes:   summarizeOutcomes(run.Outcomes),
		Breakdown:  breakdown,
	}
	logger.Info("Results processing complete",
		zap.Int("findings", report.Summary["total"]),
		zap.Int("score", breakdown.TotalScore),
		zap.String("rating", string(breakdown.Rating)),
	)

	if p.store == nil {
		return report, nil
	}
	if err := p.store.PersistRun(ctx, report); err != nil {
		return report, fmt.Errorf("failed to persist run %s: %w", run.RunID, err)
	}
	logger.Debug("Run persisted")
	return report, nil
}
