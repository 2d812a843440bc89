// Package risk folds static and dynamic findings into a single weighted score
// and rating band. Scoring has no side effects beyond logging and metrics.
package risk

import (
	"sort"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/metrics"
	"go.uber.org/zap"
)

// Rating band lower bounds.
const (
	CriticalThreshold = 200
	HighThreshold     = 120
	MediumThreshold   = 60
)

// Engine scores combined results.
type Engine struct {
	weights Weights
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewEngine builds an engine with the given weights.
func NewEngine(weights Weights, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if weights.Dynamic == nil {
		weights = DefaultWeights()
	}
	return &Engine{weights: weights, logger: logger.Named("risk")}
}

// WithMetrics publishes each score on m.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// Score computes the breakdown for in. A breakdown is always returned, with
// every static category and every known surface present.
func (e *Engine) Score(in schemas.CombinedResults) schemas.RiskBreakdown {
	b := schemas.RiskBreakdown{
		Static:  ScoreStatic(in.Static),
		Dynamic: make(map[string]int, len(schemas.Surfaces())),
	}
	for _, v := range b.Static {
		b.StaticTotal += v
	}

	for _, surface := range schemas.Surfaces() {
		b.Dynamic[string(surface)] = 0
	}
	for _, surface := range sortedSurfaces(in.Dynamic) {
		if !surface.Valid() {
			e.logger.Debug("Ignoring findings for unknown surface", zap.String("surface", string(surface)))
			continue
		}
		score := 0
		for _, f := range in.Dynamic[surface] {
			score += e.weights.forLevel(surface, f.RiskLevel)
		}
		b.Dynamic[string(surface)] = score
		b.DynamicTotal += score
	}

	b.TotalScore = b.StaticTotal + b.DynamicTotal
	b.Rating = RatingFor(b.TotalScore)
	e.metrics.SetScore(b.StaticTotal, b.DynamicTotal, b.TotalScore)

	e.logger.Debug("Scored",
		zap.Int("static", b.StaticTotal),
		zap.Int("dynamic", b.DynamicTotal),
		zap.Int("total", b.TotalScore),
		zap.String("rating", string(b.Rating)),
	)
	return b
}

// RatingFor maps a total score to its band.
func RatingFor(total int) schemas.Rating {
	switch {
	case total >= CriticalThreshold:
		return schemas.RatingCritical
	case total >= HighThreshold:
		return schemas.RatingHigh
	case total >= MediumThreshold:
		return schemas.RatingMedium
	default:
		return schemas.RatingLow
	}
}

func sortedSurfaces(m map[schemas.Surface][]schemas.Finding) []schemas.Surface {
	out := make([]schemas.Surface, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
