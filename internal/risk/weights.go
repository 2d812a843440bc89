package risk

import (
	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/config"
)

// LevelWeights is what one high or medium finding adds to its surface's score.
// Safe, info and low findings add nothing.
type LevelWeights struct {
	High   int
	Medium int
}

// Weights holds the per-surface dynamic weights. Static weights are fixed.
type Weights struct {
	Dynamic map[schemas.Surface]LevelWeights
}

// DefaultWeights returns the stock dynamic weights.
func DefaultWeights() Weights {
	return Weights{Dynamic: map[schemas.Surface]LevelWeights{
		schemas.SurfaceProcess:     {High: 10, Medium: 5},
		schemas.SurfaceRegistry:    {High: 8, Medium: 4},
		schemas.SurfaceFilesystem:  {High: 6, Medium: 3},
		schemas.SurfaceNetwork:     {High: 10, Medium: 5},
		schemas.SurfacePersistence: {High: 12, Medium: 6},
	}}
}

// WeightsFromConfig overlays the configured weights on the defaults.
func WeightsFromConfig(cfg config.RiskConfig) Weights {
	w := DefaultWeights()
	for name, lw := range cfg.Dynamic {
		surface := schemas.Surface(name)
		if !surface.Valid() {
			continue
		}
		w.Dynamic[surface] = LevelWeights{High: lw.High, Medium: lw.Medium}
	}
	return w
}

func (w Weights) forLevel(surface schemas.Surface, level schemas.RiskLevel) int {
	lw, ok := w.Dynamic[surface]
	if !ok {
		return 0
	}
	switch level {
	case schemas.RiskHigh:
		return lw.High
	case schemas.RiskMedium:
		return lw.Medium
	default:
		return 0
	}
}
