package collector

import (
	"context"

	"github.com/xkilldash9x/delver/api/schemas"
)

// Unavailable stands in for a collector that could not be constructed. It
// returns an empty result and the construction error so the failure shows up
// in the run's outcomes.
type Unavailable struct {
	surface schemas.Surface
	err     error
	state   stateBox
}

// NewUnavailable wraps the construction error for surface.
func NewUnavailable(surface schemas.Surface, err error) *Unavailable {
	return &Unavailable{surface: surface, err: err}
}

func (u *Unavailable) Surface() schemas.Surface { return u.surface }

func (u *Unavailable) CaptureBaseline(context.Context) ([]schemas.RawEvent, error) {
	return nil, u.err
}

func (u *Unavailable) Run(context.Context) (Result, error) {
	u.state.Store(StateStopped)
	return Result{Surface: u.surface}, u.err
}

func (u *Unavailable) State() State { return u.state.Load() }
