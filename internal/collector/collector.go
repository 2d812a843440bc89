// Package collector observes one OS surface while a sample runs. Each
// collector takes a baseline, then records changes until its context is
// cancelled, and hands back everything it saw in a Result.
package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/delver/api/schemas"
)

var (
	// ErrUnsupported is returned when the OS source behind a collector does not
	// exist on this platform.
	ErrUnsupported = errors.New("collector: source not supported on this platform")
	// ErrNoInterfaces is returned by the network collector when no interface can be captured on.
	ErrNoInterfaces = errors.New("collector: no capture interfaces available")
	// ErrNoWatchableDirs is returned by the filesystem collector when none of the configured directories exist.
	ErrNoWatchableDirs = errors.New("collector: no watchable directories")
	// ErrAccessDenied is returned by registry sources for keys the process may not read.
	ErrAccessDenied = errors.New("collector: access denied")
)

// Collector is the contract shared by all five surfaces.
type Collector interface {
	Surface() schemas.Surface
	// CaptureBaseline records the pre-execution state. Run calls it when it has
	// not been called yet.
	CaptureBaseline(ctx context.Context) ([]schemas.RawEvent, error)
	// Run records changes until ctx is done. On a setup failure it returns an
	// empty Result alongside the error.
	Run(ctx context.Context) (Result, error)
	State() State
}

// Result is everything a collector observed. The caller owns the slices.
type Result struct {
	Surface  schemas.Surface    `json:"surface"`
	Baseline []schemas.RawEvent `json:"baseline"`
	Events   []schemas.RawEvent `json:"events"`
}

// Empty reports whether the result carries no observations.
func (r Result) Empty() bool {
	return len(r.Baseline) == 0 && len(r.Events) == 0
}

// State is a collector's lifecycle position.
type State int32

const (
	StateIdle State = iota
	StateBaselineCaptured
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBaselineCaptured:
		return "baseline_captured"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stateBox is an atomically updated State.
type stateBox struct{ v atomic.Int32 }

func (b *stateBox) Load() State   { return State(b.v.Load()) }
func (b *stateBox) Store(s State) { b.v.Store(int32(s)) }

// Clock supplies event timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant. Useful for replaying recorded
// snapshots deterministically.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// sleep waits for d or until ctx is done, whichever comes first.
// It reports false when ctx ended the wait.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// copyEvents returns a copy of events that shares no backing array with the input.
func copyEvents(events []schemas.RawEvent) []schemas.RawEvent {
	if len(events) == 0 {
		return []schemas.RawEvent{}
	}
	out := make([]schemas.RawEvent, len(events))
	copy(out, events)
	return out
}
