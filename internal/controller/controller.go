// Package controller runs the collectors for the duration of a sample's
// execution and classifies what they saw once they are joined.
package controller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/classify"
	"github.com/xkilldash9x/delver/internal/collector"
	"github.com/xkilldash9x/delver/internal/metrics"
)

// DefaultJoinTimeout bounds how long Stop waits for the collectors.
const DefaultJoinTimeout = 5 * time.Second

var (
	// ErrAlreadyStarted is returned when Start is called on a controller that
	// has already been started. Controllers are single use.
	ErrAlreadyStarted = errors.New("controller: already started")
	// ErrStopped is returned when Start is called after Stop.
	ErrStopped = errors.New("controller: already stopped")
	// ErrJoinTimeout is recorded for collectors that did not return in time.
	ErrJoinTimeout = errors.New("controller: collector did not stop before the join timeout")
	// ErrCollectorPanic wraps a panic recovered from a collector.
	ErrCollectorPanic = errors.New("controller: collector panicked")
)

// Status summarises how a collector finished.
type Status string

const (
	StatusOK       Status = "ok"
	StatusFailed   Status = "failed"
	StatusTimedOut Status = "timed_out"
)

// Outcome is how one collector finished. Failed and timed out collectors
// carry an empty Result.
type Outcome struct {
	Surface schemas.Surface  `json:"surface"`
	Status  Status           `json:"status"`
	Result  collector.Result `json:"-"`
	Err     error            `json:"-"`
}

// Error returns the outcome's error text, or "".
func (o Outcome) Error() string {
	if o.Err == nil {
		return ""
	}
	return o.Err.Error()
}

// Options configures a Controller.
type Options struct {
	JoinTimeout time.Duration
	Metrics     *metrics.Metrics
}

// Controller owns one monitoring window.
type Controller struct {
	collectors  map[schemas.Surface]collector.Collector
	classifiers map[schemas.Surface]classify.Classifier
	joinTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics

	// stateLock guards everything below.
	stateLock sync.Mutex
	started   bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan Outcome
	startedAt time.Time
	outcomes  map[schemas.Surface]Outcome
	findings  map[schemas.Surface][]schemas.Finding
}

// New validates the slot maps and builds a controller. Every collector must
// sit in the slot of its own surface.
func New(
	collectors map[schemas.Surface]collector.Collector,
	classifiers map[schemas.Surface]classify.Classifier,
	opts Options,
	logger *zap.Logger,
) (*Controller, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if len(collectors) == 0 {
		return nil, errors.New("at least one collector is required")
	}
	for surface, col := range collectors {
		if !surface.Valid() {
			return nil, fmt.Errorf("unknown surface %q", surface)
		}
		if col == nil {
			return nil, fmt.Errorf("collector for %s cannot be nil", surface)
		}
		if col.Surface() != surface {
			return nil, fmt.Errorf("collector for %s is in the %s slot", col.Surface(), surface)
		}
	}
	for surface, cl := range classifiers {
		if cl == nil {
			return nil, fmt.Errorf("classifier for %s cannot be nil", surface)
		}
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}

	return &Controller{
		collectors:  collectors,
		classifiers: classifiers,
		joinTimeout: opts.JoinTimeout,
		logger:      logger.With(zap.String("component", "controller")),
		metrics:     opts.Metrics,
		outcomes:    make(map[schemas.Surface]Outcome),
		findings:    make(map[schemas.Surface][]schemas.Finding),
	}, nil
}

// Start launches every collector on its own goroutine under one cancellation
// context derived from ctx.
func (c *Controller) Start(ctx context.Context) error {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	if c.started {
		return ErrAlreadyStarted
	}
	if c.stopped {
		return ErrStopped
	}
	c.started = true

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan Outcome, len(c.collectors))
	c.startedAt = time.Now()

	c.logger.Info("Starting collectors", zap.Int("count", len(c.collectors)))
	for surface, col := range c.collectors {
		go c.run(runCtx, surface, col)
	}
	return nil
}

// run executes one collector and reports its outcome. Panics are recovered
// into a failed outcome.
func (c *Controller) run(ctx context.Context, surface schemas.Surface, col collector.Collector) {
	logger := c.logger.With(zap.String("surface", string(surface)))
	outcome := Outcome{Surface: surface}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Collector panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			outcome = Outcome{
				Surface: surface,
				Status:  StatusFailed,
				Result:  collector.Result{Surface: surface},
				Err:     fmt.Errorf("%w: %v", ErrCollectorPanic, r),
			}
		}
		c.done <- outcome
	}()

	res, err := col.Run(ctx)
	if err != nil {
		logger.Warn("Collector failed", zap.Error(err))
		outcome.Status = StatusFailed
		outcome.Result = collector.Result{Surface: surface}
		outcome.Err = err
		return
	}
	res.Surface = surface
	outcome.Status = StatusOK
	outcome.Result = res
	logger.Debug("Collector finished", zap.Int("baseline", len(res.Baseline)), zap.Int("events", len(res.Events)))
}

// Stop cancels the collectors, waits up to the join timeout for them and then
// classifies whatever each returned. Collectors that miss the deadline are
// abandoned and recorded as timed out. Calling Stop again is a no-op.
func (c *Controller) Stop() {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	if !c.started {
		c.logger.Warn("Stop called before Start")
		return
	}

	c.logger.Info("Stopping collectors", zap.Duration("join_timeout", c.joinTimeout))
	c.cancel()
	joinStart := time.Now()

	timer := time.NewTimer(c.joinTimeout)
	defer timer.Stop()
join:
	for len(c.outcomes) < len(c.collectors) {
		select {
		case o := <-c.done:
			c.outcomes[o.Surface] = o
		case <-timer.C:
			break join
		}
	}
	c.metrics.ObserveJoin(time.Since(joinStart))

	for surface := range c.collectors {
		if _, ok := c.outcomes[surface]; ok {
			continue
		}
		c.logger.Warn("Collector did not stop in time, abandoning it", zap.String("surface", string(surface)))
		c.outcomes[surface] = Outcome{
			Surface: surface,
			Status:  StatusTimedOut,
			Result:  collector.Result{Surface: surface},
			Err:     ErrJoinTimeout,
		}
	}

	for _, surface := range schemas.Surfaces() {
		o, ok := c.outcomes[surface]
		if !ok {
			continue
		}
		c.metrics.IncOutcome(string(surface), string(o.Status))
		c.findings[surface] = c.classify(surface, o.Result.Events)
	}

	c.logger.Info("Collectors joined", zap.Duration("window", time.Since(c.startedAt)))
}

// classify runs the surface's classifier. A panicking classifier yields no findings.
func (c *Controller) classify(surface schemas.Surface, events []schemas.RawEvent) (out []schemas.Finding) {
	cl, ok := c.classifiers[surface]
	if !ok {
		c.logger.Debug("No classifier for surface", zap.String("surface", string(surface)))
		return []schemas.Finding{}
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Classifier panicked", zap.String("surface", string(surface)), zap.Any("panic", r))
			out = []schemas.Finding{}
		}
	}()

	found := cl.Classify(events)
	if found == nil {
		found = []schemas.Finding{}
	}
	for _, f := range found {
		c.metrics.IncFinding(string(surface), string(f.RiskLevel))
	}
	return found
}

// Findings returns the findings per surface. It is empty until Stop returns.
func (c *Controller) Findings() map[schemas.Surface][]schemas.Finding {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	out := make(map[schemas.Surface][]schemas.Finding, len(c.findings))
	for surface, fs := range c.findings {
		out[surface] = append([]schemas.Finding(nil), fs...)
	}
	return out
}

// Outcomes returns every collector's outcome in canonical surface order. It is
// empty until Stop returns.
func (c *Controller) Outcomes() []Outcome {
	c.stateLock.Lock()
	defer c.stateLock.Unlock()
	out := make([]Outcome, 0, len(c.outcomes))
	for _, surface := range schemas.Surfaces() {
		if o, ok := c.outcomes[surface]; ok {
			out = append(out, o)
		}
	}
	return out
}
