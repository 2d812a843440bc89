package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/metrics"
	"go.uber.org/zap"
)

// snapshotFunc reads the current state of a surface.
type snapshotFunc[S any] func(ctx context.Context) (S, error)

// diffFunc turns two consecutive snapshots into events. Snapshots must not be modified.
type diffFunc[S any] func(prev, cur S, now time.Time) []schemas.RawEvent

// baselineFunc lists the contents of the first snapshot as baseline events.
type baselineFunc[S any] func(snap S, now time.Time) []schemas.RawEvent

// poller drives the baseline-then-diff loop shared by the snapshot based collectors.
// Exactly two snapshots are live at any time; cur replaces prev every tick and a
// failed tick keeps prev.
type poller[S any] struct {
	surface  schemas.Surface
	interval time.Duration
	snapshot snapshotFunc[S]
	diff     diffFunc[S]
	baseline baselineFunc[S]
	clock    Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	state stateBox

	mu       sync.Mutex
	prev     S
	captured []schemas.RawEvent
	events   []schemas.RawEvent
}

func newPoller[S any](surface schemas.Surface, interval time.Duration, snap snapshotFunc[S], diff diffFunc[S], base baselineFunc[S], clock Clock, logger *zap.Logger, m *metrics.Metrics) *poller[S] {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &poller[S]{
		surface:  surface,
		interval: interval,
		snapshot: snap,
		diff:     diff,
		baseline: base,
		clock:    clock,
		logger:   logger,
		metrics:  m,
	}
}

func (p *poller[S]) State() State { return p.state.Load() }

// CaptureBaseline takes the first snapshot. Calling it again returns the
// baseline already captured.
func (p *poller[S]) CaptureBaseline(ctx context.Context) ([]schemas.RawEvent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.Load() != StateIdle {
		return copyEvents(p.captured), nil
	}

	snap, err := p.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s baseline: %w", p.surface, err)
	}
	p.prev = snap
	p.captured = p.baseline(snap, p.clock.Now())
	p.state.Store(StateBaselineCaptured)
	p.metrics.AddEvents(string(p.surface), string(schemas.OriginBaseline), len(p.captured))

	p.logger.Debug("Baseline captured", zap.Int("entries", len(p.captured)))
	return copyEvents(p.captured), nil
}

// tick takes one snapshot and records its diff against the previous one.
func (p *poller[S]) tick(ctx context.Context) {
	cur, err := p.snapshot(ctx)
	p.metrics.IncTick(string(p.surface))
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Debug("Snapshot failed, keeping previous state", zap.Error(err))
			p.metrics.IncTickError(string(p.surface))
		}
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	found := p.diff(p.prev, cur, p.clock.Now())
	p.prev = cur
	if len(found) > 0 {
		p.events = append(p.events, found...)
		p.metrics.AddEvents(string(p.surface), string(schemas.OriginLive), len(found))
	}
}

// Run captures the baseline if needed and then polls until ctx is done.
func (p *poller[S]) Run(ctx context.Context) (Result, error) {
	defer p.state.Store(StateStopped)

	if p.state.Load() == StateIdle {
		if _, err := p.CaptureBaseline(ctx); err != nil {
			p.logger.Warn("Collector setup failed", zap.Error(err))
			return Result{Surface: p.surface}, err
		}
	}

	p.state.Store(StatePolling)
	for {
		if ctx.Err() != nil {
			break
		}
		p.tick(ctx)
		if !sleep(ctx, p.interval) {
			break
		}
	}

	return p.result(), nil
}

func (p *poller[S]) result() Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Result{
		Surface:  p.surface,
		Baseline: copyEvents(p.captured),
		Events:   copyEvents(p.events),
	}
}
