package collector

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/metrics"
	"go.uber.org/zap"
)

// Process types reported by process sources.
const (
	ProcessTypeSystem = "system"
	ProcessTypeUser   = "user"
)

// ProcessInfo describes one running process.
type ProcessInfo struct {
	PID  int
	Name string
	Path string // empty when the image path could not be read
	Type string // ProcessTypeSystem or ProcessTypeUser
}

// ProcessSource enumerates running processes.
type ProcessSource interface {
	Processes(ctx context.Context) ([]ProcessInfo, error)
}

// ProcessSnapshot maps PID to process.
type ProcessSnapshot map[int]ProcessInfo

// ProcessOptions configures a ProcessCollector.
type ProcessOptions struct {
	Interval time.Duration
	Clock    Clock
	Metrics  *metrics.Metrics
}

// ProcessCollector reports each PID the first time it is seen. Processes that
// exit are not reported.
type ProcessCollector struct {
	*poller[ProcessSnapshot]

	mu   sync.Mutex
	seen map[int]bool
}

// NewProcessCollector builds a process collector over src.
func NewProcessCollector(src ProcessSource, opts ProcessOptions, logger *zap.Logger) (*ProcessCollector, error) {
	if src == nil {
		return nil, errors.New("process source cannot be nil")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("process interval must be positive")
	}
	c := &ProcessCollector{seen: make(map[int]bool)}
	snap := func(ctx context.Context) (ProcessSnapshot, error) {
		procs, err := src.Processes(ctx)
		if err != nil {
			return nil, err
		}
		s := make(ProcessSnapshot, len(procs))
		for _, p := range procs {
			s[p.PID] = p
		}
		return s, nil
	}
	c.poller = newPoller[ProcessSnapshot](schemas.SurfaceProcess, opts.Interval, snap, c.diff, c.baseline, opts.Clock, namedLogger(logger, schemas.SurfaceProcess), opts.Metrics)
	return c, nil
}

func (c *ProcessCollector) Surface() schemas.Surface { return schemas.SurfaceProcess }

func processEvent(p ProcessInfo, kind schemas.EventKind, origin schemas.Origin, now time.Time) schemas.RawEvent {
	return schemas.RawEvent{
		Kind:        kind,
		Surface:     schemas.SurfaceProcess,
		Origin:      origin,
		Timestamp:   now,
		PID:         p.PID,
		Name:        p.Name,
		Path:        p.Path,
		ProcessType: p.Type,
	}
}

func sortedPIDs(s ProcessSnapshot) []int {
	pids := make([]int, 0, len(s))
	for pid := range s {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// baseline marks every running PID as seen.
func (c *ProcessCollector) baseline(s ProcessSnapshot, now time.Time) []schemas.RawEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	events := make([]schemas.RawEvent, 0, len(s))
	for _, pid := range sortedPIDs(s) {
		c.seen[pid] = true
		events = append(events, processEvent(s[pid], "", schemas.OriginBaseline, now))
	}
	return events
}

// diff ignores prev; the seen set spans the whole run.
func (c *ProcessCollector) diff(_, cur ProcessSnapshot, now time.Time) []schemas.RawEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var events []schemas.RawEvent
	for _, pid := range sortedPIDs(cur) {
		if c.seen[pid] {
			continue
		}
		c.seen[pid] = true
		events = append(events, processEvent(cur[pid], schemas.KindCreated, schemas.OriginLive, now))
	}
	return events
}
