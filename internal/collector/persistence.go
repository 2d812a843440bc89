package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	locationServices = "services"
	locationTasks    = "scheduledTasks"
)

// StartupItem is one entry of a startup folder.
type StartupItem struct {
	Folder string
	Name   string
}

// PersistenceSnapshot is the state of every persistence location at one instant.
type PersistenceSnapshot struct {
	Startup  map[string]StartupItem // keyed by full path
	RunKeys  RegistrySnapshot
	Services map[string]string // service name to binary path, "" when unknown
	Tasks    map[string]struct{}
}

// PersistenceSources are the OS collaborators of the persistence collector.
// A nil source skips its part of the snapshot.
type PersistenceSources struct {
	Registry RegistrySource
	Services ServiceSource
	Tasks    TaskSource
	// ReadDir lists a startup folder. Defaults to os.ReadDir.
	ReadDir func(name string) ([]os.DirEntry, error)
}

// PersistenceOptions configures a PersistenceCollector.
type PersistenceOptions struct {
	StartupFolders []string
	RunKeys        []string
	Interval       time.Duration
	// ResolveBaselineServices looks up binary paths of services already present at baseline.
	ResolveBaselineServices bool
	LookupRate              float64
	LookupBurst             int
	Clock                   Clock
	Metrics                 *metrics.Metrics
}

// PersistenceCollector watches startup folders, run keys, services and scheduled tasks.
type PersistenceCollector struct {
	*poller[PersistenceSnapshot]

	src     PersistenceSources
	folders []string
	runKeys []string
	limiter *rate.Limiter
	resolve bool
	logger  *zap.Logger

	mu       sync.Mutex
	last     *PersistenceSnapshot
	binPaths map[string]string
}

// NewPersistenceCollector builds a persistence collector.
func NewPersistenceCollector(src PersistenceSources, opts PersistenceOptions, logger *zap.Logger) (*PersistenceCollector, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("persistence interval must be positive")
	}
	if src.ReadDir == nil {
		src.ReadDir = os.ReadDir
	}
	if opts.LookupRate <= 0 {
		opts.LookupRate = 10
	}
	if opts.LookupBurst <= 0 {
		opts.LookupBurst = 1
	}

	c := &PersistenceCollector{
		src:      src,
		folders:  opts.StartupFolders,
		runKeys:  normalizeKeys(opts.RunKeys),
		limiter:  rate.NewLimiter(rate.Limit(opts.LookupRate), opts.LookupBurst),
		resolve:  opts.ResolveBaselineServices,
		logger:   namedLogger(logger, schemas.SurfacePersistence),
		binPaths: make(map[string]string),
	}
	if src.Registry == nil {
		c.runKeys = nil
	}
	c.poller = newPoller[PersistenceSnapshot](schemas.SurfacePersistence, opts.Interval, c.takeSnapshot, diffPersistence, persistenceBaseline, opts.Clock, c.logger, opts.Metrics)
	return c, nil
}

func (c *PersistenceCollector) Surface() schemas.Surface { return schemas.SurfacePersistence }

// CaptureBaseline records the current persistence state. Services present
// now are only resolved when ResolveBaselineServices is set; every later
// service is resolved as it appears.
func (c *PersistenceCollector) CaptureBaseline(ctx context.Context) ([]schemas.RawEvent, error) {
	events, err := c.poller.CaptureBaseline(ctx)
	c.mu.Lock()
	c.resolve = true
	c.mu.Unlock()
	return events, err
}

// Run records persistence changes until ctx is done.
func (c *PersistenceCollector) Run(ctx context.Context) (Result, error) {
	if c.State() == StateIdle {
		if _, err := c.CaptureBaseline(ctx); err != nil {
			c.state.Store(StateStopped)
			c.logger.Warn("Collector setup failed", zap.Error(err))
			return Result{Surface: schemas.SurfacePersistence}, err
		}
	}
	return c.poller.Run(ctx)
}

// takeSnapshot takes the four parts concurrently. A failed part falls back to its
// previous content; the snapshot only fails when every part fails.
func (c *PersistenceCollector) takeSnapshot(ctx context.Context) (PersistenceSnapshot, error) {
	var (
		snap PersistenceSnapshot
		errs [4]error
		g    errgroup.Group
	)
	// The group joins the parts and surfaces the first failure. errs keeps
	// every part's error so each can fall back independently, which is also
	// why the group carries no shared context to cancel the others.
	part := func(i int, name string, take func() error) {
		g.Go(func() error {
			if err := take(); err != nil {
				errs[i] = fmt.Errorf("%s: %w", name, err)
				return errs[i]
			}
			return nil
		})
	}
	part(0, "startup folders", func() (err error) {
		snap.Startup, err = c.snapshotStartup()
		return err
	})
	part(1, "run keys", func() (err error) {
		if c.runKeys == nil {
			snap.RunKeys = RegistrySnapshot{}
			return nil
		}
		snap.RunKeys, err = takeRegistrySnapshot(ctx, c.src.Registry, c.runKeys)
		return err
	})
	part(2, "services", func() (err error) {
		snap.Services, err = c.snapshotServices(ctx)
		return err
	})
	part(3, "scheduled tasks", func() (err error) {
		snap.Tasks, err = c.snapshotTasks(ctx)
		return err
	})
	firstErr := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()

	if firstErr == nil {
		c.last = &snap
		return snap, nil
	}

	failed := 0
	for i, err := range errs {
		if err == nil {
			continue
		}
		failed++
		c.logger.Debug("Persistence part failed", zap.Error(err))
		c.fallback(&snap, i)
	}
	if failed == len(errs) {
		return PersistenceSnapshot{}, fmt.Errorf("all persistence sources failed: %w", errors.Join(errs[:]...))
	}
	c.metrics.IncTickError(string(schemas.SurfacePersistence))
	c.last = &snap
	return snap, nil
}

// fallback fills part i of snap from the last good snapshot, or leaves it empty.
func (c *PersistenceCollector) fallback(snap *PersistenceSnapshot, i int) {
	switch i {
	case 0:
		snap.Startup = map[string]StartupItem{}
		if c.last != nil {
			snap.Startup = c.last.Startup
		}
	case 1:
		snap.RunKeys = RegistrySnapshot{}
		if c.last != nil {
			snap.RunKeys = c.last.RunKeys
		}
	case 2:
		snap.Services = map[string]string{}
		if c.last != nil {
			snap.Services = c.last.Services
		}
	case 3:
		snap.Tasks = map[string]struct{}{}
		if c.last != nil {
			snap.Tasks = c.last.Tasks
		}
	}
}

func (c *PersistenceCollector) snapshotStartup() (map[string]StartupItem, error) {
	items := make(map[string]StartupItem)
	for _, folder := range c.folders {
		entries, err := c.src.ReadDir(folder)
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", folder, err)
		}
		for _, e := range entries {
			items[filepath.Join(folder, e.Name())] = StartupItem{Folder: folder, Name: e.Name()}
		}
	}
	return items, nil
}

func (c *PersistenceCollector) snapshotServices(ctx context.Context) (map[string]string, error) {
	if c.src.Services == nil {
		return map[string]string{}, nil
	}
	names, err := c.src.Services.Services(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	resolve := c.resolve
	c.mu.Unlock()

	services := make(map[string]string, len(names))
	for _, name := range names {
		c.mu.Lock()
		path, known := c.binPaths[name]
		c.mu.Unlock()
		if !known && resolve {
			path = c.lookupBinary(ctx, name)
		}
		if !known {
			c.mu.Lock()
			c.binPaths[name] = path
			c.mu.Unlock()
		}
		services[name] = path
	}
	return services, nil
}

// lookupBinary resolves a service's binary path. Failures yield "".
func (c *PersistenceCollector) lookupBinary(ctx context.Context, name string) string {
	if err := c.limiter.Wait(ctx); err != nil {
		return ""
	}
	path, err := c.src.Services.BinaryPath(ctx, name)
	if err != nil {
		c.logger.Debug("Service binary lookup failed", zap.String("service", name), zap.Error(err))
		return ""
	}
	return path
}

func (c *PersistenceCollector) snapshotTasks(ctx context.Context) (map[string]struct{}, error) {
	tasks := make(map[string]struct{})
	if c.src.Tasks == nil {
		return tasks, nil
	}
	names, err := c.src.Tasks.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	for _, n := range names {
		tasks[n] = struct{}{}
	}
	return tasks, nil
}

func persistenceEvent(kind schemas.EventKind, ptype schemas.PersistenceType, origin schemas.Origin, now time.Time) schemas.RawEvent {
	return schemas.RawEvent{
		Kind:            kind,
		Surface:         schemas.SurfacePersistence,
		Origin:          origin,
		Timestamp:       now,
		PersistenceType: ptype,
	}
}

func diffPersistence(prev, cur PersistenceSnapshot, now time.Time) []schemas.RawEvent {
	var events []schemas.RawEvent

	added, removed := DiffSet(prev.Startup, cur.Startup)
	for _, path := range added {
		ev := persistenceEvent(schemas.KindAdded, schemas.PersistenceStartupFolder, schemas.OriginLive, now)
		ev.Path, ev.Name, ev.Location = path, cur.Startup[path].Name, cur.Startup[path].Folder
		events = append(events, ev)
	}
	for _, path := range removed {
		ev := persistenceEvent(schemas.KindRemoved, schemas.PersistenceStartupFolder, schemas.OriginLive, now)
		ev.Path, ev.Name, ev.Location = path, prev.Startup[path].Name, prev.Startup[path].Folder
		events = append(events, ev)
	}

	for _, ch := range diffRegistrySnapshots(prev.RunKeys, cur.RunKeys) {
		ev := registryEvent(ch, now)
		ev.Surface = schemas.SurfacePersistence
		ev.PersistenceType = schemas.PersistenceRunKey
		ev.Location = ch.Key
		events = append(events, ev)
	}

	added, removed = DiffSet(prev.Services, cur.Services)
	for _, name := range added {
		ev := persistenceEvent(schemas.KindAdded, schemas.PersistenceService, schemas.OriginLive, now)
		ev.Name, ev.Location, ev.BinaryPath = name, locationServices, cur.Services[name]
		events = append(events, ev)
	}
	for _, name := range removed {
		ev := persistenceEvent(schemas.KindRemoved, schemas.PersistenceService, schemas.OriginLive, now)
		ev.Name, ev.Location, ev.BinaryPath = name, locationServices, prev.Services[name]
		events = append(events, ev)
	}

	added, removed = DiffSet(prev.Tasks, cur.Tasks)
	for _, name := range added {
		ev := persistenceEvent(schemas.KindAdded, schemas.PersistenceScheduledTask, schemas.OriginLive, now)
		ev.Name, ev.Location = name, locationTasks
		events = append(events, ev)
	}
	for _, name := range removed {
		ev := persistenceEvent(schemas.KindRemoved, schemas.PersistenceScheduledTask, schemas.OriginLive, now)
		ev.Name, ev.Location = name, locationTasks
		events = append(events, ev)
	}
	return events
}

func persistenceBaseline(snap PersistenceSnapshot, now time.Time) []schemas.RawEvent {
	var events []schemas.RawEvent
	for _, path := range sortedKeys(snap.Startup) {
		ev := persistenceEvent("", schemas.PersistenceStartupFolder, schemas.OriginBaseline, now)
		ev.Path, ev.Name, ev.Location = path, snap.Startup[path].Name, snap.Startup[path].Folder
		events = append(events, ev)
	}
	for _, key := range sortedKeys(snap.RunKeys) {
		state := snap.RunKeys[key]
		if state.Denied {
			ev := persistenceEvent("", schemas.PersistenceRunKey, schemas.OriginBaseline, now)
			ev.Key, ev.Location, ev.Note = key, key, schemas.AccessDenied
			events = append(events, ev)
			continue
		}
		for _, name := range sortedKeys(state.Values) {
			ev := persistenceEvent("", schemas.PersistenceRunKey, schemas.OriginBaseline, now)
			ev.Key, ev.Location, ev.Name, ev.Value = key, key, name, state.Values[name]
			events = append(events, ev)
		}
	}
	for _, name := range sortedKeys(snap.Services) {
		ev := persistenceEvent("", schemas.PersistenceService, schemas.OriginBaseline, now)
		ev.Name, ev.Location, ev.BinaryPath = name, locationServices, snap.Services[name]
		events = append(events, ev)
	}
	for _, name := range sortedKeys(snap.Tasks) {
		ev := persistenceEvent("", schemas.PersistenceScheduledTask, schemas.OriginBaseline, now)
		ev.Name, ev.Location = name, locationTasks
		events = append(events, ev)
	}
	return events
}
