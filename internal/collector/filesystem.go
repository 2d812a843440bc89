package collector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/metrics"
	"go.uber.org/zap"
)

// FilesystemOptions configures a FilesystemCollector.
type FilesystemOptions struct {
	// Dirs are watched recursively. Directories that do not exist are skipped.
	Dirs []string
	// Interval is how often an unpaired rename is checked for staleness.
	Interval time.Duration
	Clock    Clock
	Metrics  *metrics.Metrics
}

// renameArrow separates a create from its rename source in fsnotify.Event.String.
const renameArrow = " ← \""

// pendingRename is a rename whose destination has not been seen yet.
type pendingRename struct {
	path  string
	isDir bool
	at    time.Time
	tick  uint64
}

// FilesystemCollector records file changes under a set of directories. It is
// event driven; the interval only paces rename pairing.
type FilesystemCollector struct {
	dirs     []string
	interval time.Duration
	clock    Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	state stateBox

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	watched  map[string]bool
	pending  *pendingRename
	ticks    uint64
	captured []schemas.RawEvent
	events   []schemas.RawEvent
}

// NewFilesystemCollector builds a filesystem collector. Watches are only
// placed by CaptureBaseline.
func NewFilesystemCollector(opts FilesystemOptions, logger *zap.Logger) (*FilesystemCollector, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("filesystem interval must be positive")
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	return &FilesystemCollector{
		dirs:     opts.Dirs,
		interval: opts.Interval,
		clock:    clock,
		logger:   namedLogger(logger, schemas.SurfaceFilesystem),
		metrics:  opts.Metrics,
		watched:  make(map[string]bool),
	}, nil
}

func (c *FilesystemCollector) Surface() schemas.Surface { return schemas.SurfaceFilesystem }

func (c *FilesystemCollector) State() State { return c.state.Load() }

// CaptureBaseline places the watches. The baseline lists the watched roots.
func (c *FilesystemCollector) CaptureBaseline(ctx context.Context) ([]schemas.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Load() != StateIdle {
		return copyEvents(c.captured), nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filesystem baseline: %w", err)
	}
	c.watcher = w

	now := c.clock.Now()
	var roots []schemas.RawEvent
	for _, dir := range c.dirs {
		if err := ctx.Err(); err != nil {
			c.closeWatcherLocked()
			return nil, err
		}
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			c.logger.Debug("Skipping missing directory", zap.String("dir", dir))
			continue
		}
		if c.watched[filepath.Clean(dir)] {
			continue
		}
		if n := c.addRecursiveLocked(dir); n == 0 {
			continue
		}
		roots = append(roots, schemas.RawEvent{
			Surface:     schemas.SurfaceFilesystem,
			Origin:      schemas.OriginBaseline,
			Timestamp:   now,
			Path:        dir,
			IsDirectory: true,
			Note:        "watched",
		})
	}
	if len(roots) == 0 {
		c.closeWatcherLocked()
		return nil, fmt.Errorf("filesystem baseline: %w", ErrNoWatchableDirs)
	}

	c.captured = roots
	c.state.Store(StateBaselineCaptured)
	c.metrics.AddEvents(string(schemas.SurfaceFilesystem), string(schemas.OriginBaseline), len(roots))
	c.logger.Debug("Watching directories", zap.Int("roots", len(roots)), zap.Int("dirs", len(c.watched)))
	return copyEvents(c.captured), nil
}

// addRecursiveLocked watches root and every directory below it. It returns
// the number of directories added.
func (c *FilesystemCollector) addRecursiveLocked(root string) int {
	if c.watcher == nil {
		return 0
	}
	added := 0
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		path = filepath.Clean(path)
		if c.watched[path] {
			return nil
		}
		if err := c.watcher.Add(path); err != nil {
			c.logger.Debug("Failed to watch directory", zap.String("dir", path), zap.Error(err))
			return nil
		}
		c.watched[path] = true
		added++
		return nil
	})
	return added
}

func (c *FilesystemCollector) closeWatcherLocked() {
	if c.watcher != nil {
		_ = c.watcher.Close()
		c.watcher = nil
	}
}

// Run consumes notifications until ctx is done.
func (c *FilesystemCollector) Run(ctx context.Context) (Result, error) {
	defer c.state.Store(StateStopped)

	if c.state.Load() == StateIdle {
		if _, err := c.CaptureBaseline(ctx); err != nil {
			c.logger.Warn("Collector setup failed", zap.Error(err))
			return Result{Surface: schemas.SurfaceFilesystem}, err
		}
	}
	c.state.Store(StatePolling)

	c.mu.Lock()
	w := c.watcher
	c.mu.Unlock()
	if w == nil {
		return c.result(), nil
	}

	timer := time.NewTimer(c.interval)
	defer timer.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-w.Events:
			if !ok {
				break loop
			}
			c.handle(ev, c.clock.Now())
		case err, ok := <-w.Errors:
			if !ok {
				break loop
			}
			c.logger.Debug("Watcher error", zap.Error(err))
			c.metrics.IncTickError(string(schemas.SurfaceFilesystem))
		case <-timer.C:
			c.tick(c.clock.Now())
			timer.Reset(c.interval)
		}
	}

	c.mu.Lock()
	c.closeWatcherLocked()
	c.flushPendingLocked()
	c.mu.Unlock()
	return c.result(), nil
}

// tick flushes a rename that has waited a full interval without its create.
func (c *FilesystemCollector) tick(now time.Time) {
	c.metrics.IncTick(string(schemas.SurfaceFilesystem))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil && c.pending.tick < c.ticks {
		c.flushPendingLocked()
	}
	c.ticks++
}

// handle turns one notification into at most two events.
func (c *FilesystemCollector) handle(ev fsnotify.Event, now time.Time) {
	c.apply(ev.Op, filepath.Clean(ev.Name), renameSource(ev), now)
}

// apply records one operation on path. from is the rename source the
// watcher matched to a create, or "" when it reported none.
func (c *FilesystemCollector) apply(op fsnotify.Op, path, from string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case op.Has(fsnotify.Create):
		isDir := isDirectory(path)
		if c.pairsLocked(path, from) {
			p := c.pending
			c.pending = nil
			c.emitLocked(schemas.RawEvent{
				Kind:        schemas.KindMoved,
				Timestamp:   now,
				Path:        p.path,
				DestPath:    path,
				IsDirectory: isDir,
			})
		} else {
			c.flushPendingLocked()
			c.emitLocked(schemas.RawEvent{Kind: schemas.KindCreated, Timestamp: now, Path: path, IsDirectory: isDir})
		}
		if isDir {
			c.addRecursiveLocked(path)
		}
	case op.Has(fsnotify.Write):
		c.flushPendingLocked()
		c.emitLocked(schemas.RawEvent{Kind: schemas.KindModified, Timestamp: now, Path: path, IsDirectory: isDirectory(path)})
	case op.Has(fsnotify.Remove):
		c.flushPendingLocked()
		isDir := c.forgetLocked(path)
		c.emitLocked(schemas.RawEvent{Kind: schemas.KindDeleted, Timestamp: now, Path: path, IsDirectory: isDir})
	case op.Has(fsnotify.Rename):
		c.flushPendingLocked()
		isDir := c.forgetLocked(path)
		c.pending = &pendingRename{path: path, isDir: isDir, at: now, tick: c.ticks}
	}
}

// pairsLocked reports whether a create of path completes the pending rename.
// A create the watcher tied to a rename source pairs only with that source.
// Without a source, only a move that keeps the base name pairs.
func (c *FilesystemCollector) pairsLocked(path, from string) bool {
	p := c.pending
	if p == nil {
		return false
	}
	if from != "" {
		return filepath.Clean(from) == p.path
	}
	return filepath.Base(path) == filepath.Base(p.path)
}

// renameSource extracts the rename source fsnotify attaches to the create
// half of a rename. The field is unexported and only surfaces in String().
func renameSource(ev fsnotify.Event) string {
	if !ev.Has(fsnotify.Create) {
		return ""
	}
	s := ev.String()
	i := strings.LastIndex(s, renameArrow)
	if i < 0 {
		return ""
	}
	from, err := strconv.Unquote(s[i+len(renameArrow)-1:])
	if err != nil {
		return ""
	}
	return from
}

// forgetLocked drops path and its children from the watched set and reports
// whether path itself was a watched directory.
func (c *FilesystemCollector) forgetLocked(path string) bool {
	was := c.watched[path]
	if !was {
		return false
	}
	prefix := path + string(filepath.Separator)
	for dir := range c.watched {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(c.watched, dir)
		}
	}
	return true
}

func (c *FilesystemCollector) flushPendingLocked() {
	p := c.pending
	if p == nil {
		return
	}
	c.pending = nil
	c.emitLocked(schemas.RawEvent{Kind: schemas.KindMoved, Timestamp: p.at, Path: p.path, IsDirectory: p.isDir})
}

func (c *FilesystemCollector) emitLocked(ev schemas.RawEvent) {
	ev.Surface = schemas.SurfaceFilesystem
	ev.Origin = schemas.OriginLive
	if !ev.IsDirectory {
		ev.Extension = strings.ToLower(filepath.Ext(ev.Path))
	}
	c.events = append(c.events, ev)
	c.metrics.AddEvents(string(schemas.SurfaceFilesystem), string(schemas.OriginLive), 1)
}

func (c *FilesystemCollector) result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{
		Surface:  schemas.SurfaceFilesystem,
		Baseline: copyEvents(c.captured),
		Events:   copyEvents(c.events),
	}
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
