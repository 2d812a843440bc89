package collector

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/delver/api/schemas"
)

func newTestFilesystem(t *testing.T, dirs ...string) *FilesystemCollector {
	t.Helper()
	c, err := NewFilesystemCollector(FilesystemOptions{
		Dirs:     dirs,
		Interval: 10 * time.Millisecond,
		Clock:    FixedClock(replayTime),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func TestFilesystemCollector_HandleBasicOps(t *testing.T) {
	c := newTestFilesystem(t)
	base := filepath.Join("nowhere", "Temp")

	c.handle(fsnotify.Event{Name: filepath.Join(base, "Payload.EXE"), Op: fsnotify.Create}, replayTime)
	c.handle(fsnotify.Event{Name: filepath.Join(base, "notes.txt"), Op: fsnotify.Write}, replayTime)
	c.handle(fsnotify.Event{Name: filepath.Join(base, "notes.txt"), Op: fsnotify.Chmod}, replayTime)
	c.handle(fsnotify.Event{Name: filepath.Join(base, "old.dll"), Op: fsnotify.Remove}, replayTime)

	events := c.result().Events
	require.Len(t, events, 3)

	assert.Equal(t, schemas.KindCreated, events[0].Kind)
	assert.Equal(t, ".exe", events[0].Extension)
	assert.Equal(t, schemas.SurfaceFilesystem, events[0].Surface)
	assert.Equal(t, schemas.OriginLive, events[0].Origin)
	assert.False(t, events[0].IsDirectory)

	assert.Equal(t, schemas.KindModified, events[1].Kind)
	assert.Equal(t, ".txt", events[1].Extension)

	assert.Equal(t, schemas.KindDeleted, events[2].Kind)
	assert.Equal(t, ".dll", events[2].Extension)
}

func TestFilesystemCollector_RenamePairsWithCreate(t *testing.T) {
	c := newTestFilesystem(t)
	src := filepath.Join("Temp", "invoice.pdf")
	dst := filepath.Join("Temp", "invoice.pdf.exe")

	c.apply(fsnotify.Rename, src, "", replayTime)
	assert.Empty(t, c.result().Events, "a rename waits for its create")
	c.apply(fsnotify.Create, dst, src, replayTime)

	events := c.result().Events
	require.Len(t, events, 1)
	assert.Equal(t, schemas.KindMoved, events[0].Kind)
	assert.Equal(t, src, events[0].Path)
	assert.Equal(t, dst, events[0].DestPath)
	assert.Equal(t, ".pdf", events[0].Extension)
}

func TestFilesystemCollector_UnrelatedCreateIsNotPaired(t *testing.T) {
	c := newTestFilesystem(t)
	src := filepath.Join("w", "report.docx")
	dropper := filepath.Join("w", "dropper.exe")

	// report.docx leaves the tree, then an unrelated file appears.
	c.handle(fsnotify.Event{Name: src, Op: fsnotify.Rename}, replayTime)
	c.handle(fsnotify.Event{Name: dropper, Op: fsnotify.Create}, replayTime)

	events := c.result().Events
	require.Len(t, events, 2)
	assert.Equal(t, schemas.KindMoved, events[0].Kind)
	assert.Equal(t, src, events[0].Path)
	assert.Empty(t, events[0].DestPath)
	assert.Equal(t, schemas.KindCreated, events[1].Kind)
	assert.Equal(t, dropper, events[1].Path)
	assert.Equal(t, ".exe", events[1].Extension)
}

func TestFilesystemCollector_CreateWithOtherSourceIsNotPaired(t *testing.T) {
	c := newTestFilesystem(t)
	c.apply(fsnotify.Rename, filepath.Join("w", "a.txt"), "", replayTime)
	c.apply(fsnotify.Create, filepath.Join("w", "b.exe"), filepath.Join("elsewhere", "b.exe"), replayTime)

	events := c.result().Events
	require.Len(t, events, 2)
	assert.Equal(t, schemas.KindMoved, events[0].Kind)
	assert.Empty(t, events[0].DestPath)
	assert.Equal(t, schemas.KindCreated, events[1].Kind)
}

func TestFilesystemCollector_MoveKeepingNamePairsWithoutSource(t *testing.T) {
	c := newTestFilesystem(t)
	src := filepath.Join("Downloads", "setup.exe")
	dst := filepath.Join("AppData", "setup.exe")

	c.apply(fsnotify.Rename, src, "", replayTime)
	c.apply(fsnotify.Create, dst, "", replayTime)

	events := c.result().Events
	require.Len(t, events, 1)
	assert.Equal(t, schemas.KindMoved, events[0].Kind)
	assert.Equal(t, src, events[0].Path)
	assert.Equal(t, dst, events[0].DestPath)
}

func TestFilesystemCollector_WriteAndRemoveFlushPendingRename(t *testing.T) {
	for _, op := range []fsnotify.Op{fsnotify.Write, fsnotify.Remove} {
		t.Run(op.String(), func(t *testing.T) {
			c := newTestFilesystem(t)
			c.apply(fsnotify.Rename, filepath.Join("w", "a.txt"), "", replayTime)
			c.apply(op, filepath.Join("w", "log.txt"), "", replayTime)
			c.apply(fsnotify.Create, filepath.Join("w", "a.txt"), "", replayTime)

			events := c.result().Events
			require.Len(t, events, 3)
			assert.Equal(t, schemas.KindMoved, events[0].Kind)
			assert.Empty(t, events[0].DestPath)
			assert.Equal(t, schemas.KindCreated, events[2].Kind)
		})
	}
}

func TestRenameSource_PlainEvents(t *testing.T) {
	assert.Empty(t, renameSource(fsnotify.Event{Name: "a.exe", Op: fsnotify.Create}))
	assert.Empty(t, renameSource(fsnotify.Event{Name: "a.exe", Op: fsnotify.Rename}))
}

func TestFilesystemCollector_RunPairsRealRename(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("rename pairing is exercised against inotify")
	}
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	src := filepath.Join(root, "invoice.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF"), 0o600))
	c := newTestFilesystem(t, root)
	_, err := c.CaptureBaseline(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		res, _ := c.Run(ctx)
		done <- res
	}()
	require.Eventually(t, func() bool { return c.State() == StatePolling }, time.Second, time.Millisecond)

	dst := filepath.Join(root, "invoice.pdf.exe")
	require.NoError(t, os.Rename(src, dst))
	require.Eventually(t, func() bool {
		for _, ev := range c.result().Events {
			if ev.Kind == schemas.KindMoved && ev.Path == src && ev.DestPath == dst {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
}

func TestFilesystemCollector_UnpairedRenameFlushedWhenStale(t *testing.T) {
	c := newTestFilesystem(t)
	src := filepath.Join("Temp", "gone.tmp")

	c.handle(fsnotify.Event{Name: src, Op: fsnotify.Rename}, replayTime)
	c.tick(replayTime)
	assert.Empty(t, c.result().Events, "the rename has not waited a full interval yet")

	c.tick(replayTime)
	events := c.result().Events
	require.Len(t, events, 1)
	assert.Equal(t, schemas.KindMoved, events[0].Kind)
	assert.Equal(t, src, events[0].Path)
	assert.Empty(t, events[0].DestPath)
}

func TestFilesystemCollector_SecondRenameFlushesFirst(t *testing.T) {
	c := newTestFilesystem(t)
	c.apply(fsnotify.Rename, "a.txt", "", replayTime)
	c.apply(fsnotify.Rename, "b.txt", "", replayTime)
	c.apply(fsnotify.Create, "c.exe", "b.txt", replayTime)

	events := c.result().Events
	require.Len(t, events, 2)
	assert.Equal(t, "a.txt", events[0].Path)
	assert.Empty(t, events[0].DestPath)
	assert.Equal(t, "b.txt", events[1].Path)
	assert.Equal(t, "c.exe", events[1].DestPath)
}

func TestFilesystemCollector_RemovedWatchedDirectory(t *testing.T) {
	c := newTestFilesystem(t)
	dir := filepath.Join("Temp", "stage")
	c.watched[dir] = true
	c.watched[filepath.Join(dir, "inner")] = true

	c.handle(fsnotify.Event{Name: dir, Op: fsnotify.Remove}, replayTime)

	events := c.result().Events
	require.Len(t, events, 1)
	assert.True(t, events[0].IsDirectory)
	assert.Empty(t, events[0].Extension)
	assert.Empty(t, c.watched)
}

func TestFilesystemCollector_NoWatchableDirs(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := newTestFilesystem(t, filepath.Join(t.TempDir(), "does-not-exist"))
	res, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrNoWatchableDirs)
	assert.True(t, res.Empty())
	assert.Equal(t, StateStopped, c.State())
}

func TestFilesystemCollector_RunWatchesRecursively(t *testing.T) {
	defer goleak.VerifyNone(t)

	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "existing"), 0o700))
	c := newTestFilesystem(t, root)

	baseline, err := c.CaptureBaseline(context.Background())
	require.NoError(t, err)
	require.Len(t, baseline, 1)
	assert.Equal(t, root, baseline[0].Path)
	assert.True(t, baseline[0].IsDirectory)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		res, _ := c.Run(ctx)
		done <- res
	}()
	require.Eventually(t, func() bool { return c.State() == StatePolling }, time.Second, time.Millisecond)

	hasEvent := func(kind schemas.EventKind, path string) func() bool {
		return func() bool {
			for _, ev := range c.result().Events {
				if ev.Kind == kind && ev.Path == path {
					return true
				}
			}
			return false
		}
	}

	dropped := filepath.Join(root, "existing", "dropper.exe")
	require.NoError(t, os.WriteFile(dropped, []byte("MZ"), 0o600))
	require.Eventually(t, hasEvent(schemas.KindCreated, dropped), 2*time.Second, 5*time.Millisecond)

	sub := filepath.Join(root, "fresh")
	require.NoError(t, os.Mkdir(sub, 0o700))
	require.Eventually(t, hasEvent(schemas.KindCreated, sub), 2*time.Second, 5*time.Millisecond)

	nested := filepath.Join(sub, "stage2.dll")
	require.NoError(t, os.WriteFile(nested, []byte("MZ"), 0o600))
	require.Eventually(t, hasEvent(schemas.KindCreated, nested), 2*time.Second, 5*time.Millisecond)

	cancel()
	res := <-done
	assert.Equal(t, schemas.SurfaceFilesystem, res.Surface)
	assert.Equal(t, StateStopped, c.State())
}
