package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/delver/api/schemas"
)

type fakeProcesses struct {
	mu    sync.Mutex
	procs []ProcessInfo
	err   error
}

func (f *fakeProcesses) set(procs ...ProcessInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs = procs
	f.err = nil
}

func (f *fakeProcesses) Processes(context.Context) ([]ProcessInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]ProcessInfo(nil), f.procs...), nil
}

var (
	procSystem  = ProcessInfo{PID: 4, Name: "System", Type: ProcessTypeSystem}
	procShell   = ProcessInfo{PID: 120, Name: "explorer.exe", Path: `C:\Windows\explorer.exe`, Type: ProcessTypeUser}
	procPayload = ProcessInfo{PID: 4410, Name: "payload.exe", Path: `C:\Users\x\AppData\Local\Temp\payload.exe`, Type: ProcessTypeUser}
	procChild   = ProcessInfo{PID: 4420, Name: "cmd.exe", Path: `C:\Windows\System32\cmd.exe`, Type: ProcessTypeUser}
)

func replayProcesses(t *testing.T, steps [][]ProcessInfo) Result {
	t.Helper()
	src := &fakeProcesses{}
	src.set(steps[0]...)
	c, err := NewProcessCollector(src, ProcessOptions{Interval: time.Millisecond, Clock: FixedClock(replayTime)}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.CaptureBaseline(ctx)
	require.NoError(t, err)
	for _, s := range steps[1:] {
		src.set(s...)
		c.tick(ctx)
	}
	return c.result()
}

func TestProcessCollector_CreatedOncePerPID(t *testing.T) {
	steps := [][]ProcessInfo{
		{procShell, procSystem},
		{procShell, procSystem, procPayload},
		{procShell, procSystem, procPayload, procChild},
		// payload exits and is not reported; shell keeps running.
		{procShell, procSystem, procChild},
		// A reappearing PID was already seen.
		{procShell, procSystem, procChild, procPayload},
	}
	res := replayProcesses(t, steps)

	require.Len(t, res.Baseline, 2)
	assert.Equal(t, 4, res.Baseline[0].PID)
	assert.Equal(t, 120, res.Baseline[1].PID)

	require.Len(t, res.Events, 2)
	assert.Equal(t, schemas.KindCreated, res.Events[0].Kind)
	assert.Equal(t, 4410, res.Events[0].PID)
	assert.Equal(t, procPayload.Path, res.Events[0].Path)
	assert.Equal(t, ProcessTypeUser, res.Events[0].ProcessType)
	assert.Equal(t, 4420, res.Events[1].PID)

	if diff := cmp.Diff(res, replayProcesses(t, steps)); diff != "" {
		t.Fatalf("replays differ (-first +second):\n%s", diff)
	}
}

func TestProcessCollector_ReplayIsDeterministic(t *testing.T) {
	steps := [][]ProcessInfo{
		{procShell, procSystem},
		{procPayload, procShell, procSystem},
		{procChild, procSystem, procShell, procPayload},
	}
	// The same snapshots listed in another order must replay identically.
	reordered := [][]ProcessInfo{
		{procSystem, procShell},
		{procSystem, procShell, procPayload},
		{procPayload, procShell, procChild, procSystem},
	}

	first := replayProcesses(t, steps)
	require.Len(t, first.Events, 2)
	if diff := cmp.Diff(first, replayProcesses(t, steps)); diff != "" {
		t.Fatalf("replays differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first, replayProcesses(t, reordered)); diff != "" {
		t.Fatalf("reordered replay differs (-first +reordered):\n%s", diff)
	}
}

func TestProcessCollector_FailedTickContributesNothing(t *testing.T) {
	src := &fakeProcesses{}
	src.set(procShell)
	c, err := NewProcessCollector(src, ProcessOptions{Interval: time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.CaptureBaseline(ctx)
	require.NoError(t, err)

	src.mu.Lock()
	src.err = errors.New("toolhelp failed")
	src.mu.Unlock()
	c.tick(ctx)
	assert.Empty(t, c.result().Events)

	src.set(procShell, procPayload)
	c.tick(ctx)
	assert.Len(t, c.result().Events, 1)
}

func TestProcessCollector_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeProcesses{}
	src.set(procShell)
	c, err := NewProcessCollector(src, ProcessOptions{Interval: 2 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		res, _ := c.Run(ctx)
		done <- res
	}()

	require.Eventually(t, func() bool { return c.State() == StatePolling }, time.Second, time.Millisecond)
	src.set(procShell, procPayload)
	require.Eventually(t, func() bool { return len(c.result().Events) == 1 }, time.Second, time.Millisecond)
	cancel()

	res := <-done
	assert.Equal(t, schemas.SurfaceProcess, res.Surface)
	assert.Equal(t, StateStopped, c.State())
}

func TestNewProcessCollector_Validation(t *testing.T) {
	_, err := NewProcessCollector(nil, ProcessOptions{Interval: time.Second}, nil)
	assert.Error(t, err)
	_, err = NewProcessCollector(&fakeProcesses{}, ProcessOptions{}, nil)
	assert.Error(t, err)
}
