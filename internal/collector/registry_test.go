package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/metrics"
)

var replayTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeRegistry serves whatever state the test last set.
type fakeRegistry struct {
	mu    sync.Mutex
	state RegistrySnapshot
	err   error
}

func (f *fakeRegistry) set(s RegistrySnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = s
}

func (f *fakeRegistry) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRegistry) ReadKey(_ context.Context, key string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	st, ok := f.state[key]
	if !ok {
		return map[string]string{}, nil
	}
	if st.Denied {
		return nil, ErrAccessDenied
	}
	out := make(map[string]string, len(st.Values))
	for k, v := range st.Values {
		out[k] = v
	}
	return out, nil
}

const (
	runKey   = `HKCU\Software\Microsoft\Windows\CurrentVersion\Run`
	hklmRun  = `HKLM\Software\Microsoft\Windows\CurrentVersion\Run`
	deniedSv = `HKLM\System\CurrentControlSet\Services`
)

func values(kv ...string) KeyState {
	m := make(map[string]string)
	for i := 0; i+1 < len(kv); i += 2 {
		m[kv[i]] = kv[i+1]
	}
	return KeyState{Values: m}
}

var registryReplay = []RegistrySnapshot{
	{runKey: values("OneDrive", `C:\od.exe`), hklmRun: values(), deniedSv: {Denied: true}},
	{runKey: values("OneDrive", `C:\od.exe`, "Updater", `C:\Users\x\AppData\Roaming\u.exe`), hklmRun: values(), deniedSv: {Denied: true}},
	{runKey: values("Updater", `C:\Users\x\AppData\Roaming\u2.exe`), hklmRun: values("Sec", "x"), deniedSv: values("evil", "1")},
	{runKey: values("Updater", `C:\Users\x\AppData\Roaming\u2.exe`), hklmRun: values("Sec", "x"), deniedSv: values("evil", "2")},
}

func replayRegistry(t *testing.T, steps []RegistrySnapshot) Result {
	t.Helper()
	src := &fakeRegistry{}
	src.set(steps[0])
	c, err := NewRegistryCollector(src, RegistryOptions{
		Keys:     []string{runKey, hklmRun, deniedSv},
		Interval: time.Millisecond,
		Clock:    FixedClock(replayTime),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.CaptureBaseline(ctx)
	require.NoError(t, err)
	for _, s := range steps[1:] {
		src.set(s)
		c.tick(ctx)
	}
	return c.result()
}

func TestRegistryCollector_ReplayIsDeterministic(t *testing.T) {
	first := replayRegistry(t, registryReplay)
	second := replayRegistry(t, registryReplay)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("replays differ (-first +second):\n%s", diff)
	}
}

func TestRegistryCollector_Replay(t *testing.T) {
	res := replayRegistry(t, registryReplay)

	// -- Baseline --
	require.Len(t, res.Baseline, 2)
	assert.Equal(t, schemas.OriginBaseline, res.Baseline[0].Origin)
	assert.Equal(t, "OneDrive", res.Baseline[0].Name)
	assert.Equal(t, deniedSv, res.Baseline[1].Key)
	assert.Equal(t, schemas.AccessDenied, res.Baseline[1].Value)

	// -- Events --
	type change struct {
		Kind schemas.EventKind
		Key  string
		Name string
		Old  string
		New  string
	}
	var got []change
	for _, ev := range res.Events {
		assert.Equal(t, schemas.OriginLive, ev.Origin)
		assert.Equal(t, schemas.SurfaceRegistry, ev.Surface)
		assert.Equal(t, replayTime, ev.Timestamp)
		got = append(got, change{ev.Kind, ev.Key, ev.Name, ev.OldValue, ev.NewValue})
	}
	want := []change{
		{schemas.KindAdded, runKey, "Updater", "", `C:\Users\x\AppData\Roaming\u.exe`},
		{schemas.KindModified, runKey, "Updater", `C:\Users\x\AppData\Roaming\u.exe`, `C:\Users\x\AppData\Roaming\u2.exe`},
		{schemas.KindRemoved, runKey, "OneDrive", `C:\od.exe`, ""},
		{schemas.KindAdded, hklmRun, "Sec", "", "x"},
		// Services was denied in the previous snapshot when it first turned readable.
		{schemas.KindModified, deniedSv, "evil", "1", "2"},
	}
	assert.Equal(t, want, got)
}

func TestRegistryCollector_TickErrorKeepsPrevious(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	src := &fakeRegistry{}
	src.set(RegistrySnapshot{runKey: values("a", "1")})

	c, err := NewRegistryCollector(src, RegistryOptions{Keys: []string{runKey}, Interval: time.Millisecond, Metrics: m}, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()
	_, err = c.CaptureBaseline(ctx)
	require.NoError(t, err)

	src.fail(errors.New("transient"))
	c.tick(ctx)
	assert.Empty(t, c.result().Events)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TickErrors.WithLabelValues("registry")))

	// The failed tick contributed nothing, so the next diff is still against the baseline.
	src.fail(nil)
	src.set(RegistrySnapshot{runKey: values("a", "1", "b", "2")})
	c.tick(ctx)
	events := c.result().Events
	require.Len(t, events, 1)
	assert.Equal(t, "b", events[0].Name)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Ticks.WithLabelValues("registry")))
}

func TestRegistryCollector_RunLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeRegistry{}
	src.set(RegistrySnapshot{runKey: values("a", "1")})
	c, err := NewRegistryCollector(src, RegistryOptions{Keys: []string{runKey}, Interval: 5 * time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, c.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Result, 1)
	go func() {
		res, err := c.Run(ctx)
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool { return c.State() == StatePolling }, time.Second, time.Millisecond)
	src.set(RegistrySnapshot{runKey: values("a", "1", "b", "2")})
	require.Eventually(t, func() bool { return len(c.result().Events) == 1 }, time.Second, time.Millisecond)

	cancel()
	res := <-done
	assert.Equal(t, StateStopped, c.State())
	assert.Equal(t, schemas.SurfaceRegistry, res.Surface)
	assert.Len(t, res.Baseline, 1)
	assert.Len(t, res.Events, 1)
}

func TestRegistryCollector_BaselineFailure(t *testing.T) {
	src := &fakeRegistry{}
	src.fail(errors.New("hive unavailable"))
	c, err := NewRegistryCollector(src, RegistryOptions{Keys: []string{runKey}, Interval: time.Millisecond}, zaptest.NewLogger(t))
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.Error(t, err)
	assert.True(t, res.Empty())
	assert.Equal(t, StateStopped, c.State())
}

func TestRegistryCollector_CaptureBaselineIsIdempotent(t *testing.T) {
	src := &fakeRegistry{}
	src.set(RegistrySnapshot{runKey: values("a", "1")})
	c, err := NewRegistryCollector(src, RegistryOptions{Keys: []string{runKey}, Interval: time.Millisecond}, nil)
	require.NoError(t, err)

	first, err := c.CaptureBaseline(context.Background())
	require.NoError(t, err)
	src.set(RegistrySnapshot{runKey: values("a", "1", "b", "2")})
	second, err := c.CaptureBaseline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, StateBaselineCaptured, c.State())
}

func TestNewRegistryCollector_Validation(t *testing.T) {
	_, err := NewRegistryCollector(nil, RegistryOptions{Interval: time.Second}, nil)
	assert.Error(t, err)
	_, err = NewRegistryCollector(&fakeRegistry{}, RegistryOptions{}, nil)
	assert.Error(t, err)
}

func TestNormalizeKeys(t *testing.T) {
	got := normalizeKeys([]string{` HKCU\Run\ `, `hkcu\run`, "", `HKLM\X`})
	assert.Equal(t, []string{`HKCU\Run`, `HKLM\X`}, got)
}

func TestSplitKey(t *testing.T) {
	hive, path, err := SplitKey(`hklm\Software\Foo`)
	require.NoError(t, err)
	assert.Equal(t, "HKLM", hive)
	assert.Equal(t, `Software\Foo`, path)

	hive, path, err = SplitKey("HKCU")
	require.NoError(t, err)
	assert.Equal(t, "HKCU", hive)
	assert.Empty(t, path)

	_, _, err = SplitKey(`\Software`)
	assert.Error(t, err)
}
