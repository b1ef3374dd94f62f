package resource

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/agentflow/bus"
	"github.com/kart-io/agentflow/config"
	"github.com/kart-io/agentflow/errors"
)

func TestDisposeReverseOrder(t *testing.T) {
	m := NewManager()

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		_, err := m.Track(KindGeneric, name, func() error {
			order = append(order, name)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, m.Dispose())
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.True(t, m.Disposed())
}

func TestDisposeIdempotentAndCollectsErrors(t *testing.T) {
	m := NewManager()

	calls := 0
	_, err := m.Track(KindGeneric, "ok", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	_, err = m.Track(KindGeneric, "bad", func() error {
		return fmt.Errorf("close failed")
	})
	require.NoError(t, err)

	err = m.Dispose()
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeResourceLeak))
	assert.Equal(t, 1, calls)

	// Second dispose is a clean no-op.
	assert.NoError(t, m.Dispose())
	assert.Equal(t, 1, calls)
}

func TestTrackAfterDispose(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Dispose())

	_, err := m.Track(KindGeneric, "late", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeResourceDisposed))
}

func TestReleaseRemovesSingleResource(t *testing.T) {
	m := NewManager()

	disposed := false
	r, err := m.Track(KindGeneric, "one", func() error {
		disposed = true
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, m.Release(r))
	assert.True(t, disposed)
	assert.Zero(t, m.Counts()[KindGeneric])

	// Double release is a no-op.
	disposed = false
	require.NoError(t, m.Release(r))
	assert.False(t, disposed)
}

func TestTrackedTimerFiresAndUntracks(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	fired := make(chan struct{})
	_, err := m.NewTimer("tick", time.Millisecond, func() { close(fired) })
	require.NoError(t, err)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool {
		return m.Counts()[KindTimer] == 0
	}, time.Second, time.Millisecond)
}

func TestDisposeStopsPendingTimer(t *testing.T) {
	m := NewManager()

	fired := false
	_, err := m.NewTimer("never", time.Hour, func() { fired = true })
	require.NoError(t, err)

	require.NoError(t, m.Dispose())
	time.Sleep(10 * time.Millisecond)
	assert.False(t, fired)
}

func TestTrackedTasks(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	var wg sync.WaitGroup
	gate := make(chan struct{})
	for i := 0; i < 3; i++ {
		wg.Add(1)
		require.NoError(t, m.Go("worker", func() {
			defer wg.Done()
			<-gate
		}))
	}

	assert.Equal(t, 3, m.PendingTasks())
	close(gate)
	wg.Wait()
	assert.Eventually(t, func() bool {
		return m.PendingTasks() == 0 && m.Counts()[KindTask] == 0
	}, time.Second, time.Millisecond)
}

func TestListenersPerObject(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	for i := 0; i < 4; i++ {
		_, err := m.AddListener("session-1", fmt.Sprintf("event-%d", i), nil)
		require.NoError(t, err)
	}
	_, err := m.AddListener("session-2", "event-0", nil)
	require.NoError(t, err)

	perObject := m.ListenersPerObject()
	assert.Equal(t, 4, perObject["session-1"])
	assert.Equal(t, 1, perObject["session-2"])
}

func detectorOpts() config.LeakDetectorOptions {
	return config.LeakDetectorOptions{
		Enabled:            true,
		MonitoringInterval: time.Hour, // probes are driven manually
		Thresholds: config.LeakThresholds{
			MaxActiveTimers:       100,
			MaxPendingTasks:       50,
			MaxListenersPerObject: 10,
		},
	}
}

func TestTimerLeakAlert(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	var alerts []Alert
	d := NewLeakDetector(detectorOpts(), m, WithAlertHandler(func(a Alert) {
		alerts = append(alerts, a)
	}))

	for i := 0; i < 200; i++ {
		_, err := m.NewTimer(fmt.Sprintf("t%d", i), time.Hour, func() {})
		require.NoError(t, err)
	}

	d.Probe()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTimerLeak, alerts[0].Type)
	assert.Equal(t, SeverityCritical, alerts[0].Severity, "200 timers against a cap of 100")
	assert.Equal(t, 200, alerts[0].Metrics["active_timers"])
	assert.NotEmpty(t, alerts[0].ID)
	assert.NotEmpty(t, alerts[0].RecommendedAction)
}

func TestAlertRateLimiting(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	count := 0
	d := NewLeakDetector(detectorOpts(), m, WithAlertHandler(func(Alert) { count++ }))

	for i := 0; i < 150; i++ {
		_, err := m.NewTimer(fmt.Sprintf("t%d", i), time.Hour, func() {})
		require.NoError(t, err)
	}

	d.Probe()
	d.Probe()
	d.Probe()
	assert.Equal(t, 1, count, "repeated probes within the interval raise one alert")
	assert.Len(t, d.Alerts(), 1)
}

func TestListenerLeakAlertNamesObject(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	var alerts []Alert
	d := NewLeakDetector(detectorOpts(), m, WithAlertHandler(func(a Alert) {
		alerts = append(alerts, a)
	}))

	for i := 0; i < 12; i++ {
		_, err := m.AddListener("hot-object", fmt.Sprintf("event-%d", i), nil)
		require.NoError(t, err)
	}

	d.Probe()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertListenerLeak, alerts[0].Type)
	assert.Equal(t, "hot-object", alerts[0].Metrics["object"])
}

func TestLeakAlertPublishedAsCriticalEvent(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	b := bus.New(config.EventBusOptions{BufferSize: 50, FlushInterval: -1, ErrorThreshold: 10})
	defer b.Close()

	var got []bus.Event
	_, err := b.Subscribe(func(e bus.Event) error {
		got = append(got, e)
		return nil
	}, bus.WithTypes(bus.TopicLeakDetected))
	require.NoError(t, err)

	d := NewLeakDetector(detectorOpts(), m, WithDetectorBus(b))
	for i := 0; i < 150; i++ {
		_, err := m.NewTimer(fmt.Sprintf("t%d", i), time.Hour, func() {})
		require.NoError(t, err)
	}

	d.Probe()
	b.Flush()

	require.Len(t, got, 1)
	assert.True(t, got[0].IsCritical())
	alert, ok := got[0].Data.(Alert)
	require.True(t, ok)
	assert.Equal(t, AlertTimerLeak, alert.Type)
}

func TestAutoCleanupReleasesAgedResources(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	opts := detectorOpts()
	opts.Thresholds.MaxActiveTimers = 0
	opts.AutoCleanup = config.AutoCleanup{
		Enabled:        true,
		MaxResourceAge: 10 * time.Millisecond,
	}

	var alerts []Alert
	d := NewLeakDetector(opts, m, WithAlertHandler(func(a Alert) {
		alerts = append(alerts, a)
	}))

	for i := 0; i < 5; i++ {
		_, err := m.NewTimer(fmt.Sprintf("aged%d", i), time.Hour, func() {})
		require.NoError(t, err)
	}
	time.Sleep(20 * time.Millisecond)

	d.Probe()
	assert.Zero(t, m.Counts()[KindTimer])
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertResourceLeak, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Metrics["released"])
}

func TestDetectorBackgroundLoop(t *testing.T) {
	m := NewManager()
	defer m.Dispose()

	opts := detectorOpts()
	opts.MonitoringInterval = 5 * time.Millisecond

	var mu sync.Mutex
	count := 0
	d := NewLeakDetector(opts, m, WithAlertHandler(func(Alert) {
		mu.Lock()
		count++
		mu.Unlock()
	}))

	for i := 0; i < 150; i++ {
		_, err := m.NewTimer(fmt.Sprintf("t%d", i), time.Hour, func() {})
		require.NoError(t, err)
	}

	d.Start()
	defer d.Stop()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count >= 1
	}, time.Second, time.Millisecond)
}

func TestSeverityGrading(t *testing.T) {
	assert.Equal(t, SeverityLow, severity(100, 100))
	assert.Equal(t, SeverityMedium, severity(125, 100))
	assert.Equal(t, SeverityHigh, severity(160, 100))
	assert.Equal(t, SeverityCritical, severity(200, 100))
}
