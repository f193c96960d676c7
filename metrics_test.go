package jstimer

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_nilSafe(t *testing.T) {
	var m *Metrics
	m.scheduled(KindTimeout)
	m.fired(KindTimeout)
	m.cleared(KindTimeout)
	m.removed(KindTimeout)
	m.panicked(KindTimeout)
	m.guardedOutcome(RunCompleted, time.Second)
}

func TestMetrics_register(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewMetrics("jstimer")))

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.ElementsMatch(t, []string{
		"jstimer_routines_scheduled_total",
		"jstimer_routines_fired_total",
		"jstimer_routines_cleared_total",
		"jstimer_routine_panics_total",
		"jstimer_guarded_runs_total",
		"jstimer_routines_active",
		"jstimer_guarded_run_seconds",
	}, names)
}

func TestMetrics_timeoutLifecycle(t *testing.T) {
	m := NewMetrics("")
	r := newTestRegistry(t, WithMetrics(m), WithPanicLogRates(nil))

	done := make(chan struct{})
	_, err := r.SetTimeout(func() { close(done) }, 1)
	require.NoError(t, err)
	id, err := r.SetTimeout(func() {}, 60_000)
	require.NoError(t, err)

	<-done
	r.ClearTimeout(id)

	kind := KindTimeout.String()
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.active.WithLabelValues(kind)) == 0
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.scheduledTotal.WithLabelValues(kind)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.firedTotal.WithLabelValues(kind)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clearedTotal.WithLabelValues(kind)))
}

func TestMetrics_intervalAndPanics(t *testing.T) {
	m := NewMetrics("")
	r := newTestRegistry(t, WithMetrics(m), WithPanicLogRates(nil))

	id, err := r.SetInterval(func() { panic("tick") }, 5)
	require.NoError(t, err)

	kind := KindInterval.String()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.active.WithLabelValues(kind)))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.panicsTotal.WithLabelValues(kind)) >= 2
	}, 5*time.Second, time.Millisecond)

	r.ClearInterval(id)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues(kind)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.clearedTotal.WithLabelValues(kind)))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.firedTotal.WithLabelValues(kind)), 2.0)
}

func TestMetrics_guardedOutcomes(t *testing.T) {
	m := NewMetrics("test")
	r := newTestRegistry(t, WithMetrics(m))

	timedOut, err := r.SetTimeoutToRoutine(func() {}, 1000)
	require.NoError(t, err)
	require.False(t, timedOut)

	release := make(chan struct{})
	timedOut, err = r.SetTimeoutToRoutine(func() { <-release }, 10)
	close(release)
	require.NoError(t, err)
	require.True(t, timedOut)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardedTotal.WithLabelValues(RunCompleted.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.guardedTotal.WithLabelValues(RunTimedOut.String())))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues(KindGuarded.String())))

	const expected = `
# HELP test_routines_scheduled_total Total number of routines registered, by kind.
# TYPE test_routines_scheduled_total counter
test_routines_scheduled_total{kind="guarded"} 2
test_routines_scheduled_total{kind="interval"} 0
test_routines_scheduled_total{kind="timeout"} 0
`
	assert.NoError(t, testutil.CollectAndCompare(m, strings.NewReader(expected), "test_routines_scheduled_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m, "test_guarded_run_seconds"))
}

func TestMetrics_activeNeverNegative(t *testing.T) {
	m := NewMetrics("")
	r := newTestRegistry(t, WithMetrics(m))

	kind := KindTimeout.String()
	const n = 200
	observed := make(chan float64, n)
	for i := 0; i < n; i++ {
		_, err := r.SetTimeout(func() { observed <- testutil.ToFloat64(m.active.WithLabelValues(kind)) }, 0)
		require.NoError(t, err)
	}

	for i := 0; i < n; i++ {
		select {
		case v := <-observed:
			require.GreaterOrEqual(t, v, 0.0)
		case <-time.After(5 * time.Second):
			t.Fatal("timeout did not fire")
		}
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.active.WithLabelValues(kind)))
}
