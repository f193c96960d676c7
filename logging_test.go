package jstimer

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_levelFiltering(t *testing.T) {
	var buf syncBuffer
	logger := NewLogger(&buf, logiface.LevelWarning)

	logger.Info().Log("dropped")
	logger.Warning().Str("k", "v").Log("kept")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, `"k":"v"`)
	assert.Contains(t, out, `"msg":"kept"`)
}

func TestRegistry_logsLifecycle(t *testing.T) {
	var buf syncBuffer
	r := newTestRegistry(t, WithLogger(NewLogger(&buf, logiface.LevelDebug)))

	id, err := r.SetTimeout(func() {}, 60_000)
	require.NoError(t, err)
	r.ClearTimeout(id)

	out := buf.String()
	assert.Contains(t, out, `"msg":"scheduled"`)
	assert.Contains(t, out, `"msg":"cleared"`)
	assert.Contains(t, out, `"kind":"timeout"`)
}

func TestRegistry_panicLogRateLimited(t *testing.T) {
	var (
		buf     syncBuffer
		handled atomic.Int32
	)
	r := newTestRegistry(t,
		WithLogger(NewLogger(&buf, logiface.LevelError)),
		WithPanicLogRates(map[time.Duration]int{time.Hour: 1}),
		WithPanicHandler(func(RoutineID, Kind, any) { handled.Add(1) }),
	)

	for i := 0; i < 3; i++ {
		_, err := r.SetTimeout(func() { panic("logged once") }, 1)
		require.NoError(t, err)
	}

	// the handler sees every panic, regardless of the log limit
	require.Eventually(t, func() bool { return handled.Load() == 3 }, 5*time.Second, time.Millisecond)

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, `"msg":"routine panicked"`), out)
	assert.Contains(t, out, `"panic":"logged once"`)
	assert.Contains(t, out, `"stack":`)
}

func TestRegistry_guardedTimeoutLogged(t *testing.T) {
	var buf syncBuffer
	r := newTestRegistry(t, WithLogger(NewLogger(&buf, logiface.LevelWarning)))

	release := make(chan struct{})
	defer close(release)

	timedOut, err := r.SetTimeoutToRoutine(func() { <-release }, 5)
	require.NoError(t, err)
	require.True(t, timedOut)

	out := buf.String()
	assert.Contains(t, out, `"msg":"routine timed out"`)
	assert.Contains(t, out, `"kind":"guarded"`)
	assert.NotContains(t, out, `"err"`)
}
