package jstimer

import (
	"sync"
	"sync/atomic"
	"time"
)

// intervalEntry tracks the state of an interval timer.
// It is stored in r.intervals until cleared.
type intervalEntry struct {
	fn     Routine
	stop   chan struct{}
	period time.Duration
	id     RoutineID

	stopOnce sync.Once

	// checked immediately prior to each invocation
	canceled atomic.Bool
}

// SetInterval schedules fn to run repeatedly, every intervalMs milliseconds,
// until cleared via [Registry.ClearInterval].
//
// Returns [ErrInvalidArgument] if fn is nil or intervalMs is negative, in
// which case nothing is scheduled.
//
// The first invocation is immediate (zero initial delay). Subsequent
// invocations are spaced intervalMs apart, measured from the start of each
// invocation. If an invocation overruns the period, the missed ticks are
// coalesced, and the next invocation starts as soon as it returns. Periods
// below the configured minimum ([MinInterval], by default) are raised to it.
//
// All invocations run sequentially, on a goroutine owned by the interval.
func (r *Registry) SetInterval(fn Routine, intervalMs int) (RoutineID, error) {
	if fn == nil {
		return 0, nilRoutineError("SetInterval")
	}
	if intervalMs < 0 {
		return 0, negativeError("SetInterval", "interval")
	}
	return r.setInterval(fn, millis(intervalMs))
}

// SetIntervalDuration is [Registry.SetInterval], with interval as a
// [time.Duration].
func (r *Registry) SetIntervalDuration(fn Routine, interval time.Duration) (RoutineID, error) {
	if fn == nil {
		return 0, nilRoutineError("SetIntervalDuration")
	}
	if interval < 0 {
		return 0, negativeError("SetIntervalDuration", "interval")
	}
	return r.setInterval(fn, interval)
}

func (r *Registry) setInterval(fn Routine, period time.Duration) (RoutineID, error) {
	if err := r.checkUsable(); err != nil {
		return 0, err
	}

	if period < r.minInterval {
		period = r.minInterval
	}

	entry := &intervalEntry{
		fn:     fn,
		stop:   make(chan struct{}),
		period: period,
		id:     r.mintID(),
	}

	r.intervalMu.Lock()
	if r.closed.Load() {
		r.intervalMu.Unlock()
		return 0, ErrClosed
	}
	r.intervals[entry.id] = entry
	r.wg.Add(1)
	r.metrics.scheduled(KindInterval)
	r.intervalMu.Unlock()

	r.logger.Debug().
		Uint64(fieldRoutineID, uint64(entry.id)).
		Str(fieldKind, KindInterval.String()).
		Dur("interval", period).
		Log("scheduled")

	go r.runInterval(entry)

	return entry.id, nil
}

func (r *Registry) runInterval(entry *intervalEntry) {
	defer r.wg.Done()

	// created before the first invocation, so ticks are relative to its start
	ticker := time.NewTicker(entry.period)
	defer ticker.Stop()

	for {
		if entry.canceled.Load() {
			return
		}

		r.metrics.fired(KindInterval)
		r.invoke(KindInterval, entry.id, entry.fn)

		select {
		case <-entry.stop:
			return
		case <-ticker.C:
		}
	}
}

// ClearInterval cancels an interval scheduled by [Registry.SetInterval].
//
// Unknown ids are ignored. An invocation that is already running is allowed
// to finish, but no further invocation will start. This is safe to call from
// within the interval's own routine.
func (r *Registry) ClearInterval(id RoutineID) {
	if !r.initialized() {
		return
	}

	r.intervalMu.Lock()
	ok := r.clearIntervalLocked(id)
	r.intervalMu.Unlock()

	if ok {
		r.logger.Debug().
			Uint64(fieldRoutineID, uint64(id)).
			Str(fieldKind, KindInterval.String()).
			Log("cleared")
	}
}

// ClearAllInterval cancels every interval, as if by [Registry.ClearInterval].
// Intervals registered concurrently may or may not be cleared.
func (r *Registry) ClearAllInterval() {
	if !r.initialized() {
		return
	}

	r.intervalMu.Lock()
	var n int
	for id := range r.intervals {
		if r.clearIntervalLocked(id) {
			n++
		}
	}
	r.intervalMu.Unlock()

	if n != 0 {
		r.logger.Debug().
			Str(fieldKind, KindInterval.String()).
			Int("count", n).
			Log("cleared all")
	}
}

// clearIntervalLocked stops then removes the entry, reporting if it existed.
// The caller must hold intervalMu.
func (r *Registry) clearIntervalLocked(id RoutineID) bool {
	entry, ok := r.intervals[id]
	if !ok {
		return false
	}
	entry.cancel()
	delete(r.intervals, id)
	r.metrics.cleared(KindInterval)
	return true
}

// cancel prevents any further invocation, without waiting for the current
// one (waiting would deadlock, if called from within the routine).
func (x *intervalEntry) cancel() {
	x.canceled.Store(true)
	x.stopOnce.Do(func() {
		close(x.stop)
	})
}
