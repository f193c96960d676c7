package jstimer

import (
	"time"
)

// delayEntry tracks a single timeout. It is stored in r.timeouts until it
// fires or is cleared, whichever happens first.
type delayEntry struct {
	timer *time.Timer
	fn    Routine
	id    RoutineID
}

// SetTimeout schedules fn to run once, after delayMs milliseconds, following
// JavaScript setTimeout semantics.
//
// Returns [ErrInvalidArgument] if fn is nil or delayMs is negative, in which
// case nothing is scheduled. The returned id may be passed to
// [Registry.ClearTimeout].
//
// The call does not block. fn runs on its own goroutine, no earlier than
// delayMs after the call.
func (r *Registry) SetTimeout(fn Routine, delayMs int) (RoutineID, error) {
	if fn == nil {
		return 0, nilRoutineError("SetTimeout")
	}
	if delayMs < 0 {
		return 0, negativeError("SetTimeout", "delay")
	}
	return r.setTimeout(fn, millis(delayMs))
}

// SetTimeoutDuration is [Registry.SetTimeout], with delay as a
// [time.Duration].
func (r *Registry) SetTimeoutDuration(fn Routine, delay time.Duration) (RoutineID, error) {
	if fn == nil {
		return 0, nilRoutineError("SetTimeoutDuration")
	}
	if delay < 0 {
		return 0, negativeError("SetTimeoutDuration", "delay")
	}
	return r.setTimeout(fn, delay)
}

func (r *Registry) setTimeout(fn Routine, delay time.Duration) (RoutineID, error) {
	if err := r.checkUsable(); err != nil {
		return 0, err
	}

	entry := &delayEntry{
		fn: fn,
		id: r.mintID(),
	}

	r.timeoutsMu.Lock()
	if r.closed.Load() {
		r.timeoutsMu.Unlock()
		return 0, ErrClosed
	}
	r.timeouts[entry.id] = entry
	// fire blocks on timeoutsMu, so entry.timer is always set before it is
	// observed by ClearTimeout or fire
	// recorded before fire or clear can take the lock and decrement it
	r.metrics.scheduled(KindTimeout)
	entry.timer = time.AfterFunc(delay, func() { r.fireTimeout(entry) })
	r.timeoutsMu.Unlock()

	r.logger.Debug().
		Uint64(fieldRoutineID, uint64(entry.id)).
		Str(fieldKind, KindTimeout.String()).
		Dur("delay", delay).
		Log("scheduled")

	return entry.id, nil
}

// fireTimeout is run by the entry's timer.
func (r *Registry) fireTimeout(entry *delayEntry) {
	r.timeoutsMu.Lock()
	if r.timeouts[entry.id] != entry {
		// cleared after the timer expired, but before we got the lock
		r.timeoutsMu.Unlock()
		return
	}
	delete(r.timeouts, entry.id)
	r.wg.Add(1)
	r.timeoutsMu.Unlock()

	defer r.wg.Done()

	r.metrics.removed(KindTimeout)
	r.metrics.fired(KindTimeout)

	r.invoke(KindTimeout, entry.id, entry.fn)
}

// ClearTimeout cancels a timeout scheduled by [Registry.SetTimeout].
//
// Unknown ids, including those of timeouts which have already fired or been
// cleared, are ignored. If the routine is already running, it is allowed to
// finish.
func (r *Registry) ClearTimeout(id RoutineID) {
	if !r.initialized() {
		return
	}

	r.timeoutsMu.Lock()
	ok := r.clearTimeoutLocked(id)
	r.timeoutsMu.Unlock()

	if ok {
		r.logger.Debug().
			Uint64(fieldRoutineID, uint64(id)).
			Str(fieldKind, KindTimeout.String()).
			Log("cleared")
	}
}

// ClearAllTimeout cancels every pending timeout, as if by
// [Registry.ClearTimeout]. Timeouts registered concurrently may or may not
// be cleared.
func (r *Registry) ClearAllTimeout() {
	if !r.initialized() {
		return
	}

	r.timeoutsMu.Lock()
	var n int
	for id := range r.timeouts {
		if r.clearTimeoutLocked(id) {
			n++
		}
	}
	r.timeoutsMu.Unlock()

	if n != 0 {
		r.logger.Debug().
			Str(fieldKind, KindTimeout.String()).
			Int("count", n).
			Log("cleared all")
	}
}

// clearTimeoutLocked stops then removes the entry, reporting if it existed.
// The caller must hold timeoutsMu.
func (r *Registry) clearTimeoutLocked(id RoutineID) bool {
	entry, ok := r.timeouts[id]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(r.timeouts, id)
	r.metrics.cleared(KindTimeout)
	return true
}
