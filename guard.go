package jstimer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// RunState is the state of a guarded run. A run starts as [RunPending], and
// ends in exactly one of [RunCompleted] or [RunTimedOut].
type RunState int32

const (
	// RunPending indicates the routine is running, and the wait has not
	// expired.
	RunPending RunState = iota
	// RunCompleted indicates the routine returned before the wait expired.
	RunCompleted
	// RunTimedOut indicates the wait expired (or was aborted) first.
	RunTimedOut
)

// String returns the string representation of the run state.
func (s RunState) String() string {
	switch s {
	case RunPending:
		return "pending"
	case RunCompleted:
		return "completed"
	case RunTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("RunState(%d)", int32(s))
	}
}

// ContextRoutine is a unit of work that supports cooperative cancellation.
type ContextRoutine func(ctx context.Context)

// guardedRun tracks a bounded-wait execution, see RunWithTimeout.
// It is stored in r.guarded until it reaches a terminal state.
type guardedRun struct {
	cancel  context.CancelFunc
	done    chan struct{} // closed after the routine returns
	expired chan struct{} // closed by the winner of expire
	err     error         // why the wait expired, written before expired is closed
	id      RoutineID
	state   atomic.Int32 // RunState
}

// transition performs the only permitted state change, from RunPending, so
// the first of completion or expiry wins.
func (x *guardedRun) transition(to RunState) bool {
	return x.state.CompareAndSwap(int32(RunPending), int32(to))
}

// expire ends the wait, recording err (nil for the timeout itself) if it won
// the transition. The routine's context is canceled only after the state is
// settled, so a routine returning in response can't be mistaken for one that
// completed in time.
func (x *guardedRun) expire(err error) {
	if x.transition(RunTimedOut) {
		x.err = err
		close(x.expired)
	}
	x.cancel()
}

// SetTimeoutToRoutine runs fn on a new goroutine, then blocks for up to
// timeoutMs milliseconds, waiting for it to return. It reports true if the
// wait expired first ("timed out"), or false if fn returned in time.
//
// Returns [ErrInvalidArgument] if fn is nil or timeoutMs is negative, in which
// case fn is not started.
//
// WARNING: Forced cancellation is best-effort. Go cannot interrupt a
// goroutine, and fn has no way to observe cancellation, so on timeout fn
// continues to run in the background, after this method returns. Use
// [Registry.RunWithTimeout] for work that can be canceled.
func (r *Registry) SetTimeoutToRoutine(fn Routine, timeoutMs int) (bool, error) {
	if fn == nil {
		return false, nilRoutineError("SetTimeoutToRoutine")
	}
	if timeoutMs < 0 {
		return false, negativeError("SetTimeoutToRoutine", "timeout")
	}
	return r.runWithTimeout(context.Background(), func(context.Context) { fn() }, millis(timeoutMs))
}

// RunWithTimeout runs fn on a new goroutine, then blocks until it returns,
// or the timeout elapses, or ctx is canceled, or the registry is closed. It
// reports true if fn did not return in time. The context passed to fn is
// canceled as soon as the wait ends, which is how a timed out run is told to
// stop.
//
// Returns [ErrInvalidArgument] if fn is nil or timeout is negative. If the
// wait was aborted by ctx, the result is true, with ctx.Err(). If it was
// aborted by [Registry.Close], the result is true, with [ErrClosed].
func (r *Registry) RunWithTimeout(ctx context.Context, fn ContextRoutine, timeout time.Duration) (bool, error) {
	if fn == nil {
		return false, nilRoutineError("RunWithTimeout")
	}
	if timeout < 0 {
		return false, negativeError("RunWithTimeout", "timeout")
	}
	return r.runWithTimeout(ctx, fn, timeout)
}

func (r *Registry) runWithTimeout(ctx context.Context, fn ContextRoutine, timeout time.Duration) (bool, error) {
	if err := r.checkUsable(); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	// canceled only via expire, or once the wait is over
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	run := &guardedRun{
		cancel:  cancel,
		done:    make(chan struct{}),
		expired: make(chan struct{}),
		id:      r.mintID(),
	}

	r.guardedMu.Lock()
	if r.closed.Load() {
		r.guardedMu.Unlock()
		cancel()
		return false, ErrClosed
	}
	r.guarded[run.id] = run
	r.wg.Add(1)
	r.metrics.scheduled(KindGuarded)
	r.guardedMu.Unlock()

	defer r.removeGuarded(run.id)

	stopParent := context.AfterFunc(ctx, func() { run.expire(ctx.Err()) })
	defer stopParent()
	stopClosed := context.AfterFunc(r.ctx, func() { run.expire(ErrClosed) })
	defer stopClosed()

	r.logger.Debug().
		Uint64(fieldRoutineID, uint64(run.id)).
		Str(fieldKind, KindGuarded.String()).
		Dur("timeout", timeout).
		Log("started")

	start := time.Now()

	go func() {
		defer r.wg.Done()
		defer close(run.done)
		r.metrics.fired(KindGuarded)
		// a panic still means fn returned before the deadline
		r.invoke(KindGuarded, run.id, func() { fn(runCtx) })
		run.transition(RunCompleted)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-run.done:
	case <-timer.C:
		run.expire(nil)
	case <-run.expired:
	}

	// a no-op for the routine, if it completed, but releases runCtx
	run.cancel()

	timedOut := RunState(run.state.Load()) == RunTimedOut
	var err error
	if timedOut {
		// the routine may have returned after the state was settled
		<-run.expired
		err = run.err
	}

	elapsed := time.Since(start)

	if timedOut {
		r.metrics.guardedOutcome(RunTimedOut, elapsed)
		r.logger.Warning().
			Uint64(fieldRoutineID, uint64(run.id)).
			Str(fieldKind, KindGuarded.String()).
			Dur("timeout", timeout).
			Dur("elapsed", elapsed).
			Call(func(b *logiface.Builder[logiface.Event]) {
				if err != nil {
					b.Err(err)
				}
			}).
			Log("routine timed out")
		return true, err
	}

	r.metrics.guardedOutcome(RunCompleted, elapsed)
	r.logger.Debug().
		Uint64(fieldRoutineID, uint64(run.id)).
		Str(fieldKind, KindGuarded.String()).
		Dur("elapsed", elapsed).
		Log("routine completed")

	// it completed, so any abort of the wait is irrelevant
	return false, nil
}

func (r *Registry) removeGuarded(id RoutineID) {
	r.guardedMu.Lock()
	if _, ok := r.guarded[id]; ok {
		delete(r.guarded, id)
		r.metrics.removed(KindGuarded)
	}
	r.guardedMu.Unlock()
}
