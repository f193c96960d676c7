// Package jstimer provides JavaScript-style timers (setTimeout, setInterval,
// clearTimeout, clearInterval) for Go, plus a bounded-wait guard for
// arbitrary work, [Registry.SetTimeoutToRoutine].
//
// # Architecture
//
// All state lives in a [Registry], constructed via [New]. There is no
// package-level registry: construct one per application (or per test), and
// pass it where it is needed. The registry tracks three tables, keyed by a
// [RoutineID]:
//
//   - timeouts, created by [Registry.SetTimeout]
//   - intervals, created by [Registry.SetInterval]
//   - guarded runs, created by [Registry.SetTimeoutToRoutine] and
//     [Registry.RunWithTimeout]
//
// Ids are minted from a monotonic counter, and are never reused by the same
// registry.
//
// # Scheduling Model
//
// Each call provisions its own scheduling resource: a [time.Timer] per
// timeout, a goroutine and [time.Ticker] per interval, and a goroutine per
// guarded run. No pool is shared between calls, so cancelling one timer can
// never affect another.
//
// Routines always run on a background goroutine, never on the caller's.
// Panics raised by routines are recovered, and reported via the configured
// logger, [Metrics], and [PanicHandler] (see [WithLogger], [WithMetrics],
// [WithPanicHandler]).
//
// # Cancellation
//
// Clearing a timeout or interval prevents any future invocation, but does not
// interrupt an invocation that is already running.
//
// Forced cancellation of a guarded run is best-effort. Go has no mechanism to
// pre-empt a goroutine, so a routine that never checks for cancellation will
// keep running after [Registry.SetTimeoutToRoutine] reports a timeout. Use
// [Registry.RunWithTimeout], and observe the provided [context.Context], for
// work that must actually stop.
//
// # Usage
//
//	r, err := jstimer.New(
//	    jstimer.WithLogger(jstimer.NewLogger(os.Stderr, logiface.LevelInformational)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	id, _ := r.SetInterval(func() {
//	    fmt.Println("tick")
//	}, 100)
//
//	r.SetTimeout(func() {
//	    r.ClearInterval(id)
//	}, 1000)
//
//	timedOut, _ := r.SetTimeoutToRoutine(func() {
//	    time.Sleep(50 * time.Millisecond)
//	}, 1000)
//	fmt.Println(timedOut) // false
package jstimer
