package jstimer

import (
	"context"
	"fmt"
	"math"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// maxSafeInteger is `2^53 - 1`, the maximum safe integer in JavaScript
const maxSafeInteger = 9007199254740991

// log field names
const (
	fieldRoutineID = "routine_id"
	fieldKind      = "kind"
)

// RoutineID identifies a registered routine. Ids are minted from a
// monotonic counter, starting at 1, and are never reused by a [Registry].
// The zero value is never issued.
type RoutineID uint64

// Routine is a unit of work, run on a background goroutine.
type Routine func()

// Kind identifies which table of a [Registry] a routine belongs to.
type Kind uint8

const (
	// KindTimeout is a one-shot timer, see [Registry.SetTimeout].
	KindTimeout Kind = iota + 1
	// KindInterval is a repeating timer, see [Registry.SetInterval].
	KindInterval
	// KindGuarded is a bounded-wait execution, see
	// [Registry.SetTimeoutToRoutine].
	KindGuarded
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindInterval:
		return "interval"
	case KindGuarded:
		return "guarded"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Stats is a point-in-time count of live entries, per table.
type Stats struct {
	Timeouts  int `json:"timeouts"`
	Intervals int `json:"intervals"`
	Guarded   int `json:"guarded"`
}

// Registry coordinates timers and guarded runs. Instances must be
// initialized using [New], and should be closed, via [Registry.Close] or
// [Registry.Shutdown], when no longer needed.
//
// Thread Safety:
//   - All methods are safe for concurrent use, including from within
//     routines scheduled on the same registry
//   - Routines are never executed on the caller's goroutine
type Registry struct {
	logger       *logiface.Logger[logiface.Event]
	metrics      *Metrics
	onPanic      PanicHandler
	panicLimiter *catrate.Limiter

	// parent of every guarded run's context, canceled by Close
	ctx    context.Context
	cancel context.CancelFunc

	// WARNING: Do not use sync.Map here! Each table is mutated by both the
	// caller and background goroutines, and Close must sweep consistently.

	timeouts   map[RoutineID]*delayEntry
	intervals  map[RoutineID]*intervalEntry
	guarded    map[RoutineID]*guardedRun
	timeoutsMu sync.Mutex
	intervalMu sync.Mutex
	guardedMu  sync.Mutex

	// tracks in-flight invocations, for Shutdown
	// WARNING: Add only while holding a table lock, and only if not closed.
	wg sync.WaitGroup

	// callers of Close block until the first call has swept the tables
	closeOnce sync.Once

	minInterval time.Duration
	nextID      atomic.Uint64
	closed      atomic.Bool
}

// New creates a new [Registry].
//
// Example:
//
//	r, err := jstimer.New(
//	    jstimer.WithLogger(jstimer.NewLogger(os.Stderr, logiface.LevelInformational)),
//	    jstimer.WithPanicHandler(func(id jstimer.RoutineID, kind jstimer.Kind, value any) {
//	        log.Printf("%s %d panicked: %v", kind, id, value)
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
func New(opts ...Option) (*Registry, error) {
	options, err := resolveOptions(opts)
	if err != nil {
		return nil, err
	}

	r := &Registry{
		logger:      options.logger,
		metrics:     options.metrics,
		onPanic:     options.onPanic,
		timeouts:    make(map[RoutineID]*delayEntry),
		intervals:   make(map[RoutineID]*intervalEntry),
		guarded:     make(map[RoutineID]*guardedRun),
		minInterval: options.minInterval,
	}

	if len(options.panicLogRates) != 0 {
		if r.panicLimiter, err = newLimiter(options.panicLogRates); err != nil {
			return nil, err
		}
	}

	r.ctx, r.cancel = context.WithCancel(context.Background())

	return r, nil
}

// newLimiter converts the panic of catrate.NewLimiter into an error
func newLimiter(rates map[time.Duration]int) (limiter *catrate.Limiter, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("jstimer: invalid panic log rates: %v", r)
		}
	}()
	return catrate.NewLimiter(rates), nil
}

// Stats returns the number of live entries in each table.
func (r *Registry) Stats() (stats Stats) {
	if !r.initialized() {
		return
	}
	r.timeoutsMu.Lock()
	stats.Timeouts = len(r.timeouts)
	r.timeoutsMu.Unlock()
	r.intervalMu.Lock()
	stats.Intervals = len(r.intervals)
	r.intervalMu.Unlock()
	r.guardedMu.Lock()
	stats.Guarded = len(r.guarded)
	r.guardedMu.Unlock()
	return
}

// Close immediately clears every timeout and interval, cancels the context
// of every guarded run, and prevents any further registration, which will
// fail with [ErrClosed]. It does not wait for in-flight routines, see
// [Registry.Shutdown]. Close is idempotent, and always returns nil. A call
// made while another is in progress returns once the first has finished.
func (r *Registry) Close() error {
	if !r.initialized() {
		return nil
	}

	r.closeOnce.Do(func() {
		r.closed.Store(true)

		r.cancel()

		// Set* check closed while holding the table lock, so anything that
		// won the race is swept here
		r.ClearAllTimeout()
		r.ClearAllInterval()

		r.logger.Debug().Log("registry closed")
	})

	return nil
}

// Shutdown calls [Registry.Close], then waits for all in-flight routine
// invocations to return. An error will be returned if ctx is canceled prior
// to this.
//
// Routines that ignore cancellation may never return, see
// [Registry.SetTimeoutToRoutine].
//
// This method is unsafe to call from within a routine.
func (r *Registry) Shutdown(ctx context.Context) error {
	_ = r.Close()

	if !r.initialized() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (r *Registry) initialized() bool {
	return r != nil && r.ctx != nil
}

// checkUsable reports why (if) registration is not currently possible.
func (r *Registry) checkUsable() error {
	if !r.initialized() {
		return ErrIllegalState
	}
	if r.closed.Load() {
		return ErrClosed
	}
	return nil
}

// millis converts a non-negative millisecond count to a [time.Duration],
// saturating at the maximum duration instead of overflowing.
func millis(ms int) time.Duration {
	if int64(ms) > math.MaxInt64/int64(time.Millisecond) {
		return math.MaxInt64
	}
	return time.Duration(ms) * time.Millisecond
}

// mintID returns the next routine id. It panics if the id space (bounded by
// the JavaScript safe integer limit) is exhausted.
func (r *Registry) mintID() RoutineID {
	id := r.nextID.Add(1)
	if id > maxSafeInteger {
		panic("jstimer: routine ID exceeded MAX_SAFE_INTEGER")
	}
	return RoutineID(id)
}

// invoke runs fn, recovering (and reporting) any panic.
func (r *Registry) invoke(kind Kind, id RoutineID, fn func()) (panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			panicked = true
			r.reportPanic(kind, id, v)
		}
	}()
	fn()
	return false
}

func (r *Registry) reportPanic(kind Kind, id RoutineID, value any) {
	r.metrics.panicked(kind)

	if _, ok := r.panicLimiter.Allow(kind); ok {
		r.logger.Err().
			Uint64(fieldRoutineID, uint64(id)).
			Str(fieldKind, kind.String()).
			Any("panic", value).
			Str("stack", string(debug.Stack())).
			Log("routine panicked")
	}

	if r.onPanic != nil {
		r.onPanic(id, kind, value)
	}
}
