// Command jstimer-demo exercises a [jstimer.Registry], optionally exposing
// its metrics and live entry counts over HTTP.
//
// Usage:
//
//	jstimer-demo [-http :8080] [-duration 10s] [-log-level debug]
//
// Routes (when -http is set):
//
//	GET /metrics       Prometheus metrics
//	GET /debug/timers  live entry counts, as JSON
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"braces.dev/errtrace"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeycumines/go-jstimer"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	var (
		httpAddr = flag.String("http", "", "listen address for /metrics and /debug/timers, disabled if empty")
		duration = flag.Duration("duration", 10*time.Second, "how long to run the demo for, 0 to run until interrupted")
		logLevel = flag.String("log-level", "info", "one of emerg, alert, crit, err, warning, notice, info, debug, trace")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *httpAddr, *duration, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "jstimer-demo: %+v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, httpAddr string, duration time.Duration, logLevel string) error {
	level, err := parseLevel(logLevel)
	if err != nil {
		return errtrace.Wrap(err)
	}
	logger := jstimer.NewLogger(os.Stderr, level)

	reg := prometheus.NewRegistry()
	metrics := jstimer.NewMetrics("jstimer")
	reg.MustRegister(
		metrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	timers, err := jstimer.New(
		jstimer.WithLogger(logger),
		jstimer.WithMetrics(metrics),
		jstimer.WithPanicHandler(func(id jstimer.RoutineID, kind jstimer.Kind, value any) {
			fmt.Printf("%s %d recovered: %v\n", kind, id, value)
		}),
	)
	if err != nil {
		return errtrace.Wrap(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := timers.Shutdown(ctx); err != nil {
			logger.Warning().Err(err).Log("registry shutdown incomplete")
		}
	}()

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	errCh := make(chan error, 1)
	if httpAddr != "" {
		srv := &http.Server{
			Addr:              httpAddr,
			Handler:           newRouter(reg, timers),
			ReadHeaderTimeout: readHeaderTimeout,
		}
		go func() {
			logger.Info().Str("addr", httpAddr).Log("server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- errtrace.Wrap(err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	if err := scenarios(ctx, timers); err != nil {
		return errtrace.Wrap(err)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info().
		Int("timeouts", timers.Stats().Timeouts).
		Int("intervals", timers.Stats().Intervals).
		Log("demo finished")

	return nil
}

func newRouter(reg *prometheus.Registry, timers *jstimer.Registry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/debug/timers", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(timers.Stats())
	})
	return r
}

// scenarios schedules a mix of timeouts and intervals, then runs a pair of
// guarded routines, one of which times out.
func scenarios(ctx context.Context, timers *jstimer.Registry) error {
	if _, err := timers.SetTimeout(func() { fmt.Println("timeout: fired after 500ms") }, 500); err != nil {
		return errtrace.Wrap(err)
	}

	canceled, err := timers.SetTimeout(func() { fmt.Println("timeout: unreachable") }, 1000)
	if err != nil {
		return errtrace.Wrap(err)
	}
	timers.ClearTimeout(canceled)

	var ticks atomic.Int64
	if _, err := timers.SetInterval(func() {
		if n := ticks.Add(1); n%10 == 0 {
			fmt.Printf("interval: %d ticks\n", n)
		}
	}, 100); err != nil {
		return errtrace.Wrap(err)
	}

	if _, err := timers.SetTimeout(func() { panic("demo panic") }, 250); err != nil {
		return errtrace.Wrap(err)
	}

	timedOut, err := timers.SetTimeoutToRoutine(func() { time.Sleep(50 * time.Millisecond) }, 1000)
	if err != nil {
		return errtrace.Wrap(err)
	}
	fmt.Printf("guarded: quick routine timed out=%t\n", timedOut)

	timedOut, err = timers.RunWithTimeout(ctx, func(ctx context.Context) {
		select {
		case <-ctx.Done():
		case <-time.After(time.Minute):
		}
	}, 300*time.Millisecond)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return errtrace.Wrap(err)
	}
	fmt.Printf("guarded: slow routine timed out=%t\n", timedOut)

	return nil
}

func parseLevel(s string) (logiface.Level, error) {
	for _, level := range [...]logiface.Level{
		logiface.LevelEmergency,
		logiface.LevelAlert,
		logiface.LevelCritical,
		logiface.LevelError,
		logiface.LevelWarning,
		logiface.LevelNotice,
		logiface.LevelInformational,
		logiface.LevelDebug,
		logiface.LevelTrace,
	} {
		if level.String() == s {
			return level, nil
		}
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}
