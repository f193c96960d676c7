package jstimer

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// MinInterval is the default floor applied to interval periods, see
// [WithMinInterval]. A period of zero cannot back a [time.Ticker].
const MinInterval = time.Millisecond

// PanicHandler is notified of every panic recovered from a routine, after it
// has been logged. It runs on the goroutine that recovered the panic.
type PanicHandler func(id RoutineID, kind Kind, value any)

// registryOptions holds configuration options for Registry creation.
type registryOptions struct {
	logger        *logiface.Logger[logiface.Event]
	metrics       *Metrics
	onPanic       PanicHandler
	panicLogRates map[time.Duration]int
	minInterval   time.Duration
	panicRatesSet bool
}

// Option configures a [Registry] instance.
type Option interface {
	applyRegistry(*registryOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRegistryFunc func(*registryOptions) error
}

func (o *optionImpl) applyRegistry(opts *registryOptions) error {
	return o.applyRegistryFunc(opts)
}

// WithLogger configures structured logging. A nil logger (the default)
// disables logging.
//
// See also [NewLogger].
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *registryOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithMetrics records registry activity on the given [Metrics], which the
// caller is responsible for registering, e.g. with a
// [github.com/prometheus/client_golang/prometheus.Registerer].
func WithMetrics(metrics *Metrics) Option {
	return &optionImpl{func(opts *registryOptions) error {
		opts.metrics = metrics
		return nil
	}}
}

// WithPanicHandler sets a callback for panics recovered from routines.
func WithPanicHandler(handler PanicHandler) Option {
	return &optionImpl{func(opts *registryOptions) error {
		opts.onPanic = handler
		return nil
	}}
}

// WithPanicLogRates rate limits the logging of recovered panics, per [Kind],
// using the semantics of [github.com/joeycumines/go-catrate.NewLimiter].
// A nil or empty map disables rate limiting. Defaults to 5 per second and 30
// per minute.
//
// Rates must be positive, and each longer window must allow more events, at a
// lower average rate, than every shorter window, or [New] will fail.
func WithPanicLogRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *registryOptions) error {
		opts.panicLogRates = rates
		opts.panicRatesSet = true
		return nil
	}}
}

// WithMinInterval overrides [MinInterval], the smallest period an interval
// may fire at. It must be positive.
func WithMinInterval(d time.Duration) Option {
	return &optionImpl{func(opts *registryOptions) error {
		if d <= 0 {
			return errors.New("jstimer: min interval must be positive")
		}
		opts.minInterval = d
		return nil
	}}
}

// resolveOptions applies Option instances to registryOptions.
func resolveOptions(opts []Option) (*registryOptions, error) {
	cfg := &registryOptions{
		minInterval: MinInterval,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyRegistry(cfg); err != nil {
			return nil, err
		}
	}
	if !cfg.panicRatesSet {
		cfg.panicLogRates = map[time.Duration]int{
			time.Second: 5,
			time.Minute: 30,
		}
	}
	return cfg, nil
}
