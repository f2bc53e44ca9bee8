package cetty

import (
	"github.com/rcrowley/go-metrics"

	"cetty/internal/logging"
)

// Logger is used for logging formatted messages, see WithLogger.
type Logger = logging.Logger

// LoadBalancing represents the type of load-balancing algorithm.
type LoadBalancing int

const (
	// RoundRobin assigns the next event-loop to each new channel in turn.
	RoundRobin LoadBalancing = iota

	// LeastConnections assigns the event-loop with the least number of registered channels.
	LeastConnections

	// SourceAddrHash assigns the event-loop by hashing the remote address.
	SourceAddrHash
)

const defaultReadBufferCap = 0x10000

// Option is a function that will set up option.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	if opts.ReadBufferCap <= 0 {
		opts.ReadBufferCap = defaultReadBufferCap
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewRegistry()
	}
	if opts.Handlers == nil {
		opts.Handlers = NewHandlerRegistry()
	}
	return opts
}

// Options are configurations for event-loops and event-loop groups.
type Options struct {
	// Multicore indicates whether a group starts one event-loop per CPU core.
	// Channels on different loops run concurrently, so shared handler state needs
	// synchronization.
	Multicore bool

	// NumEventLoop is set up to start the given number of event-loop goroutine.
	// Note: Setting up NumEventLoop will override Multicore.
	NumEventLoop int

	// LB represents the load-balancing algorithm used when assigning channels to event-loops.
	LB LoadBalancing

	// ReadBufferCap is the maximum number of bytes read from a socket in one go.
	ReadBufferCap int

	// Logger is the customized logger for logging info, if it is not set,
	// then cetty will use the default logger powered by go.uber.org/zap.
	Logger Logger

	// Metrics receives the per-loop counters. A private registry is used when nil.
	Metrics metrics.Registry

	// Handlers tracks the non-sharable handlers added to the pipelines of the loops. Groups
	// given the same registry reject a handler held by a channel of either one.
	Handlers *HandlerRegistry
}

// WithOptions sets up all options.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithMulticore sets up multi-cores in a group.
func WithMulticore(multicore bool) Option {
	return func(opts *Options) {
		opts.Multicore = multicore
	}
}

// WithNumEventLoop sets the number of event loops in a group.
func WithNumEventLoop(numEventLoop int) Option {
	return func(opts *Options) {
		opts.NumEventLoop = numEventLoop
	}
}

// WithLoadBalancing sets up the load-balancing algorithm in a group.
func WithLoadBalancing(lb LoadBalancing) Option {
	return func(opts *Options) {
		opts.LB = lb
	}
}

// WithReadBufferCap sets up ReadBufferCap for reading bytes.
func WithReadBufferCap(readBufferCap int) Option {
	return func(opts *Options) {
		opts.ReadBufferCap = readBufferCap
	}
}

// WithLogger sets up a customized logger.
func WithLogger(logger Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics sets up the registry receiving event-loop counters.
func WithMetrics(registry metrics.Registry) Option {
	return func(opts *Options) {
		opts.Metrics = registry
	}
}

// WithHandlerRegistry sets up the registry of non-sharable handlers.
func WithHandlerRegistry(registry *HandlerRegistry) Option {
	return func(opts *Options) {
		opts.Handlers = registry
	}
}
