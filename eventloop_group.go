package cetty

import (
	"net"
	"runtime"

	"github.com/panjf2000/ants/v2"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"cetty/errors"
)

// EventLoopGroup is a fixed set of PollEventLoops sharing channels by a load-balancing policy.
type EventLoopGroup struct {
	lb       loadBalancer       // event-loops for handling events
	pool     *ants.Pool         // goroutines hosting the loops
	opts     *Options           // options with the group
	logger   Logger             // customized logger for logging info
	shutdown atomic.Bool        // whether the group is shut down
}

// NewEventLoopGroup creates and starts the loops of a group.
func NewEventLoopGroup(options ...Option) (*EventLoopGroup, error) {
	opts := loadOptions(options...)

	// Figure out the proper number of event-loops/goroutines to run.
	numEventLoop := 1
	if opts.Multicore {
		numEventLoop = runtime.NumCPU()
	}
	if opts.NumEventLoop > 0 {
		numEventLoop = opts.NumEventLoop
	}

	g := &EventLoopGroup{
		lb:     newLoadBalancer(opts.LB),
		opts:   opts,
		logger: opts.Logger,
	}
	pool, err := ants.NewPool(numEventLoop, ants.WithPreAlloc(true), ants.WithPanicHandler(func(r interface{}) {
		g.logger.Errorf("Event-loop goroutine panicked: %v", r)
	}))
	if err != nil {
		return nil, err
	}
	g.pool = pool

	for i := 0; i < numEventLoop; i++ {
		el, err := newPollEventLoop(i, opts)
		if err != nil {
			g.closeEventLoops()
			return nil, err
		}
		el.group = g
		g.lb.register(el)
	}
	if err = g.startEventLoops(); err != nil {
		_ = g.ShutdownGracefully()
		return nil, err
	}
	return g, nil
}

func (g *EventLoopGroup) startEventLoops() (err error) {
	g.lb.iterate(func(i int, el *PollEventLoop) bool {
		err = el.start(g.pool.Submit)
		return err == nil
	})
	return
}

// closeEventLoops stops loops that never started.
func (g *EventLoopGroup) closeEventLoops() {
	g.lb.iterate(func(i int, el *PollEventLoop) bool {
		_ = el.Stop()
		return true
	})
	g.pool.Release()
}

// Next returns the loop for a channel whose peer is addr. addr may be nil.
func (g *EventLoopGroup) Next(addr net.Addr) *PollEventLoop { return g.lb.next(addr) }

// Len returns the number of loops.
func (g *EventLoopGroup) Len() int { return g.lb.len() }

// Iterate calls f for each loop until f returns false.
func (g *EventLoopGroup) Iterate(f func(i int, el *PollEventLoop) bool) { g.lb.iterate(f) }

// Metrics returns the registry holding the loop counters.
func (g *EventLoopGroup) Metrics() metrics.Registry { return g.opts.Metrics }

// ShutdownGracefully stops every loop concurrently and waits for all of them to exit.
func (g *EventLoopGroup) ShutdownGracefully() error {
	if !g.shutdown.CAS(false, true) {
		return nil
	}
	var (
		eg   errgroup.Group
		errs = make([]error, g.lb.len())
	)
	g.lb.iterate(func(i int, el *PollEventLoop) bool {
		eg.Go(func() error {
			errs[i] = el.Stop()
			return nil
		})
		return true
	})
	_ = eg.Wait()
	g.pool.Release()
	err := multierr.Combine(errs...)
	if err != nil {
		g.logger.Errorf("Event-loop group is shutting down with error: %v", err)
	}
	return err
}

// IsShutdown reports whether ShutdownGracefully has been called.
func (g *EventLoopGroup) IsShutdown() bool { return g.shutdown.Load() }

func (g *EventLoopGroup) checkOpen() error {
	if g.shutdown.Load() {
		return errors.ErrServerShutdown
	}
	return nil
}
