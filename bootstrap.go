package cetty

import (
	"net"
	"sync"

	"go.uber.org/multierr"

	"cetty/errors"
)

// ChannelFactory creates the client channel of a connect on the loop picked for it.
type ChannelFactory func(loop *PollEventLoop) (Channel, error)

// Resolver turns a textual address into a socket address.
type Resolver interface {
	Resolve(network, address string) (net.Addr, error)
}

type tcpResolver struct{}

func (tcpResolver) Resolve(network, address string) (net.Addr, error) {
	return net.ResolveTCPAddr(network, address)
}

var (
	resolverOnce    sync.Once
	processResolver Resolver
)

// installResolver sets the resolver of the process the first time it is called and returns
// the installed one afterwards. A nil r selects the system resolver.
func installResolver(r Resolver) Resolver {
	resolverOnce.Do(func() {
		if r == nil {
			r = tcpResolver{}
		}
		processResolver = r
	})
	return processResolver
}

// BootstrapOption is a function that sets up a bootstrap.
type BootstrapOption func(opts *BootstrapOptions)

// BootstrapOptions are the settings shared by Bootstrap and ServerBootstrap.
type BootstrapOptions struct {
	// Group runs the client channels, or the server channel of a ServerBootstrap. A group
	// built from GroupOptions is created and owned by the bootstrap when it is nil.
	Group *EventLoopGroup

	// ChildGroup runs the accepted channels. Group is used when it is nil.
	ChildGroup *EventLoopGroup

	// ChannelFactory creates client channels, NewSocketChannel when nil.
	ChannelFactory ChannelFactory

	// Initializer is added to the pipeline of each client channel, or of the server channel.
	Initializer Handler

	// ChildInitializer is added to the pipeline of each accepted channel.
	ChildInitializer Handler

	// ChannelOptions are applied to each client channel, or to the server channel.
	ChannelOptions map[string]interface{}

	// ChildOptions are applied to each accepted channel.
	ChildOptions map[string]interface{}

	// LocalAddr is bound by client channels before they connect.
	LocalAddr net.Addr

	// Resolver resolves textual addresses. The first bootstrap that resolves an address
	// installs the resolver of the whole process.
	Resolver Resolver

	// GroupOptions configure the groups a bootstrap creates on its own.
	GroupOptions []Option

	// ReusableChildChannels is the number of closed accepted channels whose write buffers are
	// kept for new accepted channels.
	ReusableChildChannels int
}

func loadBootstrapOptions(options ...BootstrapOption) *BootstrapOptions {
	opts := new(BootstrapOptions)
	for _, option := range options {
		option(opts)
	}
	if opts.ChannelFactory == nil {
		opts.ChannelFactory = func(loop *PollEventLoop) (Channel, error) { return NewSocketChannel(loop), nil }
	}
	return opts
}

// WithGroup sets up the event-loop group of the channels.
func WithGroup(group *EventLoopGroup) BootstrapOption {
	return func(opts *BootstrapOptions) {
		opts.Group = group
	}
}

// WithChildGroup sets up the event-loop group of accepted channels.
func WithChildGroup(group *EventLoopGroup) BootstrapOption {
	return func(opts *BootstrapOptions) {
		opts.ChildGroup = group
	}
}

// WithChannelFactory sets up how client channels are created.
func WithChannelFactory(factory ChannelFactory) BootstrapOption {
	return func(opts *BootstrapOptions) {
		opts.ChannelFactory = factory
	}
}

// WithInitializer sets up the handler that builds the pipeline of a new channel.
func WithInitializer(h Handler) BootstrapOption {
	return func(opts *BootstrapOptions) {
		opts.Initializer = h
	}
}

// WithChildInitializer sets up the handler that builds the pipeline of accepted channels.
func WithChildInitializer(h Handler) BootstrapOption {
	return func(opts *BootstrapOptions) {
		opts.ChildInitializer = h
	}
}

// WithChannelOption sets up a channel option, see Config.SetOption.
func WithChannelOption(key string, value interface{}) BootstrapOption {
	return func(opts *BootstrapOptions) {
		if opts.ChannelOptions == nil {
			opts.ChannelOptions = make(map[string]interface{})
		}
		opts.ChannelOptions[key] = value
	}
}

// WithChildOption sets up an option of accepted channels.
func WithChildOption(key string, value interface{}) BootstrapOption {
	return func(opts *BootstrapOptions) {
		if opts.ChildOptions == nil {
			opts.ChildOptions = make(map[string]interface{})
		}
		opts.ChildOptions[key] = value
	}
}

// WithLocalAddr sets up the address client channels bind before connecting.
func WithLocalAddr(addr net.Addr) BootstrapOption {
	return func(opts *BootstrapOptions) {
		opts.LocalAddr = addr
	}
}

// WithResolver sets up the address resolver.
func WithResolver(r Resolver) BootstrapOption {
	return func(opts *BootstrapOptions) {
		opts.Resolver = r
	}
}

// WithGroupOptions sets up the options of the groups created by the bootstrap.
func WithGroupOptions(options ...Option) BootstrapOption {
	return func(opts *BootstrapOptions) {
		opts.GroupOptions = append(opts.GroupOptions, options...)
	}
}

// WithReusableChildChannels keeps the write buffers of up to n closed accepted channels for
// new ones. Every accepted channel is still a distinct Channel.
func WithReusableChildChannels(n int) BootstrapOption {
	return func(opts *BootstrapOptions) {
		opts.ReusableChildChannels = n
	}
}

// Bootstrap creates client channels.
type Bootstrap struct {
	opts     *BootstrapOptions
	mu       sync.Mutex
	group    *EventLoopGroup
	ownGroup bool
}

// NewBootstrap creates a client bootstrap.
func NewBootstrap(options ...BootstrapOption) *Bootstrap {
	opts := loadBootstrapOptions(options...)
	return &Bootstrap{opts: opts, group: opts.Group}
}

// Group returns the group running the channels, creating it on first use.
func (b *Bootstrap) Group() (*EventLoopGroup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.group != nil {
		return b.group, b.group.checkOpen()
	}
	g, err := NewEventLoopGroup(b.opts.GroupOptions...)
	if err != nil {
		return nil, err
	}
	b.group, b.ownGroup = g, true
	return g, nil
}

// Connect creates a channel, builds its pipeline, registers it and connects it to remote.
// The returned future resolves with the outcome of the connect. Failures before the
// channel is registered produce an already failed future.
func (b *Bootstrap) Connect(remote string) *Future {
	addr, err := installResolver(b.opts.Resolver).Resolve("tcp", remote)
	if err != nil {
		return NewFailedFuture(nil, errors.NewOpError("connect", nil, err))
	}
	return b.ConnectAddr(addr)
}

// ConnectAddr is Connect for a resolved address.
func (b *Bootstrap) ConnectAddr(remote net.Addr) *Future {
	g, err := b.Group()
	if err != nil {
		return NewFailedFuture(nil, errors.NewOpError("connect", remote, err))
	}
	ch, err := b.opts.ChannelFactory(g.Next(remote))
	if err != nil {
		return NewFailedFuture(nil, errors.NewOpError("connect", remote, err))
	}
	if err = initChannel(ch, b.opts.Initializer, b.opts.ChannelOptions); err != nil {
		ch.Close()
		return NewFailedFuture(ch, errors.NewOpError("connect", remote, err))
	}

	f := NewFuture(ch)
	register(ch).AddListener(func(rf *Future) {
		if !rf.IsSuccess() {
			f.SetFailure(errors.NewOpError("connect", remote, rf.Cause()))
			ch.Close()
			return
		}
		ch.Connect(remote, b.opts.LocalAddr).AddListener(cascade(f))
	})
	return f
}

// Shutdown stops the group the bootstrap created. A group handed in is left running.
func (b *Bootstrap) Shutdown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ownGroup {
		return b.group.ShutdownGracefully()
	}
	return nil
}

// initChannel adds the initializer to the pipeline of ch and applies its options.
func initChannel(ch Channel, initializer Handler, options map[string]interface{}) (err error) {
	if len(options) > 0 {
		err = ch.Config().SetOptions(options)
	}
	if initializer != nil {
		err = multierr.Append(err, ch.Pipeline().AddLast("initializer", initializer))
	}
	return
}

// cascade returns a listener completing f like the future it listens to.
func cascade(f *Future) Listener {
	return func(from *Future) {
		switch {
		case from.IsSuccess():
			f.SetSuccess()
		case from.IsCancelled():
			f.Cancel()
		default:
			f.SetFailure(from.Cause())
		}
	}
}
