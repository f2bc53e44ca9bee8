package cetty

import (
	"math"
	"net"
	"sync"

	"go.uber.org/multierr"

	"cetty/buffer"
	"cetty/errors"
)

// ServerBootstrap binds server channels and sets up the channels they accept.
type ServerBootstrap struct {
	opts       *BootstrapOptions
	mu         sync.Mutex
	group      *EventLoopGroup
	childGroup *EventLoopGroup
	ownGroup   bool
	servers    []Channel
	reusable   chan *buffer.GatheringBuffer // taken from closed children for new ones
}

// NewServerBootstrap creates a server bootstrap.
func NewServerBootstrap(options ...BootstrapOption) *ServerBootstrap {
	opts := loadBootstrapOptions(options...)
	b := &ServerBootstrap{opts: opts, group: opts.Group, childGroup: opts.ChildGroup}
	if opts.ReusableChildChannels > 0 {
		b.reusable = make(chan *buffer.GatheringBuffer, opts.ReusableChildChannels)
	}
	return b
}

// groups returns the parent and child groups, creating a shared group on first use when
// none was given.
func (b *ServerBootstrap) groups() (*EventLoopGroup, *EventLoopGroup, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.group == nil {
		if b.childGroup != nil {
			b.group = b.childGroup
		} else {
			g, err := NewEventLoopGroup(b.opts.GroupOptions...)
			if err != nil {
				return nil, nil, err
			}
			b.group, b.ownGroup = g, true
		}
	}
	if b.childGroup == nil {
		b.childGroup = b.group
	}
	if err := b.group.checkOpen(); err != nil {
		return nil, nil, err
	}
	return b.group, b.childGroup, b.childGroup.checkOpen()
}

// Bind creates a server channel listening on addr. The returned future resolves once the
// listener is bound, its Channel is the server channel.
func (b *ServerBootstrap) Bind(addr string) *Future {
	local, err := installResolver(b.opts.Resolver).Resolve("tcp", addr)
	if err != nil {
		return NewFailedFuture(nil, errors.NewOpError("bind", nil, err))
	}
	return b.BindAddr(local)
}

// BindAddr is Bind for a resolved address.
func (b *ServerBootstrap) BindAddr(local net.Addr) *Future {
	group, children, err := b.groups()
	if err != nil {
		return NewFailedFuture(nil, errors.NewOpError("bind", local, err))
	}
	ch := NewServerSocketChannel(group.Next(nil), children)
	ch.newChild = b.childFactory(ch)
	err = initChannel(ch, b.opts.Initializer, b.opts.ChannelOptions)
	if err == nil {
		err = ch.Pipeline().AddLast("acceptor", &acceptor{
			initializer: b.opts.ChildInitializer,
			options:     b.opts.ChildOptions,
		})
	}
	if err != nil {
		ch.Close()
		return NewFailedFuture(ch, errors.NewOpError("bind", local, err))
	}

	b.mu.Lock()
	b.servers = append(b.servers, ch)
	b.mu.Unlock()

	f := NewFuture(ch)
	register(ch).AddListener(func(rf *Future) {
		if !rf.IsSuccess() {
			f.SetFailure(errors.NewOpError("bind", local, rf.Cause()))
			ch.Close()
			return
		}
		ch.Bind(local).AddListener(cascade(f))
	})
	return f
}

// childFactory builds the accepted channels of parent. With a reuse pool, a new child takes
// over the write buffers of a closed one; the closed handle itself is never handed out again.
func (b *ServerBootstrap) childFactory(parent *ServerSocketChannel) func(*PollEventLoop, int, net.Addr) *SocketChannel {
	if b.reusable == nil {
		return parent.newAcceptedChannel
	}
	return func(loop *PollEventLoop, fd int, remote net.Addr) *SocketChannel {
		var gather *buffer.GatheringBuffer
		select {
		case gather = <-b.reusable:
		default:
		}
		child := newSocketChannel(parent, loop, fd, remote, NewSocketConfig(), gather)
		// The buffers go back to the pool after every other close listener has run and the
		// close has unwound.
		child.CloseFuture().AddListenerWithPriority(func(*Future) {
			_ = loop.Post(func() {
				if g := child.takeGather(); g != nil {
					select {
					case b.reusable <- g:
					default:
					}
				}
			})
		}, math.MinInt)
		return child
	}
}

// Shutdown closes the bound server channels and stops the groups the bootstrap created.
func (b *ServerBootstrap) Shutdown() (err error) {
	b.mu.Lock()
	servers := b.servers
	b.servers = nil
	b.mu.Unlock()
	for _, ch := range servers {
		if !ch.IsOpen() {
			continue
		}
		if cerr := ch.Close().AwaitUninterruptibly().Cause(); cerr != nil && !errors.Is(cerr, errors.ErrLoopClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ownGroup {
		err = multierr.Append(err, b.group.ShutdownGracefully())
	}
	return
}

// acceptor sets up each accepted channel: it applies the child options, adds the child
// initializer and registers the channel with its loop.
type acceptor struct {
	LifecycleAdapter
	initializer Handler
	options     map[string]interface{}
}

func (a *acceptor) MessageUpdated(ctx *HandlerContext) {
	q := ctx.InboundMessageQueue()
	for msg, ok := q.Poll(); ok; msg, ok = q.Poll() {
		child, ok := msg.(Channel)
		if !ok {
			release(msg)
			continue
		}
		if err := initChannel(child, a.initializer, a.options); err != nil {
			logger(ctx.Channel()).Warnf("Failed to initialize accepted channel %v: %v", child.RemoteAddr(), err)
			child.Close()
			continue
		}
		register(child).AddListener(func(f *Future) {
			if !f.IsSuccess() {
				logger(f.Channel()).Warnf("Failed to register accepted channel %v: %v", f.Channel().RemoteAddr(), f.Cause())
				f.Channel().Close()
			}
		})
	}
}

func (a *acceptor) ExceptionCaught(ctx *HandlerContext, err error) {
	if errors.Is(err, errors.ErrAcceptSocket) {
		logger(ctx.Channel()).Warnf("Failed to accept a connection on %v: %v", ctx.Channel().LocalAddr(), err)
		return
	}
	ctx.FireExceptionCaught(err)
}
