package cetty

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"cetty/errors"
	"cetty/internal/netpoll"
	"cetty/internal/reuseport"
)

// maxAcceptsPerEvent bounds the connections taken per readiness event so that one busy
// listener cannot starve the other channels of its loop.
const maxAcceptsPerEvent = 128

// ServerSocketChannel is a listening TCP socket. Every accepted connection becomes a
// SocketChannel on a loop of the child group and is passed as a message to the pipeline.
type ServerSocketChannel struct {
	abstractChannel
	config   *SocketConfig
	ploop    *PollEventLoop
	children *EventLoopGroup
	sfd      int
	local    addrHolder
	newChild func(loop *PollEventLoop, fd int, remote net.Addr) *SocketChannel
}

// NewServerSocketChannel creates a server channel on loop whose children are spread over
// children. A nil group keeps the children on loop.
func NewServerSocketChannel(loop *PollEventLoop, children *EventLoopGroup) *ServerSocketChannel {
	c := &ServerSocketChannel{config: NewSocketConfig(), ploop: loop, children: children, sfd: -1}
	c.init(c, nil, loop, &headHandler{t: c}, loop.logger)
	c.newChild = c.newAcceptedChannel
	return c
}

// Config implements Channel.
func (c *ServerSocketChannel) Config() Config { return c.config }

// SocketConfig returns the socket options of the listener.
func (c *ServerSocketChannel) SocketConfig() *SocketConfig { return c.config }

// LocalAddr implements Channel.
func (c *ServerSocketChannel) LocalAddr() net.Addr { return c.local.load() }

// RemoteAddr implements Channel. A listener has no peer.
func (c *ServerSocketChannel) RemoteAddr() net.Addr { return nil }

// IsActive implements Channel, a server channel is active once bound.
func (c *ServerSocketChannel) IsActive() bool { return c.state.Load() == channelBound }

func (c *ServerSocketChannel) transport() transport { return c }

func (c *ServerSocketChannel) fd() int { return c.sfd }

func (c *ServerSocketChannel) register(f *Future) {
	c.pipeline.FireChannelCreated()
	if !c.IsOpen() {
		f.SetFailure(errors.ErrChannelClosed)
		return
	}
	f.SetSuccess()
}

func (c *ServerSocketChannel) doBind(local net.Addr, f *Future) {
	if !c.IsOpen() {
		f.SetFailure(errors.NewOpError("bind", local, errors.ErrChannelClosed))
		return
	}
	if c.sfd >= 0 {
		f.SetFailure(errors.NewOpError("bind", local, errors.ErrAlreadyBound))
		return
	}
	addr, err := toTCPAddr(local)
	if err != nil {
		f.SetFailure(errors.NewOpError("bind", local, err))
		return
	}
	fd, laddr, err := reuseport.TCPListener("tcp", addr, c.config.ReusePort(), c.config.Backlog())
	if err != nil {
		f.SetFailure(errors.NewOpError("bind", local, err))
		return
	}
	c.sfd = fd
	if err = c.config.attach(fd, false); err != nil {
		c.log.Warnf("Failed to apply socket options to listener %v: %v", laddr, err)
	}
	if err = c.ploop.register(c, false); err != nil {
		f.SetFailure(errors.NewOpError("bind", local, err))
		c.doClose(NewFuture(c))
		return
	}
	c.local.store(laddr)
	c.state.Store(channelBound)
	f.SetSuccess()
	c.pipeline.FireChannelActive()
}

func (c *ServerSocketChannel) doConnect(remote, _ net.Addr, f *Future) {
	f.SetFailure(errors.NewOpError("connect", remote, errors.ErrUnsupportedOperation))
}

func (c *ServerSocketChannel) doDisconnect(f *Future) { c.doClose(f) }

func (c *ServerSocketChannel) doFlush(_ *HandlerContext, f *Future) {
	f.SetFailure(errors.ErrUnsupportedOperation)
}

func (c *ServerSocketChannel) doClose(f *Future) {
	prev, ok := c.markClosed()
	if !ok {
		f.SetSuccess()
		return
	}
	var err error
	if c.sfd >= 0 {
		c.ploop.unregister(c)
		c.config.detach()
		err = os.NewSyscallError("close", unix.Close(c.sfd))
		c.sfd = -1
	}
	c.finishClose(prev == channelBound)
	if err != nil {
		f.SetFailure(errors.NewOpError("close", c.LocalAddr(), err))
		return
	}
	f.SetSuccess()
}

func (c *ServerSocketChannel) closeOnShutdown() { c.doClose(NewFuture(c)) }

func (c *ServerSocketChannel) handleEvent(uint32) error {
	accepted := 0
	for ; accepted < maxAcceptsPerEvent; accepted++ {
		nfd, sa, err := unix.Accept4(c.sfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EAGAIN || err == unix.EINTR || err == unix.ECONNABORTED {
			break
		}
		if err != nil {
			c.pipeline.FireExceptionCaught(fmt.Errorf("%w: %v", errors.ErrAcceptSocket, os.NewSyscallError("accept4", err)))
			break
		}
		remote := netpoll.SockaddrToTCPOrUnixAddr(sa)
		loop := c.ploop
		if c.children != nil {
			loop = c.children.Next(remote)
		}
		if err = c.pipeline.head.ForwardInbound(c.newChild(loop, nfd, remote)); err != nil {
			_ = unix.Close(nfd)
			c.pipeline.FireExceptionCaught(err)
			break
		}
	}
	if accepted > 0 {
		c.pipeline.FireMessageUpdated()
	}
	return nil
}

func (c *ServerSocketChannel) newAcceptedChannel(loop *PollEventLoop, fd int, remote net.Addr) *SocketChannel {
	return newSocketChannel(c, loop, fd, remote, NewSocketConfig(), nil)
}
