package cetty

import (
	"encoding/binary"
	"net"
	"os"

	"golang.org/x/sys/unix"

	"cetty/buffer"
	"cetty/errors"
	"cetty/internal/netpoll"
	"cetty/internal/reuseport"
)

// SocketChannel is a TCP connection driven by a PollEventLoop.
type SocketChannel struct {
	abstractChannel
	config         *SocketConfig
	ploop          *PollEventLoop
	sfd            int
	local          addrHolder
	remote         addrHolder
	connectFuture  *Future
	connectTimeout *Timeout
	gather         *buffer.GatheringBuffer
	pending        []*Future // flushes waiting for the outbound backlog to drain
	writable       bool      // EPOLLOUT is being watched
}

// NewSocketChannel creates an unconnected client channel on loop. The socket is created by
// Bind or Connect.
func NewSocketChannel(loop *PollEventLoop) *SocketChannel {
	return newSocketChannel(nil, loop, -1, nil, NewSocketConfig(), nil)
}

// newSocketChannel creates a channel around fd, -1 for none yet. gather is taken over from a
// closed channel when not nil.
func newSocketChannel(parent Channel, loop *PollEventLoop, fd int, remote net.Addr, config *SocketConfig, gather *buffer.GatheringBuffer) *SocketChannel {
	if gather == nil {
		gather = buffer.NewGatheringBuffer()
	}
	c := &SocketChannel{config: config, ploop: loop, sfd: fd, gather: gather}
	c.init(c, parent, loop, &byteHeadHandler{headHandler: headHandler{t: c}, config: config}, loop.logger)
	if remote != nil {
		c.remote.store(remote)
	}
	return c
}

// takeGather hands the gathering buffer of a closed channel over to a new one. It returns
// nil while the channel is open. Call it on the channel's loop.
func (c *SocketChannel) takeGather() *buffer.GatheringBuffer {
	if c.IsOpen() {
		return nil
	}
	g := c.gather
	c.gather = nil
	if g != nil {
		g.Reset()
	}
	return g
}

// Config implements Channel.
func (c *SocketChannel) Config() Config { return c.config }

// SocketConfig returns the socket options of the channel.
func (c *SocketChannel) SocketConfig() *SocketConfig { return c.config }

// LocalAddr implements Channel.
func (c *SocketChannel) LocalAddr() net.Addr { return c.local.load() }

// RemoteAddr implements Channel.
func (c *SocketChannel) RemoteAddr() net.Addr { return c.remote.load() }

// IsActive implements Channel.
func (c *SocketChannel) IsActive() bool { return c.state.Load() == channelConnected }

func (c *SocketChannel) transport() transport { return c }

func (c *SocketChannel) fd() int { return c.sfd }

// register announces the channel. An accepted channel starts reading right away.
func (c *SocketChannel) register(f *Future) {
	c.pipeline.FireChannelCreated()
	if c.sfd < 0 {
		f.SetSuccess()
		return
	}
	if !c.IsOpen() {
		f.SetFailure(errors.ErrChannelClosed)
		return
	}
	if err := c.config.attach(c.sfd, true); err != nil {
		c.log.Warnf("Failed to apply socket options to channel %d: %v", c.id, err)
	}
	if err := c.ploop.register(c, false); err != nil {
		f.SetFailure(err)
		c.doClose(NewFuture(c))
		return
	}
	c.local.store(netpoll.LocalAddr(c.sfd))
	c.state.Store(channelConnected)
	f.SetSuccess()
	c.pipeline.FireChannelActive()
}

// open creates the socket for addr's family and binds it to local when given.
func (c *SocketChannel) open(addr, local *net.TCPAddr) error {
	_, family, err := reuseport.TCPSockaddr("tcp", addr)
	if err != nil {
		return err
	}
	fd, err := reuseport.Socket(family)
	if err != nil {
		return err
	}
	c.sfd = fd
	if err = c.config.attach(fd, true); err != nil {
		c.log.Warnf("Failed to apply socket options to channel %d: %v", c.id, err)
	}
	if local != nil {
		sa, _, err := reuseport.TCPSockaddr("tcp", local)
		if err != nil {
			return err
		}
		if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
			return err
		}
		c.local.store(netpoll.LocalAddr(fd))
		c.state.CAS(channelOpen, channelBound)
	}
	return nil
}

func (c *SocketChannel) doBind(local net.Addr, f *Future) {
	if !c.IsOpen() {
		f.SetFailure(errors.NewOpError("bind", local, errors.ErrChannelClosed))
		return
	}
	addr, err := toTCPAddr(local)
	if err == nil && c.sfd >= 0 {
		err = errors.ErrAlreadyBound
	}
	if err == nil {
		err = c.open(addr, addr)
	}
	if err != nil {
		f.SetFailure(errors.NewOpError("bind", local, err))
		return
	}
	f.SetSuccess()
}

func (c *SocketChannel) doConnect(remote, local net.Addr, f *Future) {
	if !c.IsOpen() {
		f.SetFailure(errors.NewOpError("connect", remote, errors.ErrChannelClosed))
		return
	}
	if c.connectFuture != nil || c.IsActive() {
		f.SetFailure(errors.NewOpError("connect", remote, errors.ErrAlreadyConnected))
		return
	}
	raddr, err := toTCPAddr(remote)
	if err != nil {
		f.SetFailure(errors.NewOpError("connect", remote, err))
		return
	}
	if c.sfd < 0 {
		var laddr *net.TCPAddr
		if local != nil {
			if laddr, err = toTCPAddr(local); err != nil {
				f.SetFailure(errors.NewOpError("connect", remote, err))
				return
			}
		}
		if err = c.open(raddr, laddr); err != nil {
			f.SetFailure(errors.NewOpError("connect", remote, err))
			c.doClose(NewFuture(c))
			return
		}
	}
	sa, _, err := reuseport.TCPSockaddr("tcp", raddr)
	if err != nil {
		f.SetFailure(errors.NewOpError("connect", remote, err))
		return
	}
	c.remote.store(raddr)

	switch err = unix.Connect(c.sfd, sa); err {
	case nil:
		if err = c.ploop.register(c, false); err != nil {
			f.SetFailure(errors.NewOpError("connect", remote, err))
			c.doClose(NewFuture(c))
			return
		}
		c.connected(f)
	case unix.EINPROGRESS:
		if err = c.ploop.register(c, true); err != nil {
			f.SetFailure(errors.NewOpError("connect", remote, err))
			c.doClose(NewFuture(c))
			return
		}
		c.connectFuture = f
		if d := c.config.ConnectTimeout(); d > 0 {
			c.connectTimeout = c.ploop.RunAfter(d, func() {
				if c.connectFuture == f {
					c.failConnect(errors.ErrConnectTimeout)
				}
			})
		}
	default:
		f.SetFailure(errors.NewOpError("connect", remote, os.NewSyscallError("connect", err)))
		c.doClose(NewFuture(c))
	}
}

// finishConnect completes a pending connect once the socket reports writability.
func (c *SocketChannel) finishConnect() {
	if err := netpoll.SocketError(c.sfd); err != nil {
		c.failConnect(err)
		return
	}
	f := c.connectFuture
	c.connectFuture = nil
	if c.connectTimeout != nil {
		c.connectTimeout.Cancel()
		c.connectTimeout = nil
	}
	if err := c.ploop.poller.ModRead(c.sfd); err != nil {
		f.SetFailure(errors.NewOpError("connect", c.RemoteAddr(), err))
		c.doClose(NewFuture(c))
		return
	}
	c.connected(f)
}

func (c *SocketChannel) failConnect(cause error) {
	f := c.connectFuture
	c.connectFuture = nil
	if c.connectTimeout != nil {
		c.connectTimeout.Cancel()
		c.connectTimeout = nil
	}
	f.SetFailure(errors.NewOpError("connect", c.RemoteAddr(), cause))
	c.doClose(NewFuture(c))
}

func (c *SocketChannel) connected(f *Future) {
	c.local.store(netpoll.LocalAddr(c.sfd))
	c.state.Store(channelConnected)
	f.SetSuccess()
	c.pipeline.FireChannelActive()
}

func (c *SocketChannel) doDisconnect(f *Future) { c.doClose(f) }

func (c *SocketChannel) doClose(f *Future) {
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
	if c.connectFuture != nil {
		c.failConnect(errors.ErrChannelClosed)
	}
	c.failPending(errors.ErrChannelClosed)
	c.finishClose(prev == channelConnected)
	if err != nil {
		f.SetFailure(errors.NewOpError("close", c.LocalAddr(), err))
		return
	}
	f.SetSuccess()
}

// closeWithError reports an unrecoverable I/O error and closes the channel.
func (c *SocketChannel) closeWithError(err error) {
	c.pipeline.FireExceptionCaught(err)
	c.doClose(NewFuture(c))
}

func (c *SocketChannel) closeOnShutdown() { c.doClose(NewFuture(c)) }

func (c *SocketChannel) handleEvent(ev uint32) error {
	if c.connectFuture != nil {
		if ev&netpoll.OutEvents != 0 {
			c.finishConnect()
		}
		return nil
	}
	// Leftover outbound data goes first so that it still reaches the peer when an error
	// event arrives together with it.
	if ev&netpoll.OutEvents != 0 && c.writable {
		c.write()
	}
	// Reading waits while the outbound backlog is draining, unless the socket only reported
	// readability.
	if c.IsOpen() && ev&netpoll.InEvents != 0 && (ev&netpoll.OutEvents == 0 || !c.writable) {
		c.read()
	}
	return nil
}

func (c *SocketChannel) read() {
	n, err := unix.Read(c.sfd, c.ploop.packet)
	if err == unix.EAGAIN {
		return
	}
	if err != nil {
		c.closeWithError(os.NewSyscallError("read", err))
		return
	}
	if n == 0 {
		c.doClose(NewFuture(c))
		return
	}
	b := c.config.BufferFactory().Buffer(binary.BigEndian, n)
	_, _ = b.Write(c.ploop.packet[:n])
	if err = c.pipeline.head.ForwardInbound(b); err != nil {
		c.pipeline.FireExceptionCaught(err)
		return
	}
	c.pipeline.FireMessageUpdated()
}

func (c *SocketChannel) doFlush(ctx *HandlerContext, f *Future) {
	if !c.IsActive() {
		ctx.outboundBuffer.Clear()
		f.SetFailure(errors.NewOpError("write", c.RemoteAddr(), errors.ErrChannelClosed))
		return
	}
	c.pending = append(c.pending, f)
	if !c.writable {
		c.write()
	}
}

// write sends the outbound backlog with writev, at most WriteSpinCount times. What the
// socket does not take is left for the next EPOLLOUT.
func (c *SocketChannel) write() {
	ob := c.pipeline.head.outboundBuffer
	for i := c.config.WriteSpinCount(); i > 0 && ob.IsReadable(); i-- {
		c.gather.Reset()
		if err := ob.Gather(c.gather); err != nil {
			c.closeWithError(err)
			return
		}
		n, err := unix.Writev(c.sfd, c.gather.Blocks())
		if err == unix.EAGAIN {
			break
		}
		if err != nil {
			c.gather.Reset()
			c.closeWithError(os.NewSyscallError("writev", err))
			return
		}
		_ = ob.Skip(n)
	}
	c.gather.Reset()

	if ob.IsReadable() {
		if !c.writable {
			c.writable = true
			if err := c.ploop.poller.ModReadWrite(c.sfd); err != nil {
				c.closeWithError(err)
			}
		}
		return
	}
	ob.Clear()
	if c.writable {
		c.writable = false
		if err := c.ploop.poller.ModRead(c.sfd); err != nil {
			c.closeWithError(err)
			return
		}
	}
	pending := c.pending
	c.pending = nil
	for _, f := range pending {
		f.SetSuccess()
	}
	c.pipeline.FireWriteCompleted()
}

func (c *SocketChannel) failPending(cause error) {
	pending := c.pending
	c.pending = nil
	for _, f := range pending {
		f.SetFailure(errors.NewOpError("write", c.RemoteAddr(), cause))
	}
}
