package cetty

import (
	"fmt"
	"net"
	"reflect"
	"sync"

	"go.uber.org/atomic"

	"cetty/errors"
)

// Pipeline is the named, ordered chain of handler contexts of one channel. Structural changes
// are serialized by a mutex, event propagation reads the links without locking.
type Pipeline struct {
	channel  Channel
	registry *HandlerRegistry // non-sharable handler owners, shared with the loop
	head     *HandlerContext
	tail     *HandlerContext
	mu       sync.Mutex
	names    map[string]*HandlerContext
	state    atomic.Int32
}

func newPipeline(ch Channel, loop EventLoop, head Handler) *Pipeline {
	p := &Pipeline{channel: ch, registry: registryOf(loop), names: make(map[string]*HandlerContext)}
	p.head = newContext(p, "head", head)
	p.tail = newContext(p, "tail", tailHandler{})
	p.head.next.Store(p.tail)
	p.tail.prev.Store(p.head)
	return p
}

// Channel returns the owning channel.
func (p *Pipeline) Channel() Channel { return p.channel }

// AddFirst inserts h right after the head.
func (p *Pipeline) AddFirst(name string, h Handler) error {
	return p.add(name, h, func() (*HandlerContext, error) { return p.head, nil })
}

// AddLast inserts h right before the tail.
func (p *Pipeline) AddLast(name string, h Handler) error {
	return p.add(name, h, func() (*HandlerContext, error) { return p.tail.prev.Load(), nil })
}

// AddBefore inserts h right before the handler named base.
func (p *Pipeline) AddBefore(base, name string, h Handler) error {
	return p.add(name, h, func() (*HandlerContext, error) {
		ctx, ok := p.names[base]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, base)
		}
		return ctx.prev.Load(), nil
	})
}

// AddAfter inserts h right after the handler named base.
func (p *Pipeline) AddAfter(base, name string, h Handler) error {
	return p.add(name, h, func() (*HandlerContext, error) {
		ctx, ok := p.names[base]
		if !ok {
			return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, base)
		}
		return ctx, nil
	})
}

// add links a new context after the one returned by at. Nothing changes on failure.
func (p *Pipeline) add(name string, h Handler, at func() (*HandlerContext, error)) error {
	h = instance(h)
	p.mu.Lock()
	if _, dup := p.names[name]; dup {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", errors.ErrDuplicateName, name)
	}
	prev, err := at()
	if err != nil {
		p.mu.Unlock()
		return err
	}
	if err = p.claim(h); err != nil {
		p.mu.Unlock()
		return err
	}
	ctx := newContext(p, name, h)
	p.link(prev, ctx)
	p.names[name] = ctx
	p.mu.Unlock()

	p.callAdded(ctx)
	return nil
}

// instance returns the handler to add: a clone for a non-sharable Cloner, h otherwise.
func instance(h Handler) Handler {
	if s, ok := h.(Sharable); ok && s.IsSharable() {
		return h
	}
	if c, ok := h.(Cloner); ok {
		return c.Clone()
	}
	return h
}

func claimable(h Handler) bool {
	if s, ok := h.(Sharable); ok && s.IsSharable() {
		return false
	}
	return reflect.ValueOf(h).Kind() == reflect.Ptr
}

func (p *Pipeline) claim(h Handler) error {
	if !claimable(h) {
		return nil
	}
	return p.registry.claim(h, p)
}

func (p *Pipeline) unclaim(h Handler) {
	if claimable(h) {
		p.registry.release(h, p)
	}
}

func (p *Pipeline) link(prev, ctx *HandlerContext) {
	next := prev.next.Load()
	ctx.prev.Store(prev)
	ctx.next.Store(next)
	next.prev.Store(ctx)
	prev.next.Store(ctx)
}

// unlink splices ctx out. ctx keeps its own links so that an event it is handling can still
// travel on.
func (p *Pipeline) unlink(ctx *HandlerContext) {
	prev, next := ctx.prev.Load(), ctx.next.Load()
	prev.next.Store(next)
	next.prev.Store(prev)
	ctx.removed.Store(true)
}

func (p *Pipeline) execute(task func()) {
	el := p.channel.EventLoop()
	if el.InEventLoop() {
		safeRun(logger(p.channel), task)
		return
	}
	el.Execute(task)
}

func (p *Pipeline) callAdded(ctx *HandlerContext) {
	if lh, ok := ctx.handler.(LifecycleHandler); ok {
		p.execute(func() {
			lh.BeforeAdd(ctx)
			lh.AfterAdd(ctx)
		})
	}
}

func (p *Pipeline) callRemoved(ctx *HandlerContext) {
	p.execute(func() {
		lh, ok := ctx.handler.(LifecycleHandler)
		if ok {
			lh.BeforeRemove(ctx)
		}
		ctx.forwardLeftovers()
		ctx.free()
		if ok {
			lh.AfterRemove(ctx)
		}
	})
}

// Remove removes the handler named name.
func (p *Pipeline) Remove(name string) (Handler, error) {
	p.mu.Lock()
	ctx, ok := p.names[name]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, name)
	}
	p.removeLocked(ctx)
	p.mu.Unlock()
	p.callRemoved(ctx)
	return ctx.handler, nil
}

// RemoveFirst removes the handler right after the head.
func (p *Pipeline) RemoveFirst() (Handler, error) {
	return p.removeAt(func() *HandlerContext { return p.head.next.Load() })
}

// RemoveLast removes the handler right before the tail.
func (p *Pipeline) RemoveLast() (Handler, error) {
	return p.removeAt(func() *HandlerContext { return p.tail.prev.Load() })
}

func (p *Pipeline) removeAt(at func() *HandlerContext) (Handler, error) {
	p.mu.Lock()
	ctx := at()
	if ctx == p.head || ctx == p.tail {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: pipeline is empty", errors.ErrNotFound)
	}
	p.removeLocked(ctx)
	p.mu.Unlock()
	p.callRemoved(ctx)
	return ctx.handler, nil
}

// removeContext removes ctx if it is still linked.
func (p *Pipeline) removeContext(ctx *HandlerContext) error {
	p.mu.Lock()
	if ctx.removed.Load() || p.names[ctx.name] != ctx {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", errors.ErrNotFound, ctx.name)
	}
	p.removeLocked(ctx)
	p.mu.Unlock()
	p.callRemoved(ctx)
	return nil
}

func (p *Pipeline) removeLocked(ctx *HandlerContext) {
	p.unlink(ctx)
	delete(p.names, ctx.name)
	p.unclaim(ctx.handler)
}

// Replace swaps the handler named oldName for h added under newName.
func (p *Pipeline) Replace(oldName, newName string, h Handler) (Handler, error) {
	h = instance(h)
	p.mu.Lock()
	old, ok := p.names[oldName]
	if !ok {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errors.ErrNotFound, oldName)
	}
	if _, dup := p.names[newName]; dup && newName != oldName {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", errors.ErrDuplicateName, newName)
	}
	if err := p.claim(h); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	ctx := newContext(p, newName, h)
	p.link(old, ctx)
	p.removeLocked(old)
	p.names[newName] = ctx
	p.mu.Unlock()

	p.callAdded(ctx)
	p.callRemoved(old)
	return old.handler, nil
}

// Get returns the context of the handler named name, nil when absent.
func (p *Pipeline) Get(name string) *HandlerContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.names[name]
}

// Context returns the context holding h, nil when absent.
func (p *Pipeline) Context(h Handler) *HandlerContext {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		return nil
	}
	for ctx := p.head.next.Load(); ctx != p.tail; ctx = ctx.next.Load() {
		if reflect.TypeOf(ctx.handler).Comparable() && ctx.handler == h {
			return ctx
		}
	}
	return nil
}

// Names returns the handler names from head to tail.
func (p *Pipeline) Names() []string {
	var names []string
	for ctx := p.head.next.Load(); ctx != p.tail; ctx = ctx.next.Load() {
		names = append(names, ctx.name)
	}
	return names
}

// First returns the context right after the head, nil when the pipeline is empty.
func (p *Pipeline) First() *HandlerContext {
	if ctx := p.head.next.Load(); ctx != p.tail {
		return ctx
	}
	return nil
}

// Last returns the context right before the tail, nil when the pipeline is empty.
func (p *Pipeline) Last() *HandlerContext {
	if ctx := p.tail.prev.Load(); ctx != p.head {
		return ctx
	}
	return nil
}

// FireChannelCreated starts a created event at the head.
func (p *Pipeline) FireChannelCreated() { p.head.FireChannelCreated() }

// FireChannelActive starts an active event at the head.
func (p *Pipeline) FireChannelActive() {
	p.state.CAS(int32(StateCreated), int32(StateActive))
	p.head.FireChannelActive()
}

// FireChannelInactive starts an inactive event at the head.
func (p *Pipeline) FireChannelInactive() {
	p.state.Store(int32(StateInactive))
	p.head.FireChannelInactive()
}

// FireMessageUpdated tells the first consumer that its inbound storage has new data.
func (p *Pipeline) FireMessageUpdated() { p.head.FireMessageUpdated() }

// FireWriteCompleted starts a write-completed event at the head.
func (p *Pipeline) FireWriteCompleted() { p.head.FireWriteCompleted() }

// FireExceptionCaught starts an exception event at the head.
func (p *Pipeline) FireExceptionCaught(err error) { p.head.FireExceptionCaught(err) }

// FireUserEventTriggered starts a user event at the head.
func (p *Pipeline) FireUserEventTriggered(evt interface{}) { p.head.FireUserEventTriggered(evt) }

// Bind starts a bind request at the tail.
func (p *Pipeline) Bind(local net.Addr) *Future {
	f := NewFuture(p.channel)
	p.tail.Bind(local, f)
	return f
}

// Connect starts a connect request at the tail. local may be nil.
func (p *Pipeline) Connect(remote, local net.Addr) *Future {
	f := NewFuture(p.channel)
	p.tail.Connect(remote, local, f)
	return f
}

// Disconnect starts a disconnect request at the tail.
func (p *Pipeline) Disconnect() *Future {
	f := NewFuture(p.channel)
	p.tail.Disconnect(f)
	return f
}

// Close starts a close request at the tail.
func (p *Pipeline) Close() *Future {
	f := NewFuture(p.channel)
	p.tail.Close(f)
	return f
}

// Flush starts a flush request at the tail.
func (p *Pipeline) Flush() *Future {
	f := NewFuture(p.channel)
	p.tail.Flush(f)
	return f
}

// Write hands msg to the last outbound consumer and flushes it.
func (p *Pipeline) Write(msg interface{}) *Future {
	f := NewFuture(p.channel)
	p.tail.Write(msg, f)
	return f
}

// destroy releases the storage of every context. It runs on the loop once the channel closed.
func (p *Pipeline) destroy() {
	p.mu.Lock()
	for name, ctx := range p.names {
		p.unclaim(ctx.handler)
		delete(p.names, name)
	}
	p.mu.Unlock()
	for ctx := p.head; ctx != nil; ctx = ctx.next.Load() {
		ctx.free()
	}
}

// tailHandler ends inbound propagation.
type tailHandler struct{}

func (tailHandler) MessageUpdated(ctx *HandlerContext) {
	q := ctx.inboundQueue
	if c, ok := ctx.Channel().(inboundCollector); ok {
		for msg, ok := q.Poll(); ok; msg, ok = q.Poll() {
			c.collectInbound(msg)
		}
		return
	}
	n := 0
	for msg, ok := q.Poll(); ok; msg, ok = q.Poll() {
		n++
		// An accepted channel nobody picked up would leak its socket.
		if ch, ok := msg.(Channel); ok {
			ch.Close()
			continue
		}
		release(msg)
	}
	if n > 0 {
		logger(ctx.Channel()).Debugf("Discarded %d inbound message(s) that reached the tail of the pipeline of channel %d",
			n, ctx.Channel().ID())
	}
}

func (tailHandler) ExceptionCaught(ctx *HandlerContext, err error) {
	if c, ok := ctx.Channel().(inboundCollector); ok {
		c.collectException(err)
		return
	}
	logger(ctx.Channel()).Warnf("An exception reached the tail of the pipeline of channel %d: %v",
		ctx.Channel().ID(), err)
}

func (tailHandler) UserEventTriggered(_ *HandlerContext, evt interface{}) { release(evt) }

// inboundCollector is implemented by channels keeping what reaches the tail.
type inboundCollector interface {
	collectInbound(msg interface{})
	collectException(err error)
}
