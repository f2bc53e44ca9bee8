package cetty

import (
	"fmt"
	"sync"

	"cetty/errors"
)

// HandlerRegistry tracks which pipeline holds each non-sharable handler instance. The loops of
// a group share one registry, so a handler cannot be added to two channels of the group at once.
type HandlerRegistry struct {
	mu     sync.Mutex
	owners map[Handler]*Pipeline
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{owners: make(map[Handler]*Pipeline)}
}

// Len returns the number of handlers currently held by a pipeline.
func (r *HandlerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.owners)
}

func (r *HandlerRegistry) claim(h Handler, p *Pipeline) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch owner, ok := r.owners[h]; {
	case !ok:
		r.owners[h] = p
		return nil
	case owner == p:
		return fmt.Errorf("%w: %T is already in this pipeline", errors.ErrHandlerNotShareable, h)
	default:
		return fmt.Errorf("%w: %T", errors.ErrHandlerNotShareable, h)
	}
}

func (r *HandlerRegistry) release(h Handler, p *Pipeline) {
	r.mu.Lock()
	if r.owners[h] == p {
		delete(r.owners, h)
	}
	r.mu.Unlock()
}

// registryOf returns the registry of loop, or a fresh one for loops that keep none.
func registryOf(loop EventLoop) *HandlerRegistry {
	if o, ok := loop.(interface{ handlerRegistry() *HandlerRegistry }); ok {
		if r := o.handlerRegistry(); r != nil {
			return r
		}
	}
	return NewHandlerRegistry()
}
