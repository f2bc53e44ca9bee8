package cetty

import (
	"hash/crc32"
	"net"
	"sync"
)

// loadBalancer picks the event-loop for a new channel.
type loadBalancer interface {
	register(*PollEventLoop)
	next(net.Addr) *PollEventLoop
	iterate(func(int, *PollEventLoop) bool)
	len() int
}

type (
	// roundRobinLoadBalancer with Round-Robin algorithm.
	roundRobinLoadBalancer struct {
		mu            sync.Mutex
		nextLoopIndex int
		eventLoops    []*PollEventLoop
		size          int
	}

	// leastConnectionsLoadBalancer with Least-Connections algorithm.
	leastConnectionsLoadBalancer struct {
		eventLoops []*PollEventLoop
		size       int
	}

	// sourceAddrHashLoadBalancer with Hash algorithm.
	sourceAddrHashLoadBalancer struct {
		eventLoops []*PollEventLoop
		size       int
	}
)

func newLoadBalancer(lb LoadBalancing) loadBalancer {
	switch lb {
	case LeastConnections:
		return new(leastConnectionsLoadBalancer)
	case SourceAddrHash:
		return new(sourceAddrHashLoadBalancer)
	}
	return new(roundRobinLoadBalancer)
}

// ==================================== Implementation of Round-Robin load-balancer ====================================

func (lb *roundRobinLoadBalancer) register(el *PollEventLoop) {
	lb.eventLoops = append(lb.eventLoops, el)
	lb.size++
}

// next returns the eligible event-loop based on Round-Robin algorithm. Callers come from any
// goroutine, so the index is guarded.
func (lb *roundRobinLoadBalancer) next(_ net.Addr) (el *PollEventLoop) {
	lb.mu.Lock()
	el = lb.eventLoops[lb.nextLoopIndex]
	if lb.nextLoopIndex++; lb.nextLoopIndex >= lb.size {
		lb.nextLoopIndex = 0
	}
	lb.mu.Unlock()
	return
}

func (lb *roundRobinLoadBalancer) iterate(f func(int, *PollEventLoop) bool) {
	for i, el := range lb.eventLoops {
		if !f(i, el) {
			break
		}
	}
}

func (lb *roundRobinLoadBalancer) len() int { return lb.size }

// ================================= Implementation of Least-Connections load-balancer =================================

func (lb *leastConnectionsLoadBalancer) register(el *PollEventLoop) {
	lb.eventLoops = append(lb.eventLoops, el)
	lb.size++
}

// next returns the eligible event-loop by taking the one with the least registered channels.
func (lb *leastConnectionsLoadBalancer) next(_ net.Addr) (el *PollEventLoop) {
	el = lb.eventLoops[0]
	minN := el.ChannelCount()
	for _, v := range lb.eventLoops[1:] {
		if n := v.ChannelCount(); n < minN {
			minN = n
			el = v
		}
	}
	return
}

func (lb *leastConnectionsLoadBalancer) iterate(f func(int, *PollEventLoop) bool) {
	for i, el := range lb.eventLoops {
		if !f(i, el) {
			break
		}
	}
}

func (lb *leastConnectionsLoadBalancer) len() int { return lb.size }

// ======================================= Implementation of Hash load-balancer ========================================

func (lb *sourceAddrHashLoadBalancer) register(el *PollEventLoop) {
	lb.eventLoops = append(lb.eventLoops, el)
	lb.size++
}

// hash converts a string to a unique hash code.
func (lb *sourceAddrHashLoadBalancer) hash(s string) int {
	v := int(crc32.ChecksumIEEE([]byte(s)))
	if v >= 0 {
		return v
	}
	return -v
}

// next returns the eligible event-loop by taking the remainder of a hash code as the index.
// A nil address falls back to the first loop.
func (lb *sourceAddrHashLoadBalancer) next(netAddr net.Addr) *PollEventLoop {
	if netAddr == nil {
		return lb.eventLoops[0]
	}
	return lb.eventLoops[lb.hash(netAddr.String())%lb.size]
}

func (lb *sourceAddrHashLoadBalancer) iterate(f func(int, *PollEventLoop) bool) {
	for i, el := range lb.eventLoops {
		if !f(i, el) {
			break
		}
	}
}

func (lb *sourceAddrHashLoadBalancer) len() int { return lb.size }
