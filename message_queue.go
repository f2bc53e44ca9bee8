package cetty

import "github.com/eapache/queue"

// releasable is implemented by reference-counted messages such as *buffer.Buffer.
type releasable interface {
	Release() bool
}

// MessageQueue is the FIFO of messages a context hands to the next one. It is owned by the
// channel's event-loop and is not safe for concurrent use.
type MessageQueue struct {
	q *queue.Queue
}

// NewMessageQueue returns an empty MessageQueue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{q: queue.New()}
}

// Add appends msg.
func (m *MessageQueue) Add(msg interface{}) { m.q.Add(msg) }

// Peek returns the head without removing it.
func (m *MessageQueue) Peek() (interface{}, bool) {
	if m.q.Length() == 0 {
		return nil, false
	}
	return m.q.Peek(), true
}

// Poll removes and returns the head.
func (m *MessageQueue) Poll() (interface{}, bool) {
	if m.q.Length() == 0 {
		return nil, false
	}
	return m.q.Remove(), true
}

// Len returns the number of queued messages.
func (m *MessageQueue) Len() int { return m.q.Length() }

// IsEmpty reports whether the queue holds no message.
func (m *MessageQueue) IsEmpty() bool { return m.q.Length() == 0 }

// DrainTo moves every message to dst and returns how many moved.
func (m *MessageQueue) DrainTo(dst *MessageQueue) (n int) {
	for m.q.Length() > 0 {
		dst.q.Add(m.q.Remove())
		n++
	}
	return
}

// Clear drops every message, releasing the reference-counted ones.
func (m *MessageQueue) Clear() {
	for m.q.Length() > 0 {
		if r, ok := m.q.Remove().(releasable); ok {
			r.Release()
		}
	}
}
