// Package media classifies inbound datagrams, extracts RTP payload,
// ingests the RTCP loss signal, and hands everything off to the
// segment assembler through non-blocking FIFO queues.
package media

import "sync"

// Queue is a thread-safe, unbounded FIFO of datagram payloads. Pushes
// never block, which keeps the network receive path responsive; the
// assembler drains at its own pace.
type Queue struct {
	mu    sync.Mutex
	items [][]byte
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends data to the tail.
func (q *Queue) Push(data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, data)
}

// Poll removes and returns the head, or nil when the queue is empty.
func (q *Queue) Poll() []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// Len returns the number of queued payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Clear drops all queued payloads.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = nil
}
