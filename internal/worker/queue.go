package worker

import (
	"context"
	"sync"

	"github.com/dcc-ex/exinstaller/internal/models"
)

// Queue is an unbounded FIFO of messages. Worker tasks put, a single view
// (or CLI command) takes. Put never blocks.
type Queue struct {
	mu    sync.Mutex
	items []models.Message
	ready chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Put appends a message.
func (q *Queue) Put(m models.Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// TryGet removes and returns the oldest message, if any.
func (q *Queue) TryGet() (models.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return models.Message{}, false
	}
	m := q.items[0]
	q.items[0] = models.Message{}
	q.items = q.items[1:]
	return m, true
}

// Get blocks until a message is available or ctx is done.
func (q *Queue) Get(ctx context.Context) (models.Message, error) {
	for {
		if m, ok := q.TryGet(); ok {
			return m, nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return models.Message{}, ctx.Err()
		}
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
