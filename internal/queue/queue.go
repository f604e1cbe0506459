package queue

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"propwatch/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Handler consumes one batch of listings pulled off the queue.
type Handler func([]*models.Property) error

// ListingQueue is an in-memory buffer between listing producers and the
// persistence pipeline. Producers push batches without blocking; a single
// dispatch goroutine fans each batch out to the subscribed handlers.
type ListingQueue struct {
	batches  chan []*models.Property
	done     chan struct{}
	capacity int
	closed   bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []Handler
}

// NewListingQueue creates a queue buffering up to capacity batches.
func NewListingQueue(capacity int, logger *logrus.Logger) *ListingQueue {
	return &ListingQueue{
		batches:  make(chan []*models.Property, capacity),
		done:     make(chan struct{}),
		capacity: capacity,
		logger:   logger,
	}
}

// Push enqueues a batch. It never blocks: a full buffer returns ErrQueueFull
// so producers can apply their own backpressure.
func (q *ListingQueue) Push(batch []*models.Property) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	select {
	case q.batches <- batch:
		q.logger.WithField("batch_size", len(batch)).Debug("Enqueued listing batch")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe registers a handler invoked for every dispatched batch.
// Handlers must be registered before Start.
func (q *ListingQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches the dispatch loop.
func (q *ListingQueue) Start() {
	go q.dispatch()
}

func (q *ListingQueue) dispatch() {
	for {
		select {
		case <-q.done:
			return
		case batch := <-q.batches:
			q.deliver(batch)
		}
	}
}

// deliver hands the batch to every handler. A failing handler is logged and
// does not stop delivery to the others.
func (q *ListingQueue) deliver(batch []*models.Property) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).WithField("batch_size", len(batch)).
				Error("Listing batch handler failed")
		}
	}
}

// Close stops dispatch and rejects further pushes. Safe to call twice.
func (q *ListingQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.done)
	close(q.batches)
	return nil
}

// Len reports the number of batches waiting for dispatch.
func (q *ListingQueue) Len() int {
	return len(q.batches)
}

// IsClosed reports whether Close has been called.
func (q *ListingQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
