// Package capturequeue implements component 4.C: a bounded channel from
// the proxy handler to a dedicated writer task, with a drop-oldest
// overflow policy so a slow store never back-pressures the live path.
//
// The non-blocking-send-with-drop shape is grounded on the teacher's
// InMemoryEventBus.Publish (internal/eventbus/eventbus.go), extended
// here to drop the oldest queued item instead of the newest one, per
// §4.C's "drop oldest unwritten capture" contract.
package capturequeue

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sofatutor/park/internal/harlog"
	"github.com/sofatutor/park/internal/logging"
)

// DefaultCapacity is the implementation default named in §4.C.
const DefaultCapacity = 256

// Store is the subset of the capture store the writer task depends on.
type Store interface {
	Append(ctx context.Context, h *harlog.HAR) (string, error)
}

// Queue is a bounded, single-writer-task capture pipeline.
type Queue struct {
	ch      chan *harlog.HAR
	dropped int64
	logger  *zap.Logger

	wg sync.WaitGroup

	// closeMu guards Push against racing Close: Push holds the read lock
	// for the duration of its send so Close (which takes the write lock
	// before closing ch) can never close the channel while a send is
	// in flight, which would otherwise panic.
	closeMu sync.RWMutex
	closed  bool
}

// New creates a queue with the given capacity. capacity <= 0 uses DefaultCapacity.
func New(capacity int, logger *zap.Logger) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		ch:     make(chan *harlog.HAR, capacity),
		logger: logger.With(zap.String(logging.FieldComponent, logging.ComponentQueue)),
	}
	// Registered here rather than in Run so Wait cannot return before a
	// Run started in another goroutine has begun.
	q.wg.Add(1)
	return q
}

// Push enqueues a HAR without blocking. If the queue is full, the
// oldest queued capture is dropped to make room and the drop counter is
// incremented. Never blocks the caller (the live path). A capture
// submitted after Close is dropped rather than sent, since the channel
// may already be closed.
func (q *Queue) Push(h *harlog.HAR) {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		atomic.AddInt64(&q.dropped, 1)
		return
	}

	select {
	case q.ch <- h:
		return
	default:
	}

	// Full: drop the oldest queued item, then try once more.
	select {
	case <-q.ch:
		atomic.AddInt64(&q.dropped, 1)
	default:
	}
	select {
	case q.ch <- h:
	default:
		atomic.AddInt64(&q.dropped, 1)
	}
}

// Dropped returns the number of captures dropped for overflow since start.
func (q *Queue) Dropped() int64 {
	return atomic.LoadInt64(&q.dropped)
}

// Run starts the writer task: it pulls HARs off the queue and appends
// them to store until the queue is closed and drained. Run blocks; call
// it exactly once per queue, in its own goroutine.
func (q *Queue) Run(ctx context.Context, store Store) {
	defer q.wg.Done()
	for h := range q.ch {
		if _, err := store.Append(ctx, h); err != nil {
			q.logger.Warn("capture append failed", zap.Error(err))
		}
	}
}

// Close stops accepting new captures and closes the channel so Run's
// range loop drains the remaining items and returns. Wait blocks until
// the writer task produced by Run has finished draining. Close waits
// for any Push already in flight to finish before closing the channel,
// so a capture task racing shutdown never sends on a closed channel.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}

// Wait blocks until the writer task started by Run has drained and
// returned. Call Close before Wait during shutdown.
func (q *Queue) Wait() {
	q.wg.Wait()
}
