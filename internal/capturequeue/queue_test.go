package capturequeue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sofatutor/park/internal/harlog"
)

type recordingStore struct {
	mu   sync.Mutex
	hars []*harlog.HAR
}

func (s *recordingStore) Append(ctx context.Context, h *harlog.HAR) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hars = append(s.hars, h)
	return "", nil
}

func (s *recordingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.hars)
}

func TestPush_DeliversToWriter(t *testing.T) {
	q := New(4, nil)
	store := &recordingStore{}
	go q.Run(context.Background(), store)

	q.Push(&harlog.HAR{})
	q.Push(&harlog.HAR{})
	q.Close()
	q.Wait()

	assert.Equal(t, 2, store.count())
}

// TestPush_DropsOldestOnOverflow covers §4.C's "drop oldest unwritten
// capture" overflow policy without blocking the producer.
func TestPush_DropsOldestOnOverflow(t *testing.T) {
	q := New(2, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			q.Push(&harlog.HAR{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Push blocked the producer on overflow")
	}
	assert.Greater(t, q.Dropped(), int64(0))
}

func TestClose_DrainsQueueBeforeWriterExits(t *testing.T) {
	q := New(16, nil)
	store := &recordingStore{}

	for i := 0; i < 10; i++ {
		q.Push(&harlog.HAR{})
	}

	runDone := make(chan struct{})
	go func() {
		q.Run(context.Background(), store)
		close(runDone)
	}()

	q.Close()
	q.Wait()
	<-runDone

	assert.Equal(t, 10, store.count())
}

func TestPush_AfterCloseIsDropped(t *testing.T) {
	q := New(4, nil)
	q.Close()
	q.Push(&harlog.HAR{})
	assert.Equal(t, int64(1), q.Dropped())
}

func TestNew_DefaultCapacityUsedWhenZero(t *testing.T) {
	q := New(0, nil)
	require.Equal(t, DefaultCapacity, cap(q.ch))
}
