package queue_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbfsd/webserver/internal/queue"
)

func TestQueue_RunsInSubmissionOrder(t *testing.T) {
	q := queue.New("test", 16)
	t.Cleanup(q.Close)

	var order []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		q.Schedule(func() {
			order = append(order, i)
			if i == 99 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not drain in time")
	}

	require.Len(t, order, 100)
	for i, v := range order {
		assert.Equal(t, i, v, "closures must run in submission order")
	}
}

func TestQueue_NameIsDiagnosticOnly(t *testing.T) {
	q := queue.New("output", 1)
	t.Cleanup(q.Close)
	assert.Equal(t, "output", q.Name())
}

func TestQueue_CloseStopsAcceptingWork(t *testing.T) {
	q := queue.New("test", 0)

	var ran atomic.Bool
	q.Close()
	q.Schedule(func() { ran.Store(true) })

	time.Sleep(20 * time.Millisecond)
	assert.False(t, ran.Load())
}
