package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartStopLifecycle(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Start())

	err := r.Start()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	r.Stop()
	r.Stop() // safe to call twice
}

func TestPostBeforeStartFails(t *testing.T) {
	r := New(nil)
	err := r.Post(func() {})
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestPostRunsInOrder(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Start())
	defer r.Stop()

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		i := i
		require.NoError(t, r.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for posted work")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 10)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestPostAfterStopFails(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Start())
	r.Stop()

	err := r.Post(func() {})
	assert.ErrorIs(t, err, ErrNotRunning)
}
