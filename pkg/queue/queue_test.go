package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFOOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 500; i++ {
		q.Push(i)
	}

	for i := 0; i < 500; i++ {
		got, err := q.WaitAndPop()
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_InterleavedPushPop(t *testing.T) {
	q := New[int]()
	next := 0
	want := 0
	for round := 0; round < 50; round++ {
		for i := 0; i < round%7+1; i++ {
			q.Push(next)
			next++
		}
		for i := 0; i < round%5+1 && q.Len() > 0; i++ {
			got, err := q.WaitAndPop()
			require.NoError(t, err)
			assert.Equal(t, want, got)
			want++
		}
	}
	for q.Len() > 0 {
		got, err := q.WaitAndPop()
		require.NoError(t, err)
		assert.Equal(t, want, got)
		want++
	}
	assert.Equal(t, next, want)
}

func TestQueue_StopEmptyFailsImmediately(t *testing.T) {
	q := New[string]()
	q.Stop()

	done := make(chan error, 1)
	go func() {
		_, err := q.WaitAndPop()
		done <- err
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("WaitAndPop blocked on a stopped empty queue")
	}
}

func TestQueue_StopWakesWaiters(t *testing.T) {
	q := New[int]()

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.WaitAndPop()
			errs <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Stop()
	q.Stop() // idempotent
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
	assert.True(t, q.Stopped())
}

func TestQueue_StopDeliversRemainingItems(t *testing.T) {
	q := New[int]()
	q.Push(1)
	q.Push(2)
	q.Stop()

	v, err := q.WaitAndPop()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = q.WaitAndPop()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = q.WaitAndPop()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_WaitAndFrontDoesNotRemove(t *testing.T) {
	q := New[int]()

	got := make(chan int, 1)
	go func() {
		v, err := q.WaitAndFront()
		if err == nil {
			got <- v
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(42)

	select {
	case v := <-got:
		assert.Equal(t, 42, v)
	case <-time.After(time.Second):
		t.Fatal("WaitAndFront did not wake on push")
	}
	assert.Equal(t, 1, q.Len())

	v, ok := q.TryPop()
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = q.TryPop()
	assert.False(t, ok)
}

func TestQueue_SingleProducerOrderAcrossGoroutines(t *testing.T) {
	q := New[int]()
	const n = 10000

	go func() {
		for i := 0; i < n; i++ {
			q.Push(i)
		}
		q.Stop()
	}()

	want := 0
	for {
		v, err := q.WaitAndPop()
		if err != nil {
			assert.ErrorIs(t, err, ErrClosed)
			break
		}
		assert.Equal(t, want, v)
		want++
	}
	assert.Equal(t, n, want)
}
