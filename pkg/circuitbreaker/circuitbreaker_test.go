package circuitbreaker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func failing() error { return errBackend }
func passing() error { return nil }

func testConfig() Config {
	return Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		MaxRequestsHalfOpen: 1,
	}
}

func TestCircuitBreaker_PassesErrorsThroughWhileClosed(t *testing.T) {
	cb := New(DefaultConfig())

	assert.NoError(t, cb.Execute(passing))
	err := cb.Execute(failing)
	assert.Same(t, errBackend, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Stats().Failures)
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := New(testConfig())
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)
	require.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := New(testConfig())
	_ = cb.Execute(failing)
	_ = cb.Execute(passing)
	_ = cb.Execute(failing)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenTrialsCloseCircuit(t *testing.T) {
	cb := New(testConfig())
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, cb.Execute(passing))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(passing))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := New(testConfig())
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	time.Sleep(60 * time.Millisecond)

	assert.ErrorIs(t, cb.Execute(failing), errBackend)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Execute(passing), ErrOpen)
}

func TestCircuitBreaker_HalfOpenLimitsConcurrentTrials(t *testing.T) {
	cb := New(testConfig())
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)
	time.Sleep(60 * time.Millisecond)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	assert.ErrorIs(t, cb.Execute(passing), ErrOpen)
	close(release)
}

func TestDo_ReturnsValue(t *testing.T) {
	cb := New(testConfig())

	v, err := Do(cb, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, _ = Do(cb, func() (int, error) { return 0, errBackend })
	_, _ = Do(cb, func() (int, error) { return 0, errBackend })

	v, err = Do(cb, func() (int, error) { return 7, nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, v)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := New(testConfig())

	var mu sync.Mutex
	var transitions []string
	cb.OnStateChange(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 1 && transitions[0] == "closed->open"
	}, time.Second, 5*time.Millisecond)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(testConfig())
	_ = cb.Execute(failing)
	_ = cb.Execute(failing)

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Execute(passing))
}

func TestCircuitBreaker_ConcurrentUse(t *testing.T) {
	cb := New(Config{FailureThreshold: 1000, SuccessThreshold: 1, Timeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_ = cb.Execute(passing)
			} else {
				_ = cb.Execute(failing)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
