package circuit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("notify", 2, time.Minute)
	cb.nowFn = func() time.Time { return now }
	boom := errors.New("boom")

	assert.ErrorIs(t, cb.Do(func() error { return boom }), boom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Do(func() error { return boom }), boom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	assert.ErrorIs(t, cb.Do(func() error { called = true; return nil }), ErrOpen)
	assert.False(t, called)

	now = now.Add(2 * time.Minute)
	assert.NoError(t, cb.Do(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("notify", 1, time.Second)
	cb.nowFn = func() time.Time { return now }

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())
}

func TestStateChangeHandler(t *testing.T) {
	cb := NewCircuitBreaker("x", 1, time.Hour)
	got := make(chan State, 1)
	cb.SetStateChangeHandler(func(_ string, _, to State) { got <- to })
	cb.RecordFailure()
	select {
	case s := <-got:
		assert.Equal(t, StateOpen, s)
	case <-time.After(time.Second):
		t.Fatal("state change not reported")
	}
	assert.Equal(t, "HALF-OPEN", StateHalfOpen.String())
}
