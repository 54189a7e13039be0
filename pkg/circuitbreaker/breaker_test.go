package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCircuitBreakerTripsAtThreshold(t *testing.T) {
	cb := NewCircuitBreaker("raydium", true, 3, time.Minute, time.Minute, nil)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	state := cb.GetState()
	assert.Equal(t, "raydium", state.Name)
	assert.True(t, state.Open)
	assert.Equal(t, 3, state.FailureCount)
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker("meteora", false, 1, time.Minute, time.Minute, nil)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
	assert.False(t, cb.IsEnabled())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker("raydium", true, 1, time.Minute, time.Hour, nil)

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.False(t, cb.IsOpen())
	assert.Equal(t, 0, cb.GetState().FailureCount)
}

func TestCircuitBreakerClosesAfterResetTimeout(t *testing.T) {
	cb := NewCircuitBreaker("raydium", true, 1, time.Minute, 20*time.Millisecond, nil)

	assert.True(t, cb.RecordFailure())
	assert.True(t, cb.IsOpen())

	time.Sleep(40 * time.Millisecond)
	assert.False(t, cb.IsOpen())
}

func TestCircuitBreakerWindowExpiry(t *testing.T) {
	cb := NewCircuitBreaker("raydium", true, 2, 20*time.Millisecond, time.Minute, nil)

	assert.False(t, cb.RecordFailure())
	time.Sleep(40 * time.Millisecond)
	// previous failure fell out of the window
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())
}
