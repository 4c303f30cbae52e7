package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	cb := NewBreaker("test", 3, time.Hour)

	cb.RecordFailure()
	cb.RecordFailure()
	assert.True(t, cb.Allow())

	cb.RecordFailure()
	assert.False(t, cb.Allow())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	cb := NewBreaker("test", 1, 10*time.Millisecond)

	cb.RecordFailure()
	require.False(t, cb.Allow())

	time.Sleep(20 * time.Millisecond)
	assert.True(t, cb.Allow(), "expired timeout admits a trial call")

	cb.RecordSuccess()
	assert.True(t, cb.Allow())
}

func TestBreaker_StateChangeHandler(t *testing.T) {
	type change struct {
		name     string
		from, to State
	}
	changes := make(chan change, 4)

	cb := NewBreaker("feed", 2, 10*time.Millisecond)
	cb.SetStateChangeHandler(func(name string, from, to State) {
		changes <- change{name: name, from: from, to: to}
	})

	cb.RecordFailure()
	cb.RecordFailure()

	select {
	case c := <-changes:
		assert.Equal(t, "feed", c.name)
		assert.Equal(t, StateClosed, c.from)
		assert.Equal(t, StateOpen, c.to)
	case <-time.After(time.Second):
		t.Fatal("handler was not called on open")
	}

	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.Allow())
	select {
	case c := <-changes:
		assert.Equal(t, StateOpen, c.from)
		assert.Equal(t, StateHalfOpen, c.to)
	case <-time.After(time.Second):
		t.Fatal("handler was not called on half-open")
	}
}
