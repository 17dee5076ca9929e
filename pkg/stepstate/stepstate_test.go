package stepstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonotonic(t *testing.T) {
	m := New()
	require.Equal(t, NotRunning, m.Get())
	m.Advance(Running)
	require.Equal(t, Running, m.Get())
	m.Advance(Starting) // backward move is a no-op
	require.Equal(t, Running, m.Get())
}

func TestWaitRunningSucceedsOnTransition(t *testing.T) {
	m := New()
	go func() {
		time.Sleep(20 * time.Millisecond)
		m.Advance(Running)
	}()
	require.NoError(t, m.WaitRunning())
}

func TestWaitRunningTimesOut(t *testing.T) {
	m := NewWithBudget(10*time.Millisecond, 2)
	err := m.WaitRunning()
	require.ErrorIs(t, err, ErrNotRunning)
}

func TestSuspendFlagIdempotence(t *testing.T) {
	f := NewSuspendFlag()
	require.False(t, f.Get())

	var already bool
	f.WithLock(func(suspended bool) bool {
		already = suspended
		return true
	})
	require.False(t, already)
	require.True(t, f.Get())

	f.WithLock(func(suspended bool) bool {
		already = suspended
		return suspended // stays suspended
	})
	require.True(t, already)
	require.True(t, f.Get())
}
