package completion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBitmapFullRange(t *testing.T) {
	s := New(0, 7)
	require.NoError(t, s.Apply(1, 7, 0, nil))
	require.True(t, s.BitmapFull())
	require.Equal(t, int32(0), s.StepRC())
}

func TestBitmapSplitRangesMaxRC(t *testing.T) {
	s := New(0, 7)
	require.NoError(t, s.Apply(1, 3, 5, nil))
	require.NoError(t, s.Apply(4, 7, 2, nil))
	require.True(t, s.BitmapFull())
	require.Equal(t, int32(5), s.StepRC())
}

func TestE5AggregationScenario(t *testing.T) {
	s := New(0, 3)
	require.NoError(t, s.Apply(1, 1, 0, nil))
	require.NoError(t, s.Apply(2, 3, 7, nil))
	require.ElementsMatch(t, []int{0, 1, 2}, s.BitmapSnapshot())
	require.Equal(t, int32(7), s.StepRC())
}

func TestApplyAfterGiveUpRejected(t *testing.T) {
	s := New(0, 7)
	s.Wait(10 * time.Millisecond) // times out, flips wait_children false
	require.False(t, s.WaitChildren())

	before := s.BitmapSnapshot()
	err := s.Apply(1, 7, 9, nil)
	require.ErrorIs(t, err, ErrTimedOut)
	require.Equal(t, before, s.BitmapSnapshot())
}

func TestWaitCompletesWhenBitmapFills(t *testing.T) {
	s := New(0, 3)
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Apply(1, 3, 0, nil)
	}()
	require.True(t, s.Wait(time.Second))
}
