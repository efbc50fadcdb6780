package ticks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickTimer_SinceStart(t *testing.T) {
	tt := NewTickTimer()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, tt.SinceStart(), 5*time.Millisecond)

	tt.Reset()
	assert.Less(t, tt.SinceStart(), 5*time.Millisecond)
}

func TestCumulativeTickTimer_MarkRunningRequiredBeforeStop(t *testing.T) {
	c := NewCumulativeTickTimer()
	assert.Panics(t, func() { c.MarkStopped() })
}

func TestCumulativeTickTimer_AccumulatesAcrossSlices(t *testing.T) {
	c := NewCumulativeTickTimer()

	c.MarkRunning()
	time.Sleep(5 * time.Millisecond)
	first := c.MarkStopped()
	require.GreaterOrEqual(t, first, 5*time.Millisecond)

	c.MarkRunning()
	time.Sleep(5 * time.Millisecond)
	second := c.MarkStopped()

	total := c.Total()
	assert.GreaterOrEqual(t, total, first+second)
}

func TestCumulativeTickTimer_TotalIncludesOpenSlice(t *testing.T) {
	c := NewCumulativeTickTimer()
	c.MarkRunning()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, c.Total(), 5*time.Millisecond)
}

func TestWord_AddAndCAS(t *testing.T) {
	var w Word[int64]
	w.Store(5)
	assert.EqualValues(t, 7, w.Add(2))
	assert.True(t, w.CompareAndSwap(7, 10))
	assert.False(t, w.CompareAndSwap(7, 20))
	assert.EqualValues(t, 10, w.Load())
}
