package batch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"ISS_Harvester/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_BoundedConcurrency(t *testing.T) {
	var active, peak atomic.Int32
	items := make([]int, 10)
	for i := range items {
		items[i] = i
	}

	var reports [][2]int
	res := Run(context.Background(), items, func(ctx context.Context, n int) (int, error) {
		cur := active.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return n * 2, nil
	}, Options{
		Limit:  3,
		Report: func(p, total int) { reports = append(reports, [2]int{p, total}) },
		Logger: logger.Discard(),
	})

	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 16, 18}, res.Values)
	assert.Equal(t, [][2]int{{3, 10}, {6, 10}, {9, 10}, {10, 10}}, reports)
	assert.NoError(t, res.Err())
}

func TestRun_FailuresExcluded(t *testing.T) {
	boom := errors.New("boom")
	res := Run(context.Background(), []int{1, 2, 3, 4}, func(ctx context.Context, n int) (int, error) {
		switch n {
		case 2:
			return 0, boom
		case 3:
			panic("kaput")
		}
		return n, nil
	}, Options{Limit: 2, Logger: logger.Discard()})

	assert.Equal(t, []int{1, 4}, res.Values)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.ErrorIs(t, res.Failures[0].Err, boom)
	assert.Equal(t, 2, res.Failures[1].Index)
	assert.Contains(t, res.Failures[1].Err.Error(), "panic")
	assert.Equal(t, 4, res.Processed)
}

func TestRun_CancelBetweenChunks(t *testing.T) {
	var cancelled atomic.Bool
	var calls atomic.Int32

	res := Run(context.Background(), []int{1, 2, 3, 4, 5, 6}, func(ctx context.Context, n int) (int, error) {
		calls.Add(1)
		cancelled.Store(true)
		return n, nil
	}, Options{Limit: 2, Cancelled: cancelled.Load, Logger: logger.Discard()})

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []int{1, 2}, res.Values)
	assert.True(t, res.Cancelled)
	assert.ErrorIs(t, res.Err(), ErrCancelled)
}

func TestRun_ContextCancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	res := Run(ctx, []int{1, 2, 3}, func(ctx context.Context, n int) (int, error) {
		cancel()
		return n, nil
	}, Options{Limit: 1, Delay: time.Hour, Logger: logger.Discard()})

	assert.Equal(t, []int{1}, res.Values)
	assert.True(t, res.Cancelled)
}

func TestRun_Empty(t *testing.T) {
	res := Run(context.Background(), nil, func(ctx context.Context, n int) (int, error) { return n, nil }, Options{})
	assert.Empty(t, res.Values)
	assert.Zero(t, res.Total)
	assert.NoError(t, res.Err())
}
