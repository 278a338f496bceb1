package shared

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPMap_PreservesOrder(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	results, err := PMap(context.Background(), items, 2, false, func(ctx context.Context, i int) (int, error) {
		return i * i, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 9, 16, 25}, results)
}

func TestPMap_BoundsConcurrency(t *testing.T) {
	var inFlight, maxInFlight int64
	items := make([]int, 20)

	_, err := PMap(context.Background(), items, 3, false, func(ctx context.Context, i int) (struct{}, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			cur := atomic.LoadInt64(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt64(&maxInFlight, cur, n) {
				break
			}
		}
		atomic.AddInt64(&inFlight, -1)
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(3))
}

func TestPMap_AggregatesErrorsWithoutStopOnError(t *testing.T) {
	items := []int{1, 2, 3}
	_, err := PMap(context.Background(), items, 3, false, func(ctx context.Context, i int) (struct{}, error) {
		if i == 2 {
			return struct{}{}, errors.New("boom")
		}
		return struct{}{}, nil
	})
	require.Error(t, err)
}

func TestPMap_StopOnErrorReturnsFirstErrorOnly(t *testing.T) {
	items := []int{1, 2, 3}
	_, err := PMap(context.Background(), items, 1, true, func(ctx context.Context, i int) (struct{}, error) {
		if i == 2 {
			return struct{}{}, errors.New("boom")
		}
		return struct{}{}, nil
	})
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
}
