package limit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gauge 记录同时执行中的任务数峰值
type gauge struct {
	cur  atomic.Int64
	peak atomic.Int64
}

func (g *gauge) enter() {
	n := g.cur.Add(1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (g *gauge) leave() {
	g.cur.Add(-1)
}

func TestForEachExactlyOnce(t *testing.T) {
	for _, n := range []int{1, 3, 10, 100, 1000} {
		t.Run(fmt.Sprintf("limit=%d", n), func(t *testing.T) {
			items := make([]int, 500)
			counts := make([]atomic.Int32, len(items))
			g := &gauge{}

			err := ForEach(context.Background(), items, n, func(_ context.Context, i int, _ int) error {
				g.enter()
				defer g.leave()

				counts[i].Add(1)
				time.Sleep(100 * time.Microsecond)
				return nil
			})
			require.NoError(t, err)

			for i := range counts {
				assert.Equal(t, int32(1), counts[i].Load(), "item %d", i)
			}
			assert.LessOrEqual(t, g.peak.Load(), int64(n))
		})
	}
}

func TestForEachReachesLimit(t *testing.T) {
	items := make([]struct{}, 50)
	g := &gauge{}
	release := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		done <- ForEach(context.Background(), items, 5, func(context.Context, int, struct{}) error {
			g.enter()
			defer g.leave()

			<-release
			return nil
		})
	}()

	require.Eventually(t, func() bool { return g.cur.Load() == 5 }, time.Second, time.Millisecond)
	close(release)

	require.NoError(t, <-done)
	assert.Equal(t, int64(5), g.peak.Load())
}

func TestForEachCollectsAllErrors(t *testing.T) {
	errOdd := errors.New("odd")
	items := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	var visited atomic.Int32

	err := ForEach(context.Background(), items, 3, func(_ context.Context, _ int, v int) error {
		visited.Add(1)
		if v%2 == 1 {
			return fmt.Errorf("item %d, %w", v, errOdd)
		}
		return nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errOdd)
	// 失败不影响其它任务
	assert.Equal(t, int32(len(items)), visited.Load())

	var joined interface{ Unwrap() []error }
	require.ErrorAs(t, err, &joined)
	assert.Len(t, joined.Unwrap(), 5)
}

func TestForEachInvalidLimit(t *testing.T) {
	for _, n := range []int{0, -1} {
		err := ForEach(context.Background(), []int{1}, n, func(context.Context, int, int) error {
			t.Fatal("must not run")
			return nil
		})
		assert.ErrorIs(t, err, ErrLimit)
	}
}

func TestForEachCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	items := make([]int, 20)
	var ran atomic.Int32

	err := ForEach(ctx, items, 1, func(_ context.Context, i int, _ int) error {
		ran.Add(1)
		if i == 4 {
			cancel()
		}
		return nil
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, ran.Load(), int32(len(items)))
}

func TestStream(t *testing.T) {
	items := make([]int, 100)
	errBoom := errors.New("boom")

	ch, err := Stream(context.Background(), items, 7, func(_ context.Context, i int, _ int) error {
		if i == 42 {
			return errBoom
		}
		return nil
	})
	require.NoError(t, err)

	seen := make(map[int]bool)
	failed := 0
	for o := range ch {
		assert.False(t, seen[o.Index], "duplicate index %d", o.Index)
		seen[o.Index] = true
		if o.Err != nil {
			failed++
			assert.Equal(t, 42, o.Index)
			assert.ErrorIs(t, o.Err, errBoom)
		}
	}

	assert.Len(t, seen, len(items))
	assert.Equal(t, 1, failed)
}

func TestStreamInvalidLimit(t *testing.T) {
	ch, err := Stream(context.Background(), []int{1}, 0, func(context.Context, int, int) error { return nil })
	assert.Nil(t, ch)
	assert.ErrorIs(t, err, ErrLimit)
}

func TestStreamCanceledDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	items := make([]int, 1000)
	var ran atomic.Int32

	ch, err := Stream(ctx, items, 2, func(context.Context, int, int) error {
		ran.Add(1)
		return nil
	})
	require.NoError(t, err)

	// 取消后仍读到关闭，每个元素都有结果
	got := 0
	canceled := 0
	for o := range ch {
		if got++; got == 10 {
			cancel()
		}
		if errors.Is(o.Err, context.Canceled) {
			canceled++
		}
	}

	assert.Equal(t, len(items), got)
	assert.Equal(t, len(items), int(ran.Load())+canceled)
}
