// Package limit 有界并发执行
//
// 从固定序列中取任务执行，任意时刻最多 n 个任务在执行中。
// 单个任务失败不会取消其它任务，所有错误合并后返回。
package limit

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ErrLimit 并发数必须大于0
var ErrLimit = errors.New("limit must be positive")

// Outcome 单个任务的执行结果
type Outcome struct {
	Index int
	Err   error
}

// ForEach 以最多 n 个并发执行 fn，每个元素恰好执行一次
//
// 全部完成后返回，所有失败通过 errors.Join 合并
func ForEach[T any](ctx context.Context, items []T, n int, fn func(context.Context, int, T) error) error {
	if n <= 0 {
		return fmt.Errorf("%w, got %d", ErrLimit, n)
	}

	errs := make([]error, len(items))
	run(ctx, items, n, fn, func(o Outcome) {
		errs[o.Index] = o.Err
	})
	return errors.Join(errs...)
}

// Stream 与 ForEach 相同的并发限制，按完成顺序逐个返回结果
//
// 最后一个结果发送后 channel 关闭。调用方必须读完 channel，
// 中途停止读取会让执行 goroutine 阻塞在发送上；要提前结束请取消 ctx 并继续读到关闭
func Stream[T any](ctx context.Context, items []T, n int, fn func(context.Context, int, T) error) (<-chan Outcome, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrLimit, n)
	}

	ch := make(chan Outcome, n)
	go func() {
		defer close(ch)

		run(ctx, items, n, fn, func(o Outcome) {
			ch <- o
		})
	}()
	return ch, nil
}

func run[T any](ctx context.Context, items []T, n int, fn func(context.Context, int, T) error, report func(Outcome)) {
	g := &errgroup.Group{}
	g.SetLimit(n)

	for i, item := range items {
		// 取消后不再派发，剩余元素直接报告 ctx.Err()
		if err := ctx.Err(); err != nil {
			report(Outcome{Index: i, Err: err})
			continue
		}

		i, item := i, item
		g.Go(func() error {
			report(Outcome{Index: i, Err: fn(ctx, i, item)})
			return nil
		})
	}
	_ = g.Wait()
}
