package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/exp/slog"

	"writebench/limit"
)

var (
	// ErrEmptyBatch 语句序列为空
	ErrEmptyBatch = errors.New("empty batch")
	// ErrInvalidConcurrency 并发数必须为正整数
	ErrInvalidConcurrency = errors.New("invalid concurrency")
)

// Result 一次批量执行的统计
type Result struct {
	Name        string
	Concurrency int
	Total       int
	Duration    time.Duration
	Success     *atomic.Int64
	Error       *atomic.Int64
}

func (r *Result) String() string {
	return fmt.Sprintf("duration: %s, concurrency: %d, success: %d, error: %d, tps: %.2f",
		r.Duration, r.Concurrency, r.Success.Load(), r.Error.Load(), float64(r.Success.Load())/r.Duration.Seconds())
}

// Runner 在连接池上以有限并发执行语句
type Runner struct {
	Pool        Pool
	Concurrency int
	Logger      *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// effective 实际并发数不超过连接池上限
func (r *Runner) effective() int {
	n := r.Concurrency
	if poolMax := r.Pool.Stats().Max; poolMax > 0 && n > poolMax {
		r.logger().Debug("concurrency capped by pool", slog.Int("concurrency", n), slog.Int("pool_max", poolMax))
		n = poolMax
	}
	return n
}

// Run 执行并计时一批语句
//
// 单条语句失败不会取消其它语句，全部执行完成后返回统计结果，
// 有失败时同时返回所有错误的合并
func (r *Runner) Run(ctx context.Context, name string, batch Batch) (*Result, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}
	if r.Concurrency <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidConcurrency, r.Concurrency)
	}

	result := &Result{
		Name:        name,
		Concurrency: r.Concurrency,
		Total:       len(batch),
		Success:     &atomic.Int64{},
		Error:       &atomic.Int64{},
	}

	n := r.effective()
	step := max(len(batch)/10, 1)

	startTime := time.Now()
	outcomes, err := limit.Stream(ctx, batch, n, func(ctx context.Context, i int, stmt Statement) error {
		if err := r.Pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d, %w", i, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var errs []error
	done := 0
	for o := range outcomes {
		if o.Err != nil {
			result.Error.Add(1)
			errs = append(errs, o.Err)
		} else {
			result.Success.Add(1)
		}

		if done++; done%step == 0 {
			r.logger().Debug("progress", slog.String("name", name), slog.Int("done", done), slog.Int("total", len(batch)))
		}
	}
	result.Duration = time.Since(startTime)

	r.logger().Debug("batch finished",
		slog.String("name", name),
		slog.Int("parallelism", n),
		slog.Int64("success", result.Success.Load()),
		slog.Int64("error", result.Error.Load()),
		slog.Duration("duration", result.Duration),
	)

	if len(errs) > 0 {
		return result, fmt.Errorf("%s: %d of %d statements failed, %w", name, len(errs), result.Total, errors.Join(errs...))
	}
	return result, nil
}

// Warmup 无并发限制地执行 n 条查询，让连接池提前建立连接
//
// 不超过连接池上限的部分同时占用各自的连接，预热后池中至少有这么多连接；
// 超出的部分作为普通查询执行
func (r *Runner) Warmup(ctx context.Context, n int, stmt Statement) (PoolStats, error) {
	if n <= 0 {
		return r.Pool.Stats(), nil
	}

	pinned := n
	if poolMax := r.Pool.Stats().Max; poolMax > 0 && pinned > poolMax {
		pinned = poolMax
	}

	if err := r.Pool.WarmContext(ctx, pinned, stmt); err != nil {
		return r.Pool.Stats(), fmt.Errorf("warmup, %w", err)
	}

	if rest := n - pinned; rest > 0 {
		err := limit.ForEach(ctx, repeat(stmt, rest), rest, func(ctx context.Context, _ int, stmt Statement) error {
			return r.Pool.QueryContext(ctx, stmt)
		})
		if err != nil {
			return r.Pool.Stats(), fmt.Errorf("warmup, %w", err)
		}
	}

	stats := r.Pool.Stats()
	r.logger().Debug("warmup finished", slog.Int("queries", n), slog.Int("open", stats.Open), slog.Int("idle", stats.Idle))
	return stats, nil
}

var warmupStatement = Statement{SQL: "SELECT * FROM person"}
