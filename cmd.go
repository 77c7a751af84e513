package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/exp/slog"
)

// Config 命令行配置
type Config struct {
	Driver      string
	DSN         string
	Pool        PoolConfig
	Count       int
	Warmup      int
	CreateTable bool
}

// ErrInvalidConfig 命令行参数不合法
var ErrInvalidConfig = errors.New("invalid config")

// validate 在打开连接池之前检查参数
func (c Config) validate() error {
	if c.Pool.Max <= 0 {
		return fmt.Errorf("%w: connections must be positive, got %d", ErrInvalidConfig, c.Pool.Max)
	}
	if c.Count <= 0 {
		return fmt.Errorf("%w: count must be positive, got %d", ErrInvalidConfig, c.Count)
	}
	if c.Warmup < 0 {
		return fmt.Errorf("%w: warmup must not be negative, got %d", ErrInvalidConfig, c.Warmup)
	}
	return nil
}

// CONNECTIONS 默认连接池大小
const CONNECTIONS = 100

// COUNT 默认每批语句数
const COUNT = 1000

func newRootCmd() *cobra.Command {
	cfg := &Config{}
	var connections int

	root := &cobra.Command{
		Use:   "writebench",
		Short: "Measure insert and update throughput under bounded concurrency",
		Long: `writebench truncates the person table, warms up a fixed-size connection pool,
then times a batch of identical write statements executed with at most
<concurrency> statements in flight.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg.Pool = PoolConfig{Min: connections, Max: connections}
			return cfg.validate()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfg.Driver, "driver", "pgx", "database driver: pgx, pgxpool, sqlite3, sqlite")
	flags.StringVar(&cfg.DSN, "dsn", "", "data source name (defaults per driver)")
	flags.IntVar(&connections, "connections", CONNECTIONS, "fixed connection pool size")
	flags.IntVar(&cfg.Count, "count", COUNT, "statements per batch")
	flags.IntVar(&cfg.Warmup, "warmup", CONNECTIONS, "warmup queries issued before timing")
	flags.BoolVar(&cfg.CreateTable, "create-table", true, "create the person table if it does not exist")

	for _, sc := range scenarios {
		sc := sc
		root.AddCommand(&cobra.Command{
			Use:   sc.Name + " <concurrency>",
			Short: fmt.Sprintf("Run the %s scenario", sc.Name),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				concurrency, err := parseConcurrency(args[0])
				if err != nil {
					return err
				}
				return runScenario(cmd.Context(), *cfg, sc, concurrency, cmd.OutOrStdout())
			},
		})
	}
	return root
}

func parseConcurrency(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidConcurrency, s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidConcurrency, n)
	}
	return n, nil
}

// runScenario 打开连接池，准备数据，预热后计时执行
func runScenario(ctx context.Context, cfg Config, sc Scenario, concurrency int, out io.Writer) (err error) {
	logger := slog.Default().With(
		slog.String("run", uuid.NewString()),
		slog.String("scenario", sc.Name),
		slog.String("driver", cfg.Driver),
		slog.Int("concurrency", concurrency),
		slog.Int("count", cfg.Count),
	)

	pool, dialect, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open pool, %w", err)
	}
	defer func() {
		if closeErr := pool.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close pool, %w", closeErr))
		}
		logger.Debug("pool closed")
	}()
	logger.Debug("pool opened", slog.String("dialect", dialect.Name), slog.Int("connections", cfg.Pool.Max))

	if cfg.CreateTable {
		if err := prepareTable(ctx, pool, dialect); err != nil {
			return fmt.Errorf("create table, %w", err)
		}
	}
	if err := sc.Setup(ctx, pool, dialect); err != nil {
		return fmt.Errorf("setup %s, %w", sc.Name, err)
	}

	batch, err := sc.Batch(cfg.Count)
	if err != nil {
		return fmt.Errorf("build batch, %w", err)
	}

	runner := &Runner{Pool: pool, Concurrency: concurrency, Logger: logger}

	stats, err := runner.Warmup(ctx, cfg.Warmup, warmupStatement)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Pool has %d connections.\n", stats.Idle)
	fmt.Fprintf(out, "Concurrency: %d\n", concurrency)

	result, err := runner.Run(ctx, sc.Name, batch)
	if result != nil {
		fmt.Fprintf(out, "%s: %s\n", sc.Name, result.Duration)
		fmt.Fprintln(out, result)
	}
	return err
}
