package main

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
)

var postgresDialect = Dialect{
	Name:       "postgres",
	DefaultDSN: "postgres://localhost:5432/internals?sslmode=disable",
	CreateTable: []string{
		`create table if not exists public.person(
			id integer,
			is_cool boolean,
			name text
		)`,
	},
	Truncate: "TRUNCATE TABLE person",
}

// PGXPool 基于 pgxpool 的 Pool 实现，支持最小连接数
type PGXPool struct {
	*pgxpool.Pool
}

var _ Pool = (*PGXPool)(nil)

// NewPGXPool 创建连接池，MinConns/MaxConns 取自 cfg
func NewPGXPool(ctx context.Context, dsn string, cfg PoolConfig) (*PGXPool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string, %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Max)
	poolConfig.MinConns = int32(cfg.Min)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool, %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping, %w", err)
	}
	return &PGXPool{Pool: pool}, nil
}

func (p *PGXPool) rebind(query string) string {
	return sqlx.Rebind(sqlx.DOLLAR, query)
}

// ExecContext 执行
func (p *PGXPool) ExecContext(ctx context.Context, stmt Statement) error {
	_, err := p.Exec(ctx, p.rebind(stmt.SQL), stmt.Args...)
	return err
}

// QueryContext 查询
func (p *PGXPool) QueryContext(ctx context.Context, stmt Statement) error {
	rows, err := p.Query(ctx, p.rebind(stmt.SQL), stmt.Args...)
	if err != nil {
		return err
	}
	rows.Close()
	return rows.Err()
}

// WarmContext 预热，MinConns 由 pgxpool 在后台补齐，这里同时占用 n 个连接确保已建立
func (p *PGXPool) WarmContext(ctx context.Context, n int, stmt Statement) error {
	return holdAll(ctx, n, func(ctx context.Context, hold func()) error {
		conn, err := p.Acquire(ctx)
		if err != nil {
			return err
		}
		defer conn.Release()

		rows, err := conn.Query(ctx, p.rebind(stmt.SQL), stmt.Args...)
		if err != nil {
			return err
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		hold()
		return nil
	})
}

// Stats 连接池状态
func (p *PGXPool) Stats() PoolStats {
	s := p.Stat()
	return PoolStats{
		Max:   int(s.MaxConns()),
		Open:  int(s.TotalConns()),
		InUse: int(s.AcquiredConns()),
		Idle:  int(s.IdleConns()),
	}
}

// Close 关闭所有连接
func (p *PGXPool) Close() error {
	p.Pool.Close()
	return nil
}
