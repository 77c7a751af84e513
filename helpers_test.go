package main

import (
	"context"
	"fmt"
)

// GetContext 查询单行，写锁模式下与写入互斥
func (db *DB) GetContext(ctx context.Context, dest any, query string, args ...any) error {
	if db.withMutex {
		db.RLock()
		defer db.RUnlock()
	}

	return db.DB.GetContext(ctx, dest, db.Rebind(query), args...)
}

// countRows 统计满足条件的行数
func countRows(ctx context.Context, pool Pool, where string, args ...any) (int, error) {
	query := "SELECT count(*) FROM person"
	if where != "" {
		query += " WHERE " + where
	}

	var n int
	switch p := pool.(type) {
	case *DB:
		if err := p.GetContext(ctx, &n, query, args...); err != nil {
			return 0, err
		}
	case *PGXPool:
		if err := p.QueryRow(ctx, p.rebind(query), args...).Scan(&n); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%w: %T", ErrUnknownDriver, pool)
	}
	return n, nil
}
