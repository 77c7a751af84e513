package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"writebench/limit"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// ErrUnknownDriver 不支持的驱动
var ErrUnknownDriver = errors.New("unknown driver")

// Pool 数据库连接池
//
// 每条语句从池中取一个连接，执行完毕后归还，不跨语句持有连接
type Pool interface {
	// ExecContext 执行写语句
	ExecContext(ctx context.Context, stmt Statement) error
	// QueryContext 执行查询并读完结果集
	QueryContext(ctx context.Context, stmt Statement) error
	// WarmContext 同时占用 n 个连接，每个连接执行一次 stmt，全部执行完才归还
	WarmContext(ctx context.Context, n int, stmt Statement) error
	Stats() PoolStats
	Close() error
}

// PoolConfig 连接池大小，Min == Max 即固定大小
type PoolConfig struct {
	Min int
	Max int
}

// PoolStats 连接池状态
type PoolStats struct {
	Max   int
	Open  int
	InUse int
	Idle  int
}

// Pragma sqlite数据库配置
//
// https://www.sqlite.org/pragma.html
type Pragma struct {
	WithMutex bool

	BusyTimeout       int
	Cache             string
	CacheSize         int
	FullSync          bool
	JournalMode       string
	MmapSize          int
	Synchronous       string
	TempStore         string
	WALAutoCheckpoint int
}

func (p Pragma) encode(driver string) string {
	switch driver {
	case "sqlite3":
		return p.encodeMattn()
	case "sqlite":
		return p.encodeModernc()
	}
	return ""
}

func (p Pragma) encodeMattn() string {
	val := url.Values{}

	if v := p.JournalMode; v != "" {
		val.Set("_journal_mode", v)
	}
	if v := p.Synchronous; v != "" {
		val.Set("_synchronous", v)
	}
	if v := p.CacheSize; v != 0 {
		val.Set("_cache_size", fmt.Sprintf("%d", v))
	}
	if v := p.BusyTimeout; v != 0 {
		val.Set("_busy_timeout", fmt.Sprintf("%d", v))
	}
	if v := p.FullSync; v {
		val.Set("_fullsync", "1")
	}
	if v := p.TempStore; v != "" {
		val.Set("_temp_store", v)
	}
	if v := p.MmapSize; v != 0 {
		val.Set("_mmap_size", fmt.Sprintf("%d", v))
	}
	if v := p.Cache; v != "" {
		val.Set("cache", v)
	}
	if v := p.WALAutoCheckpoint; v != 0 {
		val.Set("_wal_autocheckpoint", fmt.Sprintf("%d", v))
	}

	result, _ := url.QueryUnescape(val.Encode())
	return result
}

func (p Pragma) encodeModernc() string {
	val := url.Values{}

	if v := p.JournalMode; v != "" {
		val.Add("_pragma", fmt.Sprintf("journal_mode(%s)", v))
	}
	if v := p.Synchronous; v != "" {
		val.Add("_pragma", fmt.Sprintf("synchronous(%s)", v))
	}
	if v := p.CacheSize; v != 0 {
		val.Add("_pragma", fmt.Sprintf("cache_size(%d)", v))
	}
	if v := p.BusyTimeout; v != 0 {
		val.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", v))
	}
	if v := p.FullSync; v {
		val.Add("_pragma", "fullsync(1)")
	}
	if v := p.TempStore; v != "" {
		val.Add("_pragma", fmt.Sprintf("temp_store(%s)", v))
	}
	if v := p.MmapSize; v != 0 {
		val.Add("_pragma", fmt.Sprintf("mmap_size(%d)", v))
	}
	if v := p.Cache; v != "" {
		val.Set("cache", v)
	}
	if v := p.WALAutoCheckpoint; v != 0 {
		val.Add("_pragma", fmt.Sprintf("wal_autocheckpoint(%d)", v))
	}

	result, _ := url.QueryUnescape(val.Encode())
	return result
}

// DB 基于 database/sql 连接池的 Pool 实现
type DB struct {
	*sync.RWMutex
	*sqlx.DB

	withMutex bool
}

var _ Pool = (*DB)(nil)

// NewDB 创建数据库连接池
//
//	driver=pgx use github.com/jackc/pgx/v4/stdlib
//	driver=sqlite3 use github.com/mattn/go-sqlite3
//	driver=sqlite use modernc.org/sqlite
func NewDB(driver, dsn string, cfg PoolConfig, withMutex bool) (*DB, error) {
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, err
	}

	// database/sql 没有最小连接数，空闲上限等于最大连接数，
	// 预热建立的连接全部留在池中
	db.SetMaxOpenConns(cfg.Max)
	db.SetMaxIdleConns(cfg.Max)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	return &DB{
		RWMutex:   &sync.RWMutex{},
		DB:        db,
		withMutex: withMutex,
	}, nil
}

// ExecContext 执行
func (db *DB) ExecContext(ctx context.Context, stmt Statement) error {
	if db.withMutex {
		db.Lock()
		defer db.Unlock()
	}

	_, err := db.DB.ExecContext(ctx, db.Rebind(stmt.SQL), stmt.Args...)
	return err
}

// QueryContext 查询
func (db *DB) QueryContext(ctx context.Context, stmt Statement) error {
	if db.withMutex {
		db.RLock()
		defer db.RUnlock()
	}

	rows, err := db.DB.QueryxContext(ctx, db.Rebind(stmt.SQL), stmt.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
	}
	return rows.Err()
}

// WarmContext 预热
func (db *DB) WarmContext(ctx context.Context, n int, stmt Statement) error {
	return holdAll(ctx, n, func(ctx context.Context, hold func()) error {
		conn, err := db.DB.Connx(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.queryConn(ctx, conn, stmt); err != nil {
			return err
		}
		hold()
		return nil
	})
}

func (db *DB) queryConn(ctx context.Context, conn *sqlx.Conn, stmt Statement) error {
	if db.withMutex {
		db.RLock()
		defer db.RUnlock()
	}

	rows, err := conn.QueryxContext(ctx, db.Rebind(stmt.SQL), stmt.Args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
	}
	return rows.Err()
}

// holdAll 并发执行 n 次 fn，fn 在持有连接时调用 hold，
// hold 阻塞到 n 个任务都已到达（或失败、ctx 取消），连接池因此同时建立 n 个连接
func holdAll(ctx context.Context, n int, fn func(ctx context.Context, hold func()) error) error {
	if n <= 0 {
		return nil
	}

	var remaining atomic.Int64
	remaining.Store(int64(n))
	ready := make(chan struct{})

	return limit.ForEach(ctx, make([]struct{}, n), n, func(ctx context.Context, _ int, _ struct{}) error {
		arrive := sync.OnceFunc(func() {
			if remaining.Add(-1) == 0 {
				close(ready)
			}
		})
		// 失败的任务也要到达，否则其它任务一直等待
		defer arrive()

		return fn(ctx, func() {
			arrive()
			select {
			case <-ready:
			case <-ctx.Done():
			}
		})
	})
}

// Stats 连接池状态
func (db *DB) Stats() PoolStats {
	s := db.DB.Stats()
	return PoolStats{
		Max:   s.MaxOpenConnections,
		Open:  s.OpenConnections,
		InUse: s.InUse,
		Idle:  s.Idle,
	}
}

// openPool 按驱动打开连接池，调用方负责 Close
func openPool(ctx context.Context, cfg Config) (Pool, Dialect, error) {
	dialect, err := dialectOf(cfg.Driver)
	if err != nil {
		return nil, Dialect{}, err
	}

	dsn := cfg.DSN
	if dsn == "" {
		dsn = dialect.DefaultDSN
	}

	var pool Pool
	switch cfg.Driver {
	case "pgx":
		pool, err = NewDB("pgx", dsn, cfg.Pool, false)
	case "pgxpool":
		pool, err = NewPGXPool(ctx, dsn, cfg.Pool)
	case "sqlite3", "sqlite":
		pool, err = NewDB(cfg.Driver, sqliteDSN(cfg.Driver, dsn, defaultPragma), cfg.Pool, defaultPragma.WithMutex)
	}
	if err != nil {
		return nil, Dialect{}, err
	}
	return pool, dialect, nil
}

func newTestDB(driver string, pragma Pragma, cfg PoolConfig) (path string, db *DB, err error) {
	path, err = os.MkdirTemp("", "sqlite-*")
	if err != nil {
		err = fmt.Errorf("make temp dir, %w", err)
		return
	}

	defer func() {
		if err != nil {
			if removeErr := os.RemoveAll(path); removeErr != nil {
				err = errors.Join(err, removeErr)
			}
		}
	}()

	dsn := sqliteDSN(driver, filepath.Join(path, "test.db"), pragma)
	db, err = NewDB(driver, dsn, cfg, pragma.WithMutex)
	if err != nil {
		err = fmt.Errorf("connect database, %w", err)
		return
	}

	if err = prepareTable(context.Background(), db, sqliteDialect); err != nil {
		err = errors.Join(fmt.Errorf("prepare database, %w", err), db.Close())
		return
	}
	return
}

// prepareTable 建表
func prepareTable(ctx context.Context, pool Pool, dialect Dialect) error {
	for _, v := range dialect.CreateTable {
		if err := pool.ExecContext(ctx, Statement{SQL: v}); err != nil {
			return err
		}
	}
	return nil
}
