package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/go-faker/faker/v4"
	"github.com/jmoiron/sqlx"
)

// Statement 一条SQL语句，绑定变量统一使用 ?
type Statement struct {
	SQL  string
	Args []any
}

// Batch 一次计时执行的语句序列，构造后不再修改
type Batch []Statement

// repeat 构造 n 条相同语句
func repeat(stmt Statement, n int) Batch {
	b := make(Batch, n)
	for i := range b {
		b[i] = stmt
	}
	return b
}

// Dialect 不同数据库的建表和清表语句
type Dialect struct {
	Name        string
	DefaultDSN  string
	CreateTable []string
	Truncate    string
}

func dialectOf(driver string) (Dialect, error) {
	switch driver {
	case "pgx", "pgxpool":
		return postgresDialect, nil
	case "sqlite3", "sqlite":
		return sqliteDialect, nil
	}
	return Dialect{}, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
}

// Scenario 基准场景
type Scenario struct {
	Name string
	// Setup 计时开始前执行
	Setup func(ctx context.Context, pool Pool, dialect Dialect) error
	// Batch 生成 n 条计时语句
	Batch func(n int) (Batch, error)
}

var scenarios = []Scenario{insertScenario, updateScenario, insertFakeScenario}

var insertScenario = Scenario{
	Name:  "insert",
	Setup: truncate,
	Batch: func(n int) (Batch, error) {
		return repeat(Statement{SQL: `INSERT INTO person VALUES (null, true, 'foo')`}, n), nil
	},
}

var updateScenario = Scenario{
	Name: "update",
	Setup: func(ctx context.Context, pool Pool, dialect Dialect) error {
		if err := truncate(ctx, pool, dialect); err != nil {
			return err
		}
		if err := pool.ExecContext(ctx, Statement{SQL: `INSERT INTO person VALUES (1, false, 'foo')`}); err != nil {
			return fmt.Errorf("insert row, %w", err)
		}
		return nil
	},
	Batch: func(n int) (Batch, error) {
		return repeat(Statement{SQL: `UPDATE person SET is_cool = true WHERE id = 1`}, n), nil
	},
}

var insertFakeScenario = Scenario{
	Name:  "insert-fake",
	Setup: truncate,
	Batch: func(n int) (Batch, error) {
		b := make(Batch, 0, n)
		for i := 0; i < n; i++ {
			query, args, err := sqlx.Named(`INSERT INTO person (is_cool, name) VALUES (:is_cool, :name)`, getPerson())
			if err != nil {
				return nil, fmt.Errorf("bind person, %w", err)
			}
			b = append(b, Statement{SQL: query, Args: args})
		}
		return b, nil
	},
}

func truncate(ctx context.Context, pool Pool, dialect Dialect) error {
	if err := pool.ExecContext(ctx, Statement{SQL: dialect.Truncate}); err != nil {
		return fmt.Errorf("truncate, %w", err)
	}
	return nil
}

type person struct {
	ID     int64  `db:"id" faker:"-"`
	IsCool bool   `db:"is_cool"`
	Name   string `db:"name" faker:"name"`
}

var (
	persons []*person
)

func init() {
	persons = make([]*person, 0, 1000)
	for i := 0; i < 1000; i++ {
		p := &person{}
		if err := faker.FakeData(p); err != nil {
			panic(err)
		}
		persons = append(persons, p)
	}
}

func getPerson() *person {
	return persons[rand.Intn(len(persons))]
}
