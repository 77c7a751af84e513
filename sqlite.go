package main

import (
	"fmt"
)

var sqliteDialect = Dialect{
	Name:       "sqlite",
	DefaultDSN: "writebench.db",
	CreateTable: []string{
		`CREATE TABLE IF NOT EXISTS person (
			id INTEGER PRIMARY KEY,
			is_cool BOOLEAN,
			name TEXT
		)`,
	},
	Truncate: "DELETE FROM person",
}

// defaultPragma 命令行使用的sqlite配置，多连接并发写需要 busy_timeout
var defaultPragma = Pragma{
	BusyTimeout: 5000,
	JournalMode: "WAL",
	Synchronous: "NORMAL",
}

func sqliteDSN(driver, file string, pragma Pragma) string {
	if v := pragma.encode(driver); v != "" {
		return fmt.Sprintf("%s?%s", file, v)
	}
	return file
}
