// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// openTestDB opens a fresh in-memory sqlite database and applies the
// sqlite3 init migration directly, bypassing the package-level
// sync.Once singletons so each test gets an isolated schema.
func openTestDB(tb testing.TB) *sqlx.DB {
	tb.Helper()

	db, err := sqlx.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		tb.Fatalf("open sqlite3: %v", err)
	}
	db.SetMaxOpenConns(1)
	tb.Cleanup(func() { db.Close() })

	migrationPath := filepath.Join("migrations", "sqlite3", "00001_init.up.sql")
	raw, err := os.ReadFile(migrationPath)
	if err != nil {
		tb.Fatalf("read migration %s: %v", migrationPath, err)
	}
	if _, err := db.Exec(string(raw)); err != nil {
		tb.Fatalf("apply migration: %v", err)
	}
	return db
}
