// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"database/sql"
	"embed"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/microlinkdc/mcs/pkg/log"
)

const supportedVersion uint = 1

//go:embed migrations/*
var migrationFiles embed.FS

func checkDBVersion(backend string, db *sql.DB) {
	var m *migrate.Migrate

	if backend == "sqlite3" {
		driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
		if err != nil {
			log.Fatal(err)
		}
		d, err := iofs.New(migrationFiles, "migrations/sqlite3")
		if err != nil {
			log.Fatal(err)
		}
		m, err = migrate.NewWithInstance("iofs", d, "sqlite3", driver)
		if err != nil {
			log.Fatal(err)
		}
	} else if backend == "mysql" {
		driver, err := mysql.WithInstance(db, &mysql.Config{})
		if err != nil {
			log.Fatal(err)
		}
		d, err := iofs.New(migrationFiles, "migrations/mysql")
		if err != nil {
			log.Fatal(err)
		}
		m, err = migrate.NewWithInstance("iofs", d, "mysql", driver)
		if err != nil {
			log.Fatal(err)
		}
	} else {
		log.Fatalf("unsupported database driver: %s", backend)
	}

	v, _, err := m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			log.Warn("Database has no schema yet, run with --migrate-db to initialize it.")
			return
		}
		log.Fatal(err)
	}

	if v < supportedVersion {
		log.Warnf("Database schema version %d is older than %d. Run --migrate-db to upgrade.", v, supportedVersion)
		os.Exit(0)
	}
	if v > supportedVersion {
		log.Warnf("Database schema version %d is newer than %d understood by this binary.", v, supportedVersion)
		os.Exit(0)
	}
}

// MigrateDB runs every pending migration for backend against db's DSN.
func MigrateDB(backend string, db string) error {
	d, err := iofs.New(migrationFiles, "migrations/"+backend)
	if err != nil {
		return fmt.Errorf("repository: open migration source: %w", err)
	}

	var m *migrate.Migrate
	switch backend {
	case "sqlite3":
		m, err = migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("sqlite3://%s?_foreign_keys=on", db))
	case "mysql":
		m, err = migrate.NewWithSourceInstance("iofs", d, fmt.Sprintf("mysql://%s?multiStatements=true", db))
	default:
		return fmt.Errorf("repository: unsupported database driver %q", backend)
	}
	if err != nil {
		return fmt.Errorf("repository: open migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("repository: migrate up: %w", err)
	}
	return nil
}
