/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package db opens the record store's database handle. Postgres is the
// intended production backend; MySQL and SQLite (including :memory:)
// cover small deployments and tests.
package db

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/voclinx/scannarr/internal/config"
)

// Pool limits sized for Scannarr's write pattern: the reconciler batches
// scan upserts and everything else is low-rate control traffic.
const (
	maxIdleConns    = 10
	maxOpenConns    = 50
	connMaxLifetime = 30 * time.Minute
)

// Connect opens a gorm handle for the configured backend and applies
// the pool limits. gorm's own logging stays at Warn so slow queries and
// errors surface without per-statement noise.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := dialectorFor(cfg)
	if err != nil {
		return nil, err
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	return database, nil
}

func dialectorFor(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBBackend {
	case config.DatabasePostgres:
		return postgres.Open(cfg.DBDSN), nil
	case config.DatabaseMySQL:
		return mysql.Open(cfg.DBDSN), nil
	case config.DatabaseSQLite:
		return sqlite.Open(cfg.DBDSN), nil
	default:
		return nil, fmt.Errorf("unknown database backend: %s", cfg.DBBackend)
	}
}

// Close releases the underlying connection pool.
func Close(database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
