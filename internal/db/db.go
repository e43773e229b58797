// Package db is leaf's persistent installed-package index: a transactional
// embedded relational store holding packages, their dependency edges, and
// per-file ownership trees, plus a small key-value registry table. Schema
// bootstrap embeds schema.sql and execs it against zombiezen.com/go/sqlite.
package db

import (
	_ "embed"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/a-h/leaf/internal/errs"
)

//go:embed schema.sql
var schemaSQL string

// DB is the installed-package database handle: a pooled connection to a
// single sqlite file plus the logger every transaction logs through.
type DB struct {
	pool *sqlitex.Pool
	log  *slog.Logger
}

// Open bootstraps (idempotently) the schema at path and returns a ready DB.
// Foreign keys are enabled on every connection the pool hands out.
func Open(path string, log *slog.Logger) (*DB, error) {
	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		Flags: sqlite.OpenReadWrite | sqlite.OpenCreate,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindSQL, err, "open database "+path)
	}

	d := &DB{pool: pool, log: log}
	if err := d.bootstrap(); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) bootstrap() error {
	conn, err := d.pool.Take(nil)
	if err != nil {
		return errs.Wrap(errs.KindSQL, err, "take connection for bootstrap")
	}
	defer d.pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "PRAGMA foreign_keys = ON;", nil); err != nil {
		return errs.Wrap(errs.KindSQL, err, "enable foreign keys")
	}

	if err := sqlitex.ExecuteScript(conn, schemaSQL, nil); err != nil {
		return errs.Wrap(errs.KindSQL, err, "create schema")
	}

	var hasVersion bool
	err = sqlitex.ExecuteTransient(conn, "SELECT 1 FROM registry WHERE reg_key = 'db_version';", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			hasVersion = true
			return nil
		},
	})
	if err != nil {
		return errs.Wrap(errs.KindSQL, err, "check db_version registry key")
	}
	if !hasVersion {
		err = sqlitex.ExecuteTransient(conn, "INSERT INTO registry (reg_key, reg_value) VALUES ('db_version', '1');", nil)
		if err != nil {
			return errs.Wrap(errs.KindSQL, err, "seed db_version registry key")
		}
		d.log.Debug("bootstrapped installed-package database")
	}
	return nil
}

// Close releases the underlying connection pool.
func (d *DB) Close() error {
	if err := d.pool.Close(); err != nil {
		return errs.Wrap(errs.KindSQL, err, "close database")
	}
	return nil
}

// Begin starts a new transaction.
func (d *DB) Begin() (*Tx, error) {
	conn, err := d.pool.Take(nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindSQL, err, "take connection")
	}
	release := sqlitex.Save(conn)
	return &Tx{conn: conn, release: release, pool: d.pool, log: d.log}, nil
}
