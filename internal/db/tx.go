package db

import (
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/a-h/leaf/internal/errs"
	"github.com/a-h/leaf/internal/fsindex"
)

// Tx wraps a single database transaction (a sqlite SAVEPOINT under the
// hood) with the operations leaf's resolver and installer need.
type Tx struct {
	conn    *sqlite.Conn
	pool    *sqlitex.Pool
	release func(*error)
	log     *slog.Logger
	done    bool
}

// Commit finalizes the transaction.
func (tx *Tx) Commit() error {
	var err error
	tx.release(&err)
	tx.pool.Put(tx.conn)
	tx.done = true
	if err != nil {
		return errs.Wrap(errs.KindSQL, err, "commit transaction")
	}
	return nil
}

// errRollback is the sentinel passed to sqlitex.Save's release func to force
// a rollback rather than a commit.
var errRollback = errs.New(errs.KindSQL, "rollback requested")

// Rollback discards the transaction's writes.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	rollbackErr := error(errRollback)
	tx.release(&rollbackErr)
	tx.pool.Put(tx.conn)
	tx.done = true
	return nil
}

// PackageRow is one row of the packages table.
type PackageRow struct {
	ID          int64
	Name        string
	Version     string
	RealVersion int64
	Description string
	Hash        string
}

// GetPackageHash returns the hash column for the package named name.
func (tx *Tx) GetPackageHash(name string) (hash string, ok bool, err error) {
	err = sqlitex.Execute(tx.conn, "SELECT hash FROM packages WHERE name = ?;", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			hash = stmt.ColumnText(0)
			ok = true
			return nil
		},
	})
	if err != nil {
		return "", false, errs.Wrap(errs.KindSQL, err, "get package hash for "+name)
	}
	return hash, ok, nil
}

// GetPackageID returns the row id for the package named name.
func (tx *Tx) GetPackageID(name string) (id int64, ok bool, err error) {
	err = sqlitex.Execute(tx.conn, "SELECT id FROM packages WHERE name = ?;", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			id = stmt.ColumnInt64(0)
			ok = true
			return nil
		},
	})
	if err != nil {
		return 0, false, errs.Wrap(errs.KindSQL, err, "get package id for "+name)
	}
	return id, ok, nil
}

// GetPackageByName returns the full row for the package named name.
func (tx *Tx) GetPackageByName(name string) (row PackageRow, ok bool, err error) {
	err = sqlitex.Execute(tx.conn, "SELECT id, name, version, real_version, description, hash FROM packages WHERE name = ?;", &sqlitex.ExecOptions{
		Args: []any{name},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			row = PackageRow{
				ID:          stmt.ColumnInt64(0),
				Name:        stmt.ColumnText(1),
				Version:     stmt.ColumnText(2),
				RealVersion: stmt.ColumnInt64(3),
				Description: stmt.ColumnText(4),
				Hash:        stmt.ColumnText(5),
			}
			ok = true
			return nil
		},
	})
	if err != nil {
		return PackageRow{}, false, errs.Wrap(errs.KindSQL, err, "get package row for "+name)
	}
	return row, ok, nil
}

// GetDependencies returns the names of the packages that the package with
// the given hash depends on, ordered by dependency row id.
func (tx *Tx) GetDependencies(hash string) (names []string, err error) {
	const q = `
		SELECT p2.name
		FROM dependencies d
		JOIN packages p1 ON d.depender = p1.id
		JOIN packages p2 ON d.dependency = p2.id
		WHERE p1.hash = ?
		ORDER BY d.dependency ASC;
	`
	err = sqlitex.Execute(tx.conn, q, &sqlitex.ExecOptions{
		Args: []any{hash},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			names = append(names, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindSQL, err, "get dependencies for hash "+hash)
	}
	return names, nil
}

// InsertPackageInput is the subset of a Package the metadata row needs.
type InsertPackageInput struct {
	Name        string
	Version     string
	RealVersion int64
	Description string
	Hash        string
}

// InsertPackage records p's metadata row, idempotent by hash: an existing
// row with an equal hash is left untouched; an existing row with a
// different hash is logged and skipped (the documented "TODO: update
// package" gap — upgrade is a separate, unimplemented operation); otherwise
// a new row is inserted.
func (tx *Tx) InsertPackage(p InsertPackageInput) error {
	existing, ok, err := tx.GetPackageByName(p.Name)
	if err != nil {
		return err
	}
	if ok {
		if existing.Hash == p.Hash {
			return nil
		}
		tx.log.Warn("TODO: update package", slog.String("name", p.Name), slog.String("old_hash", existing.Hash), slog.String("new_hash", p.Hash))
		return nil
	}

	err = sqlitex.Execute(tx.conn,
		"INSERT INTO packages (name, version, real_version, description, hash) VALUES (?, ?, ?, ?, ?);",
		&sqlitex.ExecOptions{Args: []any{p.Name, p.Version, p.RealVersion, p.Description, p.Hash}},
	)
	if err != nil {
		return errs.Wrap(errs.KindSQL, err, "insert package "+p.Name)
	}
	return nil
}

// InsertDependency upserts the (depender, dependency) edge by name, failing
// with ErrPackageNotFound if either name has no package row.
func (tx *Tx) InsertDependency(dependerName, dependencyName string) error {
	dependerID, ok, err := tx.GetPackageID(dependerName)
	if err != nil {
		return err
	}
	if !ok {
		return errs.PackageNotFound(dependerName)
	}
	dependencyID, ok, err := tx.GetPackageID(dependencyName)
	if err != nil {
		return err
	}
	if !ok {
		return errs.PackageNotFound(dependencyName)
	}

	err = sqlitex.Execute(tx.conn,
		"INSERT OR IGNORE INTO dependencies (depender, dependency) VALUES (?, ?);",
		&sqlitex.ExecOptions{Args: []any{dependerID, dependencyID}},
	)
	if err != nil {
		return errs.Wrap(errs.KindSQL, err, "insert dependency edge "+dependerName+" -> "+dependencyName)
	}
	return nil
}

// InsertFiles recursively inserts entries as children of parentID (nil for
// top-level entries of a package's tree), under packageID, passing each
// freshly inserted row's id down as the parent for its own children.
func (tx *Tx) InsertFiles(packageID int64, parentID *int64, entries []fsindex.FSEntry, pathPrefix string) error {
	for _, e := range entries {
		path := pathPrefix + "/" + e.Name

		var hashArg any
		if e.Hash != nil {
			hashArg = *e.Hash
		}
		isFile := e.Hash != nil

		var parentArg any
		if parentID != nil {
			parentArg = *parentID
		}

		var newID int64
		err := sqlitex.Execute(tx.conn,
			"INSERT INTO files (package, parent, path, isfile, hash) VALUES (?, ?, ?, ?, ?);",
			&sqlitex.ExecOptions{Args: []any{packageID, parentArg, path, boolToInt(isFile), hashArg}},
		)
		if err != nil {
			return errs.Wrap(errs.KindSQL, err, "insert file "+path)
		}
		newID = tx.conn.LastInsertRowID()

		if e.IsDir() {
			if err := tx.InsertFiles(packageID, &newID, e.Children, path); err != nil {
				return err
			}
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// GetRegistry reads a registry key's value.
func (tx *Tx) GetRegistry(key string) (value string, ok bool, err error) {
	err = sqlitex.Execute(tx.conn, "SELECT reg_value FROM registry WHERE reg_key = ?;", &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnText(0)
			ok = true
			return nil
		},
	})
	if err != nil {
		return "", false, errs.Wrap(errs.KindSQL, err, "get registry key "+key)
	}
	return value, ok, nil
}

// SetRegistry upserts a registry key's value.
func (tx *Tx) SetRegistry(key, value string) error {
	err := sqlitex.Execute(tx.conn,
		"INSERT INTO registry (reg_key, reg_value) VALUES (?, ?) ON CONFLICT(reg_key) DO UPDATE SET reg_value = excluded.reg_value;",
		&sqlitex.ExecOptions{Args: []any{key, value}},
	)
	if err != nil {
		return errs.Wrap(errs.KindSQL, err, "set registry key "+key)
	}
	return nil
}

// FilesForPackage returns the paths of every file and symlink (isfile = 1)
// owned by the given package id; directory rows are not included.
func (tx *Tx) FilesForPackage(packageID int64) (paths []string, err error) {
	err = sqlitex.Execute(tx.conn, "SELECT path FROM files WHERE package = ? AND isfile = 1;", &sqlitex.ExecOptions{
		Args: []any{packageID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			paths = append(paths, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindSQL, err, "list files for package")
	}
	return paths, nil
}

// ListPackages returns every row of the packages table, ordered by name, for
// `leaf list`.
func (tx *Tx) ListPackages() (rows []PackageRow, err error) {
	err = sqlitex.Execute(tx.conn, "SELECT id, name, version, real_version, description, hash FROM packages ORDER BY name ASC;", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			rows = append(rows, PackageRow{
				ID:          stmt.ColumnInt64(0),
				Name:        stmt.ColumnText(1),
				Version:     stmt.ColumnText(2),
				RealVersion: stmt.ColumnInt64(3),
				Description: stmt.ColumnText(4),
				Hash:        stmt.ColumnText(5),
			})
			return nil
		},
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindSQL, err, "list packages")
	}
	return rows, nil
}
