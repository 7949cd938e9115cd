package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Scripts holds the schema migrations shipped with the binary.
var Scripts fs.FS

func init() {
	sub, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		panic(err)
	}
	Scripts = sub
}

// Migrate runs, in lexical order, every *.sql script in fsys that is newer
// than the database's user_version, then records the new version. Scripts
// are applied in a single transaction.
func Migrate(ctx context.Context, db *sql.DB, fsys fs.FS) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var oldVer int
	if err = tx.QueryRowContext(ctx, "pragma user_version").Scan(&oldVer); err != nil {
		return fmt.Errorf("get version: %w", err)
	}

	scripts, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return fmt.Errorf("list scripts: %w", err)
	}
	currVer := len(scripts)
	if oldVer >= currVer {
		// There are no scripts to run.
		return tx.Rollback()
	}

	sort.Strings(scripts)
	for _, script := range scripts[oldVer:] {
		buf, rerr := fs.ReadFile(fsys, script)
		if rerr != nil {
			err = fmt.Errorf("read %s: %w", script, rerr)
			return err
		}
		if _, err = tx.ExecContext(ctx, string(buf)); err != nil {
			return fmt.Errorf("execute %s: %w", script, err)
		}
	}

	if _, err = tx.ExecContext(ctx, "pragma user_version="+strconv.Itoa(currVer)); err != nil {
		return fmt.Errorf("set version: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
