// Package sqlite implements storage.Repository on SQLite.
//
// SQLite is the default output target: a single curated .db file is the
// natural deliverable for a dataset refresh. Dates are stored as TEXT in
// ISO form, which round-trips exactly and sorts correctly.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"collision/internal/storage"
)

// maxArgs keeps each INSERT under SQLite's bound-parameter ceiling.
const maxArgs = 900

type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) ReplaceTable(ctx context.Context, spec storage.TableSpec, rows [][]any) error {
	if len(spec.Columns) == 0 {
		return fmt.Errorf("sqlite: table %s has no columns", spec.Name)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+sqlIdent(spec.Name)); err != nil {
		return fmt.Errorf("drop table %s: %w", spec.Name, err)
	}
	if _, err := tx.ExecContext(ctx, createSQL(spec)); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}

	// Chunked multi-row inserts keep each statement under the parameter
	// limit without a prepared-statement per row.
	perRow := len(spec.Columns)
	chunk := maxArgs / perRow
	if chunk < 1 {
		chunk = 1
	}
	for start := 0; start < len(rows); start += chunk {
		end := start + chunk
		if end > len(rows) {
			end = len(rows)
		}
		q, args, err := insertSQL(spec, rows[start:end])
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", spec.Name, err)
		}
	}
	return tx.Commit()
}

func createSQL(spec storage.TableSpec) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(sqlIdent(spec.Name))
	b.WriteString(" (")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c.Name))
		b.WriteByte(' ')
		b.WriteString(columnType(c.Type))
	}
	b.WriteString(")")
	return b.String()
}

func insertSQL(spec storage.TableSpec, rows [][]any) (string, []any, error) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(spec.Name))
	b.WriteString(" VALUES ")

	ph := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(spec.Columns)), ", ") + ")"
	args := make([]any, 0, len(rows)*len(spec.Columns))
	for i, row := range rows {
		if len(row) != len(spec.Columns) {
			return "", nil, fmt.Errorf("sqlite: row width %d does not match %d columns in %s", len(row), len(spec.Columns), spec.Name)
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
		args = append(args, row...)
	}
	return b.String(), args, nil
}

// columnType maps canonical pipeline types to SQLite affinities.
func columnType(t string) string {
	switch t {
	case "integer":
		return "INTEGER"
	case "float":
		return "REAL"
	case "date", "text":
		return "TEXT"
	default:
		return "TEXT"
	}
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
