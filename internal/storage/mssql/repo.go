// Package mssql implements storage.Repository on Microsoft SQL Server.
//
// Bulk loading uses the driver's TDS bulk-copy support (mssql.CopyIn),
// which avoids SQL Server's 2100 bound-parameter limit entirely.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"

	"collision/internal/storage"
)

type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
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
		return fmt.Errorf("mssql: table %s has no columns", spec.Name)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	drop := fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s",
		strings.ReplaceAll(spec.Name, "'", "''"), sqlIdent(spec.Name))
	if _, err := tx.ExecContext(ctx, drop); err != nil {
		return fmt.Errorf("drop table %s: %w", spec.Name, err)
	}
	if _, err := tx.ExecContext(ctx, createSQL(spec)); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}

	if len(rows) > 0 {
		cols := make([]string, len(spec.Columns))
		for i, c := range spec.Columns {
			cols[i] = c.Name
		}
		stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(spec.Name, mssql.BulkOptions{}, cols...))
		if err != nil {
			return fmt.Errorf("bulk copy into %s: %w", spec.Name, err)
		}
		for _, row := range rows {
			if len(row) != len(spec.Columns) {
				_ = stmt.Close()
				return fmt.Errorf("mssql: row width %d does not match %d columns in %s", len(row), len(spec.Columns), spec.Name)
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				_ = stmt.Close()
				return fmt.Errorf("bulk copy into %s: %w", spec.Name, err)
			}
		}
		// The final Exec with no args flushes the bulk batch.
		if _, err := stmt.ExecContext(ctx); err != nil {
			_ = stmt.Close()
			return fmt.Errorf("bulk copy flush %s: %w", spec.Name, err)
		}
		if err := stmt.Close(); err != nil {
			return err
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

// columnType maps canonical pipeline types to SQL Server DDL types.
func columnType(t string) string {
	switch t {
	case "integer":
		return "BIGINT"
	case "float":
		return "FLOAT"
	case "date":
		return "DATE"
	default:
		return "NVARCHAR(MAX)"
	}
}

func sqlIdent(id string) string {
	return "[" + strings.ReplaceAll(id, "]", "]]") + "]"
}
