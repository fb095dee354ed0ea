// Package postgres implements storage.Repository on PostgreSQL using pgx.
//
// Bulk loading uses the COPY protocol, which is the fast path for the
// full-table replaces this pipeline performs.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collision/internal/storage"
)

type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) ReplaceTable(ctx context.Context, spec storage.TableSpec, rows [][]any) error {
	if len(spec.Columns) == 0 {
		return fmt.Errorf("postgres: table %s has no columns", spec.Name)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ident := pgx.Identifier{spec.Name}.Sanitize()
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return fmt.Errorf("drop table %s: %w", spec.Name, err)
	}
	if _, err := tx.Exec(ctx, createSQL(spec)); err != nil {
		return fmt.Errorf("create table %s: %w", spec.Name, err)
	}

	if len(rows) > 0 {
		cols := make([]string, len(spec.Columns))
		for i, c := range spec.Columns {
			cols[i] = c.Name
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{spec.Name}, cols, pgx.CopyFromRows(rows))
		if err != nil {
			return fmt.Errorf("copy into %s: %w", spec.Name, err)
		}
		if int(n) != len(rows) {
			return fmt.Errorf("copy into %s: wrote %d of %d rows", spec.Name, n, len(rows))
		}
	}
	return tx.Commit(ctx)
}

func createSQL(spec storage.TableSpec) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(pgx.Identifier{spec.Name}.Sanitize())
	b.WriteString(" (")
	for i, c := range spec.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgx.Identifier{c.Name}.Sanitize())
		b.WriteByte(' ')
		b.WriteString(columnType(c.Type))
	}
	b.WriteString(")")
	return b.String()
}

// columnType maps canonical pipeline types to Postgres DDL types.
func columnType(t string) string {
	switch t {
	case "integer":
		return "BIGINT"
	case "float":
		return "DOUBLE PRECISION"
	case "date":
		return "DATE"
	default:
		return "TEXT"
	}
}
