// Package storage defines the backend-agnostic persistence surface for
// assembled views. The TableSpec types live here so the pipeline and the
// backend subpackages can both import them without a cycle.
//
// Views are recomputed wholesale on every run, so the contract is
// replace-not-merge: each ReplaceTable drops the previous version and writes
// the new one. Idempotent reruns come for free.
package storage

import (
	"context"
	"fmt"
	"sync"
)

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

// ColumnSpec describes one output column. Type is one of the canonical
// pipeline types: "integer", "float", "date", "text". Backends map these to
// their own DDL types.
type ColumnSpec struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TableSpec describes one output table.
type TableSpec struct {
	Name    string       `json:"name"`
	Columns []ColumnSpec `json:"columns"`
}

// Repository persists assembled views.
type Repository interface {
	// ReplaceTable drops any previous version of the table, creates it
	// from the spec, and bulk-inserts the rows. Row width must match the
	// spec's column count; nil cells are SQL NULL.
	ReplaceTable(ctx context.Context, spec TableSpec, rows [][]any) error

	// Close releases backend resources. Call once at shutdown.
	Close()
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "sqlite", "postgres").
// Backend packages call Register from init(). Registering the same kind
// twice panics so ambiguous selection fails fast.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs a Repository for the configured kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// Kinds returns the registered backend kinds, for error messages and the
// CLI usage text.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	return out
}
