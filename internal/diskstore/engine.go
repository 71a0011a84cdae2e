package diskstore

import (
	"context"

	"github.com/scribd/lucid/internal/query"
)

// SortDescriptor is one column-level ordering instruction handed to the
// engine. DiskStore expands a single identifier OrderClause into two
// descriptors (remote then local), per spec §4.6.
type SortDescriptor struct {
	Column    string
	Ascending bool
}

// PersistenceEngine is the boundary to the underlying object-persistence
// engine (spec's "out of scope" relational mapping layer — specified only
// at its boundary). Table is the per-type-tag table name DiskStore derives
// from its configured type tag.
type PersistenceEngine interface {
	Fetch(ctx context.Context, table string, predicate query.Expr, sort []SortDescriptor, offset, limit int) ([]Row, error)
	Insert(ctx context.Context, table string, row Row) error
	Save(ctx context.Context, table string, row Row) error
	Delete(ctx context.Context, table string, key Key) error
	BatchDelete(ctx context.Context, table string, keys []Key) error

	// Migrate runs fn inside whatever transactional/managed-context
	// discipline the engine provides, used by the migration runner.
	Migrate(ctx context.Context, fn func(ctx context.Context) error) error

	// LoadSettings returns the migration bookkeeping row, creating it with
	// zero values if absent.
	LoadSettings(ctx context.Context) (legacyVersion int64, appVersion string, err error)
	// SaveSettings persists the migration bookkeeping row.
	SaveSettings(ctx context.Context, legacyVersion int64, appVersion string) error

	// EnsureTable creates table (and the store_settings table) if absent,
	// with the column layout of §6 for the given property names.
	EnsureTable(ctx context.Context, table string, propertyColumns []string) error
}
