package diskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/query"
)

// PostgresEngine is the pgx-backed PersistenceEngine (spec §4.6, §6):
// one table per entity type tag, plus a shared store_settings table for
// migration bookkeeping. Grounded on the teacher's invalidation/audit.go
// ensureSchema/CREATE TABLE IF NOT EXISTS style, adapted from
// encore.dev/storage/sqldb onto a directly-managed pgxpool.Pool.
type PostgresEngine struct {
	pool *pgxpool.Pool
}

// NewPostgresEngine wraps an already-connected pool.
func NewPostgresEngine(pool *pgxpool.Pool) *PostgresEngine {
	return &PostgresEngine{pool: pool}
}

func (e *PostgresEngine) EnsureTable(ctx context.Context, table string, propertyColumns []string) error {
	if _, err := e.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS store_settings (
			id BIGINT PRIMARY KEY DEFAULT 1,
			last_migration_version BIGINT NOT NULL DEFAULT 0,
			last_migration_app_version TEXT NOT NULL DEFAULT '',
			CHECK (id = 1)
		)
	`); err != nil {
		return fmt.Errorf("diskstore: ensure store_settings: %w", err)
	}

	var cols strings.Builder
	fmt.Fprintf(&cols, `
		CREATE TABLE IF NOT EXISTS %s (
			_identifier BIGINT NOT NULL DEFAULT 0,
			__identifier TEXT NOT NULL DEFAULT '',
			__type_uid TEXT NOT NULL,
			_remote_synchronization_state SMALLINT,
			__last_remote_read TIMESTAMPTZ`, pgx.Identifier{table}.Sanitize())
	for _, prop := range propertyColumns {
		col, err := column(prop)
		if err != nil {
			return err
		}
		fmt.Fprintf(&cols, ",\n\t\t\t%s TEXT", col)
	}
	cols.WriteString("\n\t\t)")

	if _, err := e.pool.Exec(ctx, cols.String()); err != nil {
		return fmt.Errorf("diskstore: ensure table %s: %w", table, err)
	}
	idxName := pgx.Identifier{table + "_identifier_idx"}.Sanitize()
	if _, err := e.pool.Exec(ctx, fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (_identifier, __identifier)`,
		idxName, pgx.Identifier{table}.Sanitize())); err != nil {
		return fmt.Errorf("diskstore: ensure index on %s: %w", table, err)
	}
	return nil
}

func (e *PostgresEngine) Fetch(ctx context.Context, table string, predicate query.Expr, sort []SortDescriptor, offset, limit int) ([]Row, error) {
	var sql strings.Builder
	fmt.Fprintf(&sql, "SELECT * FROM %s", pgx.Identifier{table}.Sanitize())

	var args []interface{}
	if predicate != nil {
		where, err := translateExpr(predicate, &args)
		if err != nil {
			return nil, err
		}
		sql.WriteString(" WHERE ")
		sql.WriteString(where)
	}
	if len(sort) > 0 {
		parts := make([]string, len(sort))
		for i, s := range sort {
			dir := "ASC"
			if !s.Ascending {
				dir = "DESC"
			}
			parts[i] = pgx.Identifier{s.Column}.Sanitize() + " " + dir
		}
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(parts, ", "))
	}
	if limit > 0 {
		fmt.Fprintf(&sql, " LIMIT %d", limit)
	}
	if offset > 0 {
		fmt.Fprintf(&sql, " OFFSET %d", offset)
	}

	rows, err := e.pool.Query(ctx, sql.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("diskstore: fetch from %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var out []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("diskstore: read row values from %s: %w", table, err)
		}
		r := Row{Properties: make(map[string]PropertyValue)}
		for i, f := range fields {
			name := string(f.Name)
			switch name {
			case "_identifier":
				if v, ok := values[i].(int64); ok {
					r.Remote = v
				}
			case "__identifier":
				if v, ok := values[i].(string); ok {
					r.Local = v
				}
			case "__type_uid":
				if v, ok := values[i].(string); ok {
					r.TypeTag = v
				}
			case "_remote_synchronization_state":
				if values[i] != nil {
					if v, ok := values[i].(int16); ok {
						r.HasSyncState = true
						r.SyncState = entity.SyncState(v)
					}
				}
			case "__last_remote_read":
				if values[i] != nil {
					if v, ok := values[i].(time.Time); ok {
						r.HasLastRemoteRead = true
						r.LastRemoteRead = v
					}
				}
			default:
				if values[i] == nil {
					continue
				}
				if v, ok := values[i].(string); ok {
					r.Properties[name] = PropertyValue{Kind: PropString, String: v}
				}
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (e *PostgresEngine) Insert(ctx context.Context, table string, row Row) error {
	return e.Save(ctx, table, row)
}

func (e *PostgresEngine) Save(ctx context.Context, table string, row Row) error {
	cols := []string{"_identifier", "__identifier", "__type_uid", "_remote_synchronization_state", "__last_remote_read"}
	args := []interface{}{row.Remote, row.Local, row.TypeTag, syncStateArg(row), lastReadArg(row)}

	for name, pv := range row.Properties {
		col, err := column(name)
		if err != nil {
			return err
		}
		cols = append(cols, col)
		args = append(args, propertyArg(pv))
	}

	placeholders := make([]string, len(args))
	updates := make([]string, 0, len(cols)-2)
	for i, col := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if col == "_identifier" || col == "__identifier" {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (%s)
		VALUES (%s)
		ON CONFLICT (_identifier, __identifier) DO UPDATE SET %s
	`, pgx.Identifier{table}.Sanitize(), strings.Join(cols, ", "), strings.Join(placeholders, ", "), strings.Join(updates, ", "))

	if _, err := e.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("diskstore: save into %s: %w", table, err)
	}
	return nil
}

// propertyArg renders a PropertyValue as the single text-column value Save
// writes; scalar encoding follows spec §6 (strings/etc -> string column).
func propertyArg(pv PropertyValue) interface{} {
	switch pv.Kind {
	case PropInt64:
		return fmt.Sprintf("%d", pv.Int)
	case PropFloat64:
		return fmt.Sprintf("%g", pv.Float)
	case PropBool:
		return fmt.Sprintf("%t", pv.Bool)
	case PropBlob:
		return string(pv.Blob)
	default:
		return pv.String
	}
}

func syncStateArg(row Row) interface{} {
	if !row.HasSyncState {
		return nil
	}
	return int16(row.SyncState)
}

func lastReadArg(row Row) interface{} {
	if !row.HasLastRemoteRead {
		return nil
	}
	return row.LastRemoteRead
}

func (e *PostgresEngine) Delete(ctx context.Context, table string, key Key) error {
	return e.BatchDelete(ctx, table, []Key{key})
}

func (e *PostgresEngine) BatchDelete(ctx context.Context, table string, keys []Key) error {
	if len(keys) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	sql := fmt.Sprintf(`DELETE FROM %s WHERE _identifier = $1 AND __identifier = $2`, pgx.Identifier{table}.Sanitize())
	for _, k := range keys {
		batch.Queue(sql, k.Remote, k.Local)
	}
	br := e.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range keys {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("diskstore: batch delete from %s: %w", table, err)
		}
	}
	return nil
}

func (e *PostgresEngine) Migrate(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("diskstore: begin migration tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// EnsureAuditTable creates the mutation_audit table if absent, following the
// teacher's invalidation/audit.go ensureSchema layout: append-only, indexed
// by timestamp and type tag for time-range and per-entity-type lookups.
func (e *PostgresEngine) EnsureAuditTable(ctx context.Context) error {
	_, err := e.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS mutation_audit (
			id BIGSERIAL PRIMARY KEY,
			type_tag TEXT NOT NULL,
			operation TEXT NOT NULL,
			keys JSONB,
			request_id TEXT NOT NULL,
			latency_ms BIGINT DEFAULT 0,
			timestamp TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_mutation_audit_timestamp
		ON mutation_audit(timestamp DESC);

		CREATE INDEX IF NOT EXISTS idx_mutation_audit_type_tag
		ON mutation_audit(type_tag);
	`)
	if err != nil {
		return fmt.Errorf("diskstore: ensure mutation_audit: %w", err)
	}
	return nil
}

// RecordMutation appends one AuditEntry. Errors are the caller's to decide
// whether to surface; DiskStore treats audit failures as best-effort and
// does not fail the mutation that triggered them.
func (e *PostgresEngine) RecordMutation(ctx context.Context, entry AuditEntry) error {
	keysJSON, err := json.Marshal(entry.Keys)
	if err != nil {
		return fmt.Errorf("diskstore: marshal audit keys: %w", err)
	}
	_, err = e.pool.Exec(ctx, `
		INSERT INTO mutation_audit (type_tag, operation, keys, request_id, latency_ms, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.TypeTag, string(entry.Operation), keysJSON, entry.RequestID, entry.Latency.Milliseconds(), entry.Timestamp)
	if err != nil {
		return fmt.Errorf("diskstore: insert mutation audit: %w", err)
	}
	return nil
}

func (e *PostgresEngine) LoadSettings(ctx context.Context) (int64, string, error) {
	if _, err := e.pool.Exec(ctx, `INSERT INTO store_settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`); err != nil {
		return 0, "", fmt.Errorf("diskstore: init store_settings: %w", err)
	}
	var version int64
	var appVersion string
	err := e.pool.QueryRow(ctx, `SELECT last_migration_version, last_migration_app_version FROM store_settings WHERE id = 1`).
		Scan(&version, &appVersion)
	if err != nil {
		return 0, "", fmt.Errorf("diskstore: load store_settings: %w", err)
	}
	return version, appVersion, nil
}

func (e *PostgresEngine) SaveSettings(ctx context.Context, legacyVersion int64, appVersion string) error {
	_, err := e.pool.Exec(ctx, `
		UPDATE store_settings SET last_migration_version = $1, last_migration_app_version = $2 WHERE id = 1
	`, legacyVersion, appVersion)
	if err != nil {
		return fmt.Errorf("diskstore: save store_settings: %w", err)
	}
	return nil
}
