package diskstore

import (
	"context"
	"testing"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/store"
)

// fakeEngine is an in-memory stand-in for PersistenceEngine, in the
// teacher's hand-written-mock test style (no DB, no mocking library).
type fakeEngine struct {
	rows           map[string]Row // keyed by remote:local
	legacyVersion  int64
	appVersion     string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{rows: make(map[string]Row)}
}

func keyFor(remote int64, local string) string {
	return string(rune(remote)) + "|" + local
}

func (f *fakeEngine) Fetch(ctx context.Context, table string, predicate query.Expr, sort []SortDescriptor, offset, limit int) ([]Row, error) {
	var out []Row
	for _, r := range f.rows {
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeEngine) Insert(ctx context.Context, table string, row Row) error { return f.Save(ctx, table, row) }

func (f *fakeEngine) Save(ctx context.Context, table string, row Row) error {
	f.rows[keyFor(row.Remote, row.Local)] = row
	return nil
}

func (f *fakeEngine) Delete(ctx context.Context, table string, key Key) error {
	delete(f.rows, keyFor(key.Remote, key.Local))
	return nil
}

func (f *fakeEngine) BatchDelete(ctx context.Context, table string, keys []Key) error {
	for _, k := range keys {
		delete(f.rows, keyFor(k.Remote, k.Local))
	}
	return nil
}

func (f *fakeEngine) Migrate(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeEngine) LoadSettings(ctx context.Context) (int64, string, error) {
	return f.legacyVersion, f.appVersion, nil
}

func (f *fakeEngine) SaveSettings(ctx context.Context, legacyVersion int64, appVersion string) error {
	f.legacyVersion = legacyVersion
	f.appVersion = appVersion
	return nil
}

func (f *fakeEngine) EnsureTable(ctx context.Context, table string, propertyColumns []string) error {
	return nil
}

// fakeAuditor is an in-memory stand-in for Auditor.
type fakeAuditor struct {
	ensured bool
	entries []AuditEntry
}

func (a *fakeAuditor) EnsureAuditTable(ctx context.Context) error {
	a.ensured = true
	return nil
}

func (a *fakeAuditor) RecordMutation(ctx context.Context, entry AuditEntry) error {
	a.entries = append(a.entries, entry)
	return nil
}

type fakeCodec struct{}

type fakeEntity struct {
	id entity.Identifier
}

func (e fakeEntity) Identifier() entity.Identifier      { return e.id }
func (e fakeEntity) Merging(other entity.Entity) entity.Entity { return other }
func (e fakeEntity) ShouldOverwrite(with entity.Entity) bool   { return true }

func (fakeCodec) Encode(e entity.Entity) (Row, error) {
	id := e.Identifier()
	return Row{Remote: id.Remote, Local: id.Local, TypeTag: id.TypeTag}, nil
}

func (fakeCodec) Decode(row Row) (entity.Entity, error) {
	return fakeEntity{id: entity.NewDualIdentifier(row.TypeTag, row.Remote, row.Local)}, nil
}

func TestStoreSetThenGet(t *testing.T) {
	engine := newFakeEngine()
	s := New("widget", engine, fakeCodec{})

	id := entity.NewDualIdentifier("widget", 1, "local-1")
	if _, err := s.Set(context.Background(), []entity.Entity{fakeEntity{id: id}}, store.WriteLocal()); err != nil {
		t.Fatalf("set: %v", err)
	}

	res, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Local())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(res.Flat) != 1 {
		t.Fatalf("get returned %d entities, want 1", len(res.Flat))
	}
}

func TestStoreRemove(t *testing.T) {
	engine := newFakeEngine()
	s := New("widget", engine, fakeCodec{})

	id := entity.NewDualIdentifier("widget", 1, "local-1")
	s.Set(context.Background(), []entity.Entity{fakeEntity{id: id}}, store.WriteLocal())

	if err := s.Remove(context.Background(), []entity.Identifier{id}, store.WriteLocal()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(engine.rows) != 0 {
		t.Fatalf("rows remaining = %d, want 0", len(engine.rows))
	}
}

func TestStoreRecordsMutationAuditOnSetAndRemove(t *testing.T) {
	engine := newFakeEngine()
	auditor := &fakeAuditor{}
	s := New("widget", engine, fakeCodec{}).WithAudit(auditor)

	if err := s.Open(context.Background(), nil, nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !auditor.ensured {
		t.Fatal("Open did not call EnsureAuditTable")
	}

	id := entity.NewDualIdentifier("widget", 1, "local-1")
	if _, err := s.Set(context.Background(), []entity.Entity{fakeEntity{id: id}}, store.WriteLocal()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Remove(context.Background(), []entity.Identifier{id}, store.WriteLocal()); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if len(auditor.entries) != 2 {
		t.Fatalf("audit entries = %d, want 2 (one set, one remove)", len(auditor.entries))
	}
	if auditor.entries[0].Operation != MutationSet {
		t.Fatalf("first entry op = %v, want set", auditor.entries[0].Operation)
	}
	if auditor.entries[1].Operation != MutationRemove {
		t.Fatalf("second entry op = %v, want remove", auditor.entries[1].Operation)
	}
}

func TestTranslateIdentifierEqualTo(t *testing.T) {
	id := entity.NewDualIdentifier("widget", 1, "local-1")
	expr := query.IdentifierEqualTo(id)
	var args []interface{}
	sql, err := translateExpr(expr, &args)
	if err != nil {
		t.Fatalf("translateExpr: %v", err)
	}
	if sql == "" {
		t.Fatalf("translated SQL is empty")
	}
	if len(args) != 3 {
		t.Fatalf("args = %v, want 3 bind values (typeTag, remote, local)", args)
	}
}

func TestRunMigrationsAppliesInOrderOnce(t *testing.T) {
	engine := newFakeEngine()
	var applied []int64
	migrations := []Migration{
		{Version: 1, AppVersion: "1.0.0", Transform: func(ctx context.Context) error {
			applied = append(applied, 1)
			return nil
		}},
		{Version: 2, AppVersion: "1.1.0", Transform: func(ctx context.Context) error {
			applied = append(applied, 2)
			return nil
		}},
	}

	if err := RunMigrations(context.Background(), engine, migrations); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied = %v, want [1 2]", applied)
	}

	applied = nil
	if err := RunMigrations(context.Background(), engine, migrations); err != nil {
		t.Fatalf("second run migrations: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("migrations re-applied on second run: %v", applied)
	}
}

// TestRunMigrationsTracksAppVersionIndependentlyOfLegacyVersion covers a
// migration set identified purely by app version (Version left at its zero
// value): it must still run exactly once, and a later app-version bump must
// trigger only the migration newer than the recorded high-water mark.
func TestRunMigrationsTracksAppVersionIndependentlyOfLegacyVersion(t *testing.T) {
	engine := newFakeEngine()
	var applied []string
	first := []Migration{
		{AppVersion: "1.2.0", Transform: func(ctx context.Context) error {
			applied = append(applied, "1.2.0")
			return nil
		}},
		{AppVersion: "1.3.0", Transform: func(ctx context.Context) error {
			applied = append(applied, "1.3.0")
			return nil
		}},
	}

	if err := RunMigrations(context.Background(), engine, first); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	if len(applied) != 2 {
		t.Fatalf("applied = %v, want [1.2.0 1.3.0]", applied)
	}

	applied = nil
	if err := RunMigrations(context.Background(), engine, first); err != nil {
		t.Fatalf("second run migrations: %v", err)
	}
	if len(applied) != 0 {
		t.Fatalf("app-version migrations re-applied on second run: %v", applied)
	}

	applied = nil
	withBump := append(first, Migration{AppVersion: "1.4.0", Transform: func(ctx context.Context) error {
		applied = append(applied, "1.4.0")
		return nil
	}})
	if err := RunMigrations(context.Background(), engine, withBump); err != nil {
		t.Fatalf("third run migrations: %v", err)
	}
	if len(applied) != 1 || applied[0] != "1.4.0" {
		t.Fatalf("applied = %v, want only [1.4.0]", applied)
	}
}
