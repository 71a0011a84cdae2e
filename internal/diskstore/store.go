package diskstore

import (
	"context"
	"time"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/logging"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/storeerr"
)

// Store is a DiskStore instance persisting exactly one entity type tag.
type Store struct {
	typeTag string
	table   string
	engine  PersistenceEngine
	codec   Codec
	gate    *loadGate
	auditor Auditor
}

// New constructs a DiskStore for typeTag, backed by engine and codec.
// Migrations (if any) run when Open is called, via the load/recover gate;
// Get, Search, Set, Remove and RemoveAll do not call Open themselves.
func New(typeTag string, engine PersistenceEngine, codec Codec) *Store {
	return &Store{
		typeTag: typeTag,
		table:   "entities_" + typeTag,
		engine:  engine,
		codec:   codec,
		gate:    newLoadGate(),
	}
}

// Open runs EnsureTable and the given migrations exactly once across however
// many concurrent callers race to call it, matching the load/recover FSM of
// spec §4.6. propertyColumns lists every non-identifier column the table
// needs.
func (s *Store) Open(ctx context.Context, propertyColumns []string, migrations []Migration) error {
	return s.gate.ensureLoaded(
		func() error {
			if err := s.engine.EnsureTable(ctx, s.table, propertyColumns); err != nil {
				return err
			}
			if s.auditor != nil {
				if err := s.auditor.EnsureAuditTable(ctx); err != nil {
					return err
				}
			}
			return RunMigrations(ctx, s.engine, migrations)
		},
		func() error {
			// Recovery for a disk store means nothing beyond retrying
			// EnsureTable/migrations once more; unlike the in-memory
			// container case there is no store file to delete out from
			// under a live connection pool.
			return nil
		},
	)
}

func (s *Store) Get(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	if q.Identifier == nil || q.Identifier.Zero() {
		return query.Result{}, storeerr.New("DiskStore.Get", storeerr.KindIdentifierNotFound)
	}
	predicate := query.IdentifierEqualTo(*q.Identifier)
	rows, err := s.engine.Fetch(ctx, s.table, predicate, nil, 0, 1)
	if err != nil {
		return query.Result{}, storeerr.Wrap("DiskStore.Get", storeerr.KindEngine, err)
	}
	if len(rows) == 0 {
		return query.Result{}, nil
	}
	e, err := s.codec.Decode(rows[0])
	if err != nil {
		return query.Result{}, storeerr.Wrap("DiskStore.Get", storeerr.KindDeserialization, err)
	}
	return query.Result{Flat: []entity.Entity{e}}, nil
}

func (s *Store) Search(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	sort, err := translateSort(q.Order)
	if err != nil {
		return query.Result{}, storeerr.Wrap("DiskStore.Search", storeerr.KindInvalidContext, err)
	}
	rows, err := s.engine.Fetch(ctx, s.table, q.Filter, sort, q.Offset, q.Limit)
	if err != nil {
		return query.Result{}, storeerr.Wrap("DiskStore.Search", storeerr.KindEngine, err)
	}
	flat := make([]entity.Entity, 0, len(rows))
	for _, row := range rows {
		e, err := s.codec.Decode(row)
		if err != nil {
			return query.Result{}, storeerr.Wrap("DiskStore.Search", storeerr.KindDeserialization, err)
		}
		flat = append(flat, e)
	}
	if q.GroupedBy == "" {
		return query.Result{Flat: flat}, nil
	}
	grouped := make(map[string][]entity.Entity)
	for _, e := range flat {
		grouped[e.Identifier().TypeTag] = append(grouped[e.Identifier().TypeTag], e)
	}
	return query.Result{Grouped: grouped}, nil
}

func (s *Store) Set(ctx context.Context, entities []entity.Entity, wc store.WriteContext) ([]entity.Entity, error) {
	start := time.Now()
	written := make([]entity.Entity, 0, len(entities))
	var keys []string
	for _, e := range entities {
		result, shouldWrite := store.MergeIncoming(e, func(id entity.Identifier) (entity.Entity, bool) {
			res, err := s.Get(ctx, query.Query{Identifier: &id}, store.Local())
			if err != nil || len(res.Flat) == 0 {
				return nil, false
			}
			return res.Flat[0], true
		}, wc.SyncHint)
		if shouldWrite {
			row, err := s.codec.Encode(result)
			if err != nil {
				return nil, storeerr.Wrap("DiskStore.Set", storeerr.KindDeserialization, err)
			}
			if err := s.engine.Save(ctx, s.table, row); err != nil {
				return nil, storeerr.Wrap("DiskStore.Set", storeerr.KindEngine, err)
			}
			keys = append(keys, KeyOf(result.Identifier()).String())
		}
		written = append(written, result)
	}
	s.recordMutation(ctx, MutationSet, keys, logging.NewRequestID(), start)
	return written, nil
}

func (s *Store) RemoveAll(ctx context.Context, q query.Query, wc store.WriteContext) ([]entity.Identifier, error) {
	start := time.Now()
	res, err := s.Search(ctx, q, store.Local())
	if err != nil {
		return nil, err
	}
	entities := res.AllEntities()
	keys := make([]Key, 0, len(entities))
	ids := make([]entity.Identifier, 0, len(entities))
	for _, e := range entities {
		id := e.Identifier()
		keys = append(keys, KeyOf(id))
		ids = append(ids, id)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	if err := s.engine.BatchDelete(ctx, s.table, keys); err != nil {
		return nil, storeerr.Wrap("DiskStore.RemoveAll", storeerr.KindEngine, err)
	}
	s.recordMutation(ctx, MutationRemoveAll, keyStrings(keys), logging.NewRequestID(), start)
	return ids, nil
}

func (s *Store) Remove(ctx context.Context, ids []entity.Identifier, wc store.WriteContext) error {
	start := time.Now()
	keys := make([]Key, len(ids))
	for i, id := range ids {
		keys[i] = KeyOf(id)
	}
	if err := s.engine.BatchDelete(ctx, s.table, keys); err != nil {
		return storeerr.Wrap("DiskStore.Remove", storeerr.KindEngine, err)
	}
	s.recordMutation(ctx, MutationRemove, keyStrings(keys), logging.NewRequestID(), start)
	return nil
}

func keyStrings(keys []Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
