// Package memorystore implements InMemoryStore (spec §4.4): a volatile
// store keyed by Identifier, generalizing the teacher's L1Cache from a
// plain map to a dual-hash dictionary so lookups by either key component
// succeed, with an optional memory-pressure Clear().
package memorystore

import (
	"context"

	"github.com/scribd/lucid/internal/dualhash"
	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/storeerr"
)

// Store is an in-memory Storage API layer. The zero value is not usable;
// use New.
type Store struct {
	dict *dualhash.Ordered[entity.Entity]
}

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{dict: dualhash.NewOrdered[entity.Entity]()}
}

// Get returns the entity matching q.Identifier, or a zero Result if absent.
func (s *Store) Get(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	if q.Identifier == nil || q.Identifier.Zero() {
		return query.Result{}, storeerr.New("InMemoryStore.Get", storeerr.KindIdentifierNotFound)
	}
	value, _, ok := s.dict.Get(*q.Identifier)
	if !ok {
		return query.Result{}, nil
	}
	return query.Result{Flat: []entity.Entity{value}}, nil
}

// Search materializes the full matching result set under the shared lock.
// Order/offset/limit/grouping are applied in-process; InMemoryStore has no
// engine to push them down to.
func (s *Store) Search(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	if ids, ok := q.EnumerableIdentifiers(); ok {
		var flat []entity.Entity
		for _, id := range ids {
			if v, _, ok := s.dict.Get(id); ok {
				flat = append(flat, v)
			}
		}
		return applyPagination(flat, q), nil
	}
	if q.Filter != nil {
		// InMemoryStore has no property-filter evaluator; only the
		// identifier fast path above and the unfiltered .all() query below
		// are honored here, matching spec §4.1's "forward or notSupported"
		// rule for layers that cannot honor a query.
		return query.Result{}, storeerr.New("InMemoryStore.Search", storeerr.KindNotSupported)
	}

	var all []entity.Entity
	s.dict.Range(func(key entity.Identifier, value entity.Entity) {
		all = append(all, value)
	})
	return applyPagination(all, q), nil
}

func applyPagination(entities []entity.Entity, q query.Query) query.Result {
	total := len(entities)
	if q.Offset > 0 {
		if q.Offset >= len(entities) {
			entities = nil
		} else {
			entities = entities[q.Offset:]
		}
	}
	if q.Limit > 0 && len(entities) > q.Limit {
		entities = entities[:q.Limit]
	}
	if q.GroupedBy == "" {
		return query.Result{Flat: entities, Meta: query.Meta{TotalCount: total}}
	}
	grouped := make(map[string][]entity.Entity)
	for _, e := range entities {
		key := e.Identifier().TypeTag
		grouped[key] = append(grouped[key], e)
	}
	return query.Result{Grouped: grouped, Meta: query.Meta{TotalCount: total}}
}

// Set writes entities under the exclusive lock, applying the §4.1 merge
// policy against whatever is already present.
func (s *Store) Set(ctx context.Context, entities []entity.Entity, wc store.WriteContext) ([]entity.Entity, error) {
	written := make([]entity.Entity, 0, len(entities))
	for _, e := range entities {
		result, shouldWrite := store.MergeIncoming(e, func(id entity.Identifier) (entity.Entity, bool) {
			v, _, ok := s.dict.Get(id)
			return v, ok
		}, wc.SyncHint)
		if shouldWrite {
			s.dict.Set(result.Identifier(), result)
		}
		written = append(written, result)
	}
	return written, nil
}

// RemoveAll deletes every entity matching q, returning the identifiers
// removed. Only the identifier fast path and the unfiltered .all() query are
// supported; anything else fails with notSupported (spec §4.1, §4.4).
func (s *Store) RemoveAll(ctx context.Context, q query.Query, wc store.WriteContext) ([]entity.Identifier, error) {
	if ids, ok := q.EnumerableIdentifiers(); ok {
		var removed []entity.Identifier
		for _, id := range ids {
			if s.dict.Delete(id) {
				removed = append(removed, id)
			}
		}
		return removed, nil
	}
	if q.Filter != nil {
		return nil, storeerr.New("InMemoryStore.RemoveAll", storeerr.KindNotSupported)
	}

	var toRemove []entity.Identifier
	s.dict.Range(func(key entity.Identifier, value entity.Entity) {
		toRemove = append(toRemove, key)
	})
	for _, id := range toRemove {
		s.dict.Delete(id)
	}
	return toRemove, nil
}

// Remove deletes the given identifiers. Absent identifiers are ignored.
func (s *Store) Remove(ctx context.Context, ids []entity.Identifier, wc store.WriteContext) error {
	for _, id := range ids {
		s.dict.Delete(id)
	}
	return nil
}

// Clear empties the store outright, for callers reacting to a
// memory-pressure signal.
func (s *Store) Clear() {
	s.dict.Clear()
}

// Count returns the number of distinct entities currently held.
func (s *Store) Count() int {
	return s.dict.Count()
}
