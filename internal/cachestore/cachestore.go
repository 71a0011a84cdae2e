// Package cachestore implements CacheStore (spec §4.8): a two-tier store
// (hot memory + cold disk) maintaining hot ⊆ cold for get results, with an
// at-most-one-fill guarantee on miss and write-through on set. Directly
// grounded on the teacher's cache-manager/service.go Get/fetchWithFallback
// and singleflight.go's RequestCoalescer, replaced here with
// golang.org/x/sync/singleflight.Group keyed by a query fingerprint.
package cachestore

import (
	"context"

	"golang.org/x/sync/singleflight"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/metrics"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/storeerr"
	"github.com/scribd/lucid/internal/taskqueue"
	"github.com/scribd/lucid/internal/utils"
)

// MirrorLogger receives errors from a tier that is not authoritative for a
// given call (hot-tier errors on write-through/fan-out; see spec §4.8).
type MirrorLogger func(op string, err error)

// Store is a two-tier CacheStore instance.
type Store struct {
	hot  store.Store
	cold store.Store
	queue *taskqueue.Queue
	fills singleflight.Group
	onHotError MirrorLogger

	metrics *metrics.Store
	typeTag string
}

// New constructs a CacheStore over hot (memory/LRU) and cold (disk) tiers.
// queue serializes the fill path and the barrier-guarded fan-out operations.
func New(hot, cold store.Store, queue *taskqueue.Queue, onHotError MirrorLogger) *Store {
	if onHotError == nil {
		onHotError = func(string, error) {}
	}
	return &Store{hot: hot, cold: cold, queue: queue, onHotError: onHotError}
}

// WithMetrics attaches a metrics.Store that Get/Search/hot-fill calls record
// hit/miss/fill counters and mirror errors against, labeled with typeTag.
// Metrics recording is a no-op until this is called.
func (s *Store) WithMetrics(m *metrics.Store, typeTag string) *Store {
	s.metrics = m
	s.typeTag = typeTag
	return s
}

func (s *Store) recordHit() {
	if s.metrics != nil {
		s.metrics.CacheHits.WithLabelValues("cachestore", s.typeTag).Inc()
	}
}

func (s *Store) recordMiss() {
	if s.metrics != nil {
		s.metrics.CacheMisses.WithLabelValues("cachestore", s.typeTag).Inc()
	}
}

func (s *Store) recordFill() {
	if s.metrics != nil {
		s.metrics.CacheFills.WithLabelValues("cachestore", s.typeTag).Inc()
	}
}

func (s *Store) recordMirrorError(op string) {
	if s.metrics != nil {
		s.metrics.MirrorErrors.WithLabelValues("cachestore", s.typeTag, op).Inc()
	}
}

// Get tries hot first; on miss it serializes a single per-fingerprint fill
// task, double-checking hot before reading cold, so no two concurrent gets
// for the same absent identifier trigger two cold reads (spec §4.8).
func (s *Store) Get(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	if q.Identifier == nil || q.Identifier.Zero() {
		return query.Result{}, storeerr.New("CacheStore.Get", storeerr.KindIdentifierNotFound)
	}

	hotRes, err := s.hot.Get(ctx, q, rc)
	if err == nil && len(hotRes.Flat) > 0 {
		s.recordHit()
		return hotRes, nil
	}
	s.recordMiss()

	key := utils.FingerprintIdentifier(*q.Identifier)
	v, err, _ := s.fills.Do(key, func() (interface{}, error) {
		return s.fill(ctx, q, rc)
	})
	if err != nil {
		return query.Result{}, err
	}
	return v.(query.Result), nil
}

func (s *Store) fill(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	result, err := s.queue.Enqueue(ctx, 0, func(ctx context.Context) (interface{}, error) {
		if res, err := s.hot.Get(ctx, q, rc); err == nil && len(res.Flat) > 0 {
			return res, nil
		}
		coldRes, err := s.cold.Get(ctx, q, rc)
		if err != nil {
			return query.Result{}, err
		}
		if len(coldRes.Flat) > 0 {
			if _, err := s.hot.Set(ctx, coldRes.Flat, store.WriteLocal()); err != nil {
				s.onHotError("CacheStore.fill.hotSet", err)
				s.recordMirrorError("fill.hotSet")
			} else {
				s.recordFill()
			}
		}
		return coldRes, nil
	})
	if err != nil {
		return query.Result{}, err
	}
	return result.(query.Result), nil
}

// Search takes the enumerable-identifier fast path when q's filter is
// exactly a finite identifier set with deterministic order and no
// offset/limit; otherwise it bypasses hot entirely, matching the canonical
// decision recorded for the Open Question on non-deterministic order.
func (s *Store) Search(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	ids, enumerable := q.EnumerableIdentifiers()
	if !enumerable {
		return s.searchColdOnly(ctx, q, rc)
	}

	var hotFound []entity.Entity
	for _, id := range ids {
		single := id
		res, err := s.hot.Get(ctx, query.Query{Identifier: &single}, store.Local())
		if err == nil && len(res.Flat) > 0 {
			hotFound = append(hotFound, res.Flat[0])
		}
	}
	if len(hotFound) == len(ids) {
		s.recordHit()
		return query.Result{Flat: hotFound}, nil
	}
	s.recordMiss()

	result, err := s.queue.EnqueueBarrier(ctx, 0, func(ctx context.Context) (interface{}, error) {
		coldRes, err := s.cold.Search(ctx, q, rc)
		if err != nil {
			return query.Result{}, err
		}
		found := coldRes.AllEntities()
		if len(found) > 0 {
			if _, err := s.hot.Set(ctx, found, store.WriteLocal()); err != nil {
				s.onHotError("CacheStore.Search.hotFill", err)
				s.recordMirrorError("Search.hotFill")
			}
		}
		return query.Result{Flat: found}, nil
	})
	if err != nil {
		return query.Result{}, err
	}
	return result.(query.Result), nil
}

func (s *Store) searchColdOnly(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	result, err := s.queue.EnqueueBarrier(ctx, 0, func(ctx context.Context) (interface{}, error) {
		return s.cold.Search(ctx, q, rc)
	})
	if err != nil {
		return query.Result{}, err
	}
	return result.(query.Result), nil
}

// Set looks up incoming identifiers in hot, applies the §4.1 merge policy,
// writes survivors to hot, then writes the same survivors to cold (cold is
// authoritative: its errors surface, hot's do not).
func (s *Store) Set(ctx context.Context, entities []entity.Entity, wc store.WriteContext) ([]entity.Entity, error) {
	survivors := make([]entity.Entity, 0, len(entities))
	for _, e := range entities {
		result, shouldWrite := store.MergeIncoming(e, func(id entity.Identifier) (entity.Entity, bool) {
			res, err := s.hot.Get(ctx, query.Query{Identifier: &id}, store.Local())
			if err != nil || len(res.Flat) == 0 {
				return nil, false
			}
			return res.Flat[0], true
		}, wc.SyncHint)
		if shouldWrite {
			survivors = append(survivors, result)
		}
	}

	if len(survivors) > 0 {
		if _, err := s.hot.Set(ctx, survivors, wc); err != nil {
			s.onHotError("CacheStore.Set.hot", err)
			s.recordMirrorError("Set.hot")
		}
	}

	written, err := s.cold.Set(ctx, survivors, wc)
	if err != nil {
		return nil, err
	}
	return written, nil
}

// RemoveAll fans out to both tiers concurrently under a barrier; cold's
// result is authoritative, hot's errors are logged only.
func (s *Store) RemoveAll(ctx context.Context, q query.Query, wc store.WriteContext) ([]entity.Identifier, error) {
	result, err := s.queue.EnqueueBarrier(ctx, 0, func(ctx context.Context) (interface{}, error) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if _, err := s.hot.RemoveAll(ctx, q, wc); err != nil {
				s.onHotError("CacheStore.RemoveAll.hot", err)
				s.recordMirrorError("RemoveAll.hot")
			}
		}()
		ids, err := s.cold.RemoveAll(ctx, q, wc)
		<-done
		return ids, err
	})
	if err != nil {
		return nil, err
	}
	return result.([]entity.Identifier), nil
}

// Remove fans out to both tiers concurrently under a barrier; cold's result
// is authoritative, hot's errors are logged only.
func (s *Store) Remove(ctx context.Context, ids []entity.Identifier, wc store.WriteContext) error {
	_, err := s.queue.EnqueueBarrier(ctx, 0, func(ctx context.Context) (interface{}, error) {
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := s.hot.Remove(ctx, ids, wc); err != nil {
				s.onHotError("CacheStore.Remove.hot", err)
				s.recordMirrorError("Remove.hot")
			}
		}()
		err := s.cold.Remove(ctx, ids, wc)
		<-done
		return nil, err
	})
	return err
}
