// Package lrustore implements LRUStore (spec §4.5): a bounded-size wrapper
// around any inner Store, tracking recency via an insertion-ordered dual-hash
// dictionary (the teacher's doubly-linked-list-plus-sentinel idea from
// cache-manager/cache.go, generalized off a plain map). Eviction runs as a
// background AsyncTaskQueue barrier task so list mutation never races a
// concurrent read.
package lrustore

import (
	"context"

	"github.com/scribd/lucid/internal/dualhash"
	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/metrics"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/taskqueue"
)

// EvictionLogger receives errors from background eviction's best-effort
// remove calls to the inner store. Implementations must not block.
type EvictionLogger func(id entity.Identifier, err error)

// Store wraps an inner Store, evicting the least-recently-touched identifier
// once the tracked set exceeds limit.
type Store struct {
	inner store.Store
	limit int
	order *dualhash.Ordered[struct{}]
	queue *taskqueue.Queue
	onEvictionError EvictionLogger

	metrics *metrics.Store
	typeTag string
}

// WithMetrics attaches a metrics.Store that eviction records against,
// labeled with typeTag. Recording is a no-op until this is called.
func (s *Store) WithMetrics(m *metrics.Store, typeTag string) *Store {
	s.metrics = m
	s.typeTag = typeTag
	return s
}

// New constructs an LRUStore bounding inner to at most limit distinct
// identifiers. queue serializes eviction against concurrent list touches;
// onEvictionError may be nil.
func New(inner store.Store, limit int, queue *taskqueue.Queue, onEvictionError EvictionLogger) *Store {
	if onEvictionError == nil {
		onEvictionError = func(entity.Identifier, error) {}
	}
	return &Store{
		inner:           inner,
		limit:           limit,
		order:           dualhash.NewOrdered[struct{}](),
		queue:           queue,
		onEvictionError: onEvictionError,
	}
}

func (s *Store) touch(id entity.Identifier) {
	s.order.Set(id, struct{}{})
	s.maybeEvict()
}

func (s *Store) maybeEvict() {
	if s.limit <= 0 || s.order.Count() <= s.limit {
		return
	}
	go func() {
		s.queue.EnqueueBarrier(context.Background(), 0, func(ctx context.Context) (interface{}, error) {
			for s.order.Count() > s.limit {
				id, _, ok := s.order.Front()
				if !ok {
					break
				}
				if err := s.inner.Remove(ctx, []entity.Identifier{id}, store.WriteLocal()); err != nil {
					s.onEvictionError(id, err)
				} else if s.metrics != nil {
					s.metrics.Evictions.WithLabelValues("lrustore", s.typeTag).Inc()
				}
			}
			return nil, nil
		})
	}()
}

func (s *Store) Get(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	res, err := s.inner.Get(ctx, q, rc)
	if err == nil && len(res.Flat) > 0 {
		s.touch(res.Flat[0].Identifier())
	}
	return res, err
}

func (s *Store) Search(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	res, err := s.inner.Search(ctx, q, rc)
	if err == nil {
		for _, e := range res.AllEntities() {
			s.touch(e.Identifier())
		}
	}
	return res, err
}

func (s *Store) Set(ctx context.Context, entities []entity.Entity, wc store.WriteContext) ([]entity.Entity, error) {
	written, err := s.inner.Set(ctx, entities, wc)
	if err == nil {
		for _, e := range written {
			s.touch(e.Identifier())
		}
	}
	return written, err
}

func (s *Store) RemoveAll(ctx context.Context, q query.Query, wc store.WriteContext) ([]entity.Identifier, error) {
	ids, err := s.inner.RemoveAll(ctx, q, wc)
	if err == nil {
		for _, id := range ids {
			s.order.Delete(id)
		}
	}
	return ids, err
}

func (s *Store) Remove(ctx context.Context, ids []entity.Identifier, wc store.WriteContext) error {
	err := s.inner.Remove(ctx, ids, wc)
	if err == nil {
		for _, id := range ids {
			s.order.Delete(id)
		}
	}
	return err
}

// Count returns the number of identifiers currently tracked for recency.
func (s *Store) Count() int {
	return s.order.Count()
}
