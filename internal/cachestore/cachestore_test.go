package cachestore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/memorystore"
	"github.com/scribd/lucid/internal/metrics"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/taskqueue"
)

type widget struct {
	id      entity.Identifier
	version int
}

func (w widget) Identifier() entity.Identifier { return w.id }
func (w widget) Merging(other entity.Entity) entity.Entity { return other }
func (w widget) ShouldOverwrite(with entity.Entity) bool {
	return with.(widget).version >= w.version
}

// countingStore wraps a store.Store and counts Get and Search calls, used to
// assert the at-most-one-fill guarantee and that a tier was not touched.
type countingStore struct {
	store.Store
	gets     int32
	searches int32
}

func (c *countingStore) Get(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	atomic.AddInt32(&c.gets, 1)
	return c.Store.Get(ctx, q, rc)
}

func (c *countingStore) Search(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	atomic.AddInt32(&c.searches, 1)
	return c.Store.Search(ctx, q, rc)
}

func TestGetHitsHotWithoutTouchingCold(t *testing.T) {
	hot := memorystore.New()
	cold := &countingStore{Store: memorystore.New()}
	q := taskqueue.New(4)
	s := New(hot, cold, q, nil)

	id := entity.NewLocalIdentifier("widget", "a")
	hot.Set(context.Background(), []entity.Entity{widget{id: id, version: 1}}, store.WriteLocal())

	res, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Local())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(res.Flat) != 1 {
		t.Fatalf("get returned %d entities, want 1", len(res.Flat))
	}
	if atomic.LoadInt32(&cold.gets) != 0 {
		t.Fatalf("cold.Get called %d times, want 0 on a hot hit", cold.gets)
	}
}

func TestGetOnMissFillsHotFromCold(t *testing.T) {
	hot := memorystore.New()
	cold := memorystore.New()
	q := taskqueue.New(4)
	s := New(hot, cold, q, nil)

	id := entity.NewLocalIdentifier("widget", "a")
	cold.Set(context.Background(), []entity.Entity{widget{id: id, version: 1}}, store.WriteLocal())

	res, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Local())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(res.Flat) != 1 {
		t.Fatalf("get returned %d entities, want 1", len(res.Flat))
	}
	if hot.Count() != 1 {
		t.Fatalf("hot count = %d, want 1 after fill", hot.Count())
	}
}

func TestGetCoalescesConcurrentFillsForSameIdentifier(t *testing.T) {
	hot := memorystore.New()
	cold := &countingStore{Store: memorystore.New()}
	q := taskqueue.New(8)
	s := New(hot, cold, q, nil)

	id := entity.NewLocalIdentifier("widget", "a")
	cold.Store.(*memorystore.Store).Set(context.Background(), []entity.Entity{widget{id: id, version: 1}}, store.WriteLocal())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Local()); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&cold.gets); got > 2 {
		t.Fatalf("cold.Get called %d times across 20 concurrent misses, want at most a couple (singleflight coalescing)", got)
	}
}

func TestSetWritesHotAndColdAndAppliesMergePolicy(t *testing.T) {
	hot := memorystore.New()
	cold := memorystore.New()
	q := taskqueue.New(4)
	s := New(hot, cold, q, nil)

	id := entity.NewLocalIdentifier("widget", "a")
	if _, err := s.Set(context.Background(), []entity.Entity{widget{id: id, version: 1}}, store.WriteLocal()); err != nil {
		t.Fatalf("set v1: %v", err)
	}
	if _, err := s.Set(context.Background(), []entity.Entity{widget{id: id, version: 0}}, store.WriteLocal()); err != nil {
		t.Fatalf("set v0: %v", err)
	}

	res, err := cold.Get(context.Background(), query.Query{Identifier: &id}, store.Local())
	if err != nil || len(res.Flat) == 0 {
		t.Fatalf("cold get after merge: res=%v err=%v", res, err)
	}
	if res.Flat[0].(widget).version != 1 {
		t.Fatalf("cold entity version = %d, want 1 (higher version should survive)", res.Flat[0].(widget).version)
	}
}

func TestSearchEnumerableFastPathSkipsColdWhenAllHot(t *testing.T) {
	hot := memorystore.New()
	cold := &countingStore{Store: memorystore.New()}
	q := taskqueue.New(4)
	s := New(hot, cold, q, nil)

	idA := entity.NewLocalIdentifier("widget", "a")
	idB := entity.NewLocalIdentifier("widget", "b")
	hot.Set(context.Background(), []entity.Entity{widget{id: idA}, widget{id: idB}}, store.WriteLocal())

	res, err := s.Search(context.Background(), query.Query{Filter: query.IdentifierContainedIn([]entity.Identifier{idA, idB})}, store.Local())
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(res.Flat) != 2 {
		t.Fatalf("search returned %d entities, want 2", len(res.Flat))
	}
	if touched := atomic.LoadInt32(&cold.gets) + atomic.LoadInt32(&cold.searches); touched != 0 {
		t.Fatalf("cold touched %d times, want 0 when every identifier is already hot", touched)
	}
}

// erroringStore wraps a store.Store and fails every Set call, used to force
// the mirror-error path on a non-authoritative tier.
type erroringStore struct {
	store.Store
}

func (erroringStore) Set(ctx context.Context, entities []entity.Entity, wc store.WriteContext) ([]entity.Entity, error) {
	return nil, errSetFailed
}

var errSetFailed = errors.New("hot tier set failed")

func sampleCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestGetRecordsHitAndMissCounters(t *testing.T) {
	hot := memorystore.New()
	cold := memorystore.New()
	q := taskqueue.New(4)
	reg := prometheus.NewRegistry()
	s := New(hot, cold, q, nil).WithMetrics(metrics.New(reg), "widget")

	id := entity.NewLocalIdentifier("widget", "a")
	cold.Set(context.Background(), []entity.Entity{widget{id: id, version: 1}}, store.WriteLocal())

	if _, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Local()); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := sampleCounter(t, reg, "entitystore_cache_misses_total"); got != 1 {
		t.Fatalf("cache misses = %v, want 1 on first (cold-filled) get", got)
	}
	if got := sampleCounter(t, reg, "entitystore_cache_fills_total"); got != 1 {
		t.Fatalf("cache fills = %v, want 1 after hot-fill", got)
	}

	if _, err := s.Get(context.Background(), query.Query{Identifier: &id}, store.Local()); err != nil {
		t.Fatalf("second get: %v", err)
	}
	if got := sampleCounter(t, reg, "entitystore_cache_hits_total"); got != 1 {
		t.Fatalf("cache hits = %v, want 1 on second (hot) get", got)
	}
}

func TestSetRecordsMirrorErrorOnHotFailure(t *testing.T) {
	hot := erroringStore{Store: memorystore.New()}
	cold := memorystore.New()
	q := taskqueue.New(4)
	reg := prometheus.NewRegistry()
	s := New(hot, cold, q, nil).WithMetrics(metrics.New(reg), "widget")

	id := entity.NewLocalIdentifier("widget", "a")
	if _, err := s.Set(context.Background(), []entity.Entity{widget{id: id, version: 1}}, store.WriteLocal()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := sampleCounter(t, reg, "entitystore_mirror_errors_total"); got != 1 {
		t.Fatalf("mirror errors = %v, want 1 after a forced hot-tier Set failure", got)
	}
}

func TestSearchNonEnumerableBypassesHotEntirely(t *testing.T) {
	hot := &countingStore{Store: memorystore.New()}
	cold := memorystore.New()
	q := taskqueue.New(4)
	s := New(hot, cold, q, nil)

	id := entity.NewLocalIdentifier("widget", "a")
	cold.Set(context.Background(), []entity.Entity{widget{id: id}}, store.WriteLocal())

	if _, err := s.Search(context.Background(), query.All(), store.Local()); err != nil {
		t.Fatalf("search: %v", err)
	}
	if atomic.LoadInt32(&hot.gets) != 0 {
		t.Fatalf("hot.Get called %d times on a non-enumerable query, want 0 (bypass hot entirely)", hot.gets)
	}
}
