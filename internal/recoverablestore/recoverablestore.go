// Package recoverablestore implements RecoverableStore (spec §4.7): a
// primary/secondary pair of stores (typically DiskStore instances) that
// mirror each other, restoring from whichever is healthy on construction.
package recoverablestore

import (
	"context"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/storeerr"
	"github.com/scribd/lucid/internal/taskqueue"
)

// MirrorLogger receives errors from best-effort mirrored operations.
type MirrorLogger func(op string, err error)

// Store mirrors a primary store.Store into a secondary, routing every
// operation's result from primary and best-effort mirroring to secondary.
// The one-time recovery task runs as a barrier on an AsyncTaskQueue, and
// every operation waits for it to finish before touching either store
// (spec §4.7). The operations themselves do not go through the queue, so
// concurrent calls are not serialized against each other. Grounded on the teacher's dual-write fan-out style
// (other_examples groxpi tiered.go's Put writing L1+L2 concurrently via
// goroutines + sync.WaitGroup), adapted to primary-authoritative semantics.
type Store struct {
	primary   store.Store
	secondary store.Store
	queue         *taskqueue.Queue
	onMirrorError MirrorLogger

	recovered chan struct{}
}

// New constructs a RecoverableStore and kicks off its one-time recovery task
// on queue. queue should be dedicated to this store (or at least large
// enough that the recovery barrier cannot starve behind unrelated work).
func New(primary, secondary store.Store, queue *taskqueue.Queue, onMirrorError MirrorLogger) *Store {
	if onMirrorError == nil {
		onMirrorError = func(string, error) {}
	}
	s := &Store{
		primary:       primary,
		secondary:     secondary,
		queue:         queue,
		onMirrorError: onMirrorError,
		recovered:     make(chan struct{}),
	}
	s.startRecovery()
	return s
}

func (s *Store) startRecovery() {
	go func() {
		s.queue.EnqueueBarrier(context.Background(), 0, func(ctx context.Context) (interface{}, error) {
			s.recover(ctx)
			return nil, nil
		})
		close(s.recovered)
	}()
}

// recover implements the three-step recovery procedure from spec §4.7.
func (s *Store) recover(ctx context.Context) {
	primaryRes, err := s.primary.Search(ctx, query.All(), store.Local())
	primaryEntities := primaryRes.AllEntities()

	if err == nil && len(primaryEntities) > 0 {
		if _, err := s.secondary.RemoveAll(ctx, query.All(), store.WriteLocal()); err != nil {
			s.onMirrorError("RecoverableStore.recover.clearSecondary", err)
		}
		if _, err := s.secondary.Set(ctx, primaryEntities, store.WriteLocal()); err != nil {
			s.onMirrorError("RecoverableStore.recover.copyPrimaryToSecondary", err)
		}
		return
	}

	secondaryRes, secErr := s.secondary.Search(ctx, query.All(), store.Local())
	if secErr != nil {
		return
	}
	secondaryEntities := secondaryRes.AllEntities()
	if len(secondaryEntities) == 0 {
		return
	}
	if _, err := s.primary.Set(ctx, secondaryEntities, store.WriteLocal()); err != nil {
		s.onMirrorError("RecoverableStore.recover.copySecondaryToPrimary", err)
	}
}

// awaitRecovery blocks the caller's operation until the one-time recovery
// task has completed, since every operation must be serialized after it.
func (s *Store) awaitRecovery(ctx context.Context) error {
	select {
	case <-s.recovered:
		return nil
	case <-ctx.Done():
		return storeerr.Wrap("RecoverableStore", storeerr.KindNetworkCancelled, ctx.Err())
	}
}

func (s *Store) mirrorWrite(op string, fn func() error) {
	go func() {
		if err := fn(); err != nil {
			s.onMirrorError(op, err)
		}
	}()
}

func (s *Store) Get(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	if err := s.awaitRecovery(ctx); err != nil {
		return query.Result{}, err
	}
	return s.primary.Get(ctx, q, rc)
}

func (s *Store) Search(ctx context.Context, q query.Query, rc store.ReadContext) (query.Result, error) {
	if err := s.awaitRecovery(ctx); err != nil {
		return query.Result{}, err
	}
	return s.primary.Search(ctx, q, rc)
}

func (s *Store) Set(ctx context.Context, entities []entity.Entity, wc store.WriteContext) ([]entity.Entity, error) {
	if err := s.awaitRecovery(ctx); err != nil {
		return nil, err
	}
	written, err := s.primary.Set(ctx, entities, wc)
	if err != nil {
		return nil, err
	}
	s.mirrorWrite("RecoverableStore.Set", func() error {
		_, err := s.secondary.Set(context.Background(), written, wc)
		return err
	})
	return written, nil
}

func (s *Store) RemoveAll(ctx context.Context, q query.Query, wc store.WriteContext) ([]entity.Identifier, error) {
	if err := s.awaitRecovery(ctx); err != nil {
		return nil, err
	}
	ids, err := s.primary.RemoveAll(ctx, q, wc)
	if err != nil {
		return nil, err
	}
	s.mirrorWrite("RecoverableStore.RemoveAll", func() error {
		_, err := s.secondary.RemoveAll(context.Background(), q, wc)
		return err
	})
	return ids, nil
}

func (s *Store) Remove(ctx context.Context, ids []entity.Identifier, wc store.WriteContext) error {
	if err := s.awaitRecovery(ctx); err != nil {
		return err
	}
	if err := s.primary.Remove(ctx, ids, wc); err != nil {
		return err
	}
	s.mirrorWrite("RecoverableStore.Remove", func() error {
		return s.secondary.Remove(context.Background(), ids, wc)
	})
	return nil
}
