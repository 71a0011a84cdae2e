package recoverablestore

import (
	"context"
	"testing"
	"time"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/memorystore"
	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/store"
	"github.com/scribd/lucid/internal/taskqueue"
)

type widget struct {
	id entity.Identifier
}

func (w widget) Identifier() entity.Identifier       { return w.id }
func (w widget) Merging(other entity.Entity) entity.Entity { return other }
func (w widget) ShouldOverwrite(with entity.Entity) bool   { return true }

func TestRecoveryCopiesPrimaryToSecondaryWhenPrimaryNonEmpty(t *testing.T) {
	primary := memorystore.New()
	secondary := memorystore.New()
	id := entity.NewLocalIdentifier("widget", "a")
	primary.Set(context.Background(), []entity.Entity{widget{id: id}}, store.WriteLocal())

	q := taskqueue.New(4)
	s := New(primary, secondary, q, nil)

	if err := s.awaitRecovery(context.Background()); err != nil {
		t.Fatalf("await recovery: %v", err)
	}
	if secondary.Count() != 1 {
		t.Fatalf("secondary count = %d, want 1 after recovery", secondary.Count())
	}
}

func TestRecoveryRestoresPrimaryFromSecondaryWhenPrimaryEmpty(t *testing.T) {
	primary := memorystore.New()
	secondary := memorystore.New()
	id := entity.NewLocalIdentifier("widget", "a")
	secondary.Set(context.Background(), []entity.Entity{widget{id: id}}, store.WriteLocal())

	q := taskqueue.New(4)
	s := New(primary, secondary, q, nil)

	if err := s.awaitRecovery(context.Background()); err != nil {
		t.Fatalf("await recovery: %v", err)
	}
	if primary.Count() != 1 {
		t.Fatalf("primary count = %d, want 1 after restore", primary.Count())
	}
}

func TestSetMirrorsToSecondaryBestEffort(t *testing.T) {
	primary := memorystore.New()
	secondary := memorystore.New()
	q := taskqueue.New(4)
	s := New(primary, secondary, q, nil)

	id := entity.NewLocalIdentifier("widget", "a")
	if _, err := s.Set(context.Background(), []entity.Entity{widget{id: id}}, store.WriteLocal()); err != nil {
		t.Fatalf("set: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for secondary.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if secondary.Count() != 1 {
		t.Fatalf("secondary count = %d, want 1 after mirrored set", secondary.Count())
	}

	res, err := primary.Get(context.Background(), query.Query{Identifier: &id}, store.Local())
	if err != nil || len(res.Flat) == 0 {
		t.Fatalf("get from primary after set: res=%v err=%v", res, err)
	}
}
