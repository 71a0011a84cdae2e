package store

import (
	"context"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/query"
)

// CallbackStore adapts a suspending Store to callback-style calls for
// boundary callers that are not goroutine-driven themselves (spec §6:
// "both callback-style and suspending forms must be provided"). Every call
// invokes its callback exactly once, on a new goroutine.
type CallbackStore struct {
	inner Store
}

// NewCallbackStore wraps inner for callback-style access.
func NewCallbackStore(inner Store) *CallbackStore {
	return &CallbackStore{inner: inner}
}

func (c *CallbackStore) Get(ctx context.Context, q query.Query, rc ReadContext, cb func(query.Result, error)) {
	go func() {
		r, err := c.inner.Get(ctx, q, rc)
		cb(r, err)
	}()
}

func (c *CallbackStore) Search(ctx context.Context, q query.Query, rc ReadContext, cb func(query.Result, error)) {
	go func() {
		r, err := c.inner.Search(ctx, q, rc)
		cb(r, err)
	}()
}

func (c *CallbackStore) Set(ctx context.Context, entities []entity.Entity, wc WriteContext, cb func([]entity.Entity, error)) {
	go func() {
		written, err := c.inner.Set(ctx, entities, wc)
		cb(written, err)
	}()
}

func (c *CallbackStore) RemoveAll(ctx context.Context, q query.Query, wc WriteContext, cb func([]entity.Identifier, error)) {
	go func() {
		ids, err := c.inner.RemoveAll(ctx, q, wc)
		cb(ids, err)
	}()
}

func (c *CallbackStore) Remove(ctx context.Context, ids []entity.Identifier, wc WriteContext, cb func(error)) {
	go func() {
		cb(c.inner.Remove(ctx, ids, wc))
	}()
}
