// Package store defines the uniform Storage API contract every layer of the
// entity store stack implements (spec §4.1): get/search/set/removeAll/remove,
// each taking a ReadContext or WriteContext describing the data source or
// target policy.
package store

import (
	"context"
	"errors"

	"github.com/scribd/lucid/internal/entity"
	"github.com/scribd/lucid/internal/query"
)

// ErrNone is returned by set/removeAll/remove to signal "enqueued for
// remote confirmation, no synchronous result" — distinct from both success
// and failure. Callers check errors.Is(err, store.ErrNone).
var ErrNone = errors.New("store: operation accepted, no synchronous result")

// Store is the uniform contract every layer honors.
type Store interface {
	// Get returns the single entity matching query.Identifier, or a zero
	// Result (no error) if absent.
	Get(ctx context.Context, q query.Query, rc ReadContext) (query.Result, error)
	// Search returns every entity matching q, ordered/paginated/grouped per
	// q's clauses where the layer is able to honor them.
	Search(ctx context.Context, q query.Query, rc ReadContext) (query.Result, error)
	// Set writes entities, applying the merge policy (MergeIncoming) against
	// any existing entity sharing an identifier. Returns the merged entities
	// actually written, or ErrNone if the write was only enqueued.
	Set(ctx context.Context, entities []entity.Entity, wc WriteContext) ([]entity.Entity, error)
	// RemoveAll deletes every entity matching q, returning the identifiers
	// removed, or ErrNone if only enqueued.
	RemoveAll(ctx context.Context, q query.Query, wc WriteContext) ([]entity.Identifier, error)
	// Remove deletes the given identifiers, or ErrNone if only enqueued.
	Remove(ctx context.Context, ids []entity.Identifier, wc WriteContext) error
}

// Lookup resolves a single entity's identifier against a candidate set,
// typically used by a layer's set() to find the existing record (if any)
// an incoming entity should be merged with.
type Lookup func(id entity.Identifier) (entity.Entity, bool)

// MergeIncoming applies the §4.1 merge policy for one incoming entity against
// whatever lookup finds for its identifier: insert if absent; unconditional
// replace under HintMergeIdentifier; otherwise defer to the entity's own
// ShouldOverwrite/Merging contract. write reports whether the caller should
// write the returned entity at all — false means the existing record wins
// outright and no write is needed.
func MergeIncoming(incoming entity.Entity, lookup Lookup, hint SyncStateHint) (result entity.Entity, write bool) {
	existing, found := lookup(incoming.Identifier())
	if !found {
		return incoming, true
	}
	if hint == HintMergeIdentifier {
		return incoming, true
	}
	if existing.ShouldOverwrite(incoming) {
		return existing.Merging(incoming), true
	}
	return existing, false
}
