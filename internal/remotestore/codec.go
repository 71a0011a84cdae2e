package remotestore

import (
	"github.com/scribd/lucid/internal/entity"
)

// Codec translates between the wire payload RemoteStore sends/receives and
// domain entities. Kept separate from Transport so a caller can swap JSON for
// another wire format without touching request dispatch.
type Codec interface {
	// DecodeList parses a list-shaped response payload, returning every
	// entity found plus the root identifiers (top-level results, as opposed
	// to entities pulled in only to satisfy a relationship) used to populate
	// query.Meta.RootIdentifiers.
	DecodeList(payload []byte) (entities []entity.Entity, rootIdentifiers []entity.Identifier, err error)
	// DecodeOne parses a single-entity response payload.
	DecodeOne(payload []byte) (entity.Entity, error)
	// EncodeEntity renders an entity as the request body for a create/update.
	EncodeEntity(e entity.Entity) ([]byte, error)
}
