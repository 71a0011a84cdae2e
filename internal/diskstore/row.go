// Package diskstore implements DiskStore (spec §4.6): a persistent
// Storage API layer over a PersistenceEngine, translating the query
// language into the engine's filter/sort expressions, running migrations,
// and gating access through a load/recover state machine.
//
// One Store instance persists exactly one entity type tag, matching the
// one-table-per-type-tag layout of §6.
package diskstore

import (
	"fmt"
	"time"

	"github.com/scribd/lucid/internal/entity"
)

// Row is the column-shaped representation of one persisted entity (spec §6):
// the dual-identifier columns, optional sync-state/last-read bookkeeping,
// and one opaque encoded value per used property.
type Row struct {
	Remote             int64
	Local              string
	TypeTag            string
	SyncState          entity.SyncState
	HasSyncState       bool
	LastRemoteRead     time.Time
	HasLastRemoteRead  bool
	Properties         map[string]PropertyValue
}

// PropertyValueKind distinguishes how a Row's property column was encoded
// (spec §6's scalar-encoding table).
type PropertyValueKind int

const (
	PropString PropertyValueKind = iota
	PropInt64
	PropFloat64
	PropBool
	PropBlob // arrays, to-many relationships: opaque binary
)

// PropertyValue is one column's encoded value, plus (for relationship
// columns) the companion dual-key pair the spec calls for.
type PropertyValue struct {
	Kind PropertyValueKind

	String string
	Int    int64
	Float  float64
	Bool   bool
	Blob   []byte

	// Relationship companion columns: __prop (identifier.local form) and
	// __prop_type_uid, populated only when this property encodes a
	// one-to-one relationship rather than a scalar.
	IsRelationship   bool
	RelationRemote   int64
	RelationLocal    string
	RelationTypeTag  string
	Lazy             bool
}

// Key identifies a row for delete/batch-delete without requiring the full
// decoded entity.
type Key struct {
	Remote int64
	Local  string
}

func KeyOf(id entity.Identifier) Key {
	return Key{Remote: id.Remote, Local: id.Local}
}

// String renders a Key as an audit-log key string ("remote:local").
func (k Key) String() string {
	return fmt.Sprintf("%d:%s", k.Remote, k.Local)
}

// Codec converts between a domain Entity and its Row representation. One
// Codec is registered per entity type tag.
type Codec interface {
	Encode(e entity.Entity) (Row, error)
	Decode(row Row) (entity.Entity, error)
}
