// Package entity defines the domain value and identifier contracts every
// store layer operates over. Entities are immutable value snapshots: an
// update produces a new snapshot rather than mutating one in place.
package entity

import "fmt"

// SyncState is an identifier's remote-synchronization state. It only ever
// advances outOfSync -> pending -> synced; see CanTransitionTo.
type SyncState int

const (
	// OutOfSync means the entity has never been pushed to the remote store.
	OutOfSync SyncState = iota
	// Pending means a create/update request has been enqueued but not yet
	// confirmed by the server.
	Pending
	// Synced means the server has confirmed the entity.
	Synced
)

func (s SyncState) String() string {
	switch s {
	case OutOfSync:
		return "outOfSync"
	case Pending:
		return "pending"
	case Synced:
		return "synced"
	default:
		return "unknown"
	}
}

// CanTransitionTo reports whether moving from s to next is a legal forward
// transition. Sync state never moves backward.
func (s SyncState) CanTransitionTo(next SyncState) bool {
	return next >= s
}

// Identifier is a dual (remote?, local?) key with a type tag distinguishing
// entities of different kinds that share a numeric remote-id space. At least
// one of Remote/Local must be present (HasRemote() || HasLocal()).
type Identifier struct {
	TypeTag string
	Remote  int64  // 0 means absent; remote ids are always > 0
	Local   string // "" means absent

	state SyncState
}

// NewLocalIdentifier mints a client-side identifier with no remote value yet.
func NewLocalIdentifier(typeTag, local string) Identifier {
	return Identifier{TypeTag: typeTag, Local: local, state: OutOfSync}
}

// NewRemoteIdentifier wraps a server-assigned identifier, already synced.
func NewRemoteIdentifier(typeTag string, remote int64) Identifier {
	return Identifier{TypeTag: typeTag, Remote: remote, state: Synced}
}

// NewDualIdentifier wraps an identifier that carries both components, as
// produced when a locally-created entity's create request is confirmed.
func NewDualIdentifier(typeTag string, remote int64, local string) Identifier {
	return Identifier{TypeTag: typeTag, Remote: remote, Local: local, state: Synced}
}

func (id Identifier) HasRemote() bool { return id.Remote != 0 }
func (id Identifier) HasLocal() bool  { return id.Local != "" }

// Zero reports whether id carries no component at all (an invalid identifier
// per the spec's invariant that at least one component must be present).
func (id Identifier) Zero() bool { return !id.HasRemote() && !id.HasLocal() }

// SyncState returns the identifier's current synchronization state.
func (id Identifier) SyncState() SyncState { return id.state }

// WithSyncState returns a copy of id with the given sync state, validating
// the transition is forward-only. Invalid transitions are clamped to the
// current state rather than silently accepted, since sync state is meant to
// be monotonic.
func (id Identifier) WithSyncState(next SyncState) Identifier {
	if !id.state.CanTransitionTo(next) {
		return id
	}
	id.state = next
	return id
}

// Upgrade returns an identifier that is the union of id and other's present
// components, preferring id's own sync state unless other's is more
// advanced. Used by dualhash.Index when a lookup reveals a missing component.
func (id Identifier) Upgrade(other Identifier) Identifier {
	out := id
	if !out.HasRemote() && other.HasRemote() {
		out.Remote = other.Remote
	}
	if !out.HasLocal() && other.HasLocal() {
		out.Local = other.Local
	}
	if other.state > out.state {
		out.state = other.state
	}
	return out
}

// Equal compares identifiers ignoring uninitialized components: two
// identifiers are equal if every component present on both sides agrees and
// they share a type tag.
func (id Identifier) Equal(other Identifier) bool {
	if id.TypeTag != other.TypeTag {
		return false
	}
	if id.HasRemote() && other.HasRemote() && id.Remote != other.Remote {
		return false
	}
	if id.HasLocal() && other.HasLocal() && id.Local != other.Local {
		return false
	}
	return id.HasRemote() == other.HasRemote() || id.HasLocal() == other.HasLocal() ||
		(id.HasRemote() && other.HasLocal()) || (id.HasLocal() && other.HasRemote())
}

func (id Identifier) String() string {
	return fmt.Sprintf("%s{remote:%d,local:%q,sync:%s}", id.TypeTag, id.Remote, id.Local, id.state)
}

// Entity is the contract every domain value stored in the stack must
// satisfy. Implementations are expected to be immutable value types (or
// pointers treated as immutable after construction).
type Entity interface {
	// Identifier returns the entity's stable identifier.
	Identifier() Identifier
	// Merging returns a new entity combining the receiver and other. Must be
	// associative and idempotent for entities sharing an identifier.
	Merging(other Entity) Entity
	// ShouldOverwrite reports whether an incoming write may update the
	// receiver. When true, the default Storage API merge policy (spec §4.1)
	// stores receiver.Merging(with); when false, the incoming write is skipped
	// and the receiver is kept. Consulted only when the write context does not
	// force an identifier-only merge.
	ShouldOverwrite(with Entity) bool
}
