// Package dualhash implements the backing store for DualHashDictionary
// (spec §3, §4.3): a mapping keyed by Identifier, where any of
// {remote-only, local-only, full} key forms locates the same slot once ever
// associated, and writing via any key form may upgrade the stored key.
package dualhash

import (
	"sync"

	"github.com/scribd/lucid/internal/entity"
)

type slotID uint64

type remoteKey struct {
	typeTag string
	remote  int64
}

type localKey struct {
	typeTag string
	local   string
}

type slot[V any] struct {
	id       slotID
	key      entity.Identifier
	value    V
	writeSeq uint64
}

// Index is the dual-hash backing store. It is safe for concurrent use.
type Index[V any] struct {
	mu       sync.Mutex
	byRemote map[remoteKey]slotID
	byLocal  map[localKey]slotID
	slots    map[slotID]*slot[V]
	nextSlot slotID
	seq      uint64
}

// New constructs an empty Index.
func New[V any]() *Index[V] {
	return &Index[V]{
		byRemote: make(map[remoteKey]slotID),
		byLocal:  make(map[localKey]slotID),
		slots:    make(map[slotID]*slot[V]),
	}
}

func (idx *Index[V]) candidateSlots(key entity.Identifier) []slotID {
	seen := make(map[slotID]bool, 2)
	var out []slotID
	if key.HasRemote() {
		if id, ok := idx.byRemote[remoteKey{key.TypeTag, key.Remote}]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if key.HasLocal() {
		if id, ok := idx.byLocal[localKey{key.TypeTag, key.Local}]; ok && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func (idx *Index[V]) reindex(s *slot[V]) {
	if s.key.HasRemote() {
		idx.byRemote[remoteKey{s.key.TypeTag, s.key.Remote}] = s.id
	}
	if s.key.HasLocal() {
		idx.byLocal[localKey{s.key.TypeTag, s.key.Local}] = s.id
	}
}

// Set stores value under key, merging with any existing slot reachable
// through key's components, or resolving a collision between two
// previously-separate slots that key now proves are the same record
// (spec §4.3).
func (idx *Index[V]) Set(key entity.Identifier, value V) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.setLocked(key, value)
}

func (idx *Index[V]) setLocked(key entity.Identifier, value V) slotID {
	idx.seq++
	writeSeq := idx.seq

	candidates := idx.candidateSlots(key)

	switch len(candidates) {
	case 0:
		id := idx.nextSlot
		idx.nextSlot++
		s := &slot[V]{id: id, key: key, value: value, writeSeq: writeSeq}
		idx.slots[id] = s
		idx.reindex(s)
		return id
	case 1:
		s := idx.slots[candidates[0]]
		s.key = s.key.Upgrade(key)
		s.value = value
		s.writeSeq = writeSeq
		idx.reindex(s)
		return s.id
	default:
		survivor := idx.resolveCollision(candidates)
		survivor.key = survivor.key.Upgrade(key)
		survivor.value = value
		survivor.writeSeq = writeSeq
		idx.reindex(survivor)
		return survivor.id
	}
}

// resolveCollision picks the most-recently-written of the candidate slots as
// survivor, reindexes every component from every candidate onto it, and
// deletes the other slot records.
func (idx *Index[V]) resolveCollision(candidates []slotID) *slot[V] {
	var survivor *slot[V]
	for _, id := range candidates {
		s := idx.slots[id]
		if survivor == nil || s.writeSeq > survivor.writeSeq {
			survivor = s
		}
	}
	for _, id := range candidates {
		if id == survivor.id {
			continue
		}
		s := idx.slots[id]
		survivor.key = survivor.key.Upgrade(s.key)
		delete(idx.slots, id)
	}
	return survivor
}

// Get looks up value by any component present on key. The first hit wins,
// remote before local. The returned Identifier is key upgraded in place with
// any components the lookup revealed.
func (idx *Index[V]) Get(key entity.Identifier) (value V, upgraded entity.Identifier, ok bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	candidates := idx.candidateSlots(key)
	if len(candidates) == 0 {
		return value, key, false
	}
	s := idx.slots[candidates[0]]
	return s.value, key.Upgrade(s.key), true
}

// Delete removes the slot reachable through key, if any. Returns true if a
// slot was removed.
func (idx *Index[V]) Delete(key entity.Identifier) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	candidates := idx.candidateSlots(key)
	if len(candidates) == 0 {
		return false
	}
	for _, id := range candidates {
		idx.deleteSlotLocked(id)
	}
	return true
}

func (idx *Index[V]) deleteSlotLocked(id slotID) {
	s, ok := idx.slots[id]
	if !ok {
		return
	}
	if s.key.HasRemote() {
		delete(idx.byRemote, remoteKey{s.key.TypeTag, s.key.Remote})
	}
	if s.key.HasLocal() {
		delete(idx.byLocal, localKey{s.key.TypeTag, s.key.Local})
	}
	delete(idx.slots, id)
}

// Count returns the number of distinct slots, not distinct key forms.
func (idx *Index[V]) Count() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return len(idx.slots)
}

// Clear removes every slot, for memory-pressure eviction.
func (idx *Index[V]) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byRemote = make(map[remoteKey]slotID)
	idx.byLocal = make(map[localKey]slotID)
	idx.slots = make(map[slotID]*slot[V])
}

// Range calls fn for every slot's (key, value). fn must not call back into
// idx; Range holds the lock for its duration.
func (idx *Index[V]) Range(fn func(key entity.Identifier, value V)) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, s := range idx.slots {
		fn(s.key, s.value)
	}
}
