package dualhash

import (
	"container/list"
	"sync"

	"github.com/scribd/lucid/internal/entity"
)

// Ordered wraps an Index with insertion-order tracking: iterating via Range
// visits entries in the order they were first written, and a rewrite via Set
// moves the entry to the back (spec §4.3's OrderedDualHashDictionary, used
// by InMemoryStore/LRUStore where iteration order matters for eviction and
// deterministic search results).
type Ordered[V any] struct {
	mu    sync.Mutex
	idx   *Index[V]
	order *list.List
	elems map[slotID]*list.Element
}

// NewOrdered constructs an empty Ordered dictionary.
func NewOrdered[V any]() *Ordered[V] {
	return &Ordered[V]{
		idx:   New[V](),
		order: list.New(),
		elems: make(map[slotID]*list.Element),
	}
}

// Set stores value under key, moving the entry to the back of the insertion
// order whether it is new or a rewrite.
func (o *Ordered[V]) Set(key entity.Identifier, value V) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.idx.mu.Lock()
	id := o.idx.setLocked(key, value)
	o.idx.mu.Unlock()

	if el, ok := o.elems[id]; ok {
		o.order.MoveToBack(el)
		return
	}
	o.elems[id] = o.order.PushBack(id)
}

// Get looks up value by any component present on key, same semantics as
// Index.Get. Does not affect insertion order; callers implementing LRU
// recency should call Touch after a successful read.
func (o *Ordered[V]) Get(key entity.Identifier) (value V, upgraded entity.Identifier, ok bool) {
	return o.idx.Get(key)
}

// Touch moves the entry reachable through key to the back of the insertion
// order, without changing its value. Used by LRU-style callers on read.
func (o *Ordered[V]) Touch(key entity.Identifier) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.idx.mu.Lock()
	candidates := o.idx.candidateSlots(key)
	o.idx.mu.Unlock()
	if len(candidates) == 0 {
		return false
	}
	if el, ok := o.elems[candidates[0]]; ok {
		o.order.MoveToBack(el)
		return true
	}
	return false
}

// Delete removes the entry reachable through key, if any.
func (o *Ordered[V]) Delete(key entity.Identifier) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.idx.mu.Lock()
	candidates := o.idx.candidateSlots(key)
	for _, id := range candidates {
		o.idx.deleteSlotLocked(id)
	}
	o.idx.mu.Unlock()

	for _, id := range candidates {
		if el, ok := o.elems[id]; ok {
			o.order.Remove(el)
			delete(o.elems, id)
		}
	}
	return len(candidates) > 0
}

// Front removes and returns the oldest entry in insertion order, for
// eviction. ok is false if the dictionary is empty.
func (o *Ordered[V]) Front() (key entity.Identifier, value V, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	front := o.order.Front()
	if front == nil {
		return key, value, false
	}
	id := front.Value.(slotID)

	o.idx.mu.Lock()
	s, exists := o.idx.slots[id]
	if exists {
		key, value = s.key, s.value
		o.idx.deleteSlotLocked(id)
	}
	o.idx.mu.Unlock()

	o.order.Remove(front)
	delete(o.elems, id)
	return key, value, exists
}

// Count returns the number of entries.
func (o *Ordered[V]) Count() int {
	return o.idx.Count()
}

// Clear removes every entry.
func (o *Ordered[V]) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.idx.Clear()
	o.order = list.New()
	o.elems = make(map[slotID]*list.Element)
}

// Range visits entries from oldest to newest. fn must not call back into o.
func (o *Ordered[V]) Range(fn func(key entity.Identifier, value V)) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.idx.mu.Lock()
	defer o.idx.mu.Unlock()
	for el := o.order.Front(); el != nil; el = el.Next() {
		id := el.Value.(slotID)
		if s, ok := o.idx.slots[id]; ok {
			fn(s.key, s.value)
		}
	}
}
