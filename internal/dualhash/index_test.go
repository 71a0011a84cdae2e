package dualhash

import (
	"testing"

	"github.com/scribd/lucid/internal/entity"
)

func TestIndexSetGetByEitherComponent(t *testing.T) {
	idx := New[string]()
	id := entity.NewDualIdentifier("widget", 42, "local-1")
	idx.Set(id, "hello")

	if v, _, ok := idx.Get(entity.NewRemoteIdentifier("widget", 42)); !ok || v != "hello" {
		t.Fatalf("get by remote: got (%q, %v), want (hello, true)", v, ok)
	}
	if v, _, ok := idx.Get(entity.NewLocalIdentifier("widget", "local-1")); !ok || v != "hello" {
		t.Fatalf("get by local: got (%q, %v), want (hello, true)", v, ok)
	}
	if idx.Count() != 1 {
		t.Fatalf("count = %d, want 1", idx.Count())
	}
}

func TestIndexSetUpgradesLocalOnlyToDual(t *testing.T) {
	idx := New[string]()
	local := entity.NewLocalIdentifier("widget", "local-1")
	idx.Set(local, "v1")

	dual := entity.NewDualIdentifier("widget", 99, "local-1")
	idx.Set(dual, "v2")

	if idx.Count() != 1 {
		t.Fatalf("count = %d, want 1 after upgrade", idx.Count())
	}
	v, upgraded, ok := idx.Get(entity.NewRemoteIdentifier("widget", 99))
	if !ok || v != "v2" {
		t.Fatalf("get by remote after upgrade: got (%q, %v)", v, ok)
	}
	if !upgraded.HasLocal() || upgraded.Local != "local-1" {
		t.Fatalf("upgraded identifier missing local component: %+v", upgraded)
	}
}

func TestIndexSetResolvesCollision(t *testing.T) {
	idx := New[string]()
	idx.Set(entity.NewRemoteIdentifier("widget", 1), "from-remote")
	idx.Set(entity.NewLocalIdentifier("widget", "local-a"), "from-local")

	if idx.Count() != 2 {
		t.Fatalf("count = %d, want 2 before collision", idx.Count())
	}

	idx.Set(entity.NewDualIdentifier("widget", 1, "local-a"), "merged")

	if idx.Count() != 1 {
		t.Fatalf("count = %d, want 1 after collision resolution", idx.Count())
	}
	if v, _, ok := idx.Get(entity.NewRemoteIdentifier("widget", 1)); !ok || v != "merged" {
		t.Fatalf("get by remote after collision: got (%q, %v)", v, ok)
	}
	if v, _, ok := idx.Get(entity.NewLocalIdentifier("widget", "local-a")); !ok || v != "merged" {
		t.Fatalf("get by local after collision: got (%q, %v)", v, ok)
	}
}

func TestIndexDeleteRemovesAllComponents(t *testing.T) {
	idx := New[string]()
	id := entity.NewDualIdentifier("widget", 7, "local-7")
	idx.Set(id, "x")

	if !idx.Delete(entity.NewRemoteIdentifier("widget", 7)) {
		t.Fatalf("delete returned false")
	}
	if _, _, ok := idx.Get(entity.NewLocalIdentifier("widget", "local-7")); ok {
		t.Fatalf("entry still reachable by local component after delete")
	}
	if idx.Count() != 0 {
		t.Fatalf("count = %d, want 0", idx.Count())
	}
}

func TestOrderedTracksInsertionOrderAndMoveToBackOnRewrite(t *testing.T) {
	o := NewOrdered[int]()
	a := entity.NewLocalIdentifier("widget", "a")
	b := entity.NewLocalIdentifier("widget", "b")
	c := entity.NewLocalIdentifier("widget", "c")

	o.Set(a, 1)
	o.Set(b, 2)
	o.Set(c, 3)
	o.Set(a, 10) // rewrite moves a to back

	var order []string
	o.Range(func(key entity.Identifier, value int) {
		order = append(order, key.Local)
	})
	want := []string{"b", "c", "a"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestOrderedFrontEvictsOldest(t *testing.T) {
	o := NewOrdered[int]()
	o.Set(entity.NewLocalIdentifier("widget", "a"), 1)
	o.Set(entity.NewLocalIdentifier("widget", "b"), 2)

	key, value, ok := o.Front()
	if !ok || key.Local != "a" || value != 1 {
		t.Fatalf("front = (%v, %v, %v), want (a, 1, true)", key, value, ok)
	}
	if o.Count() != 1 {
		t.Fatalf("count after front = %d, want 1", o.Count())
	}
}
