package query

import "github.com/scribd/lucid/internal/entity"

// Result is either a flat ordered sequence of entities or a mapping from
// group key to sequence, plus optional pagination/root-identifier metadata
// (spec §3).
type Result struct {
	Flat    []entity.Entity
	Grouped map[string][]entity.Entity

	Meta Meta
}

// Meta carries optional pagination and root-identifier-set information.
// RootIdentifiers, when non-nil, designates the subset of AllEntities that
// the remote payload calls out as top-level results as opposed to inlined
// relationship hydration (spec glossary: "root identifier set").
type Meta struct {
	TotalCount      int
	HasMore         bool
	RootIdentifiers []entity.Identifier
	FromCache       bool // true if served directly from a response cache
}

// IsGrouped reports whether the result is a grouped mapping rather than a
// flat sequence.
func (r Result) IsGrouped() bool { return r.Grouped != nil }

// AllEntities flattens a grouped result into a single sequence, or returns
// the flat sequence unchanged. Used by RemoteStore when filtering to the
// root identifier set (spec §4.9 step 5).
func (r Result) AllEntities() []entity.Entity {
	if !r.IsGrouped() {
		return r.Flat
	}
	var all []entity.Entity
	for _, group := range r.Grouped {
		all = append(all, group...)
	}
	return all
}

// FilterToRoots returns a copy of r containing only entities whose
// identifier is in the root identifier set. If Meta.RootIdentifiers is nil,
// r is returned unchanged (nothing to filter against).
func (r Result) FilterToRoots() Result {
	if r.Meta.RootIdentifiers == nil {
		return r
	}
	roots := make(map[string]bool, len(r.Meta.RootIdentifiers))
	for _, id := range r.Meta.RootIdentifiers {
		roots[rootKey(id)] = true
	}
	filterSeq := func(in []entity.Entity) []entity.Entity {
		out := make([]entity.Entity, 0, len(in))
		for _, e := range in {
			if roots[rootKey(e.Identifier())] {
				out = append(out, e)
			}
		}
		return out
	}
	if r.IsGrouped() {
		grouped := make(map[string][]entity.Entity, len(r.Grouped))
		for k, v := range r.Grouped {
			grouped[k] = filterSeq(v)
		}
		return Result{Grouped: grouped, Meta: r.Meta}
	}
	return Result{Flat: filterSeq(r.Flat), Meta: r.Meta}
}

func rootKey(id entity.Identifier) string {
	if id.HasRemote() {
		return id.TypeTag + ":r:" + itoa(id.Remote)
	}
	return id.TypeTag + ":l:" + id.Local
}

func itoa(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
