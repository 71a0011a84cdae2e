// Package query implements the filter-expression language described in
// spec §3: property references, literal values, and binary/unary operators,
// plus ordering, pagination, grouping and a free-form context tag.
package query

import (
	"fmt"

	"github.com/scribd/lucid/internal/entity"
)

// Op is a query operator.
type Op int

const (
	OpAnd Op = iota
	OpOr
	OpEqualTo
	OpContainedIn
	OpMatch // regex
	OpLessThan
	OpLessThanOrEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpNegated // unary
)

// Expr is a node in a query's filter expression tree.
type Expr interface {
	isExpr()
}

// Property references a named field on the stored entity. "identifier" is
// the reserved property name for identifier predicates (spec §3, §4.6).
type Property struct{ Name string }

func (Property) isExpr() {}

// Value is a literal operand: exactly one of Scalar or Array is populated.
type Value struct {
	Scalar interface{}
	Array  []interface{}
}

func (Value) isExpr() {}

// Binary is a two-operand expression. For comparison/equality/containment
// operators, one side must be a Property and the other a Value (or nested
// And/Or for OpAnd/OpOr) — see Validate.
type Binary struct {
	Op    Op
	Left  Expr
	Right Expr
}

func (Binary) isExpr() {}

// Unary negates an inner expression (OpNegated is the only unary operator).
type Unary struct {
	Op    Op
	Inner Expr
}

func (Unary) isExpr() {}

// OrderClause is one element of a query's ordering sequence.
type OrderClause struct {
	Property  string
	Ascending bool
}

// Query is a full filter expression plus ordering/pagination/grouping.
type Query struct {
	Identifier *entity.Identifier // present for Get-style single-entity queries
	Filter     Expr
	Order      []OrderClause
	Offset     int
	Limit      int // 0 means unlimited
	GroupedBy  string
	Context    string
}

// All returns the query matching every entity of a type, no filter applied.
func All() Query { return Query{} }

// Validate enforces the invariant that equalTo/containedIn/match/comparison
// operators take a property on one side and a value on the other, never two
// nested boolean subexpressions (spec §3).
func (q Query) Validate() error {
	if q.Filter == nil {
		return nil
	}
	return validateExpr(q.Filter)
}

func validateExpr(e Expr) error {
	switch v := e.(type) {
	case Binary:
		switch v.Op {
		case OpAnd, OpOr:
			if err := validateExpr(v.Left); err != nil {
				return err
			}
			return validateExpr(v.Right)
		case OpEqualTo, OpContainedIn, OpMatch, OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
			return validatePropertyValuePair(v.Left, v.Right)
		default:
			return fmt.Errorf("query: unknown binary operator %d", v.Op)
		}
	case Unary:
		if v.Op != OpNegated {
			return fmt.Errorf("query: unknown unary operator %d", v.Op)
		}
		return validateExpr(v.Inner)
	case Property, Value:
		return fmt.Errorf("query: bare %T is not a valid top-level filter", v)
	default:
		return fmt.Errorf("query: unknown expression type %T", e)
	}
}

func validatePropertyValuePair(left, right Expr) error {
	_, leftIsProp := left.(Property)
	_, rightIsProp := right.(Property)
	_, leftIsVal := left.(Value)
	_, rightIsVal := right.(Value)

	switch {
	case leftIsProp && rightIsVal:
		return nil
	case rightIsProp && leftIsVal:
		return nil
	default:
		return fmt.Errorf("query: comparison operators require one property and one value operand")
	}
}

// IdentifierEqualTo builds the canonical identifier-equality predicate,
// expanded per spec §3/§4.6 into a disjunction over type tag and either key
// component, since both keys may independently locate the record.
func IdentifierEqualTo(id entity.Identifier) Expr {
	var remoteOrLocal Expr
	switch {
	case id.HasRemote() && id.HasLocal():
		remoteOrLocal = Binary{Op: OpOr,
			Left:  Binary{Op: OpEqualTo, Left: Property{"identifier.remote"}, Right: Value{Scalar: id.Remote}},
			Right: Binary{Op: OpEqualTo, Left: Property{"identifier.local"}, Right: Value{Scalar: id.Local}},
		}
	case id.HasRemote():
		remoteOrLocal = Binary{Op: OpEqualTo, Left: Property{"identifier.remote"}, Right: Value{Scalar: id.Remote}}
	default:
		remoteOrLocal = Binary{Op: OpEqualTo, Left: Property{"identifier.local"}, Right: Value{Scalar: id.Local}}
	}
	return Binary{
		Op:   OpAnd,
		Left: Binary{Op: OpEqualTo, Left: Property{"identifier.typeTag"}, Right: Value{Scalar: id.TypeTag}},
		Right: remoteOrLocal,
	}
}

// RelationshipEqualTo builds the equality predicate for a one-to-one
// relationship property, expanded identically to IdentifierEqualTo but
// addressed at the relationship's own companion columns rather than the
// entity's own identifier (spec §4.6).
func RelationshipEqualTo(property string, id entity.Identifier) Expr {
	var remoteOrLocal Expr
	switch {
	case id.HasRemote() && id.HasLocal():
		remoteOrLocal = Binary{Op: OpOr,
			Left:  Binary{Op: OpEqualTo, Left: Property{property + ".remote"}, Right: Value{Scalar: id.Remote}},
			Right: Binary{Op: OpEqualTo, Left: Property{property + ".local"}, Right: Value{Scalar: id.Local}},
		}
	case id.HasRemote():
		remoteOrLocal = Binary{Op: OpEqualTo, Left: Property{property + ".remote"}, Right: Value{Scalar: id.Remote}}
	default:
		remoteOrLocal = Binary{Op: OpEqualTo, Left: Property{property + ".local"}, Right: Value{Scalar: id.Local}}
	}
	return Binary{
		Op:   OpAnd,
		Left: Binary{Op: OpEqualTo, Left: Property{property + ".typeTag"}, Right: Value{Scalar: id.TypeTag}},
		Right: remoteOrLocal,
	}
}

// IdentifierContainedIn builds the disjunction-of-disjunctions expansion for
// a containedIn filter over a set of identifiers (spec §3).
func IdentifierContainedIn(ids []entity.Identifier) Expr {
	if len(ids) == 0 {
		return Value{Scalar: false}
	}
	expr := IdentifierEqualTo(ids[0])
	for _, id := range ids[1:] {
		expr = Binary{Op: OpOr, Left: expr, Right: IdentifierEqualTo(id)}
	}
	return expr
}

// EnumerableIdentifiers reports whether the query's filter is exactly an
// identifier containedIn/equalTo predicate over a fully known, finite set of
// identifiers with no offset/limit — the fast-path condition CacheStore.search
// checks before trying the hot tier (spec §4.8).
func (q Query) EnumerableIdentifiers() ([]entity.Identifier, bool) {
	if q.Offset != 0 || q.Limit != 0 || q.GroupedBy != "" {
		return nil, false
	}
	ids, ok := extractIdentifiers(q.Filter)
	return ids, ok
}

func extractIdentifiers(e Expr) ([]entity.Identifier, bool) {
	// Recognizes the shape produced by IdentifierEqualTo/IdentifierContainedIn:
	// nested (typeTag == t AND (remote == r OR local == l)) possibly OR'd together.
	switch v := e.(type) {
	case Binary:
		if v.Op == OpOr {
			left, ok := extractIdentifiers(v.Left)
			if !ok {
				return nil, false
			}
			right, ok := extractIdentifiers(v.Right)
			if !ok {
				return nil, false
			}
			return append(left, right...), true
		}
		if v.Op == OpAnd {
			typeTag, ok := identifierTypeTagOf(v.Left)
			if !ok {
				return nil, false
			}
			id, ok := identifierFromRemoteOrLocal(typeTag, v.Right)
			if !ok {
				return nil, false
			}
			return []entity.Identifier{id}, true
		}
	}
	return nil, false
}

func identifierTypeTagOf(e Expr) (string, bool) {
	b, ok := e.(Binary)
	if !ok || b.Op != OpEqualTo {
		return "", false
	}
	prop, ok := b.Left.(Property)
	if !ok || prop.Name != "identifier.typeTag" {
		return "", false
	}
	val, ok := b.Right.(Value)
	if !ok {
		return "", false
	}
	s, ok := val.Scalar.(string)
	return s, ok
}

func identifierFromRemoteOrLocal(typeTag string, e Expr) (entity.Identifier, bool) {
	if b, ok := e.(Binary); ok && b.Op == OpOr {
		id, ok := identifierFromRemoteOrLocal(typeTag, b.Left)
		if ok {
			return id, true
		}
		return identifierFromRemoteOrLocal(typeTag, b.Right)
	}
	b, ok := e.(Binary)
	if !ok || b.Op != OpEqualTo {
		return entity.Identifier{}, false
	}
	prop, ok := b.Left.(Property)
	if !ok {
		return entity.Identifier{}, false
	}
	val, ok := b.Right.(Value)
	if !ok {
		return entity.Identifier{}, false
	}
	switch prop.Name {
	case "identifier.remote":
		remote, ok := val.Scalar.(int64)
		if !ok {
			return entity.Identifier{}, false
		}
		return entity.NewRemoteIdentifier(typeTag, remote), true
	case "identifier.local":
		local, ok := val.Scalar.(string)
		if !ok {
			return entity.Identifier{}, false
		}
		return entity.NewLocalIdentifier(typeTag, local), true
	default:
		return entity.Identifier{}, false
	}
}
