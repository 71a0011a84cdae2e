package diskstore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/scribd/lucid/internal/query"
	"github.com/scribd/lucid/internal/storeerr"
)

// column resolves a query.Property name to a SQL column, per the layout of
// spec §6: the entity's own identifier uses the fixed _identifier/
// __identifier/__type_uid columns; a named one-to-one relationship property
// "foo" uses companion columns _foo/__foo/__foo_type_uid; any other
// property "foo" is a plain scalar column _foo.
func column(propertyName string) (string, error) {
	switch propertyName {
	case "identifier.remote":
		return "_identifier", nil
	case "identifier.local":
		return "__identifier", nil
	case "identifier.typeTag":
		return "__type_uid", nil
	}
	if strings.HasSuffix(propertyName, ".remote") {
		return "_" + strings.TrimSuffix(propertyName, ".remote"), nil
	}
	if strings.HasSuffix(propertyName, ".local") {
		return "__" + strings.TrimSuffix(propertyName, ".local"), nil
	}
	if strings.HasSuffix(propertyName, ".typeTag") {
		return "__" + strings.TrimSuffix(propertyName, ".typeTag") + "_type_uid", nil
	}
	if propertyName == "" {
		return "", fmt.Errorf("diskstore: empty property name")
	}
	return "_" + propertyName, nil
}

// translateExpr renders e as a SQL boolean expression, appending bind values
// to args in order and using $N placeholders (pgx/Postgres convention).
func translateExpr(e query.Expr, args *[]interface{}) (string, error) {
	switch v := e.(type) {
	case query.Binary:
		switch v.Op {
		case query.OpAnd:
			l, err := translateExpr(v.Left, args)
			if err != nil {
				return "", err
			}
			r, err := translateExpr(v.Right, args)
			if err != nil {
				return "", err
			}
			return "(" + l + " AND " + r + ")", nil
		case query.OpOr:
			l, err := translateExpr(v.Left, args)
			if err != nil {
				return "", err
			}
			r, err := translateExpr(v.Right, args)
			if err != nil {
				return "", err
			}
			return "(" + l + " OR " + r + ")", nil
		default:
			return translateComparison(v, args)
		}
	case query.Unary:
		if v.Op != query.OpNegated {
			return "", fmt.Errorf("diskstore: unknown unary operator %d", v.Op)
		}
		inner, err := translateExpr(v.Inner, args)
		if err != nil {
			return "", err
		}
		return "(NOT " + inner + ")", nil
	default:
		return "", fmt.Errorf("diskstore: %T is not a valid top-level filter node", e)
	}
}

func translateComparison(b query.Binary, args *[]interface{}) (string, error) {
	prop, val, swapped, err := propertyValue(b)
	if err != nil {
		return "", err
	}
	col, err := column(prop.Name)
	if err != nil {
		return "", err
	}

	sqlOp, err := comparisonOperator(b.Op, swapped)
	if err != nil {
		return "", err
	}

	if b.Op == query.OpContainedIn {
		if len(val.Array) == 0 {
			return "FALSE", nil
		}
		placeholders := make([]string, len(val.Array))
		for i, elem := range val.Array {
			*args = append(*args, elem)
			placeholders[i] = "$" + strconv.Itoa(len(*args))
		}
		return col + " IN (" + strings.Join(placeholders, ", ") + ")", nil
	}

	if b.Op == query.OpMatch {
		*args = append(*args, val.Scalar)
		return col + " ~ $" + strconv.Itoa(len(*args)), nil
	}

	*args = append(*args, val.Scalar)
	return col + " " + sqlOp + " $" + strconv.Itoa(len(*args)), nil
}

func propertyValue(b query.Binary) (query.Property, query.Value, bool, error) {
	if p, ok := b.Left.(query.Property); ok {
		if v, ok := b.Right.(query.Value); ok {
			return p, v, false, nil
		}
	}
	if p, ok := b.Right.(query.Property); ok {
		if v, ok := b.Left.(query.Value); ok {
			return p, v, true, nil
		}
	}
	return query.Property{}, query.Value{}, false, storeerr.New("DiskStore.translate", storeerr.KindInvalidContext)
}

func comparisonOperator(op query.Op, swapped bool) (string, error) {
	switch op {
	case query.OpEqualTo:
		return "=", nil
	case query.OpLessThan:
		if swapped {
			return ">", nil
		}
		return "<", nil
	case query.OpLessThanOrEqual:
		if swapped {
			return ">=", nil
		}
		return "<=", nil
	case query.OpGreaterThan:
		if swapped {
			return "<", nil
		}
		return ">", nil
	case query.OpGreaterThanOrEqual:
		if swapped {
			return "<=", nil
		}
		return ">=", nil
	case query.OpContainedIn, query.OpMatch:
		return "", nil // handled by caller
	default:
		return "", fmt.Errorf("diskstore: unknown comparison operator %d", op)
	}
}

// translateSort expands order clauses into engine sort descriptors, emitting
// two descriptors (remote then local) when ordering by identifier so absent
// remotes fall through to local (spec §4.6).
func translateSort(order []query.OrderClause) ([]SortDescriptor, error) {
	var out []SortDescriptor
	for _, clause := range order {
		if clause.Property == "identifier" {
			out = append(out,
				SortDescriptor{Column: "_identifier", Ascending: clause.Ascending},
				SortDescriptor{Column: "__identifier", Ascending: clause.Ascending},
			)
			continue
		}
		col, err := column(clause.Property)
		if err != nil {
			return nil, err
		}
		out = append(out, SortDescriptor{Column: col, Ascending: clause.Ascending})
	}
	return out, nil
}
