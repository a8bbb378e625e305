package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"realmindex/internal/defs"
	"realmindex/internal/expr"
	"realmindex/internal/query"
)

// filterCondition compiles one filter node. onRef is the scoping type
// inherited from the nearest ancestor that set one; a node's own On
// re-scopes itself and every descendant that doesn't override it.
//
// The filter union is closed: validation guarantees exactly one predicate
// per node, and each predicate tag has its compiler below.
func (e *Engine) filterCondition(f query.Filter, onRef defs.CodeRef) (expr.Expression, error) {
	if f.Type != nil {
		return e.typeCondition(*f.Type), nil
	}

	on := onRef
	if f.On != nil {
		on = *f.On
	}
	var conditions []expr.Expression
	if f.On != nil {
		conditions = append(conditions, e.typeCondition(*f.On))
	}

	switch {
	case f.Eq != nil:
		for _, key := range sortedKeys(f.Eq) {
			value, err := decodeLiteral(f.Eq[key])
			if err != nil {
				return nil, fmt.Errorf("eq filter on %s: %w", key, err)
			}
			conditions = append(conditions, e.fieldEqFilter(key, value, on))
		}
	case f.Contains != nil:
		for _, key := range sortedKeys(f.Contains) {
			value, err := decodeLiteral(f.Contains[key])
			if err != nil {
				return nil, fmt.Errorf("contains filter on %s: %w", key, err)
			}
			conditions = append(conditions, e.fieldContainsFilter(key, value, on))
		}
	case f.Range != nil:
		keys := make([]string, 0, len(f.Range))
		for key := range f.Range {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			condition, err := e.fieldRangeFilter(key, f.Range[key], on)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, condition)
		}
	case f.Not != nil:
		inner, err := e.filterCondition(*f.Not, on)
		if err != nil {
			return nil, err
		}
		negated := expr.Expression{"NOT"}
		negated = append(negated, expr.Parens(inner)...)
		conditions = append(conditions, negated)
	case f.Any != nil:
		subs := make([]expr.Expression, len(f.Any))
		for i, sub := range f.Any {
			condition, err := e.filterCondition(sub, on)
			if err != nil {
				return nil, err
			}
			subs[i] = condition
		}
		conditions = append(conditions, expr.Any(subs))
	case f.Every != nil:
		subs := make([]expr.Expression, len(f.Every))
		for i, sub := range f.Every {
			condition, err := e.filterCondition(sub, on)
			if err != nil {
				return nil, err
			}
			subs[i] = condition
		}
		conditions = append(conditions, expr.Every(subs))
	}
	return expr.Every(conditions), nil
}

// typeCondition tests adoption-chain membership: the row's types array
// contains the type's internal key.
func (e *Engine) typeCondition(ref defs.CodeRef) expr.Expression {
	return expr.Expression{
		expr.TableValuedEach{Column: "types"}, "=",
		expr.Bind(defs.InternalKeyFor(ref)),
	}
}

// fieldEqFilter compiles eq. A null literal matches both SQL NULL (absent
// field) and JSON null, which are distinct in the store; the plural form
// checks the tree's JSON type, with the container itself as the match
// target.
func (e *Engine) fieldEqFilter(key string, value any, on defs.CodeRef) expr.Expression {
	if value == nil {
		q := fieldQuery{typeRef: on, path: key, useTreeType: true, errorHint: "filter"}
		return expr.Expression{fieldArity{
			typeRef:            on,
			path:               key,
			value:              expr.Expression{q, "IS NULL"},
			pluralValue:        expr.Expression{q, "= 'null'"},
			usePluralContainer: true,
			errorHint:          "filter",
		}}
	}
	q := fieldQuery{typeRef: on, path: key, errorHint: "filter"}
	v := fieldValue{typeRef: on, path: key,
		value: expr.Expression{expr.Bind(value)}, errorHint: "filter"}
	return expr.Expression{fieldArity{
		typeRef:   on,
		path:      key,
		value:     expr.Expression{q, "=", v},
		errorHint: "filter",
	}}
}

// fieldContainsFilter compiles contains: case-insensitive substring match.
// A null literal degenerates to the eq-null form.
func (e *Engine) fieldContainsFilter(key string, value any, on defs.CodeRef) expr.Expression {
	if value == nil {
		return e.fieldEqFilter(key, nil, on)
	}
	q := fieldQuery{typeRef: on, path: key, errorHint: "filter"}
	v := fieldValue{typeRef: on, path: key,
		value: expr.Expression{expr.Bind(fmt.Sprintf("%%%v%%", value))}, errorHint: "filter"}
	return expr.Expression{fieldArity{
		typeRef:   on,
		path:      key,
		value:     expr.Expression{q, "LIKE", v},
		errorHint: "filter",
	}}
}

// fieldRangeFilter compiles range: one comparison per present bound, in
// the operators' declared order, AND-joined.
func (e *Engine) fieldRangeFilter(key string, rv query.RangeValue, on defs.CodeRef) (expr.Expression, error) {
	var conditions []expr.Expression
	for _, op := range query.RangeOperators {
		raw := rv.Bound(op.Name)
		if raw == nil {
			continue
		}
		value, err := decodeLiteral(raw)
		if err != nil {
			return nil, fmt.Errorf("range filter on %s/%s: %w", key, op.Name, err)
		}
		q := fieldQuery{typeRef: on, path: key, errorHint: "filter"}
		v := fieldValue{typeRef: on, path: key,
			value: expr.Expression{expr.Bind(value)}, errorHint: "filter"}
		conditions = append(conditions, expr.Expression{fieldArity{
			typeRef:   on,
			path:      key,
			value:     expr.Expression{q, op.Operator, v},
			errorHint: "filter",
		}})
	}
	return expr.Every(conditions), nil
}

// decodeLiteral decodes a filter literal. Integral numbers decode as int64
// so they bind without a float round trip.
func decodeLiteral(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	if n, ok := value.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	return value, nil
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
