package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"realmindex/internal/defs"
	"realmindex/internal/expr"
)

// The engine compiles filters in two phases. Phase one builds expressions
// containing the three field elements below, which defer everything that
// needs definition metadata. Phase two (resolve) walks each field's dotted
// path against its scoping type and lowers the elements to plain IR.

// fieldQuery lowers to the SQL that reads a field's value out of the
// search document: a JSON access chain for singular paths, a tree join
// reference for paths that cross a plural field.
type fieldQuery struct {
	typeRef defs.CodeRef
	path    string
	// useTreeType makes the plural form reference the tree's JSON type
	// column instead of its value column, for JSON-null checks.
	useTreeType bool
	errorHint   string
}

// fieldValue lowers to a bound literal, transformed by the leaf field's
// declared serializer.
type fieldValue struct {
	typeRef   defs.CodeRef
	path      string
	value     expr.Expression
	errorHint string
}

// fieldArity wraps a predicate so that plural paths get the tree join's
// full-key constraint. For a plural leaf, pluralValue (when set) replaces
// the predicate, and usePluralContainer matches the container itself
// rather than its elements.
type fieldArity struct {
	typeRef            defs.CodeRef
	path               string
	value              expr.Expression
	pluralValue        expr.Expression
	usePluralContainer bool
	errorHint          string
}

// resolve lowers field elements to plain IR. Strings, params, and
// table-valued markers pass through; anything else is an exhaustiveness
// fault.
func (e *Engine) resolve(ctx context.Context, expression expr.Expression) (expr.Expression, error) {
	var out expr.Expression
	for _, element := range expression {
		switch el := element.(type) {
		case fieldQuery:
			lowered, err := e.handleFieldQuery(ctx, el)
			if err != nil {
				return nil, err
			}
			out = append(out, lowered...)
		case fieldValue:
			lowered, err := e.handleFieldValue(ctx, el)
			if err != nil {
				return nil, err
			}
			out = append(out, lowered...)
		case fieldArity:
			lowered, err := e.handleFieldArity(ctx, el)
			if err != nil {
				return nil, err
			}
			out = append(out, lowered...)
		case string, expr.Param, expr.TableValuedEach, expr.TableValuedTree:
			out = append(out, element)
		default:
			panic(fmt.Sprintf("index: unknown expression element %T", element))
		}
	}
	return out, nil
}

func (e *Engine) handleFieldQuery(ctx context.Context, fq fieldQuery) (expr.Expression, error) {
	// rootPluralPath is set the moment the walk crosses a plural segment;
	// the exit hooks consult it to decide whether the JSON access chain is
	// still being built.
	rootPluralPath := ""
	exp, err := e.walkFieldPath(ctx, fq.typeRef, fq.path, expr.Expression{}, pathHandlers{
		leaf: func(field defs.Field, expression expr.Expression, fieldName, traveled string) (expr.Expression, error) {
			if field.Arity.Plural() {
				rootPluralPath = trimPathAtFirstPlural(traveled)
				column := "value"
				if fq.useTreeType {
					column = "type"
				}
				return expr.Expression{expr.TableValuedTree{
					Column:     "search_doc",
					RootPath:   rootPluralPath,
					FieldPath:  fq.path,
					TreeColumn: column,
				}}, nil
			}
			if rootPluralPath == "" {
				return append(expression, "->>", expr.Bind(fieldName)), nil
			}
			// singular leaf under a plural ancestor: the tree join's value
			// column is already the leaf value
			return expression, nil
		},
		enter: func(field defs.Field, expression expr.Expression, fieldName, traveled string) (expr.Expression, error) {
			if field.Arity.Plural() {
				rootPluralPath = trimPathAtFirstPlural(traveled)
				return expr.Expression{expr.TableValuedTree{
					Column:     "search_doc",
					RootPath:   rootPluralPath,
					FieldPath:  fq.path,
					TreeColumn: "value",
				}}, nil
			}
			return expression, nil
		},
		exit: func(field defs.Field, expression expr.Expression, fieldName, traveled string) (expr.Expression, error) {
			if !field.Arity.Plural() && rootPluralPath == "" {
				out := expr.Expression{"->", expr.Bind(fieldName)}
				return append(out, expression...), nil
			}
			return expression, nil
		},
	}, nil)
	if err != nil {
		return nil, annotateFieldError(err, fq.errorHint)
	}
	if rootPluralPath == "" {
		out := expr.Expression{"search_doc"}
		exp = append(out, exp...)
	}
	return exp, nil
}

func (e *Engine) handleFieldValue(ctx context.Context, fv fieldValue) (expr.Expression, error) {
	exp, err := e.resolve(ctx, fv.value)
	if err != nil {
		return nil, err
	}
	exp, err = e.walkFieldPath(ctx, fv.typeRef, fv.path, exp, pathHandlers{
		leaf: func(field defs.Field, expression expr.Expression, _, _ string) (expr.Expression, error) {
			out := make(expr.Expression, len(expression))
			for i, element := range expression {
				if p, ok := element.(expr.Param); ok {
					out[i] = expr.Bind(defs.FormatQueryValue(field, p.Value))
				} else {
					out[i] = element
				}
			}
			return out, nil
		},
	}, nil)
	if err != nil {
		return nil, annotateFieldError(err, fv.errorHint)
	}
	return exp, nil
}

func (e *Engine) handleFieldArity(ctx context.Context, fa fieldArity) (expr.Expression, error) {
	exp, err := e.walkFieldPath(ctx, fa.typeRef, fa.path, fa.value, pathHandlers{
		leaf: func(field defs.Field, expression expr.Expression, _, traveled string) (expr.Expression, error) {
			if !traveledThruPlural(traveled) {
				return expression, nil
			}
			inner := expression
			pattern := traveled
			if field.Arity.Plural() {
				if fa.pluralValue != nil {
					inner = fa.pluralValue
				}
				if fa.usePluralContainer {
					pattern = strings.TrimSuffix(pattern, "[]")
				}
			}
			// the full-key pattern pins tree rows to this exact path so a
			// same-named field in an unrelated sibling array cannot match
			fullKey := expr.Expression{
				expr.TableValuedTree{
					Column:     "search_doc",
					RootPath:   trimPathAtFirstPlural(traveled),
					FieldPath:  fa.path,
					TreeColumn: "fullkey",
				},
				"LIKE", expr.Bind("$." + bracketsToWildcards(pattern)),
			}
			return expr.Every([]expr.Expression{inner, fullKey}), nil
		},
	}, nil)
	if err != nil {
		return nil, annotateFieldError(err, fa.errorHint)
	}
	return e.resolve(ctx, exp)
}

// annotateFieldError stamps a nonexistent-field error with the query part
// whose path walk produced it.
func annotateFieldError(err error, hint string) error {
	var fe *NonexistentFieldError
	if errors.As(err, &fe) && fe.In == "" && hint != "" {
		fe.In = hint
	}
	return err
}

type pathHandlers struct {
	leaf  func(field defs.Field, expression expr.Expression, fieldName, traveled string) (expr.Expression, error)
	enter func(field defs.Field, expression expr.Expression, fieldName, traveled string) (expr.Expression, error)
	exit  func(field defs.Field, expression expr.Expression, fieldName, traveled string) (expr.Expression, error)
}

// cardTypeField is the synthetic field every card exposes for its display
// type name, stored in the search document under _cardType.
const cardTypeField = "_cardType"

// walkFieldPath resolves a dotted field path against a scoping type one
// segment at a time, threading the expression through the handlers: leaf
// fires on the final segment; enter and exit bracket each interior
// segment's recursion. Plural segments are recorded in the traveled path
// as segment[].
func (e *Engine) walkFieldPath(ctx context.Context, ref defs.CodeRef, path string, expression expr.Expression, handlers pathHandlers, traveled []string) (expr.Expression, error) {
	segments := strings.Split(path, ".")
	segment := segments[0]
	isLeaf := len(segments) == 1

	var field defs.Field
	if segment == cardTypeField {
		field = defs.Field{Arity: defs.Contains, IsPrimitive: true}
	} else {
		def, err := e.defs.GetDefinition(ctx, ref)
		if err != nil {
			return nil, err
		}
		var ok bool
		field, ok = def.Fields[segment]
		if !ok {
			return nil, &NonexistentFieldError{Field: segment, Type: ref}
		}
	}

	segmentTraveled := segment
	if field.Arity.Plural() {
		segmentTraveled += "[]"
	}
	traveled = append(traveled, segmentTraveled)
	traveledPath := strings.Join(traveled, ".")

	if isLeaf {
		if handlers.leaf != nil {
			return handlers.leaf(field, expression, segment, traveledPath)
		}
		return expression, nil
	}

	if handlers.enter != nil {
		var err error
		expression, err = handlers.enter(field, expression, segment, traveledPath)
		if err != nil {
			return nil, err
		}
	}
	expression, err := e.walkFieldPath(ctx, field.FieldOrCard,
		strings.Join(segments[1:], "."), expression, handlers, traveled)
	if err != nil {
		return nil, err
	}
	if handlers.exit != nil {
		expression, err = handlers.exit(field, expression, segment, traveledPath)
		if err != nil {
			return nil, err
		}
	}
	return expression, nil
}

// trimPathAtFirstPlural returns the traveled path up to (and excluding the
// brackets of) the first plural segment: "friends[].name" -> "friends".
func trimPathAtFirstPlural(traveled string) string {
	return strings.SplitN(traveled, "[]", 2)[0]
}

// bracketsToWildcards turns plural markers into full-key index wildcards:
// "friends[].name" -> "friends[%].name".
func bracketsToWildcards(traveled string) string {
	return strings.ReplaceAll(traveled, "[]", "[%]")
}

func traveledThruPlural(traveled string) bool {
	return strings.Contains(traveled, "[]")
}
