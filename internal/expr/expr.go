// Package expr is a small intermediate representation for SQL fragments.
//
// An Expression is an ordered list of elements: raw SQL text, bound
// parameters, and table-valued join markers for querying through JSON
// columns. Expressions compose with Every/Any/Parens/SeparatedByCommas and
// render to parameterized SQL text with RenderSQL.
package expr

// Expression is a list of SQL fragment elements. Valid element types are
// string (raw SQL), Param, TableValuedEach, and TableValuedTree. Any other
// element type is a programmer error and RenderSQL panics on it.
type Expression []any

// Param is a bound value rendered as a positional placeholder.
// Values must be SQL primitives: string, int64, float64, bool, or nil.
// JSON documents are serialized to canonical text before binding.
type Param struct {
	Value any
}

// Bind wraps a value as a bound parameter.
func Bind(value any) Param {
	return Param{Value: value}
}

// TableValuedEach flattens a JSON array column into one row per element.
// Rendering emits a reference to the value of the generated json_each join;
// the join itself is spliced in at TableValuedFunctionsPlaceholder.
type TableValuedEach struct {
	Column string
}

// TableValuedTree recursively flattens a JSON subtree rooted at RootPath
// into rows. TreeColumn selects which generated column the element renders
// as a reference to (fullkey, value, type, atom). FieldPath participates in
// the join's structural key so distinct field paths get distinct joins.
type TableValuedTree struct {
	Column    string
	RootPath  string
	FieldPath string
	// TreeColumn is one of the json_tree output columns.
	TreeColumn string
}

// TableValuedFunctionsPlaceholder marks where generated CROSS JOINs are
// spliced into the statement. Statements that may use table-valued elements
// must include it exactly once, immediately after their FROM clause.
const TableValuedFunctionsPlaceholder = "__TABLE_VALUED_FUNCTIONS__"

// Parens wraps a non-empty expression in explicit parentheses.
// Empty expressions pass through unchanged.
func Parens(expression Expression) Expression {
	if len(expression) == 0 {
		return expression
	}
	out := make(Expression, 0, len(expression)+2)
	out = append(out, "(")
	out = append(out, expression...)
	out = append(out, ")")
	return out
}

// SeparatedByCommas joins expressions with "," elements.
func SeparatedByCommas(expressions []Expression) Expression {
	var out Expression
	for _, expression := range expressions {
		if len(out) > 0 {
			out = append(out, ",")
		}
		out = append(out, expression...)
	}
	return out
}

// Every AND-joins the given expressions, parenthesizing each. An empty list
// renders as SQL true so that "no predicates" never produces invalid SQL.
func Every(expressions []Expression) Expression {
	if len(expressions) == 0 {
		return Expression{"TRUE"}
	}
	var out Expression
	for i, expression := range expressions {
		if i > 0 {
			out = append(out, "AND")
		}
		out = append(out, Parens(expression)...)
	}
	return out
}

// Any OR-joins the given expressions, parenthesizing each. An empty list
// renders as SQL false.
func Any(expressions []Expression) Expression {
	if len(expressions) == 0 {
		return Expression{"FALSE"}
	}
	var out Expression
	for i, expression := range expressions {
		if i > 0 {
			out = append(out, "OR")
		}
		out = append(out, Parens(expression)...)
	}
	return out
}
