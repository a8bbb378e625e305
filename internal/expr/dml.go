package expr

import (
	"fmt"
	"sort"

	"realmindex/internal/canon"
)

// ColumnValues is an ordered set of column names and value expressions for
// INSERT/UPSERT statements. AsExpressions produces it from a map with a
// deterministic (sorted) column order.
type ColumnValues struct {
	Names  []string
	Values []Expression
}

// AsExpressions converts a column→value map into name and value expression
// lists. Columns named in jsonColumns are serialized to canonical JSON text
// before binding; a nil value in a JSON column binds the JSON literal null.
func AsExpressions(values map[string]any, jsonColumns ...string) (ColumnValues, error) {
	jsonSet := make(map[string]bool, len(jsonColumns))
	for _, col := range jsonColumns {
		jsonSet[col] = true
	}
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	out := ColumnValues{Names: names}
	for _, name := range names {
		v := values[name]
		if jsonSet[name] {
			text, err := canon.Marshal(v)
			if err != nil {
				return ColumnValues{}, fmt.Errorf("column %s: %w", name, err)
			}
			v = string(text)
		}
		out.Values = append(out.Values, Expression{Bind(v)})
	}
	return out, nil
}

// Upsert builds an INSERT ... ON CONFLICT(cols) DO UPDATE statement that
// overwrites every column with the excluded row's value.
func Upsert(table string, conflictColumns []string, cv ColumnValues) Expression {
	out := Expression{"INSERT INTO", table}
	out = append(out, Parens(nameList(cv.Names))...)
	out = append(out, "VALUES")
	out = append(out, Parens(SeparatedByCommas(cv.Values))...)
	out = append(out, "ON CONFLICT")
	out = append(out, Parens(nameList(conflictColumns))...)
	out = append(out, "DO UPDATE SET")
	assignments := make([]Expression, len(cv.Names))
	for i, name := range cv.Names {
		assignments[i] = Expression{name + "=excluded." + name}
	}
	out = append(out, SeparatedByCommas(assignments)...)
	return out
}

// Insert builds a plain INSERT statement. Constraint violations surface as
// driver errors; the writer relies on that for conflict detection.
func Insert(table string, names []string, rows []ColumnValues) Expression {
	out := Expression{"INSERT INTO", table}
	out = append(out, Parens(nameList(names))...)
	out = append(out, "VALUES")
	rowExpressions := make([]Expression, len(rows))
	for i, row := range rows {
		rowExpressions[i] = Parens(SeparatedByCommas(row.Values))
	}
	out = append(out, SeparatedByCommas(rowExpressions)...)
	return out
}

// Row builds a ColumnValues for one positional VALUES row.
func Row(values ...any) ColumnValues {
	cv := ColumnValues{}
	for _, v := range values {
		cv.Values = append(cv.Values, Expression{Bind(v)})
	}
	return cv
}

func nameList(names []string) Expression {
	expressions := make([]Expression, len(names))
	for i, name := range names {
		expressions[i] = Expression{name}
	}
	return SeparatedByCommas(expressions)
}
