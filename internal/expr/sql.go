package expr

import (
	"fmt"
	"strings"

	"realmindex/internal/canon"
)

// SQL is a rendered statement: text with positional placeholders and the
// bound values in emission order.
type SQL struct {
	Text   string
	Values []any
}

// RenderSQL serializes an expression to SQL text with `?` placeholders.
//
// Table-valued elements are deduplicated by structural key: repeated
// occurrences with the same key collapse to one generated join and every
// occurrence renders as a reference to the shared alias. The generated
// joins replace TableValuedFunctionsPlaceholder in the statement text.
//
// The alias nonce and join table are scoped to this single call so aliases
// can never collide across statements.
//
// RenderSQL panics on an element type it does not recognize: that is an IR
// exhaustiveness fault in the caller, not a runtime condition.
func RenderSQL(expression Expression) SQL {
	var values []any
	nonce := 0
	type tvf struct {
		alias string
		fn    string
	}
	joins := map[string]tvf{}
	var joinOrder []string

	parts := make([]string, 0, len(expression))
	for _, element := range expression {
		switch el := element.(type) {
		case string:
			parts = append(parts, el)
		case Param:
			values = append(values, bindValue(el.Value))
			parts = append(parts, "?")
		case TableValuedEach:
			key := "each_" + el.Column
			j, ok := joins[key]
			if !ok {
				alias := fmt.Sprintf("%s%d_each", el.Column, nonce)
				nonce++
				j = tvf{
					alias: alias,
					fn: fmt.Sprintf(
						"json_each(CASE json_type(%s) WHEN 'array' THEN %s ELSE '[]' END) AS %s",
						el.Column, el.Column, alias),
				}
				joins[key] = j
				joinOrder = append(joinOrder, key)
			}
			parts = append(parts, j.alias+".value")
		case TableValuedTree:
			key := "tree_" + el.Column + "_" + el.FieldPath
			j, ok := joins[key]
			if !ok {
				field := el.Column
				if el.RootPath != "$" {
					segments := strings.Split(el.RootPath, ".")
					field = segments[len(segments)-1]
				}
				field = strings.ReplaceAll(field, "[]", "")
				alias := fmt.Sprintf("%s%d_tree", field, nonce)
				nonce++
				absolutePath := "$"
				if el.RootPath != "$" {
					absolutePath = "$." + el.RootPath
				}
				j = tvf{
					alias: alias,
					fn: fmt.Sprintf("json_tree(%s, '%s') AS %s",
						el.Column, absolutePath, alias),
				}
				joins[key] = j
				joinOrder = append(joinOrder, key)
			}
			parts = append(parts, j.alias+"."+el.TreeColumn)
		default:
			panic(fmt.Sprintf("expr: unknown expression element %T", element))
		}
	}

	text := strings.Join(parts, " ")
	if len(joinOrder) > 0 {
		fns := make([]string, len(joinOrder))
		for i, key := range joinOrder {
			fns[i] = "CROSS JOIN " + joins[key].fn
		}
		text = replaceOnce(text, TableValuedFunctionsPlaceholder, strings.Join(fns, " "))
	} else {
		text = replaceOnce(text, TableValuedFunctionsPlaceholder, "")
	}
	return SQL{Text: text, Values: values}
}

// bindValue converts a parameter to a driver-bindable primitive. JSON
// documents are serialized to canonical text so that identical documents
// always bind byte-identical values.
func bindValue(v any) any {
	switch v.(type) {
	case nil, string, bool, int, int64, float64:
		return v
	default:
		text, err := canon.Marshal(v)
		if err != nil {
			panic(fmt.Sprintf("expr: cannot bind %T as SQL parameter: %v", v, err))
		}
		return string(text)
	}
}

// replaceOnce substitutes the first occurrence of placeholder. Plain index
// slicing, not regexp, since SQL text is full of metacharacters.
func replaceOnce(text, placeholder, replacement string) string {
	index := strings.Index(text, placeholder)
	if index == -1 {
		return text
	}
	return text[:index] + replacement + text[index+len(placeholder):]
}
