package index

import (
	"strconv"

	"realmindex/internal/expr"
	"realmindex/internal/query"
)

// generalSortFields are sort keys served directly from row columns,
// bypassing per-type field resolution.
var generalSortFields = map[string]string{
	"lastModified": "last_modified",
	"createdAt":    "resource_created_at",
	"url":          "url",
}

// orderExpression builds the ORDER BY clause. Results are grouped by URL,
// so explicit sort fields are aggregated; NULLs sort last; URL with a
// bytewise collation is always the final tiebreaker so pagination stays
// deterministic regardless of the caller's sort.
func (e *Engine) orderExpression(sorts []query.Sort) (expr.Expression, error) {
	if len(sorts) == 0 {
		return expr.Expression{"ORDER BY url COLLATE BINARY"}, nil
	}
	var clauses []expr.Expression
	for i, s := range sorts {
		direction := "ASC"
		if s.Direction == "desc" {
			direction = "DESC"
		}
		if column, ok := generalSortFields[s.By]; ok {
			clauses = append(clauses,
				expr.Expression{"MIN(" + column + ")", direction, "NULLS LAST"})
			continue
		}
		if s.On == nil {
			return nil, &query.ValidationError{
				Pointer: "/sort/" + strconv.Itoa(i) + "/on",
				Message: "sort field " + strconv.Quote(s.By) + " requires a scoping type",
			}
		}
		clauses = append(clauses, expr.Expression{
			"MIN(", fieldQuery{typeRef: *s.On, path: s.By, errorHint: "sort"}, ")",
			direction, "NULLS LAST",
		})
	}
	clauses = append(clauses, expr.Expression{"url COLLATE BINARY"})
	out := expr.Expression{"ORDER BY"}
	out = append(out, expr.SeparatedByCommas(clauses)...)
	return out, nil
}
