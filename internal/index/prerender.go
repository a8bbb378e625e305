package index

import (
	"context"
	"strings"

	"realmindex/internal/defs"
	"realmindex/internal/expr"
	"realmindex/internal/query"
	"realmindex/internal/realms"
)

// HTMLFormats are the per-row prerendered HTML variants a prerendered
// search can select.
var HTMLFormats = []string{"embedded", "fitted", "atom"}

// PrerenderOptions selects the HTML variant for a prerendered search.
type PrerenderOptions struct {
	SearchOptions
	// HTMLFormat is one of HTMLFormats.
	HTMLFormat string
	// RenderType, when set, prefers HTML prerendered for that exact type
	// over HTML for the row's own most specific type.
	RenderType *defs.CodeRef
}

// Prerendered is one row of a prerendered search.
type Prerendered struct {
	URL string `json:"url"`
	// HTML is the selected fragment; empty when the row has none for the
	// requested format.
	HTML string `json:"html"`
	// UsedRenderType is the type whose HTML was actually selected.
	UsedRenderType defs.CodeRef `json:"usedRenderType"`
	IsError        bool         `json:"isError,omitempty"`
}

// PrerenderedResult is a page of prerendered fragments plus the scoped
// stylesheets they collectively require. CSS crosses realm boundaries, so
// the caller assembles styles from this side channel rather than from the
// rows themselves.
type PrerenderedResult struct {
	Prerendered   []Prerendered `json:"prerendered"`
	ScopedCSSURLs []string      `json:"scopedCssUrls"`
	Meta          Meta          `json:"meta"`
}

// SearchPrerendered runs a structured query and returns prerendered HTML
// instead of documents. When RenderType is set, each row's HTML map is
// probed for that type's key first, falling back to the row's own most
// specific type.
func (e *Engine) SearchPrerendered(ctx context.Context, realmURL string, q query.Query, opts PrerenderOptions) (*PrerenderedResult, error) {
	if err := query.Validate(q); err != nil {
		return nil, err
	}
	if !validHTMLFormat(opts.HTMLFormat) {
		return nil, &query.ValidationError{
			Pointer: "/htmlFormat",
			Message: "htmlFormat must be one of: " + strings.Join(HTMLFormats, ", "),
		}
	}

	selectClause := expr.Expression{"SELECT url, i.type AS type, deps,"}
	selectClause = append(selectClause, htmlColumn(opts.HTMLFormat, opts.RenderType)...)
	selectClause = append(selectClause, "AS html,")
	selectClause = append(selectClause, usedRenderTypeColumn(opts.HTMLFormat, opts.RenderType)...)
	selectClause = append(selectClause, "AS used_render_type")

	rows, meta, err := e.executeSearch(ctx, realmURL, q, opts.SearchOptions, selectClause)
	if err != nil {
		return nil, err
	}

	result := &PrerenderedResult{
		Prerendered:   []Prerendered{},
		ScopedCSSURLs: []string{},
		Meta:          meta,
	}
	cssSeen := map[string]bool{}
	for _, row := range rows {
		for _, dep := range jsonStrings(row["deps"]) {
			if realms.IsScopedCSS(dep) && !cssSeen[dep] {
				cssSeen[dep] = true
				result.ScopedCSSURLs = append(result.ScopedCSSURLs, dep)
			}
		}
		result.Prerendered = append(result.Prerendered, Prerendered{
			URL:            asString(row["url"]),
			HTML:           asString(row["html"]),
			UsedRenderType: splitTypeKey(asString(row["used_render_type"])),
			IsError:        asString(row["type"]) == string(TypeError),
		})
	}
	return result, nil
}

func validHTMLFormat(format string) bool {
	for _, f := range HTMLFormats {
		if f == format {
			return true
		}
	}
	return false
}

// htmlColumn selects the HTML fragment for a row. Atom HTML is a plain
// column; embedded and fitted are JSON objects keyed by internal type key,
// probed for the override type first and the row's most specific type
// otherwise.
func htmlColumn(format string, renderType *defs.CodeRef) expr.Expression {
	if format == "atom" {
		return expr.Expression{"atom_html"}
	}
	column := format + "_html"
	out := expr.Expression{"COALESCE("}
	if renderType != nil {
		out = append(out, column+" ->>", expr.Bind(defs.InternalKeyFor(*renderType)), ",")
	}
	out = append(out,
		"(SELECT html.value FROM json_each("+column+") AS html WHERE html.key = i.types ->> '$[0]')",
		")")
	return out
}

// usedRenderTypeColumn reports which type's HTML the row resolved to, so
// the caller knows whether the override applied.
func usedRenderTypeColumn(format string, renderType *defs.CodeRef) expr.Expression {
	if format == "atom" || renderType == nil {
		return expr.Expression{"i.types ->> '$[0]'"}
	}
	key := defs.InternalKeyFor(*renderType)
	column := format + "_html"
	return expr.Expression{
		"CASE WHEN", column + " ->>", expr.Bind(key),
		"IS NOT NULL THEN", expr.Bind(key),
		"ELSE i.types ->> '$[0]' END",
	}
}

// splitTypeKey splits an internal type key back into a code ref at the
// final path separator.
func splitTypeKey(key string) defs.CodeRef {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return defs.CodeRef{Name: key}
	}
	return defs.CodeRef{Module: key[:i], Name: key[i+1:]}
}
