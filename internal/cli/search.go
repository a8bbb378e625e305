package cli

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"realmindex/internal/defs"
	"realmindex/internal/index"
	"realmindex/internal/query"
	"realmindex/internal/store"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Query          string
	WorkInProgress bool
	IncludeErrors  bool
	HTMLFormat     string
	RenderType     string
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <realm> [query-file]",
		Short: "Run a structured query against a realm",
		Long: `Run a filter/sort/page query against a realm's published index.

The query is a JSON document read from the query-file argument or the
--query flag; with neither, every instance in the realm matches.

Example:
  realmindex search --db ./index.db --config ./realms.cue demo ./query.json
  realmindex search --db ./index.db demo --query '{"filter":{"eq":{"name":"Jade"}}}'
  realmindex search --db ./index.db demo --html-format embedded`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Query, "query", "", "inline JSON query")
	cmd.Flags().BoolVar(&opts.WorkInProgress, "wip", false,
		"query the in-flight next version instead of the published one")
	cmd.Flags().BoolVar(&opts.IncludeErrors, "include-errors", false,
		"include error rows for instance URLs")
	cmd.Flags().StringVar(&opts.HTMLFormat, "html-format", "",
		"return prerendered HTML instead of documents (embedded|fitted|atom)")
	cmd.Flags().StringVar(&opts.RenderType, "render-type", "",
		"internal type key whose HTML to prefer (with --html-format)")

	return cmd
}

func runSearch(opts *SearchOptions, args []string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	realm, err := resolveRealm(opts.RootOptions, args[0])
	if err != nil {
		return err
	}

	queryText := opts.Query
	if len(args) == 2 {
		data, err := os.ReadFile(args[1])
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read query file", err)
		}
		queryText = string(data)
	}
	if queryText == "" {
		queryText = "{}"
	}
	q, err := query.Parse([]byte(queryText))
	if err != nil {
		return WrapExitError(ExitFailure, "invalid query", err)
	}

	cache, err := definitionCache(realm)
	if err != nil {
		return err
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	engine := index.NewEngine(st, cache)
	searchOpts := index.SearchOptions{
		ReadOptions:   index.ReadOptions{WorkInProgress: opts.WorkInProgress},
		IncludeErrors: opts.IncludeErrors,
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.HTMLFormat != "" {
		prerenderOpts := index.PrerenderOptions{
			SearchOptions: searchOpts,
			HTMLFormat:    opts.HTMLFormat,
		}
		if opts.RenderType != "" {
			ref := parseTypeKey(opts.RenderType)
			prerenderOpts.RenderType = &ref
		}
		result, err := engine.SearchPrerendered(ctx, realm.URL, q, prerenderOpts)
		if err != nil {
			return searchError(err)
		}
		return formatter.Success(result)
	}

	result, err := engine.Search(ctx, realm.URL, q, searchOpts)
	if err != nil {
		return searchError(err)
	}
	return formatter.Success(result)
}

func searchError(err error) error {
	if query.IsValidationError(err) {
		return WrapExitError(ExitFailure, "invalid query", err)
	}
	return WrapExitError(ExitFailure, "search failed", err)
}

// parseTypeKey splits "https://realm/module/Name" at the final separator.
func parseTypeKey(key string) defs.CodeRef {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return defs.CodeRef{Name: key}
	}
	return defs.CodeRef{Module: key[:i], Name: key[i+1:]}
}
