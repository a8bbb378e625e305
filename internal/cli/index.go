package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"realmindex/internal/store"
)

// IndexOptions holds flags for the index command.
type IndexOptions struct {
	*RootOptions
	NewGeneration bool
}

// NewIndexCommand creates the index command.
func NewIndexCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IndexOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "index <realm>",
		Short: "Index a realm's content and publish a new version",
		Long: `Index the realm's content fixture in one batch and publish it as the
realm's next version. Until the batch completes, readers keep seeing the
previously published version.

Example:
  realmindex index --db ./index.db --config ./realms.cue demo
  realmindex index --db ./index.db --config ./realms.cue demo --new-generation`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NewGeneration, "new-generation", false,
		"reindex from scratch, pruning superseded versions on publish")

	return cmd
}

func runIndex(opts *IndexOptions, realmArg string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	realm, err := resolveRealm(opts.RootOptions, realmArg)
	if err != nil {
		return err
	}
	if realm.Content == "" {
		return NewExitError(ExitCommandError, "realm has no content fixture configured")
	}
	content, err := loadContent(realm.Content)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load content", err)
	}

	slog.Info("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	slog.Info("indexing realm", "realm", realm.URL, "new_generation", opts.NewGeneration)
	total, err := seedRealm(ctx, st, realm.URL, content, opts.NewGeneration)
	if err != nil {
		return WrapExitError(ExitFailure, "indexing failed", err)
	}
	slog.Info("realm published", "realm", realm.URL, "rows", total)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	return formatter.Success(map[string]any{
		"realm": realm.URL,
		"rows":  total,
	})
}
