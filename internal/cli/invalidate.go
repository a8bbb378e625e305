package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"realmindex/internal/index"
	"realmindex/internal/store"
)

// InvalidateOptions holds flags for the invalidate command.
type InvalidateOptions struct {
	*RootOptions
}

// NewInvalidateCommand creates the invalidate command.
func NewInvalidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvalidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invalidate <realm> <url>",
		Short: "Tombstone a URL and everything depending on it",
		Long: `Open a batch for the realm, tombstone the URL and the transitive
closure of its dependents at the next version, and publish.

Example:
  realmindex invalidate --db ./index.db --config ./realms.cue demo \
      https://demo.realm.local/person.gts`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInvalidate(opts, args[0], args[1], cmd)
		},
	}

	return cmd
}

func runInvalidate(opts *InvalidateOptions, realmArg, url string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	realm, err := resolveRealm(opts.RootOptions, realmArg)
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
	writer := index.NewWriter(st)
	batch, err := writer.NewBatch(ctx, realm.URL)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to open batch", err)
	}
	slog.Info("invalidating", "realm", realm.URL, "url", url, "version", batch.Version())

	invalidations, err := batch.Invalidate(ctx, url)
	if err != nil {
		if index.IsConflictError(err) {
			return WrapExitError(ExitFailure, "invalidation conflict; discard and re-run the indexing job", err)
		}
		return WrapExitError(ExitFailure, "invalidation failed", err)
	}
	total, err := batch.Done(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to publish batch", err)
	}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	return formatter.Success(map[string]any{
		"realm":         realm.URL,
		"version":       batch.Version(),
		"invalidations": invalidations,
		"rows":          total,
	})
}
