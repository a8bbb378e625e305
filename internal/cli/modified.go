package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"realmindex/internal/index"
	"realmindex/internal/store"
)

// ModifiedOptions holds flags for the modified command.
type ModifiedOptions struct {
	*RootOptions
}

// NewModifiedCommand creates the modified command.
func NewModifiedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ModifiedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "modified <realm>",
		Short: "List last-modified times at the realm's published version",
		Long: `List every entry at the realm's published version with its type and
last-modified time. External indexers diff this against file storage to
decide what needs re-indexing.

Example:
  realmindex modified --db ./index.db --config ./realms.cue demo`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runModified(opts, args[0], cmd)
		},
	}

	return cmd
}

func runModified(opts *ModifiedOptions, realmArg string, cmd *cobra.Command) error {
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
	times, err := index.NewWriter(st).ModifiedTimes(ctx, realm.URL)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read modified times", err)
	}

	if opts.Format == "json" {
		formatter := &OutputFormatter{
			Format:    opts.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   opts.Verbose,
		}
		return formatter.Success(times)
	}
	for _, t := range times {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", t.Type, t.URL, t.LastModified)
	}
	return nil
}
