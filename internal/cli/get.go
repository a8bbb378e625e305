package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"realmindex/internal/defs"
	"realmindex/internal/index"
	"realmindex/internal/store"
)

// GetOptions holds flags for the get command.
type GetOptions struct {
	*RootOptions
	Module         bool
	WorkInProgress bool
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Read one indexed instance or module by URL",
		Long: `Read a single index entry by its URL or file alias.

Example:
  realmindex get --db ./index.db https://demo.realm.local/jade.json
  realmindex get --db ./index.db --module https://demo.realm.local/person.gts`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Module, "module", false, "read a module entry instead of an instance")
	cmd.Flags().BoolVar(&opts.WorkInProgress, "wip", false,
		"read the in-flight next version instead of the published one")

	return cmd
}

func runGet(opts *GetOptions, url string, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	engine := index.NewEngine(st, defs.NewCache(defs.NewStaticProvider(nil)))
	readOpts := index.ReadOptions{WorkInProgress: opts.WorkInProgress}

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Module {
		module, err := engine.GetModule(ctx, url, readOpts)
		if err != nil {
			return WrapExitError(ExitFailure, "get module failed", err)
		}
		if module == nil {
			return NewExitError(ExitFailure, fmt.Sprintf("module not found: %s", url))
		}
		return formatter.Success(module)
	}

	instance, err := engine.GetInstance(ctx, url, readOpts)
	if err != nil {
		return WrapExitError(ExitFailure, "get instance failed", err)
	}
	if instance == nil {
		return NewExitError(ExitFailure, fmt.Sprintf("instance not found: %s", url))
	}
	return formatter.Success(instance)
}
