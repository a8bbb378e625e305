package cli

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"realmindex/internal/defs"
)

// setupLogging configures the process logger based on the verbose flag.
func setupLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// resolveRealm maps a command argument to a realm. With a config, the
// argument may be a realm name or URL from the registry; without one, a
// URL argument stands on its own.
func resolveRealm(opts *RootOptions, nameOrURL string) (RealmConfig, error) {
	if opts.Config == "" {
		if !strings.Contains(nameOrURL, "://") {
			return RealmConfig{}, NewExitError(ExitCommandError,
				fmt.Sprintf("realm %q is not a URL; pass --config to resolve realm names", nameOrURL))
		}
		return RealmConfig{Name: nameOrURL, URL: nameOrURL}, nil
	}
	config, err := LoadConfig(opts.Config)
	if err != nil {
		return RealmConfig{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	realm, ok := config.Realm(nameOrURL)
	if !ok {
		if strings.Contains(nameOrURL, "://") {
			return RealmConfig{Name: nameOrURL, URL: nameOrURL}, nil
		}
		return RealmConfig{}, NewExitError(ExitCommandError,
			fmt.Sprintf("realm %q not found in %s", nameOrURL, opts.Config))
	}
	return realm, nil
}

// definitionCache builds the definition cache for a realm from its
// configured definitions fixture. A realm without one gets an empty
// provider: type filters then degrade to empty results.
func definitionCache(realm RealmConfig) (*defs.Cache, error) {
	if realm.Definitions == "" {
		return defs.NewCache(defs.NewStaticProvider(nil)), nil
	}
	provider, err := defs.LoadStaticProvider(realm.Definitions)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load definitions", err)
	}
	return defs.NewCache(provider), nil
}
