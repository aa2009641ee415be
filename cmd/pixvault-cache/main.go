// Command pixvault-cache imports photos into the configured photo store and
// inspects, warms and clears the thumbnail cache built on top of it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pixvault/go-common/cache"
	"github.com/pixvault/go-common/config"
	"github.com/pixvault/go-common/env"
	"github.com/pixvault/go-common/logger"
	"github.com/pixvault/go-common/photostore"
	"github.com/pixvault/go-common/tui"
	"github.com/spf13/cobra"
)

const serviceName = "pixvault-cache"

// app is everything a command needs, opened from the configuration.
type app struct {
	log      logger.Logger
	config   *config.Config
	store    photostore.Store
	guard    *photostore.Guard
	cache    *cache.Cache
	shutdown func()
}

func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	log, shutdown, err := env.NewTelemetry(ctx, cmd, serviceName)
	if err != nil {
		return nil, err
	}
	fn, _ := cmd.Flags().GetString("config")
	if fn == "" {
		fn = config.DefaultPath()
	}
	cfg, err := config.LoadOrDefault(fn)
	if err != nil {
		shutdown()
		return nil, err
	}
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		shutdown()
		return nil, errors.Wrap(err, "error opening photo store")
	}
	guard := photostore.NewGuard(store, cfg.GuardConfig(), log)
	log.Debug("using %s store at %s, cache at %s", cfg.Store.Type, cfg.Store.Path, cfg.Cache.Disk.Directory)
	return &app{
		log:      log,
		config:   cfg,
		store:    store,
		guard:    guard,
		cache:    cache.New(guard, cfg.Generator(), cfg.CacheOptions(log)...),
		shutdown: shutdown,
	}, nil
}

// Close drains the cache, then releases the store and flushes telemetry.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.cache.Close(ctx); err != nil {
		a.log.Warn("error closing cache: %s", err)
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("error closing photo store: %s", err)
	}
	a.shutdown()
}

// withApp adapts fn into a cobra RunE that opens and closes the app around it.
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Manage the pixvault thumbnail cache",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.String("config", "", "configuration file (default $"+config.EnvConfigFile+" or ~/.pixvault/config.yaml)")
	flags.String("log-level", "", "log level: trace, debug, info, warn or error")
	flags.String("otlp-url", "", "OTLP/HTTP endpoint for logs and traces ($"+env.EnvOTLPURL+")")
	flags.String("otlp-token", "", "bearer token for the OTLP endpoint ($"+env.EnvOTLPToken+")")
	flags.Bool("no-telemetry", false, "disable telemetry export")

	root.AddCommand(
		newImportCommand(),
		newGetCommand(),
		newPreloadCommand(),
		newInvalidateCommand(),
		newStatsCommand(),
		newPurgeCommand(),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		tui.ShowError("%s", err)
		cancel()
		os.Exit(1)
	}
}
