// Package cli implements the command-line interface for contentctl.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/config"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/core"
	"github.com/spf13/cobra"
)

var (
	flagConfig       string
	flagContentStore string
	flagLogLevel     string
	flagLogFormat    string
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config  *config.Config
	Catalog *core.Catalog
	Logger  *slog.Logger
	// Existed is false when the catalog was created by this invocation
	Existed bool
}

// Close releases resources held by cmdContext. It is safe to call twice.
func (c *cmdContext) Close() {
	if c.Catalog != nil {
		c.Catalog.Close()
		c.Catalog = nil
	}
}

// releaseCatalog closes the catalog and its lock for commands whose remaining
// work only reads package files, and returns the content-store root
func (c *cmdContext) releaseCatalog() string {
	root := c.Catalog.Root()
	c.Close()
	return root
}

// loadConfig loads the config file and applies global flag overrides
func loadConfig() (*config.Config, *slog.Logger) {
	logger := newLogger(flagLogLevel, flagLogFormat)
	slog.SetDefault(logger)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		exitError("%v", err)
	}
	if flagContentStore != "" {
		cfg.Local.ContentStore = config.ExpandPath(flagContentStore)
	}
	if err := cfg.Validate(); err != nil {
		exitError("%v", err)
	}
	return cfg, logger
}

// catalogOptions maps configuration onto catalog options
func catalogOptions(cfg *config.Config) core.Options {
	retention, _ := cfg.Retention()
	lockTimeout, _ := cfg.LockTimeout()
	return core.Options{
		States:      cfg.Catalog.States,
		Retention:   retention,
		PackageExt:  cfg.Catalog.PackageExt,
		LockTimeout: lockTimeout,
	}
}

// initContext loads config and opens the catalog for writing
func initContext() *cmdContext {
	return openContext(false)
}

// initReadOnlyContext opens the catalog under a shared lock
func initReadOnlyContext() *cmdContext {
	return openContext(true)
}

func openContext(readOnly bool) *cmdContext {
	cfg, logger := loadConfig()

	cat, existed, err := core.Open(cfg.Local.ContentStore, catalogOptions(cfg), readOnly, logger)
	if err != nil {
		exitError("failed to open catalog: %v", err)
	}

	return &cmdContext{Config: cfg, Catalog: cat, Logger: logger, Existed: existed}
}

// ensureBuilt scans the content store when the catalog was just created
func (c *cmdContext) ensureBuilt(ctx context.Context) {
	if c.Existed {
		return
	}
	c.Logger.Info("new catalog, scanning content store", "root", c.Catalog.Root())
	if _, err := c.Catalog.Build(ctx); err != nil {
		c.Close()
		exitError("failed to build catalog: %v", err)
	}
	c.Existed = true
}

// signalContext is cancelled on SIGINT/SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:   "contentctl",
	Short: "Content catalog and publishing tools",
	Long: `contentctl manages a content store of packaged course content: it keeps
the catalog of package versions and promotion states in sync with the
filesystem, promotes packages between states, garbage-collects stale
testing builds, and publishes released content.`,
}

// Execute runs the root command
func Execute() error {
	registerCompletions()
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flagConfig, "config", "c", "", "Config file (default $"+config.EnvConfig+" or ~/"+config.DefaultFile+")")
	pf.StringVarP(&flagContentStore, "contentstore", "p", "", "Content store root (overrides local.content_store)")
	pf.StringVar(&flagLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(gcCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(reindexCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(completionCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
