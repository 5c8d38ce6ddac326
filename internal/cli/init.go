package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write a configuration file with default catalog settings.
The file is written to --config, $CONTENTCTL_CONFIG, or ~/etc/contentctl.toml.`,
	Run: runInit,
}

var (
	initLibrary string
	initBucket  string
)

func init() {
	initCmd.Flags().StringVar(&initLibrary, "content-library", "", "Unpacked content library directory")
	initCmd.Flags().StringVar(&initBucket, "bucket", "", "Publication bucket")
}

func runInit(cmd *cobra.Command, args []string) {
	path := flagConfig
	if path == "" {
		path = config.DefaultPath()
	}
	path = config.ExpandPath(path)

	// Check if already initialized
	if _, err := os.Stat(path); err == nil {
		exitError("config file %s already exists", path)
	} else if !errors.Is(err, os.ErrNotExist) {
		exitError("%v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		exitError("%v", err)
	}
	cfg.Local.ContentStore = config.ExpandPath(flagContentStore)
	cfg.Local.ContentLibrary = config.ExpandPath(initLibrary)
	cfg.Deployment.PublicationBucket = initBucket

	if err := cfg.Save(); err != nil {
		exitError("failed to write config: %v", err)
	}
	fmt.Printf("Wrote %s\n", cfg.Path())
	if cfg.Local.ContentStore == "" {
		fmt.Println("Set local.content_store before running other commands.")
	}
}
