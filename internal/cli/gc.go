package cli

import (
	"fmt"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/core"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove stale testing builds",
	Long: `Delete testing-only packages that were never promoted, are not the latest
testing build of their title, and are older than the retention window
(catalog.retention, default 48h). Files are removed before catalog rows.`,
	Aliases: []string{"gc-catalog"},
	Run:     runGC,
}

var gcRetention string

func init() {
	gcCmd.Flags().StringVar(&gcRetention, "retention", "", "Override catalog.retention (Go duration, e.g. 72h)")
}

func runGC(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	cfg, logger := loadConfig()
	if gcRetention != "" {
		cfg.Catalog.Retention = gcRetention
		if err := cfg.Validate(); err != nil {
			exitError("%v", err)
		}
	}

	result, err := core.GarbageCollect(ctx, cfg.Local.ContentStore, catalogOptions(cfg), logger)
	if err != nil {
		exitError("gc failed: %v", err)
	}

	color.New(color.FgGreen).Printf("Removed %d of %d candidates", result.Removed, result.Candidates)
	fmt.Printf(" (%d records scanned, %d files deleted", result.Scanned, result.FilesRemoved)
	if result.Orphans > 0 {
		fmt.Printf(", %d orphaned entries", result.Orphans)
	}
	fmt.Println(")")
}
