package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build or refresh the catalog from the content store",
	Long: `Scan every state directory of the content store and reconcile the packages
found there into the catalog. An existing catalog is cleaned first so stale
state claims are not carried into the rescan.`,
	Aliases: []string{"build-catalog"},
	Run:     runBuild,
}

var buildCleanOnly bool

func init() {
	buildCmd.Flags().BoolVar(&buildCleanOnly, "clean-only", false, "Only drop catalog entries and states no longer backed by files")
}

func runBuild(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	c := initContext()
	defer c.Close()

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	if buildCleanOnly {
		result, err := c.Catalog.Clean(ctx)
		if err != nil {
			exitError("clean failed: %v", err)
		}
		green.Printf("Checked %d records\n", result.Checked)
		if result.Removed > 0 || result.StatesDropped > 0 {
			yellow.Printf("  removed %d records, dropped %d states\n", result.Removed, result.StatesDropped)
		}
		return
	}

	found, err := c.Catalog.Refresh(ctx, c.Existed)
	if err != nil {
		exitError("catalog build failed: %v", err)
	}
	green.Printf("Cataloged %d packages ", len(found))
	fmt.Printf("in %s\n", c.Catalog.Root())
}
