package cli

import (
	"fmt"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var registerCmd = &cobra.Command{
	Use:   "register <package>...",
	Short: "Add freshly built packages to the content store",
	Long: `Move each package into <contentstore>/<state>/ and record it in the catalog.
Package files must be named <name>-<builder>-<timestamp>.<ext>.`,
	Aliases: []string{"put"},
	Args:    cobra.MinimumNArgs(1),
	Run:     runRegister,
}

var registerState string

func init() {
	registerCmd.Flags().StringVar(&registerState, "state", models.StateTesting, "State pool to register into")
}

func runRegister(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	c := initContext()
	defer c.Close()
	c.ensureBuilt(ctx)

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	failed := 0
	for _, pkg := range args {
		rec, err := c.Catalog.Register(ctx, pkg, registerState)
		if err != nil {
			red.Printf("  failed   ")
			fmt.Printf("%s: %v\n", pkg, err)
			failed++
			continue
		}
		green.Printf("  added    ")
		fmt.Printf("%s -> %s\n", rec.Key(), rec.Archive)
	}

	if failed > 0 {
		c.Close()
		exitError("%d of %d packages failed", failed, len(args))
	}
}
