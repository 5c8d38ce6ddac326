package cli

import (
	"fmt"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/library"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update [<name>...]",
	Short: "Update the unpacked content library",
	Long: `Unpack the latest package of each title in a state pool into the content
library, replacing older copies. Titles already at that version are skipped.`,
	Aliases: []string{"update-content"},
	Run:     runUpdate,
}

var (
	updateWorkers int
	updateLibrary string
	updatePool    *poolSelector
)

func init() {
	updateCmd.Flags().IntVarP(&updateWorkers, "jobs", "j", library.DefaultWorkers, "Number of packages to unpack in parallel")
	updateCmd.Flags().StringVarP(&updateLibrary, "content-library", "l", "", "Content library (overrides local.content_library)")
	updatePool = newPoolSelector(updateCmd, models.StateTesting, map[string]string{
		"use-testing":  models.StateTesting,
		"use-released": models.StateRelease,
		"use-uat":      models.StateUAT,
		"use-dev":      models.StateDevelopment,
	})
}

func runUpdate(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	state, err := updatePool.state()
	if err != nil {
		exitError("%v", err)
	}

	c := initContext()
	defer c.Close()
	c.ensureBuilt(ctx)

	libDir := c.Config.Local.ContentLibrary
	if updateLibrary != "" {
		libDir = updateLibrary
	}
	if libDir == "" {
		exitError("no content library configured (set local.content_library or pass -l)")
	}

	records, err := c.Catalog.Latest(ctx, state, "")
	if err != nil {
		exitError("failed to read catalog: %v", err)
	}
	records = filterNames(records, args)

	root := c.releaseCatalog()

	u := &library.Updater{
		Library:      libDir,
		ContentStore: root,
		Workers:      updateWorkers,
		Logger:       c.Logger,
	}
	result, err := u.Update(ctx, records)
	if err != nil {
		exitError("update interrupted: %v", err)
	}

	color.New(color.FgGreen).Printf("Updated %d", len(result.Updated))
	fmt.Printf(", skipped %d", len(result.Skipped))
	if len(result.Failed) > 0 {
		color.New(color.FgRed).Printf(", failed %d", len(result.Failed))
	}
	fmt.Printf(" (%s pool)\n", state)
	if len(result.Failed) > 0 {
		exitError("some packages failed to update")
	}
}

func filterNames(records []*models.ContentRecord, names []string) []*models.ContentRecord {
	if len(names) == 0 {
		return records
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []*models.ContentRecord
	for _, r := range records {
		if want[r.Name] {
			out = append(out, r)
		}
	}
	return out
}
