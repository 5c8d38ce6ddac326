package cli

import (
	"context"
	"fmt"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/metadata"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Promote a cataloged package into another state",
	Long: `Promote a package into a state pool by linking it from <contentstore>/<state>/.

The package is chosen by --name and --version, by a package file (-f), or by
an unpacked content directory carrying a .version file (--path). Without
--version the latest testing build of --name is released.

Examples:
  contentctl release --name foo --version 20240101000000
  contentctl release --name foo --use-uat
  contentctl release -f testing/foo-render01-20240101000000.tgz`,
	Aliases: []string{"release-content"},
	Run:     runRelease,
}

var (
	releaseName    string
	releaseVersion string
	releaseFile    string
	releasePath    string
	releasePool    *poolSelector
)

func init() {
	releaseCmd.Flags().StringVar(&releaseName, "name", "", "Content title")
	releaseCmd.Flags().StringVar(&releaseVersion, "version", "", "Content version")
	releaseCmd.Flags().StringVarP(&releaseFile, "file", "f", "", "Package file to release")
	releaseCmd.Flags().StringVar(&releasePath, "path", "", "Unpacked content directory to release")
	releasePool = newPoolSelector(releaseCmd, models.StateRelease, map[string]string{
		"use-release": models.StateRelease,
		"use-uat":     models.StateUAT,
	})
}

func runRelease(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	dest, err := releasePool.state()
	if err != nil {
		exitError("%v", err)
	}

	c := initContext()
	defer c.Close()
	c.ensureBuilt(ctx)

	name, version, err := releaseTarget(ctx, c)
	if err != nil {
		exitError("%v", err)
	}

	rec, err := c.Catalog.Release(ctx, name, version, dest)
	if err != nil {
		exitError("release failed: %v", err)
	}

	color.New(color.FgGreen).Printf("Released %s ", rec.Key())
	fmt.Printf("to %s\n", dest)
}

// releaseTarget resolves the (name, version) the flags point at
func releaseTarget(ctx context.Context, c *cmdContext) (string, string, error) {
	switch {
	case releaseFile != "":
		rec, err := metadata.Extract(releaseFile)
		if err != nil {
			return "", "", err
		}
		return rec.Name, rec.Version, nil
	case releasePath != "":
		rec, err := metadata.ReadVersionFile(releasePath)
		if err != nil {
			return "", "", err
		}
		return rec.Name, rec.Version, nil
	case releaseName == "":
		return "", "", fmt.Errorf("one of --name, --file or --path is required")
	case releaseVersion != "":
		return releaseName, releaseVersion, nil
	}

	latest, err := c.Catalog.LatestOne(ctx, models.StateTesting, releaseName)
	if err != nil {
		return "", "", err
	}
	return latest.Name, latest.Version, nil
}
