package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/config"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/publish"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

const fileScheme = "file://"

var publishCmd = &cobra.Command{
	Use:   "publish [<name>...]",
	Short: "Publish the latest content of a state pool to the publication bucket",
	Long: `Upload the unpacked latest version of each title in a state pool to
<bucket>/<name>/. Titles whose published version is the same or newer are
skipped.

The published version is looked up in the local ledger (deployment.ledger)
first and only then in the bucket's <name>/.version. If the bucket was wiped
or rolled back outside contentctl, the ledger still reports the old version
and the title is skipped; delete the ledger file to force a check against
the bucket.

The bucket may be an S3 bucket name or a file:// directory.

Examples:
  contentctl publish
  contentctl publish --use-testing --bucket file:///srv/content-preview`,
	Aliases: []string{"publish-content"},
	Run:     runPublish,
}

var (
	publishBucket   string
	publishRegion   string
	publishEndpoint string
	publishPool     *poolSelector
)

func init() {
	publishCmd.Flags().StringVar(&publishBucket, "bucket", "", "Publication bucket (overrides deployment.publication_bucket)")
	publishCmd.Flags().StringVar(&publishRegion, "region", "", "Bucket region")
	publishCmd.Flags().StringVar(&publishEndpoint, "endpoint", "", "S3-compatible endpoint URL")
	publishPool = newPoolSelector(publishCmd, models.StateRelease, map[string]string{
		"use-released": models.StateRelease,
		"use-testing":  models.StateTesting,
	})
}

func runPublish(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	state, err := publishPool.state()
	if err != nil {
		exitError("%v", err)
	}

	c := initContext()
	defer c.Close()
	c.ensureBuilt(ctx)

	bucket := c.Config.Deployment.PublicationBucket
	if publishBucket != "" {
		bucket = publishBucket
	}
	if bucket == "" {
		exitError("no publication bucket configured (set deployment.publication_bucket or pass --bucket)")
	}

	objects, err := openObjectStore(ctx, c.Config, bucket)
	if err != nil {
		exitError("%v", err)
	}

	ledger, err := publish.OpenLedger(c.Config.LedgerPath())
	if err != nil {
		exitError("%v", err)
	}
	defer ledger.Close()

	records, err := c.Catalog.Latest(ctx, state, "")
	if err != nil {
		exitError("failed to read catalog: %v", err)
	}
	records = filterNames(records, args)

	// uploads happen without the catalog lock
	root := c.releaseCatalog()

	p := &publish.Publisher{
		Store:        objects,
		Bucket:       bucket,
		ContentStore: root,
		Ledger:       ledger,
		Invalidator:  publish.LogInvalidator{Logger: c.Logger},
		Logger:       c.Logger,
	}
	result, err := p.Publish(ctx, records)
	if err != nil {
		exitError("publish interrupted: %v", err)
	}

	green := color.New(color.FgGreen)
	for _, k := range result.Published {
		green.Printf("  published ")
		fmt.Println(k)
	}
	fmt.Printf("%d published, %d current, %d objects uploaded, %d removed\n",
		len(result.Published), len(result.Skipped), result.Uploaded, result.Deleted)
	if len(result.Failed) > 0 {
		color.New(color.FgRed).Printf("%d failed\n", len(result.Failed))
		ledger.Close()
		exitError("some titles failed to publish")
	}
}

// openObjectStore picks the backend for a bucket reference
func openObjectStore(ctx context.Context, cfg *config.Config, bucket string) (publish.ObjectStore, error) {
	if strings.HasPrefix(bucket, fileScheme) {
		return publish.NewFSStore(config.ExpandPath(strings.TrimPrefix(bucket, fileScheme)))
	}

	region := cfg.Deployment.Region
	if publishRegion != "" {
		region = publishRegion
	}
	endpoint := cfg.Deployment.Endpoint
	if publishEndpoint != "" {
		endpoint = publishEndpoint
	}
	s3store, err := publish.NewS3Store(ctx, publish.S3Config{
		Bucket:    bucket,
		Region:    region,
		Endpoint:  endpoint,
		AccessKey: cfg.Authentication.AWSAccessKey,
		SecretKey: cfg.Authentication.AWSSecretKey,
	})
	if err != nil {
		return nil, err
	}
	return publish.NewRetryStore(s3store, nil), nil
}
