package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/core"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/metadata"
	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex [<name>...]",
	Short: "Rebuild the search index of testing content",
	Long: `Unpack the latest testing package of each title (or the packages given
with -f), run the indexer over it, and register the result in testing as a
new version stamped with this host as indexer.

The indexer command comes from index.command; the title name is appended
as its last argument and it runs in the unpacked package's parent
directory. With no command configured the package is only restamped.

Examples:
  contentctl reindex
  contentctl reindex biology chemistry
  contentctl reindex -f /tmp/biology-builder-20240101000000.tgz
  contentctl reindex --indexer-cmd "nti_index_book_content --verbose"`,
	Aliases: []string{"reindex-content"},
	Run:     runReindex,
}

var (
	reindexFiles   []string
	reindexCommand string
	reindexIndexer string
)

func init() {
	reindexCmd.Flags().StringSliceVarP(&reindexFiles, "file", "f", nil, "Package file to reindex instead of the catalog's latest")
	reindexCmd.Flags().StringVar(&reindexCommand, "indexer-cmd", "", "Indexer command (overrides index.command; empty skips indexing)")
	reindexCmd.Flags().StringVar(&reindexIndexer, "indexer", "", "Indexer name to record (overrides index.indexer; default host name)")
}

func runReindex(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	c := initContext()
	defer c.Close()
	c.ensureBuilt(ctx)

	opts := core.IndexOptions{
		Command: c.Config.Index.Command,
		Indexer: c.Config.Index.Indexer,
	}
	if cmd.Flags().Changed("indexer-cmd") {
		opts.Command = strings.Fields(reindexCommand)
	}
	if reindexIndexer != "" {
		opts.Indexer = reindexIndexer
	}

	records, err := reindexSources(ctx, c, args)
	if err != nil {
		exitError("%v", err)
	}
	if len(records) == 0 {
		fmt.Println("Nothing to reindex")
		return
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	failed := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			break
		}
		next, err := c.Catalog.Reindex(ctx, rec, opts)
		if err != nil {
			red.Printf("  failed   ")
			fmt.Printf("%s: %v\n", rec.Key(), err)
			failed++
			continue
		}
		green.Printf("  indexed  ")
		fmt.Printf("%s -> %s\n", rec.Key(), next.Version)
	}

	if ctx.Err() != nil {
		c.Close()
		exitError("reindex interrupted: %v", ctx.Err())
	}
	if failed > 0 {
		c.Close()
		exitError("%d of %d titles failed to reindex", failed, len(records))
	}
}

// reindexSources resolves -f packages or the latest testing records by name
func reindexSources(ctx context.Context, c *cmdContext, names []string) ([]*models.ContentRecord, error) {
	if len(reindexFiles) > 0 {
		if len(names) > 0 {
			return nil, errors.New("names and -f cannot be combined")
		}
		var records []*models.ContentRecord
		for _, f := range reindexFiles {
			rec, err := metadata.Extract(f)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
		return records, nil
	}

	records, err := c.Catalog.Latest(ctx, models.StateTesting, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return filterNames(records, names), nil
}
