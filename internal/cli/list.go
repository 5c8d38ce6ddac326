package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/OpenNTI/nti.deploymenttools.content/internal/models"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog entries",
	Long: `List catalog entries, most recent version first.

Examples:
  contentctl list                          All entries
  contentctl list --name foo               Every version of foo
  contentctl list --latest --state release Latest released version of each title`,
	Run: runList,
}

var (
	listName   string
	listState  string
	listLatest bool
	listJSON   bool
)

func init() {
	listCmd.Flags().StringVar(&listName, "name", "", "Only show this title")
	listCmd.Flags().StringVar(&listState, "state", "", "Only show entries carrying this state")
	listCmd.Flags().BoolVar(&listLatest, "latest", false, "Only the latest version per title (requires --state)")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Print records as JSON")
}

func runList(cmd *cobra.Command, args []string) {
	ctx, cancel := signalContext()
	defer cancel()

	c := initReadOnlyContext()
	defer c.Close()

	var (
		records []*models.ContentRecord
		err     error
	)
	if listLatest {
		if listState == "" {
			exitError("--latest requires --state")
		}
		records, err = c.Catalog.Latest(ctx, listState, listName)
	} else {
		records, err = c.Catalog.List(ctx)
	}
	if err != nil {
		exitError("failed to read catalog: %v", err)
	}

	records = filterRecords(records, listName, listState)

	if listJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			exitError("%v", err)
		}
		return
	}

	if len(records) == 0 {
		fmt.Println("No catalog entries")
		return
	}

	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	for _, r := range records {
		yellow.Printf("%-40s ", r.Name)
		fmt.Printf("%-16s ", r.Version)
		cyan.Printf("[%s] ", strings.Join(r.State.Values(), ","))
		fmt.Println(r.Archive)
	}
}

func filterRecords(records []*models.ContentRecord, name, state string) []*models.ContentRecord {
	if name == "" && state == "" {
		return records
	}
	var out []*models.ContentRecord
	for _, r := range records {
		if name != "" && r.Name != name {
			continue
		}
		if state != "" && !r.State.Has(state) {
			continue
		}
		out = append(out, r)
	}
	return out
}
