package app

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/docketworks/docketsync/pkg/cache"
)

var searchSort string

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the cached dockets",
	Long: `Searches the local cache snapshot without contacting the remote
service. The query matches docket numbers, job names and display names;
an all-digit query also matches docket number prefixes.`,
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchSort, "sort", string(cache.SortRecentlyCreated),
		"Result order: recently-created, number-asc, number-desc, job-asc, job-desc")
}

func runSearch(cmd *cobra.Command, args []string) error {
	location := cache.ResolveArtifactPath(viper.GetString("cache-location"))
	store := cache.NewStore()

	snapshot, err := store.Load(location)
	if err != nil {
		return fmt.Errorf("cannot read cache at %s: %w", location, err)
	}

	query := strings.Join(args, " ")
	results := cache.Search(snapshot.Dockets, query, cache.SortOrder(searchSort))
	if len(results) == 0 {
		fmt.Println("No matching dockets.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NUMBER\tJOB\tDUE\tSTATUS")
	for _, r := range results {
		due := "-"
		if r.DueDate != nil {
			due = r.DueDate.Format("2006-01-02")
		}
		status := "open"
		if r.Completed {
			status = "completed"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Number, r.JobName, due, status)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !snapshot.LastSync.IsZero() {
		fmt.Printf("\n%d dockets, last synced %s\n",
			len(results), snapshot.LastSync.Local().Format(time.RFC822))
	}
	return nil
}
