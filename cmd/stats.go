package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/ghyeongl/filesearch/search"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show index and cache statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		d := deps(cmd)
		s := d.Orchestrator.Stats()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(s)
		}

		fmt.Println("Index")
		fmt.Printf("  Files:          %d\n", s.Index.TotalFiles)
		fmt.Printf("  Keywords:       %d\n", s.Index.TotalKeywords)
		if !s.LastIndexTime.IsZero() {
			fmt.Printf("  Last warmup:    %s\n", humanize.Time(s.LastIndexTime))
		}
		fmt.Println("Listing cache")
		fmt.Printf("  Entries:        %d\n", s.Listings.Entries)
		fmt.Printf("  Hits/misses:    %d/%d\n", s.Listings.Hits, s.Listings.Misses)
		fmt.Printf("  Stale serves:   %d\n", s.Listings.StaleServes)
		fmt.Printf("  Evictions:      %d\n", s.Listings.Evictions)
		fmt.Println("Searches")
		fmt.Printf("  Total:          %d\n", s.Search.TotalSearches)
		fmt.Printf("  Indexed/remote: %d/%d\n", s.Search.IndexedSearches, s.Search.RemoteSearches)
		fmt.Printf("  Cache hits:     %d\n", s.Search.CacheHits)
		fmt.Printf("  Average time:   %s\n", s.Search.AverageSearchTime)

		if d.Snapshots != nil {
			infos, err := d.Snapshots.List()
			if err != nil {
				return err
			}
			fmt.Println("Snapshots")
			for _, info := range infos {
				fmt.Printf("  #%d  %s  %d files\n", info.ID, humanize.Time(info.CreatedAt), info.Files)
			}
		}
		if recent := search.RecentErrors(); len(recent) > 0 {
			fmt.Println("Recent errors")
			for _, e := range recent {
				fmt.Printf("  %s [%s] %s: %s\n", e.Time.Format("15:04:05"), e.Comp, e.Message, e.Error)
			}
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().Bool("json", false, "print as JSON")
	rootCmd.AddCommand(statsCmd)
}
