package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [dir...]",
	Short: "Warm the listing cache and keyword index",
	Long: `Prefetch the given directories (default: the backend root) and their
subfolders down to --depth, indexing every entry. With snapshot.db configured
the result is persisted for later runs.`,
	Annotations: map[string]string{annotMutates: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		d := deps(cmd)
		depth, _ := cmd.Flags().GetInt("depth")
		if len(args) == 0 {
			args = []string{d.Config.Backend.Root}
		}

		results, err := d.Orchestrator.Warmup(cmd.Context(), args, depth)
		if err != nil {
			return err
		}
		failed := 0
		for _, r := range results {
			if !r.OK() {
				failed++
				if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
					fmt.Printf("  %s: %v\n", r.Path, r.Err)
				}
			}
		}
		stats := d.Orchestrator.Stats()
		fmt.Printf("Indexed %d entries (%d keywords) from %d directories, %d failed\n",
			stats.Index.TotalFiles, stats.Index.TotalKeywords, len(results)-failed, failed)
		return nil
	},
}

func init() {
	indexCmd.Flags().Int("depth", 3, "subfolder levels to descend")
	indexCmd.Flags().BoolP("verbose", "v", false, "list directories that failed")
	rootCmd.AddCommand(indexCmd)
}
