package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:         "ls <dir>",
	Short:       "List a directory through the listing cache",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{annotMutates: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		d := deps(cmd)
		listing, err := d.Orchestrator.ListDirectory(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tSIZE\tMODIFIED")
		for _, it := range listing.Items {
			name, size := it.Name, humanize.Bytes(uint64(max(it.Size, 0)))
			if it.IsDir() {
				name += "/"
				size = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", name, it.FileType, size, humanize.Time(it.Modified))
		}
		w.Flush()

		if age, ok := d.Orchestrator.Listings().Age(args[0]); ok && age > d.Config.Cache.TTL {
			fmt.Fprintf(os.Stderr, "warning: listing is stale (%s old)\n", age.Round(time.Second))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
