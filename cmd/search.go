package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ghyeongl/filesearch/search"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search files by name, extension, type or folder",
	Long: `Search files whose name, extension, type tag or parent folders contain
every word of the query. Results come from the query cache, the keyword index
once it is large enough, or the backend.`,
	Args:        cobra.MinimumNArgs(1),
	Annotations: map[string]string{annotMutates: "true"},
	RunE:        runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.StringP("dir", "d", "", "restrict the search to this directory")
	f.StringSliceP("type", "t", nil, "file extensions to keep (pdf,txt)")
	f.Int64("min-size", 0, "minimum size in bytes")
	f.Int64("max-size", 0, "maximum size in bytes")
	f.String("after", "", "modified after (2006-01-02 or RFC3339)")
	f.String("before", "", "modified before (2006-01-02 or RFC3339)")
	f.IntP("limit", "n", 50, "maximum number of results")
	f.Bool("remote", false, "skip the index and ask the backend")
	f.Bool("json", false, "print the response as JSON")
	rootCmd.AddCommand(searchCmd)
}

func parseTimeFlag(cmd *cobra.Command, name string) (time.Time, error) {
	s, _ := cmd.Flags().GetString(name)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --%s value %q", name, s)
}

func runSearch(cmd *cobra.Command, args []string) error {
	d := deps(cmd)
	f := cmd.Flags()

	var opts search.SearchOptions
	opts.Directory, _ = f.GetString("dir")
	opts.FileTypes, _ = f.GetStringSlice("type")
	opts.MinSize, _ = f.GetInt64("min-size")
	opts.MaxSize, _ = f.GetInt64("max-size")
	opts.Limit, _ = f.GetInt("limit")
	opts.ForceRemote, _ = f.GetBool("remote")
	var err error
	if opts.ModifiedAfter, err = parseTimeFlag(cmd, "after"); err != nil {
		return err
	}
	if opts.ModifiedBefore, err = parseTimeFlag(cmd, "before"); err != nil {
		return err
	}

	resp, err := d.Orchestrator.SearchFiles(cmd.Context(), strings.Join(args, " "), opts)
	if err != nil {
		return err
	}

	if asJSON, _ := f.GetBool("json"); asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if resp.Total == 0 {
		fmt.Println("No matches")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tTYPE\tSIZE\tMODIFIED")
	for _, r := range resp.Results {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Path, r.Type, humanize.Bytes(uint64(max(r.Size, 0))), humanize.Time(r.Modified))
	}
	w.Flush()
	fmt.Printf("\n%d result(s), %s, %s\n", resp.Total, resp.Provenance, resp.Elapsed.Round(time.Microsecond))
	return nil
}
