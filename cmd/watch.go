package cmd

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ghyeongl/filesearch/search"
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir...]",
	Short: "Invalidate cached listings and index entries on filesystem changes",
	Long: `Watch local directories (default: the backend root) and drop cached
state for every changed path. Directories are indexed first; with --events
every invalidation is printed.`,
	Annotations: map[string]string{annotMutates: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		d := deps(cmd)
		if d.LocalFS == nil {
			return fmt.Errorf("watch needs the local backend; unset backend.url")
		}
		if len(args) == 0 {
			args = []string{d.Config.Backend.Root}
		}
		for i, a := range args {
			args[i] = filepath.Clean(a)
			if err := d.Guard.CheckDirectoryAccess(filepath.ToSlash(args[i])); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queue := search.NewInvalidationQueue()
		w, err := search.NewWatcher(args, queue, d.Ignore)
		if err != nil {
			return fmt.Errorf("create watcher: %w", err)
		}
		defer w.Close()

		depth, _ := cmd.Flags().GetInt("depth")
		slashed := make([]string, len(args))
		for i, a := range args {
			slashed[i] = filepath.ToSlash(a)
		}
		if _, err := d.Orchestrator.Warmup(ctx, slashed, depth); err != nil {
			return err
		}

		if showEvents, _ := cmd.Flags().GetBool("events"); showEvents {
			events := d.Orchestrator.Events().Subscribe()
			defer d.Orchestrator.Events().Unsubscribe(events)
			go func() {
				for ev := range events {
					fmt.Printf("%s %-10s %s\n", ev.Time.Format("15:04:05"), ev.Kind, ev.Path)
				}
			}()
		}

		go search.RunInvalidations(ctx, queue, d.Orchestrator)
		if err := w.Start(ctx); err != nil && !errors.Is(err, ctx.Err()) {
			return err
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().Int("depth", 3, "subfolder levels to index before watching")
	watchCmd.Flags().Bool("events", false, "print every cache invalidation")
	rootCmd.AddCommand(watchCmd)
}
