package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ghyeongl/filesearch/config"
	"github.com/ghyeongl/filesearch/search"
)

// annotations on subcommands
const (
	annotSkipSetup = "skip-setup"
	annotMutates   = "mutates"
)

// RootDependencies is what every subcommand works with.
type RootDependencies struct {
	Config       *config.Config
	Backend      search.Backend
	Guard        *search.DirectoryAccessGuard
	Orchestrator *search.Orchestrator
	Snapshots    *search.SnapshotStore
	// LocalFS is set when Backend is the local filesystem.
	LocalFS afero.Fs
	Ignore  *search.IgnoreList
}

type depsKey struct{}

var rootCmd = &cobra.Command{
	Use:   "filesearch",
	Short: "Fast file search over local or remote directories",
	Long: `filesearch answers file-name searches from an in-memory keyword index,
a directory listing cache and a short-lived query cache, falling back to a
local or remote backend. Directory access is restricted to allowed paths.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

func init() {
	config.InitFlags(rootCmd.PersistentFlags())
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// deps returns the dependencies built in setup.
func deps(cmd *cobra.Command) *RootDependencies {
	d, _ := cmd.Context().Value(depsKey{}).(*RootDependencies)
	return d
}

func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[annotSkipSetup] != "" {
		return nil
	}
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	search.InitLogger(search.LogOptions{
		Dir:       cfg.Log.Dir,
		Level:     search.ParseLevel(cfg.Log.Level),
		JSON:      strings.EqualFold(cfg.Log.Format, "json"),
		MaxSizeMB: cfg.Log.MaxSizeMB,
	})

	d := &RootDependencies{Config: cfg}
	var roots []string
	if cfg.Backend.URL != "" {
		d.Backend = search.NewClient(search.ClientConfig{BaseURL: cfg.Backend.URL, Timeout: cfg.Backend.Timeout})
	} else {
		root := filepath.ToSlash(cfg.Backend.Root)
		d.LocalFS = afero.NewOsFs()
		d.Ignore = search.LoadIgnoreList(d.LocalFS, search.JoinPath(root, search.IgnoreFileName))
		d.Backend = search.NewFSBackend(d.LocalFS, d.Ignore)
		roots = []string{root}
	}

	d.Guard = search.NewDirectoryAccessGuard(search.GuardConfig{
		Allowed:     cfg.Access.Allowed,
		Blacklist:   nilIfEmpty(cfg.Access.Blacklist),
		DecisionTTL: cfg.Guard.DecisionTTL,
	})
	d.Orchestrator = search.NewOrchestrator(d.Backend, d.Guard, search.OrchestratorConfig{
		IndexThreshold:       cfg.Index.Threshold,
		ListingTTL:           cfg.Cache.TTL,
		ListingMaxEntries:    cfg.Cache.MaxEntries,
		QueryCacheTTL:        cfg.QueryCache.TTL,
		QueryCacheMaxEntries: cfg.QueryCache.MaxEntries,
		PrefetchConcurrency:  cfg.Prefetch.Concurrency,
		SearchRoots:          roots,
	})

	if cfg.Snapshot.DB != "" {
		store, err := search.OpenSnapshotStore(cfg.Snapshot.DB)
		if err != nil {
			return err
		}
		d.Snapshots = store
		if err := restoreSnapshot(d); err != nil {
			store.Close()
			return err
		}
	}

	cmd.SetContext(context.WithValue(cmd.Context(), depsKey{}, d))
	return nil
}

// restoreSnapshot loads the latest snapshot. The configured policy wins over
// the stored one.
func restoreSnapshot(d *RootDependencies) error {
	snap, ok, err := d.Snapshots.Latest()
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	policy := d.Guard.Export()
	if err := d.Orchestrator.Import(snap); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	d.Guard.Import(policy)
	return nil
}

func teardown(cmd *cobra.Command, _ []string) error {
	d := deps(cmd)
	if d == nil || d.Snapshots == nil {
		return nil
	}
	defer d.Snapshots.Close()
	if cmd.Annotations[annotMutates] == "" {
		return nil
	}
	return saveSnapshot(d)
}

func saveSnapshot(d *RootDependencies) error {
	if _, err := d.Snapshots.Save(d.Orchestrator.Export()); err != nil {
		return err
	}
	if d.Config.Snapshot.Keep > 0 {
		if _, err := d.Snapshots.Prune(d.Config.Snapshot.Keep); err != nil {
			return err
		}
	}
	return nil
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
