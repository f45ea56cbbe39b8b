package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	InitFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	home, err := homedir.Dir()
	require.NoError(t, err)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, home, cfg.Backend.Root)
	assert.Equal(t, []string{home}, cfg.Access.Allowed)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 1000, cfg.Cache.MaxEntries)
	assert.Equal(t, 30*time.Second, cfg.QueryCache.TTL)
	assert.Equal(t, 100, cfg.Index.Threshold)
	assert.Equal(t, 4, cfg.Prefetch.Concurrency)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Empty(t, cfg.Backend.URL)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  url: http://files.local:8089
access:
  allowed: [/srv/share, /data]
cache:
  ttl: 1m
  max_entries: 50
index:
  threshold: 10
`), 0644))

	cfg, err := Load(setupFlags(t, "--config", path))
	require.NoError(t, err)
	assert.Equal(t, "http://files.local:8089", cfg.Backend.URL)
	assert.Equal(t, []string{"/srv/share", "/data"}, cfg.Access.Allowed)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 50, cfg.Cache.MaxEntries)
	assert.Equal(t, 10, cfg.Index.Threshold)
	assert.Equal(t, 30*time.Second, cfg.QueryCache.TTL, "unset keys keep their defaults")
}

func TestLoad_FileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName+".yaml"), []byte("prefetch:\n  concurrency: 9\n"), 0644))

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Prefetch.Concurrency)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(setupFlags(t, "--config", filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Error(t, err)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FILESEARCH_INDEX_THRESHOLD", "42")
	t.Setenv("FILESEARCH_LOG_LEVEL", "debug")
	t.Setenv("FILESEARCH_LOG_FORMAT", "json")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Index.Threshold)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_FlagsWin(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FILESEARCH_BACKEND_ROOT", "/from/env")

	cfg, err := Load(setupFlags(t, "--root", "/from/flag", "--allow", "/a,/b", "--log-level", "warn"))
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Backend.Root)
	assert.Equal(t, []string{"/a", "/b"}, cfg.Access.Allowed)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "filesearch.yaml")
	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "refuses to overwrite")
	require.NoError(t, WriteDefault(path, true))

	cfg, err := Load(setupFlags(t, "--config", path))
	require.NoError(t, err)
	d := Default()
	assert.Equal(t, d.Cache, cfg.Cache)
	assert.Equal(t, d.QueryCache, cfg.QueryCache)
	assert.Equal(t, d.Guard, cfg.Guard)
	assert.Equal(t, d.Snapshot, cfg.Snapshot)
}

func TestDefaultPath(t *testing.T) {
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, FileName+".yaml", filepath.Base(p))
	assert.Equal(t, FileName, filepath.Base(filepath.Dir(p)))
}
