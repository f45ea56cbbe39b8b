package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FileName is the config file name searched for (without extension).
const FileName = "filesearch"

// EnvPrefix prefixes every environment override, e.g. FILESEARCH_CACHE_TTL.
const EnvPrefix = "FILESEARCH"

// Config represents the structure of the configuration file.
type Config struct {
	Backend    BackendConfig  `mapstructure:"backend" yaml:"backend"`
	Access     AccessConfig   `mapstructure:"access" yaml:"access"`
	Cache      CacheConfig    `mapstructure:"cache" yaml:"cache"`
	QueryCache CacheConfig    `mapstructure:"query_cache" yaml:"query_cache"`
	Guard      GuardConfig    `mapstructure:"guard" yaml:"guard"`
	Index      IndexConfig    `mapstructure:"index" yaml:"index"`
	Prefetch   PrefetchConfig `mapstructure:"prefetch" yaml:"prefetch"`
	Snapshot   SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
	Log        LogConfig      `mapstructure:"log" yaml:"log"`
}

type BackendConfig struct {
	// URL of a remote backend. Empty selects the local filesystem under Root.
	URL     string        `mapstructure:"url" yaml:"url"`
	Root    string        `mapstructure:"root" yaml:"root"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AccessConfig struct {
	Allowed []string `mapstructure:"allowed" yaml:"allowed"`
	// Blacklist replaces the built-in deny-list when non-empty.
	Blacklist []string `mapstructure:"blacklist" yaml:"blacklist"`
}

type CacheConfig struct {
	TTL        time.Duration `mapstructure:"ttl" yaml:"ttl"`
	MaxEntries int           `mapstructure:"max_entries" yaml:"max_entries"`
}

type GuardConfig struct {
	DecisionTTL time.Duration `mapstructure:"decision_ttl" yaml:"decision_ttl"`
}

type IndexConfig struct {
	Threshold int `mapstructure:"threshold" yaml:"threshold"`
}

type PrefetchConfig struct {
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

type SnapshotConfig struct {
	DB   string `mapstructure:"db" yaml:"db"`
	Keep int    `mapstructure:"keep" yaml:"keep"`
}

type LogConfig struct {
	Dir       string `mapstructure:"dir" yaml:"dir"`
	Level     string `mapstructure:"level" yaml:"level"`
	Format    string `mapstructure:"format" yaml:"format"` // text or json, for the files
	MaxSizeMB int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend:    BackendConfig{Root: "~", Timeout: 30 * time.Second},
		Access:     AccessConfig{Allowed: []string{"~"}},
		Cache:      CacheConfig{TTL: 5 * time.Minute, MaxEntries: 1000},
		QueryCache: CacheConfig{TTL: 30 * time.Second, MaxEntries: 100},
		Guard:      GuardConfig{DecisionTTL: 5 * time.Minute},
		Index:      IndexConfig{Threshold: 100},
		Prefetch:   PrefetchConfig{Concurrency: 4},
		Snapshot:   SnapshotConfig{Keep: 3},
		Log:        LogConfig{Level: "info", Format: "text", MaxSizeMB: 10},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("backend.url", d.Backend.URL)
	v.SetDefault("backend.root", d.Backend.Root)
	v.SetDefault("backend.timeout", d.Backend.Timeout)
	v.SetDefault("access.allowed", d.Access.Allowed)
	v.SetDefault("access.blacklist", d.Access.Blacklist)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.max_entries", d.Cache.MaxEntries)
	v.SetDefault("query_cache.ttl", d.QueryCache.TTL)
	v.SetDefault("query_cache.max_entries", d.QueryCache.MaxEntries)
	v.SetDefault("guard.decision_ttl", d.Guard.DecisionTTL)
	v.SetDefault("index.threshold", d.Index.Threshold)
	v.SetDefault("prefetch.concurrency", d.Prefetch.Concurrency)
	v.SetDefault("snapshot.db", d.Snapshot.DB)
	v.SetDefault("snapshot.keep", d.Snapshot.Keep)
	v.SetDefault("log.dir", d.Log.Dir)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
}

// flagKeys maps persistent flag names to config keys.
var flagKeys = map[string]string{
	"backend":   "backend.url",
	"root":      "backend.root",
	"allow":     "access.allowed",
	"snapshot":  "snapshot.db",
	"log-dir":   "log.dir",
	"log-level": "log.level",
}

// InitFlags registers the persistent flags that override config keys.
func InitFlags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "path to a config file (YAML)")
	fs.String("backend", "", "URL of a remote backend (empty: local filesystem)")
	fs.String("root", "", "root directory of the local backend")
	fs.StringSlice("allow", nil, "allowed directories")
	fs.String("snapshot", "", "SQLite file for index snapshots")
	fs.String("log-dir", "", "directory for rotating log files")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
}

// Load reads configuration from file, environment and flags, in increasing
// priority. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfgFile string
	if flags != nil {
		cfgFile, _ = flags.GetString("config")
	}
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.expand()
	return &cfg, nil
}

// expand resolves ~ in path-valued settings.
func (c *Config) expand() {
	c.Backend.Root = expandPath(c.Backend.Root)
	c.Snapshot.DB = expandPath(c.Snapshot.DB)
	c.Log.Dir = expandPath(c.Log.Dir)
	for i, p := range c.Access.Allowed {
		c.Access.Allowed[i] = expandPath(p)
	}
}

func expandPath(p string) string {
	if p == "" {
		return p
	}
	if expanded, err := homedir.Expand(p); err == nil {
		return expanded
	}
	return p
}

// WriteDefault writes the default configuration as YAML to path. An existing
// file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// DefaultPath returns ~/.config/filesearch/filesearch.yaml.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", FileName, FileName+".yaml"), nil
}
