package search

import (
	"log/slog"
	"strings"
	gosync "sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/mitchellh/go-homedir"
	"github.com/samber/lo"
)

// DefaultDecisionTTL is how long a cached allow/deny decision stays valid.
const DefaultDecisionTTL = 5 * time.Minute

// DefaultBlacklist returns the built-in deny-list. Entries without a slash
// match a path segment anywhere; the others are path prefixes.
func DefaultBlacklist() []string {
	return []string{
		// system directories
		"/bin", "/sbin", "/boot", "/dev", "/etc", "/proc", "/sys", "/usr/bin", "/usr/sbin",
		"/var/lib", "/System", "/Library/Keychains",
		"C:/Windows", "C:/Program Files", "C:/Program Files (x86)", "C:/ProgramData",
		// credentials and keys
		".ssh", ".gnupg", ".aws", ".azure", ".kube",
		// version control internals
		".git", ".svn", ".hg",
		// dependency trees
		"node_modules", "bower_components", "__pycache__",
	}
}

// unsafeExtensions may never be opened for editing.
var unsafeExtensions = map[string]struct{}{
	"exe": {}, "dll": {}, "sys": {}, "com": {}, "scr": {}, "pif": {},
	"bat": {}, "cmd": {}, "vbs": {}, "vbe": {}, "ps1": {}, "psm1": {}, "wsf": {},
	"msi": {}, "msp": {}, "jar": {}, "app": {}, "dmg": {}, "pkg": {}, "deb": {}, "rpm": {}, "apk": {},
}

// DirectoryConfig is the exported form of the guard policy.
type DirectoryConfig struct {
	Allowed     []string `json:"allowed"`
	Blacklisted []string `json:"blacklisted"`
}

// GuardConfig configures a DirectoryAccessGuard.
type GuardConfig struct {
	Allowed     []string
	Blacklist   []string // nil → DefaultBlacklist()
	DecisionTTL time.Duration
}

type decision struct {
	err error
}

// DirectoryAccessGuard decides which paths may be browsed or edited.
// The deny-list always wins over the allow-list.
type DirectoryAccessGuard struct {
	mu          gosync.RWMutex
	allowed     []string // normalized
	blacklisted []string // normalized
	decisions   *ttlcache.Cache[string, decision]
}

// NewDirectoryAccessGuard creates a guard with the given policy.
func NewDirectoryAccessGuard(cfg GuardConfig) *DirectoryAccessGuard {
	ttl := cfg.DecisionTTL
	if ttl <= 0 {
		ttl = DefaultDecisionTTL
	}
	blacklist := cfg.Blacklist
	if blacklist == nil {
		blacklist = DefaultBlacklist()
	}
	g := &DirectoryAccessGuard{
		decisions: ttlcache.New[string, decision](
			ttlcache.WithTTL[string, decision](ttl),
			ttlcache.WithDisableTouchOnHit[string, decision](),
		),
	}
	for _, p := range cfg.Allowed {
		g.allowed = appendUnique(g.allowed, policyPath(p))
	}
	for _, p := range blacklist {
		g.blacklisted = appendUnique(g.blacklisted, policyPath(p))
	}
	return g
}

// policyPath expands ~ and normalizes a policy entry.
func policyPath(p string) string {
	if expanded, err := homedir.Expand(strings.TrimSpace(p)); err == nil {
		p = expanded
	}
	return NormalizePath(p)
}

func appendUnique(list []string, p string) []string {
	if p == "" || lo.Contains(list, p) {
		return list
	}
	return append(list, p)
}

// IsDirectoryAllowed reports whether path equals or lies below an allowed
// directory. It does not consult the deny-list.
func (g *DirectoryAccessGuard) IsDirectoryAllowed(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.isAllowedLocked(NormalizePath(path))
}

func (g *DirectoryAccessGuard) isAllowedLocked(norm string) bool {
	if norm == "" {
		return false
	}
	return lo.SomeBy(g.allowed, func(a string) bool {
		return HasPathPrefix(norm, a)
	})
}

// IsBlacklisted reports whether path falls under a deny-list entry.
func (g *DirectoryAccessGuard) IsBlacklisted(path string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.isBlacklistedLocked(NormalizePath(path))
}

func (g *DirectoryAccessGuard) isBlacklistedLocked(norm string) bool {
	return lo.SomeBy(g.blacklisted, func(b string) bool {
		if !strings.Contains(b, "/") {
			return hasPathSegment(norm, b)
		}
		return HasPathPrefix(norm, b)
	})
}

// Allowed is the bulk-filter predicate: allowed and not blacklisted.
func (g *DirectoryAccessGuard) Allowed(path string) bool {
	norm := NormalizePath(path)
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.isAllowedLocked(norm) && !g.isBlacklistedLocked(norm)
}

// CheckDirectoryAccess returns nil when path may be browsed, otherwise an
// *Error wrapping ErrAccessDenied or ErrBlacklisted. Both outcomes are cached.
func (g *DirectoryAccessGuard) CheckDirectoryAccess(path string) error {
	norm := NormalizePath(path)

	g.mu.RLock()
	defer g.mu.RUnlock()

	if item := g.decisions.Get(norm); item != nil {
		if logEnabled(slog.LevelDebug) {
			sub("guard").Debug("decision cache hit", "path", norm, "allowed", item.Value().err == nil)
		}
		return item.Value().err
	}

	var err error
	switch {
	case !g.isAllowedLocked(norm):
		err = newError("check-dir", path, ErrAccessDenied, "directory is not in the allowed list")
	case g.isBlacklistedLocked(norm):
		err = newError("check-dir", path, ErrBlacklisted, "directory is blacklisted for security reasons")
	}
	// RLock held: a concurrent policy change cannot clear the cache before this Set.
	g.decisions.Set(norm, decision{err: err}, ttlcache.DefaultTTL)

	if err != nil {
		sub("guard").Warn("directory access denied", "path", path, "err", err)
	}
	return err
}

// CheckFileEditAccess checks directory access on the parent directory and
// rejects unsafe extensions.
func (g *DirectoryAccessGuard) CheckFileEditAccess(path string) error {
	if err := g.CheckDirectoryAccess(ParentDir(path)); err != nil {
		return err
	}
	if ext := extOf(path); ext != "" {
		if _, unsafe := unsafeExtensions[ext]; unsafe {
			sub("guard").Warn("unsafe file type rejected", "path", path, "ext", ext)
			return newError("check-edit", path, ErrUnsafeFileType, "editing .%s files is not allowed", ext)
		}
	}
	return nil
}

// AddAllowedDirectory adds dir to the allow-list and drops every cached decision.
func (g *DirectoryAccessGuard) AddAllowedDirectory(dir string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed = appendUnique(g.allowed, policyPath(dir))
	g.decisions.DeleteAll()
	sub("guard").Info("allowed directory added", "dir", dir)
}

// RemoveAllowedDirectory removes dir from the allow-list and drops every cached decision.
func (g *DirectoryAccessGuard) RemoveAllowedDirectory(dir string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	norm := policyPath(dir)
	before := len(g.allowed)
	g.allowed = lo.Without(g.allowed, norm)
	g.decisions.DeleteAll()
	sub("guard").Info("allowed directory removed", "dir", dir, "found", before != len(g.allowed))
	return before != len(g.allowed)
}

// AddBlacklistedPath adds p to the deny-list and drops every cached decision.
func (g *DirectoryAccessGuard) AddBlacklistedPath(p string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blacklisted = appendUnique(g.blacklisted, policyPath(p))
	g.decisions.DeleteAll()
	sub("guard").Info("blacklisted path added", "path", p)
}

// RemoveBlacklistedPath removes p from the deny-list and drops every cached decision.
func (g *DirectoryAccessGuard) RemoveBlacklistedPath(p string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	norm := policyPath(p)
	before := len(g.blacklisted)
	g.blacklisted = lo.Without(g.blacklisted, norm)
	g.decisions.DeleteAll()
	return before != len(g.blacklisted)
}

// AllowedDirectories returns a copy of the normalized allow-list.
func (g *DirectoryAccessGuard) AllowedDirectories() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.allowed...)
}

// BlacklistedPaths returns a copy of the normalized deny-list.
func (g *DirectoryAccessGuard) BlacklistedPaths() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.blacklisted...)
}

// CacheLen returns the number of cached decisions.
func (g *DirectoryAccessGuard) CacheLen() int {
	return g.decisions.Len()
}

// ClearCache drops every cached decision.
func (g *DirectoryAccessGuard) ClearCache() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.decisions.DeleteAll()
}

// Export returns the current policy.
func (g *DirectoryAccessGuard) Export() DirectoryConfig {
	return DirectoryConfig{
		Allowed:     g.AllowedDirectories(),
		Blacklisted: g.BlacklistedPaths(),
	}
}

// Import replaces the policy. An empty blacklist in cfg keeps the current one.
func (g *DirectoryAccessGuard) Import(cfg DirectoryConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.allowed = nil
	for _, p := range cfg.Allowed {
		g.allowed = appendUnique(g.allowed, policyPath(p))
	}
	if len(cfg.Blacklisted) > 0 {
		g.blacklisted = nil
		for _, p := range cfg.Blacklisted {
			g.blacklisted = appendUnique(g.blacklisted, policyPath(p))
		}
	}
	g.decisions.DeleteAll()
}
