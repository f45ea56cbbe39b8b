package search

import (
	"bufio"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// IgnoreFileName is the per-root file listing name patterns the local
// backend hides from browse and search.
const IgnoreFileName = ".searchignore"

// IgnoreList holds glob patterns matched against entry names.
type IgnoreList struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern string
	dirOnly bool // trailing / in source line
}

// NewIgnoreList builds a list from pattern lines in .searchignore syntax.
func NewIgnoreList(lines ...string) *IgnoreList {
	il := &IgnoreList{}
	for _, line := range lines {
		il.add(line)
	}
	return il
}

func (il *IgnoreList) add(line string) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return
	}
	p := ignorePattern{pattern: line}
	if strings.HasSuffix(line, "/") {
		p.pattern = strings.TrimSuffix(line, "/")
		p.dirOnly = true
	}
	il.patterns = append(il.patterns, p)
}

// LoadIgnoreList reads an ignore file from fs. A missing or unreadable file
// yields an empty list (nothing is ignored).
func LoadIgnoreList(fs afero.Fs, path string) *IgnoreList {
	il := &IgnoreList{}

	f, err := fs.Open(path)
	if err != nil {
		return il
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		il.add(scanner.Text())
	}
	sub("ignore").Debug("ignore file loaded", "path", path, "patterns", len(il.patterns))
	return il
}

// IsIgnored returns true if name matches any pattern. dirOnly patterns
// only match directories.
func (il *IgnoreList) IsIgnored(name string, isDir bool) bool {
	if il == nil {
		return false
	}
	for _, p := range il.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if matched, _ := filepath.Match(p.pattern, name); matched {
			return true
		}
	}
	return false
}

// Len returns the number of patterns.
func (il *IgnoreList) Len() int {
	if il == nil {
		return 0
	}
	return len(il.patterns)
}
