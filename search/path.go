package search

import "strings"

// CleanPath converts backslashes to forward slashes, collapses duplicate
// slashes and strips a trailing slash. The root "/" is kept. Case is preserved
// so the result can still be handed to a case-sensitive backend.
func CleanPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	p = strings.ReplaceAll(p, "\\", "/")

	var b strings.Builder
	b.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}
	out := b.String()
	if len(out) > 1 {
		out = strings.TrimSuffix(out, "/")
	}
	return out
}

// NormalizePath is the identity key for every cache and policy lookup:
// CleanPath plus lowercasing.
func NormalizePath(p string) string {
	return strings.ToLower(CleanPath(p))
}

// HasPathPrefix reports whether p equals prefix or lies below it.
// Both arguments must already be normalized.
func HasPathPrefix(p, prefix string) bool {
	if prefix == "" {
		return false
	}
	if p == prefix {
		return true
	}
	if prefix == "/" {
		return strings.HasPrefix(p, "/")
	}
	return strings.HasPrefix(p, prefix+"/")
}

// hasPathSegment reports whether one of the segments of p equals seg.
func hasPathSegment(p, seg string) bool {
	for _, s := range strings.Split(p, "/") {
		if s == seg {
			return true
		}
	}
	return false
}

// ParentDir returns the directory part of a cleaned path. "/a" → "/", "a" → "".
func ParentDir(p string) string {
	p = CleanPath(p)
	i := strings.LastIndex(p, "/")
	switch {
	case i < 0:
		return ""
	case i == 0:
		return "/"
	}
	parent := p[:i]
	// "c:/file" → "c:"; keep drive roots addressable as "c:/"
	if strings.HasSuffix(parent, ":") {
		return parent + "/"
	}
	return parent
}

// BaseName returns the last path element of a cleaned path.
func BaseName(p string) string {
	p = CleanPath(p)
	if p == "/" {
		return ""
	}
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// JoinPath joins a directory and a name with a single slash.
func JoinPath(dir, name string) string {
	if dir == "" {
		return CleanPath(name)
	}
	return CleanPath(dir + "/" + name)
}

// extOf returns the lowercase extension of name without the dot.
func extOf(name string) string {
	name = BaseName(name)
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[i+1:])
}
