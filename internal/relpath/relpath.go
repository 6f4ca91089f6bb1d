// Package relpath canonicalizes the paths a sync walk compares. Local walks
// produce OS paths relative to a root ("./docs/a.txt", "."), remote listings
// produce server paths ("/Docs/a.txt"). Both reduce to the same slash
// separated, root-relative form so they can be matched.
package relpath

import (
	"path"
	"path/filepath"
	"strings"
)

// Root is the remote root directory.
const Root = "/"

// Canonical returns the slash separated relative form of p: leading "./" and
// "/" are stripped, "." collapses to "", and trailing separators are removed.
func Canonical(p string) string {
	p = filepath.ToSlash(p)
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.TrimLeft(p, "/")
	if p == "" || p == "." {
		return ""
	}
	p = path.Clean(p)
	if p == "." {
		return ""
	}
	return p
}

// Key is the case-insensitive comparison key for p.
func Key(p string) string {
	return strings.ToLower(Canonical(p))
}

// Remote joins elems onto the remote root and returns an absolute remote path.
func Remote(elems ...string) string {
	parts := make([]string, 0, len(elems)+1)
	parts = append(parts, Root)
	for _, e := range elems {
		parts = append(parts, filepath.ToSlash(e))
	}
	return path.Join(parts...)
}

// Rel returns full relative to base. The prefix match is case-insensitive
// because the server preserves case but does not distinguish it. ok is false
// when full is not below base.
func Rel(base, full string) (rel string, ok bool) {
	b := Key(base)
	f := Canonical(full)
	if b == "" {
		return f, true
	}
	if strings.EqualFold(f, b) {
		return "", true
	}
	if len(f) > len(b) && strings.EqualFold(f[:len(b)], b) && f[len(b)] == '/' {
		return f[len(b)+1:], true
	}
	return "", false
}

// Base returns the last element of a remote or relative path.
func Base(p string) string {
	c := Canonical(p)
	if c == "" {
		return ""
	}
	return path.Base(c)
}

// Cd resolves a shell style directory argument against the cursor.
// An empty argument returns to the root.
func Cd(cursor, arg string) string {
	switch {
	case arg == "":
		return Root
	case strings.HasPrefix(arg, "/"):
		return Remote(arg)
	default:
		return Remote(cursor, arg)
	}
}
