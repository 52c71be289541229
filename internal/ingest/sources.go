package ingest

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

const globMeta = "*?[{"

// ResolveFiles expands glob patterns (relative to baseDir unless absolute)
// into a sorted, de-duplicated list of absolute file paths. "*" stays inside
// one directory, "**" crosses directories. A pattern without glob syntax
// names a file, or a directory taken recursively.
func ResolveFiles(baseDir string, patterns []string) ([]string, error) {
	base, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}

	seen := make(map[string]struct{})
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(base, pattern)
		}
		pattern = filepath.ToSlash(filepath.Clean(pattern))

		if !strings.ContainsAny(pattern, globMeta) {
			if err := addLiteral(seen, filepath.FromSlash(pattern)); err != nil {
				return nil, err
			}
			continue
		}

		matchers, err := compilePattern(pattern)
		if err != nil {
			return nil, err
		}
		root := filepath.FromSlash(staticPrefix(pattern))
		if err := walkFiles(root, func(path string) {
			slash := filepath.ToSlash(path)
			for _, m := range matchers {
				if m.Match(slash) {
					seen[path] = struct{}{}
					return
				}
			}
		}); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

// compilePattern also compiles the variants where each "**/" matches zero
// directories, so "docs/**/*.md" covers docs/a.md.
func compilePattern(pattern string) ([]glob.Glob, error) {
	variants := []string{pattern}
	if strings.Contains(pattern, "/**/") {
		variants = append(variants, strings.ReplaceAll(pattern, "/**/", "/"))
	}

	matchers := make([]glob.Glob, 0, len(variants))
	for _, v := range variants {
		g, err := glob.Compile(v, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", pattern, err)
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

// staticPrefix is the deepest directory of pattern without glob syntax.
func staticPrefix(pattern string) string {
	parts := strings.Split(pattern, "/")
	var keep []string
	for _, p := range parts[:len(parts)-1] {
		if strings.ContainsAny(p, globMeta) {
			break
		}
		keep = append(keep, p)
	}
	if len(keep) == 0 || (len(keep) == 1 && keep[0] == "") {
		return "/"
	}
	return strings.Join(keep, "/")
}

func addLiteral(seen map[string]struct{}, path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		seen[path] = struct{}{}
		return nil
	}
	return walkFiles(path, func(p string) { seen[p] = struct{}{} })
}

func walkFiles(root string, visit func(path string)) error {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtrees are skipped
			return nil
		}
		if d.Type().IsRegular() {
			visit(path)
		}
		return nil
	})
}

// ResolveURLs trims and de-duplicates urls, keeping first-seen order.
func ResolveURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// IsURL reports whether a source key is a web source rather than a file.
func IsURL(source string) bool {
	u, err := url.Parse(source)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
