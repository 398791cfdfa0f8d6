package catalog

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Expand resolves include globs (with ** support) to a sorted, de-duplicated
// list of files, dropping any that match an exclude pattern.
func Expand(include, exclude []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range include {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", pattern, err)
		}
		for _, m := range matches {
			if seen[m] || matchesAny(m, exclude) {
				continue
			}
			seen[m] = true
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// matchesAny checks if path matches any of the given glob patterns, either
// whole or by file name.
func matchesAny(path string, patterns []string) bool {
	normalized := filepath.ToSlash(path)
	base := filepath.Base(normalized)
	for _, pattern := range patterns {
		pattern = filepath.ToSlash(pattern)
		if matched, err := doublestar.PathMatch(pattern, normalized); err == nil && matched {
			return true
		}
		if matched, err := doublestar.PathMatch(pattern, base); err == nil && matched {
			return true
		}
	}
	return false
}
