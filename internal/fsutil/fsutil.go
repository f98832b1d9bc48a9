// Package fsutil provides file system scanning and glob matching helpers.
package fsutil

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MatchGlob reports whether the forward-slash relative path matches the
// doublestar pattern. Malformed patterns never match.
func MatchGlob(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}

// ValidateGlob returns an error for malformed patterns so configuration
// problems surface at load time rather than as silent non-matches.
func ValidateGlob(pattern string) error {
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("malformed glob pattern %q", pattern)
	}
	return nil
}

// ScanFiles recursively lists files under rootPath as forward-slash relative
// paths. Directories whose name appears in skipDirs (at any depth) are not
// descended into. Hidden dot-directories are always skipped.
func ScanFiles(rootPath string, skipDirs ...string) ([]string, error) {
	skip := make(map[string]struct{}, len(skipDirs))
	for _, d := range skipDirs {
		skip[d] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == rootPath {
				return nil
			}
			name := d.Name()
			if _, skipped := skip[name]; skipped || strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(rootPath, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// FilterPaths applies include and exclude globs to a list of relative paths.
// An empty include list admits everything.
func FilterPaths(paths, include, exclude []string) []string {
	var out []string
	for _, p := range paths {
		if !matchesAny(p, include, true) {
			continue
		}
		if matchesAny(p, exclude, false) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func matchesAny(path string, globs []string, emptyMeansAll bool) bool {
	if len(globs) == 0 {
		return emptyMeansAll
	}
	for _, g := range globs {
		if MatchGlob(g, path) {
			return true
		}
	}
	return false
}
