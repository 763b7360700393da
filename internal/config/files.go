package config

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// LibraryFiles expands the library globs relative to rootPath, drops the
// excluded files and returns the .hcl files in sorted order. Later files
// override earlier ones when merged.
func (c *Config) LibraryFiles(rootPath string) ([]string, error) {
	fileSet := make(map[string]bool)
	for _, pattern := range c.Library.Files {
		matches, err := expandGlob(anchor(rootPath, pattern))
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			if strings.ToLower(filepath.Ext(match)) == ".hcl" {
				fileSet[match] = true
			}
		}
	}

	for _, pattern := range c.Library.Exclude {
		matches, err := expandGlob(anchor(rootPath, pattern))
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			delete(fileSet, match)
		}
	}

	files := make([]string, 0, len(fileSet))
	for f := range fileSet {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func anchor(root, pattern string) string {
	if filepath.IsAbs(pattern) || root == "" {
		return pattern
	}
	return filepath.Join(root, pattern)
}

// expandGlob expands a glob pattern, handling ** for recursive matching
func expandGlob(pattern string) ([]string, error) {
	if !strings.Contains(pattern, "**") {
		return filepath.Glob(pattern)
	}

	parts := strings.SplitN(pattern, "**", 2)
	baseDir := filepath.Clean(parts[0])
	suffix := strings.TrimPrefix(parts[1], string(filepath.Separator))

	var results []string
	err := filepath.WalkDir(baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			// Unreadable entries are skipped, not fatal
			return nil
		}
		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return nil
		}
		if suffix == "" || matchSuffix(rel, suffix) {
			results = append(results, path)
		}
		return nil
	})
	return results, err
}

// matchSuffix checks if a path matches the pattern after **
func matchSuffix(path, pattern string) bool {
	if !strings.Contains(pattern, string(filepath.Separator)) {
		matched, _ := filepath.Match(pattern, filepath.Base(path))
		return matched
	}
	if matched, _ := filepath.Match(pattern, path); matched {
		return true
	}
	depth := strings.Count(pattern, string(filepath.Separator)) + 1
	segs := strings.Split(path, string(filepath.Separator))
	if len(segs) < depth {
		return false
	}
	matched, _ := filepath.Match(pattern, filepath.Join(segs[len(segs)-depth:]...))
	return matched
}
