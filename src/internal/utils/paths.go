package utils

import "path/filepath"

// GetAbsolutePath resolves path against baseDir unless it is already
// absolute. Config-relative paths (rules file, lists dir, state file) all
// go through here.
func GetAbsolutePath(path, baseDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
