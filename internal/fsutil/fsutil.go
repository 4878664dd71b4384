// Package fsutil provides filesystem helpers shared by the repository
// layer and the catalog's ingestion scanner.
package fsutil

import (
	"os"
	"path/filepath"
	"strings"
)

// imageExts are the frame file extensions ingestion will consider.
// FITS dominates astrophotography capture; a handful of raw/processed
// formats are kept for OSC cameras and pre-stacked masters exported by
// other tools.
var imageExts = map[string]struct{}{
	".fits": {},
	".fit":  {},
	".fts":  {},
	".xisf": {},
	".cr2":  {},
	".cr3":  {},
	".nef":  {},
	".arw":  {},
	".dng":  {},
	".tif":  {},
	".tiff": {},
}

// ListImages returns all frame-like files under root, in the lexical
// order WalkDir visits each directory.
func ListImages(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := imageExts[ext]; ok {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// IsImageFile reports whether path has a recognized frame extension.
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := imageExts[ext]
	return ok
}

// FirstExisting returns the first path that exists on disk, or "".
func FirstExisting(paths ...string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ListDirs returns the immediate subdirectory names of root.
func ListDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	return dirs, nil
}
