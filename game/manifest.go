package game

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DeletionManifest lists files a diff archive removes, one relative path
// per line.
const DeletionManifest = "deletefiles.txt"

var lineBreak = regexp.MustCompile(`\r\n|\r|\n`)

// ParseManifestLines splits a manifest on any line ending, dropping blank lines.
func ParseManifestLines(data string) []string {
	var out []string
	for _, line := range lineBreak.Split(data, -1) {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

// resolveWithin joins rel onto root, rejecting paths that escape root.
func resolveWithin(root, rel string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, target)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(os.PathSeparator)) || filepath.IsAbs(r) {
		return "", fmt.Errorf("manifest entry %q escapes %s", rel, root)
	}
	return target, nil
}

// ApplyDeletions removes every file listed in dir/deletefiles.txt, then the
// manifest itself. A missing manifest means nothing to delete. Listed files
// that are already gone are skipped.
func ApplyDeletions(dir string) ([]string, error) {
	manifest := filepath.Join(dir, DeletionManifest)
	data, err := os.ReadFile(manifest)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", manifest, err)
	}

	var deleted []string
	for _, rel := range ParseManifestLines(string(data)) {
		target, err := resolveWithin(dir, rel)
		if err != nil {
			return deleted, err
		}
		if err := os.Remove(target); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return deleted, fmt.Errorf("failed to delete %s: %w", rel, err)
		}
		deleted = append(deleted, rel)
	}
	if len(deleted) > 0 {
		log.Infof("deleted %d outdated files", len(deleted))
	}

	if err := os.Remove(manifest); err != nil {
		return deleted, fmt.Errorf("failed to remove %s: %w", manifest, err)
	}
	return deleted, nil
}
