// Package tree enumerates the local synchronization root.
package tree

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/alexjbarnes/drive-mirror/internal/models"
)

// Matcher reports whether an absolute path is excluded from mirroring.
type Matcher interface {
	Match(absPath string) bool
}

// Enumerator walks a directory tree.
type Enumerator struct {
	ignore Matcher
	logger *slog.Logger
}

// NewEnumerator creates an enumerator. ignore may be nil.
func NewEnumerator(ignore Matcher, logger *slog.Logger) *Enumerator {
	return &Enumerator{ignore: ignore, logger: logger}
}

// Enumerate returns every file and folder under root, the root itself
// first, parents always before their children. Ignored directories are
// pruned and symlinks are skipped.
func (e *Enumerator) Enumerate(root string) ([]models.Item, error) {
	var items []models.Item

	err := filepath.WalkDir(root, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if absPath == root {
				return err
			}

			// A child vanishing mid-walk is routine for a live directory.
			e.logger.Warn("walk failed", slog.String("path", absPath), slog.String("error", err.Error()))

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if absPath != root && e.ignore != nil && e.ignore.Match(absPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		// Skip symlinks so the mirror never leaves the root or reads
		// special files through a link.
		if d.Type()&os.ModeSymlink != 0 {
			e.logger.Debug("skipping symlink during enumeration", slog.String("path", absPath))
			return nil
		}

		kind := models.KindFile
		if d.IsDir() {
			kind = models.KindFolder
		}

		items = append(items, models.Item{Path: absPath, Kind: kind})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", root, err)
	}

	e.logger.Debug("enumeration complete", slog.String("root", root), slog.Int("items", len(items)))

	return items, nil
}
