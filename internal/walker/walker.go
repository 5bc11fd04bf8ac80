// Package walker enumerates the regular files under a job's paths.
package walker

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkvault/internal/common"
)

// Entry describes one regular file found during a walk.
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// WalkFunc receives entries in traversal order. Returning an error stops the
// walk and propagates the error.
type WalkFunc func(e Entry) error

// ErrorFunc is called for every path that could not be read. The walk
// continues with its siblings.
type ErrorFunc func(path string, err error)

// Walk lazily visits every regular file under roots, skipping excluded
// paths. Excludes match either as a path prefix or as a glob pattern against
// the file's base name. Unreadable files and subtrees are reported through
// onError and do not abort the walk; only fn errors and context cancellation
// do.
func Walk(ctx context.Context, roots []string, excludes []string, fn WalkFunc, onError ErrorFunc) error {
	for _, root := range roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				onError(path, fmt.Errorf("%w: %s: %w", common.ErrFilesystemAccess, path, err))
				return nil
			}
			if isExcluded(path, excludes) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				onError(path, fmt.Errorf("%w: %s: %w", common.ErrFilesystemAccess, path, err))
				return nil
			}
			return fn(Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func isExcluded(path string, excludes []string) bool {
	for _, e := range excludes {
		if e == "" {
			continue
		}
		if strings.HasPrefix(path, e) {
			return true
		}
		if ok, _ := filepath.Match(e, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}
