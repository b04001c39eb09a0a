// Package scanner walks configured source roots and yields the regular
// files a snapshot run should feed into the chunker, applying glob-based
// exclude rules along the way.
package scanner

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Scanner walks a set of source roots and filters out files matching any of
// the configured exclude glob patterns.
type Scanner struct {
	roots    []string
	excludes []string
}

// New builds a Scanner over the given source roots and exclude patterns.
func New(roots, excludes []string) *Scanner {
	return &Scanner{roots: roots, excludes: excludes}
}

// Entry is one regular file discovered by a scan.
type Entry struct {
	// Path is the absolute path of the file on the source filesystem.
	Path string
	// RelPath is the path relative to its root, used as the manifest key.
	RelPath string
	Info    fs.FileInfo
}

// Scan walks every configured root, calling fn once per eligible regular
// file. ctx cancellation is checked between entries so a long scan can be
// aborted promptly.
func (s *Scanner) Scan(ctx context.Context, fn func(Entry) error) error {
	for _, root := range s.roots {
		root = filepath.Clean(root)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				// Unreadable entries are skipped rather than aborting the
				// whole snapshot over one permission error.
				return nil
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}

			rel, err := filepath.Rel(root, path)
			if err != nil {
				rel = path
			}

			if s.isExcluded(rel, d.IsDir()) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			if d.IsDir() {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}

			return fn(Entry{Path: path, RelPath: rel, Info: info})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// isExcluded reports whether relPath matches any configured exclude
// pattern. Supported forms:
//   - "*.log"           matches by basename
//   - "node_modules/**" excludes a directory and everything under it
//   - "*/vendor/"       trailing slash matches directories by name only
func (s *Scanner) isExcluded(relPath string, isDir bool) bool {
	base := filepath.Base(relPath)
	parts := strings.Split(relPath, string(os.PathSeparator))

	for _, pattern := range s.excludes {
		if strings.HasSuffix(pattern, "/") {
			if isDir {
				dirPattern := strings.TrimPrefix(strings.TrimSuffix(pattern, "/"), "*/")
				for _, part := range parts {
					if matched, _ := filepath.Match(dirPattern, part); matched {
						return true
					}
				}
			}
			continue
		}

		if strings.HasSuffix(pattern, "/**") {
			prefix := strings.TrimSuffix(pattern, "/**")
			for _, part := range parts {
				if matched, _ := filepath.Match(prefix, part); matched {
					return true
				}
			}
			continue
		}

		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
