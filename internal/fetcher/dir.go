package fetcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirFetcher reads markdown pages from a local directory tree
type DirFetcher struct {
	root string
	exts map[string]bool
}

// NewDirFetcher creates a fetcher for .md files under root
func NewDirFetcher(root string, exts ...string) *DirFetcher {
	if len(exts) == 0 {
		exts = []string{".md"}
	}
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[strings.ToLower(e)] = true
	}
	return &DirFetcher{root: root, exts: m}
}

// Fetch walks the directory in lexical order.
// Hidden directories are skipped.
func (d *DirFetcher) Fetch(ctx context.Context) ([]Source, error) {
	var sources []Source

	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if entry.IsDir() {
			if p != d.root && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.exts[strings.ToLower(filepath.Ext(p))] {
			return nil
		}

		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		src := Source{Path: filepath.ToSlash(rel)}

		content, err := os.ReadFile(p)
		if err != nil {
			src.Err = err
		} else {
			src.Content = content
		}
		if info, err := entry.Info(); err == nil {
			src.ModTime = info.ModTime().UTC()
		}

		sources = append(sources, src)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sources, nil
}
