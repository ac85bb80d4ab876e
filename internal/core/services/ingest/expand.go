package ingest

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
)

// DirectoryConfig bounds recursive directory expansion.
type DirectoryConfig struct {
	MaxDepth int      // default 8
	Excludes []string // glob patterns matched against each entry's name; default .git, node_modules, vendor
}

func (c DirectoryConfig) withDefaults() DirectoryConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 8
	}
	if c.Excludes == nil {
		c.Excludes = []string{".git", "node_modules", "vendor"}
	}
	return c
}

// ExpandSources replaces any directory in sources with its contained
// files (each joined onto the directory path as given), leaving URLs and plain
// files untouched. A directory that is itself a git working copy is left
// as-is, since the git chunker consumes the whole repository.
func ExpandSources(sources []string, cfg DirectoryConfig) ([]string, error) {
	cfg = cfg.withDefaults()
	var out []string
	for _, src := range sources {
		if isRemote(src) {
			out = append(out, src)
			continue
		}
		info, err := os.Stat(src)
		if err != nil {
			return nil, domain.NewError(domain.KindConfiguration, "stat source "+src, "", err)
		}
		if !info.IsDir() {
			out = append(out, src)
			continue
		}
		if _, err := os.Stat(filepath.Join(src, ".git")); err == nil {
			out = append(out, src)
			continue
		}
		files, err := scanDir(src, cfg, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, files...)
	}
	return out, nil
}

func scanDir(dir string, cfg DirectoryConfig, depth int) ([]string, error) {
	if depth > cfg.MaxDepth {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			return nil, nil
		}
		return nil, domain.NewError(domain.KindConfiguration, "read directory "+dir, "", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var out []string
	for _, e := range entries {
		if matchesExclude(e.Name(), cfg.Excludes) {
			continue
		}
		full := filepath.Join(dir, e.Name())
		if e.IsDir() {
			nested, err := scanDir(full, cfg, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
			continue
		}
		out = append(out, full)
	}
	return out, nil
}

func matchesExclude(name string, patterns []string) bool {
	for _, pat := range patterns {
		if ok, _ := filepath.Match(pat, name); ok {
			return true
		}
	}
	return false
}
