package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/modcall/internal/compiler"
	"github.com/roach88/modcall/internal/registry"
)

// LoadDeclarations reads module declarations from each path.
// A directory contributes its CUE package (if any) followed by every YAML
// table in it, in file name order. A file is read by extension.
// Every error is collected; the caller decides whether any is fatal.
func LoadDeclarations(paths ...string) ([]registry.ModuleDecl, []error) {
	var (
		decls []registry.ModuleDecl
		errs  []error
	)
	for _, p := range paths {
		d, e := loadPath(p)
		decls = append(decls, d...)
		errs = append(errs, e...)
	}
	return decls, errs
}

func loadPath(path string) ([]registry.ModuleDecl, []error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, []error{fmt.Errorf("declarations: %w", err)}
	}
	if !info.IsDir() {
		return loadFile(path)
	}

	decls, errs := compiler.LoadDir(path)

	tables, err := findTables(path)
	if err != nil {
		return decls, append(errs, fmt.Errorf("scanning %s: %w", path, err))
	}
	for _, t := range tables {
		d, err := LoadTable(t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		decls = append(decls, d...)
	}
	return decls, errs
}

func loadFile(path string) ([]registry.ModuleDecl, []error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, []error{err}
		}
		return compiler.CompileSource(path, src)
	case ".yaml", ".yml":
		d, err := LoadTable(path)
		if err != nil {
			return nil, []error{err}
		}
		return d, nil
	default:
		return nil, []error{fmt.Errorf("declarations: unsupported file type %s", path)}
	}
}

func findTables(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}
