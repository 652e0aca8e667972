package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/modcall/internal/registry"
)

// CompileModules compiles every struct under the top-level "module" field.
// All errors are collected; modules that compiled are returned alongside them.
func CompileModules(value cue.Value) ([]registry.ModuleDecl, []error) {
	var (
		decls []registry.ModuleDecl
		errs  []error
	)

	modulesVal := value.LookupPath(cue.ParsePath("module"))
	if !modulesVal.Exists() {
		return nil, []error{&CompileError{Field: "module", Message: "no modules declared", Pos: value.Pos()}}
	}

	iter, err := modulesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}
	for iter.Next() {
		decl, err := CompileModule(iter.Value())
		if err != nil {
			errs = append(errs, prefixField(err, "module."+iter.Label()))
			continue
		}
		decls = append(decls, *decl)
	}
	return decls, errs
}

// CompileSource compiles a single CUE document, such as an embedded file.
func CompileSource(filename string, src []byte) ([]registry.ModuleDecl, []error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	return CompileModules(value)
}

// LoadDir loads the CUE package in dir and compiles its modules.
func LoadDir(dir string) ([]registry.ModuleDecl, []error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("declarations directory: %w", err)}
	}
	if !info.IsDir() {
		return nil, []error{fmt.Errorf("not a directory: %s", dir)}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{fmt.Errorf("scanning %s: %w", dir, err)}
	}
	if len(files) == 0 {
		return nil, nil
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{fmt.Errorf("no CUE instances loaded from %s", dir)}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{fmt.Errorf("loading CUE files: %w", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}
	return CompileModules(value)
}

// FindCUEFiles returns the .cue files directly inside dir.
// Subdirectories are separate CUE packages and are not included.
func FindCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".cue" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}
