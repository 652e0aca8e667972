package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/modcall/internal/app"
	"github.com/roach88/modcall/internal/compiler"
	"github.com/roach88/modcall/internal/config"
	"github.com/roach88/modcall/internal/registry"
)

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric    = "E001" // Generic/unknown error
	ErrCodeReadFailed = "E002" // Input could not be read
	ErrCodeNoFiles    = "E003" // No declarations found
	ErrCodeLoadFailed = "E004" // Declaration file could not be parsed
	ErrCodeNotFound   = "E005" // Path not found
	ErrCodeConfig     = "E006" // Config file invalid
	ErrCodeUnknown    = "E007" // Unknown module requested

	// Declaration errors, one per registry.ConfigErrorCode
	ErrCodeDuplicateCommand = "E101"
	ErrCodeDuplicateModule  = "E102"
	ErrCodeInvalidDecl      = "E103"
	ErrCodeInvalidExample   = "E104"

	// Run results
	ErrCodeSpansFailed = "E201" // One or more spans failed
	ErrCodeTestFailed  = "E202" // One or more scenarios failed
)

// DeclarationError is one problem found while loading declarations.
type DeclarationError struct {
	Code    string `json:"code"`
	Module  string `json:"module,omitempty"`
	Command string `json:"command,omitempty"`
	Message string `json:"message"`
}

// LoadError is a command-level failure to get config or declarations.
type LoadError struct {
	Code    string
	Message string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// loadConfig reads --config, or the defaults when it is empty. A non-empty
// dir replaces the configured declaration paths.
func loadConfig(opts *RootOptions, dir string) (*config.Config, *LoadError) {
	cfg := config.Default()
	if opts.Config != "" {
		loaded, err := config.Load(opts.Config)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeConfig, Message: err.Error()}
		}
		cfg = loaded
	}

	if dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("declarations not found: %s", dir)}
		}
		cfg.Declarations = []string{dir}
	}
	return cfg, nil
}

// loadRegistry loads declarations and explains every failure. The errors
// come back as DeclarationErrors so validate can list all of them.
func loadRegistry(cfg *config.Config) (*registry.Registry, []DeclarationError) {
	reg, err := app.LoadRegistry(cfg)
	if err == nil {
		return reg, nil
	}

	if ces := registry.ConfigErrors(err); len(ces) > 0 {
		out := make([]DeclarationError, len(ces))
		for i, ce := range ces {
			out[i] = DeclarationError{
				Code:    mapConfigErrorCode(ce.Code),
				Module:  ce.Module,
				Command: ce.Command,
				Message: ce.Message,
			}
		}
		return nil, out
	}

	var (
		ce *compiler.CompileError
		te *config.TableError
	)
	switch {
	case errors.As(err, &ce), errors.As(err, &te):
		return nil, []DeclarationError{{Code: ErrCodeLoadFailed, Message: err.Error()}}
	default:
		return nil, []DeclarationError{{Code: ErrCodeGeneric, Message: err.Error()}}
	}
}

// mapConfigErrorCode maps a registry error code to a CLI error code.
func mapConfigErrorCode(code registry.ConfigErrorCode) string {
	switch code {
	case registry.ErrCodeDuplicateCommand:
		return ErrCodeDuplicateCommand
	case registry.ErrCodeDuplicateModule:
		return ErrCodeDuplicateModule
	case registry.ErrCodeInvalidDeclaration:
		return ErrCodeInvalidDecl
	case registry.ErrCodeInvalidExample:
		return ErrCodeInvalidExample
	default:
		return ErrCodeGeneric
	}
}
