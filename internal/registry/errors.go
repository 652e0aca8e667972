package registry

import (
	"errors"
	"fmt"
)

// ConfigErrorCode categorizes load-time declaration errors.
// Every ConfigError is fatal: a registry is never built from a bad set.
type ConfigErrorCode string

const (
	// ErrCodeDuplicateCommand indicates two commands share a name within one module.
	ErrCodeDuplicateCommand ConfigErrorCode = "duplicate_command_declaration"

	// ErrCodeDuplicateModule indicates two modules share an id or agent-facing command.
	ErrCodeDuplicateModule ConfigErrorCode = "duplicate_module"

	// ErrCodeInvalidDeclaration indicates a structurally unusable declaration.
	ErrCodeInvalidDeclaration ConfigErrorCode = "invalid_declaration"

	// ErrCodeInvalidExample indicates a declared example fails its own query schema.
	ErrCodeInvalidExample ConfigErrorCode = "invalid_example"
)

// ConfigError describes one rejected declaration.
type ConfigError struct {
	Code    ConfigErrorCode `json:"code"`
	Module  string          `json:"module,omitempty"`
	Command string          `json:"command,omitempty"`
	Message string          `json:"message"`
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	switch {
	case e.Module != "" && e.Command != "":
		return fmt.Sprintf("%s: %s.%s: %s", e.Code, e.Module, e.Command, e.Message)
	case e.Module != "":
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Module, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsDuplicate returns true if err carries a duplicate command or module error.
// Uses errors.As to handle wrapped and joined errors.
func IsDuplicate(err error) bool {
	for _, ce := range ConfigErrors(err) {
		if ce.Code == ErrCodeDuplicateCommand || ce.Code == ErrCodeDuplicateModule {
			return true
		}
	}
	return false
}

// ConfigErrors flattens err (possibly joined or wrapped) into its ConfigErrors.
func ConfigErrors(err error) []*ConfigError {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*ConfigError
		for _, e := range joined.Unwrap() {
			out = append(out, ConfigErrors(e)...)
		}
		return out
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return []*ConfigError{ce}
	}
	return nil
}
