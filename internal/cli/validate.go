package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/modcall/internal/config"
	"github.com/roach88/modcall/internal/registry"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid       bool               `json:"valid"`
	Modules     []ModuleSummary    `json:"modules,omitempty"`
	Fingerprint string             `json:"fingerprint,omitempty"`
	Errors      []DeclarationError `json:"errors,omitempty"`
}

// ModuleSummary lists one registered module.
type ModuleSummary struct {
	ID       string   `json:"id"`
	Command  string   `json:"command"`
	Commands []string `json:"commands"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <declarations-dir>",
		Short: "Validate module declarations",
		Long: `Load every CUE and YAML module declaration in a directory, together
with the built-in modules unless the config disables them, and build the
registry without dispatching anything.

Reports every rejected declaration: duplicate modules or commands, query
schemas that do not name their module and command, and examples that do
not match their own schema.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	cfg, lerr := loadConfig(opts, dir)
	if lerr != nil {
		return formatter.Fail(ExitCommandError, lerr.Code, lerr.Message, nil)
	}

	decls, errs := config.LoadDeclarations(dir)
	if len(decls) == 0 && len(errs) == 0 {
		return formatter.Fail(ExitCommandError, ErrCodeNoFiles, fmt.Sprintf("no module declarations found in %s", dir), nil)
	}
	formatter.VerboseLog("Found %d module declaration(s) in %s", len(decls), dir)

	reg, declErrs := loadRegistry(cfg)
	if len(declErrs) > 0 {
		return outputValidationErrors(formatter, declErrs)
	}

	return outputValidateSuccess(formatter, reg)
}

func summarize(reg *registry.Registry) []ModuleSummary {
	mods := reg.Modules()
	out := make([]ModuleSummary, len(mods))
	for i, m := range mods {
		names := make([]string, len(m.Commands))
		for j, c := range m.Commands {
			names[j] = c.Name
		}
		out[i] = ModuleSummary{ID: m.ID, Command: m.Command, Commands: names}
	}
	return out
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, reg *registry.Registry) error {
	modules := summarize(reg)
	if formatter.Format == "json" {
		return formatter.Success(ValidationResult{
			Valid:       true,
			Modules:     modules,
			Fingerprint: reg.Fingerprint(),
		})
	}

	fmt.Fprintf(formatter.Writer, "\u2713 %d module(s) valid\n", len(modules))
	for _, m := range modules {
		fmt.Fprintf(formatter.Writer, "  %s (%d command(s))\n", m.ID, len(m.Commands))
	}
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []DeclarationError) error {
	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   ValidationResult{Valid: false, Errors: errs},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}
		if err := formatter.JSON(response); err != nil {
			return err
		}

		// Declarations that cannot load stop startup = exit code 2
		return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "\u2717 Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		where := err.Module
		if err.Command != "" {
			where += "." + err.Command
		}
		if where != "" {
			fmt.Fprintf(formatter.Writer, "%s\n", where)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", err.Code, err.Message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}
