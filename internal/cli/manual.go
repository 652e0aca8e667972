package cli

import (
	"fmt"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/syntax"
)

// ManualOptions holds flags for the manual command.
type ManualOptions struct {
	*RootOptions
	Template string // text/template file replacing the default layout
}

// ManualPage is one rendered module manual.
type ManualPage struct {
	Module string `json:"module"`
	Text   string `json:"text"`
}

// NewManualCommand creates the manual command.
func NewManualCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ManualOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "manual <declarations-dir> [module]",
		Short: "Print module manuals as the agent sees them",
		Long: `Render the manual of every module, or of one module, in the local
command syntax. Examples are the declared examples, rendered verbatim.

Examples:
  modcall manual ./modules
  modcall manual ./modules Subtask
  modcall manual ./modules --template manual.tmpl`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			module := ""
			if len(args) == 2 {
				module = args[1]
			}
			return runManual(opts, args[0], module, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Template, "template", "", "manual template file (Go text/template)")

	return cmd
}

func runManual(opts *ManualOptions, dir, module string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, lerr := loadConfig(opts.RootOptions, dir)
	if lerr != nil {
		return formatter.Fail(ExitCommandError, lerr.Code, lerr.Message, nil)
	}

	var tmpl *template.Template
	if opts.Template != "" {
		t, err := template.ParseFiles(opts.Template)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeReadFailed, fmt.Sprintf("manual template: %v", err), nil)
		}
		tmpl = t
	}

	parser, err := syntax.New(syntax.WithDelimiters(syntax.Delimiters{Open: cfg.Syntax.Open, Close: cfg.Syntax.Close}))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}

	reg, declErrs := loadRegistry(cfg)
	if len(declErrs) > 0 {
		return outputValidationErrors(formatter, declErrs)
	}

	mods := reg.Modules()
	if module != "" {
		mod, ok := reg.Resolve(module)
		if !ok {
			return formatter.Fail(ExitCommandError, ErrCodeUnknown, fmt.Sprintf("no module named %q", module), nil)
		}
		mods = []*registry.ModuleDecl{mod}
	}

	pages := make([]ManualPage, 0, len(mods))
	for _, mod := range mods {
		text, err := parser.RenderManual(mod, tmpl)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, err.Error(), nil)
		}
		pages = append(pages, ManualPage{Module: mod.ID, Text: text})
	}

	if formatter.Format == "json" {
		return formatter.Success(pages)
	}
	for i, p := range pages {
		if i > 0 {
			fmt.Fprintln(formatter.Writer)
		}
		fmt.Fprint(formatter.Writer, p.Text)
	}
	return nil
}
