package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/modcall/internal/app"
	"github.com/roach88/modcall/internal/config"
	"github.com/roach88/modcall/internal/dispatch"
)

// DispatchOptions holds flags for the dispatch command.
type DispatchOptions struct {
	*RootOptions
	DBPath string // knowledge base path, overrides the config
}

// DispatchResult is one dispatched turn.
type DispatchResult struct {
	Turn        string             `json:"turn"`
	Fingerprint string             `json:"fingerprint"`
	Outcomes    []dispatch.Outcome `json:"outcomes"`
	Feedback    string             `json:"feedback"`
	Outbox      string             `json:"outbox,omitempty"`
	Failed      int                `json:"failed"`
}

// NewDispatchCommand creates the dispatch command.
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DispatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dispatch <declarations-dir> [file|-]",
		Short: "Dispatch one agent turn",
		Long: `Read one agent turn (a file, or stdin when the argument is "-" or
missing), dispatch every command span in it, and print the feedback the
agent would read next. Text delivered through the IO module goes to stderr.

Exit codes:
  0 - Every span completed
  1 - One or more spans failed
  2 - Command error (bad declarations, unreadable input)`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := "-"
			if len(args) == 2 {
				input = args[1]
			}
			return runDispatch(opts, args[0], input, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "knowledge base path (default from config)")

	return cmd
}

func runDispatch(opts *DispatchOptions, dir, input string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, lerr := loadConfig(opts.RootOptions, dir)
	if lerr != nil {
		return formatter.Fail(ExitCommandError, lerr.Code, lerr.Message, nil)
	}
	if opts.DBPath != "" {
		cfg.Store.Path = opts.DBPath
	}

	text, err := readInput(input, cmd.InOrStdin())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeReadFailed, err.Error(), nil)
	}

	// JSON output carries the outbox; text output streams it to stderr.
	var captured bytes.Buffer
	outbox := io.Writer(cmd.ErrOrStderr())
	if formatter.Format == "json" {
		outbox = &captured
	}

	c, err := newContainer(opts.RootOptions, cfg, outbox, formatter)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := c.Dispatcher().Turn(context.Background(), text)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	return outputTurn(formatter, res, captured.String())
}

// newContainer wires the services, reporting declaration problems the way
// validate does.
func newContainer(opts *RootOptions, cfg *config.Config, outbox io.Writer, formatter *OutputFormatter) (*app.Container, error) {
	if _, declErrs := loadRegistry(cfg); len(declErrs) > 0 {
		return nil, outputValidationErrors(formatter, declErrs)
	}
	c, err := app.New(cfg, outbox, newLogger(opts, cfg, formatter.GetErrWriter()))
	if err != nil {
		return nil, formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	return c, nil
}

func readInput(input string, stdin io.Reader) (string, error) {
	if input == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(input)
	if err != nil {
		return "", fmt.Errorf("read turn: %w", err)
	}
	return string(data), nil
}

// outputTurn prints the feedback of a turn. Failed spans exit 1 after the
// feedback is written; the agent still gets every outcome.
func outputTurn(formatter *OutputFormatter, res *dispatch.TurnResult, outbox string) error {
	failed := res.Failed()

	if formatter.Format == "json" {
		resp := CLIResponse{
			Status: "ok",
			Data: DispatchResult{
				Turn:        res.Turn,
				Fingerprint: res.Fingerprint,
				Outcomes:    res.Outcomes,
				Feedback:    res.Feedback(),
				Outbox:      outbox,
				Failed:      failed,
			},
			TraceID: res.Turn,
		}
		if failed > 0 {
			resp.Status = "error"
			resp.Error = &CLIError{
				Code:    ErrCodeSpansFailed,
				Message: fmt.Sprintf("%d of %d span(s) failed", failed, len(res.Outcomes)),
			}
		}
		if err := formatter.JSON(resp); err != nil {
			return err
		}
	} else if len(res.Outcomes) > 0 {
		fmt.Fprintln(formatter.Writer, res.Feedback())
	}

	formatter.VerboseLog("turn %s: %d span(s), %d failed", res.Turn, len(res.Outcomes), failed)
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d span(s) failed", failed, len(res.Outcomes)))
	}
	return nil
}
