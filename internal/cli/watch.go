package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// TurnSeparator ends one turn on stdin in watch mode.
const TurnSeparator = "---"

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	DBPath string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <declarations-dir>",
		Short: "Dispatch turns from stdin while reloading declarations",
		Long: `Read agent turns from stdin, one per block ended by a "---" line or
end of input, and print each turn's feedback. Declaration files are
watched; on change the registry is reloaded and swapped in for the next
turn. A reload that fails keeps the previous registry.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return runWatch(ctx, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.DBPath, "db", "", "knowledge base path (default from config)")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, lerr := loadConfig(opts.RootOptions, dir)
	if lerr != nil {
		return formatter.Fail(ExitCommandError, lerr.Code, lerr.Message, nil)
	}
	if opts.DBPath != "" {
		cfg.Store.Path = opts.DBPath
	}

	c, err := newContainer(opts.RootOptions, cfg, cmd.ErrOrStderr(), formatter)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := c.Watch(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	g.Go(func() error {
		defer cancel()
		return readTurns(ctx, cmd.InOrStdin(), func(text string) error {
			res, err := c.Dispatcher().Turn(ctx, text)
			if err != nil {
				return err
			}
			// Failed spans are part of the feedback, not a reason to stop.
			if err := outputTurn(formatter, res, ""); err != nil && GetExitCode(err) != ExitFailure {
				return err
			}
			return nil
		})
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	return nil
}

// readTurns calls fn with each non-blank block of lines ended by
// TurnSeparator or end of input. It returns ctx.Err() once ctx is done,
// even while a read is still blocked.
func readTurns(ctx context.Context, r io.Reader, fn func(text string) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			scanErr <- err
			close(lines)
		}()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		err = scanner.Err()
	}()

	var turn strings.Builder
	flush := func() error {
		text := turn.String()
		turn.Reset()
		if strings.TrimSpace(text) == "" {
			return nil
		}
		return fn(text)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				if err := <-scanErr; err != nil {
					return fmt.Errorf("read turns: %w", err)
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return flush()
			}
			if strings.TrimSpace(line) == TurnSeparator {
				if err := flush(); err != nil {
					return err
				}
				continue
			}
			turn.WriteString(line)
			turn.WriteString("\n")
		}
	}
}
