// Package app wires modcall services using go.uber.org/dig.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.uber.org/dig"

	"github.com/roach88/modcall/internal/config"
	"github.com/roach88/modcall/internal/dispatch"
	"github.com/roach88/modcall/internal/ir"
	"github.com/roach88/modcall/internal/modules"
	"github.com/roach88/modcall/internal/registry"
	"github.com/roach88/modcall/internal/store"
	"github.com/roach88/modcall/internal/syntax"
)

// Container holds the resolved services.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	cfg        *config.Config
	store      *store.Store
	builtins   *modules.Builtins
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

func (c *Container) Config() *config.Config           { return c.cfg }
func (c *Container) Store() *store.Store              { return c.store }
func (c *Container) Builtins() *modules.Builtins      { return c.builtins }
func (c *Container) Dispatcher() *dispatch.Dispatcher { return c.dispatcher }

// Outbox is where the IO module delivers user-visible text. A named type so
// dig does not confuse it with other writers.
type Outbox struct{ io.Writer }

// New builds and wires all services from cfg. IO output goes to outbox.
func New(cfg *config.Config, outbox io.Writer, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := dig.New()

	if err := d.Provide(func() *config.Config { return cfg }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() Outbox { return Outbox{outbox} }); err != nil {
		return nil, err
	}
	if err := d.Provide(func() *slog.Logger { return logger }); err != nil {
		return nil, err
	}
	if err := d.Provide(newParser); err != nil {
		return nil, err
	}
	if err := d.Provide(newStore); err != nil {
		return nil, err
	}
	if err := d.Provide(newBuiltins); err != nil {
		return nil, err
	}
	if err := d.Provide(LoadRegistry); err != nil {
		return nil, err
	}
	if err := d.Provide(newHandlers); err != nil {
		return nil, err
	}
	if err := d.Provide(newDispatcher); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		st *store.Store,
		builtins *modules.Builtins,
		dispatcher *dispatch.Dispatcher,
	) {
		result = &Container{
			cfg:        cfg,
			store:      st,
			builtins:   builtins,
			dispatcher: dispatcher,
			logger:     logger,
		}
	})
	if err != nil {
		// dig wraps constructor errors; keep the root cause readable.
		return nil, dig.RootCause(err)
	}
	return result, nil
}

// Close releases the knowledge base.
func (c *Container) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Reload reads the declarations again and swaps the new registry into the
// dispatcher. On error the current registry stays.
func (c *Container) Reload() error {
	reg, err := LoadRegistry(c.cfg)
	if err != nil {
		return err
	}
	return c.dispatcher.Swap(reg)
}

// Watch reloads the registry whenever a declaration path changes, until
// ctx is done. Failed reloads are logged and the previous registry stays.
func (c *Container) Watch(ctx context.Context) error {
	if len(c.cfg.Declarations) == 0 {
		return errors.New("no declaration paths to watch")
	}
	changes, err := config.Watch(ctx, config.DefaultDebounce, c.cfg.Declarations...)
	if err != nil {
		return fmt.Errorf("watch declarations: %w", err)
	}

	c.logger.Info("watching declarations", "paths", c.cfg.Declarations)
	for range changes {
		if err := c.Reload(); err != nil {
			c.logger.Error("reload failed, keeping current registry", "error", err)
			continue
		}
	}
	return ctx.Err()
}

// LoadRegistry builds a registry from the built-in declarations (when
// enabled) and every configured declaration path.
func LoadRegistry(cfg *config.Config) (*registry.Registry, error) {
	var decls []registry.ModuleDecl
	if cfg.BuiltinModules {
		builtin, err := modules.Declarations()
		if err != nil {
			return nil, err
		}
		decls = append(decls, builtin...)
	}

	extra, errs := config.LoadDeclarations(cfg.Declarations...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load declarations: %w", errors.Join(errs...))
	}
	decls = append(decls, extra...)

	if len(decls) == 0 {
		return nil, errors.New("no modules declared")
	}
	return registry.Load(decls...)
}

func newParser(cfg *config.Config) (*syntax.Parser, error) {
	return syntax.New(syntax.WithDelimiters(syntax.Delimiters{
		Open:  cfg.Syntax.Open,
		Close: cfg.Syntax.Close,
	}))
}

// newStore opens the knowledge base; without the reference modules there
// is nothing to store and no database is created.
func newStore(cfg *config.Config) (*store.Store, error) {
	if !cfg.BuiltinModules {
		return nil, nil
	}
	return store.Open(cfg.Store.Path)
}

func newBuiltins(cfg *config.Config, outbox Outbox, st *store.Store, parser *syntax.Parser) *modules.Builtins {
	if !cfg.BuiltinModules {
		return nil
	}
	return modules.New(outbox.Writer, st, parser)
}

func newHandlers(builtins *modules.Builtins) dispatch.Handlers {
	if builtins == nil {
		return dispatch.Handlers{}
	}
	return builtins.Handlers()
}

func newDispatcher(
	cfg *config.Config,
	reg *registry.Registry,
	handlers dispatch.Handlers,
	parser *syntax.Parser,
	logger *slog.Logger,
) (*dispatch.Dispatcher, error) {
	policy, err := dispatch.ParseExtraFields(cfg.Dispatch.ExtraFields)
	if err != nil {
		return nil, err
	}
	return dispatch.New(reg, handlers,
		dispatch.WithParser(parser),
		dispatch.WithPolicy(policy),
		dispatch.WithConcurrency(cfg.Dispatch.Concurrency),
		dispatch.WithMaxSpans(cfg.Dispatch.MaxSpans),
		dispatch.WithFallback(dispatch.HandlerFunc(unbound)),
		dispatch.WithLogger(logger),
	)
}

// unbound answers declared modules that no handler in this process serves.
func unbound(_ context.Context, query ir.IRObject) (ir.IRValue, error) {
	module, _ := query.String("module")
	return nil, fmt.Errorf("module %s has no handler in this process", module)
}
