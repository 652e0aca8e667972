package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/modcall/internal/config"
	"github.com/roach88/modcall/internal/dispatch"
)

const weatherTable = `modules:
  - module_name: Weather
    module_command: Weather
    purpose: Forecasts by city
    commands:
      - command_name: Forecast
        purpose: Tomorrow's weather
        query_schema:
          module: Weather
          command: Forecast
          city: <string>
        response_schema:
          summary: <string>
`

const weatherWithAlerts = weatherTable + `      - command_name: Alerts
        purpose: Active warnings
        query_schema:
          module: Weather
          command: Alerts
        response_schema:
          alerts: [<string>]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "kb.db")
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newContainer(t *testing.T, cfg *config.Config, outbox io.Writer) *Container {
	t.Helper()
	c, err := New(cfg, outbox, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func span(body string) string {
	return "[[command]]\n" + body + "\n[[/command]]\n"
}

func TestNew_Builtins(t *testing.T) {
	var outbox bytes.Buffer
	c := newContainer(t, testConfig(t), &outbox)

	require.NotNil(t, c.Store())
	require.NotNil(t, c.Builtins())
	assert.Equal(t, 4, c.Dispatcher().Registry().Len())

	res, err := c.Dispatcher().Turn(context.Background(),
		span("module: IO\ncommand: AccessModule\ncontent: hi")+
			span("module: Knowledge\ncommand: Store\nkey: k\ntext: v"))
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 2)
	assert.True(t, res.Outcomes[0].OK(), res.Outcomes[0].Reason)
	assert.True(t, res.Outcomes[1].OK(), res.Outcomes[1].Reason)
	assert.Equal(t, "hi\n", outbox.String())

	e, ok, err := c.Store().Get(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", e.Text)
}

func TestNew_DeclaredModuleWithoutHandler(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "weather.yaml"), []byte(weatherTable), 0o644))

	cfg := testConfig(t)
	cfg.Declarations = []string{dir}
	c := newContainer(t, cfg, io.Discard)

	assert.Equal(t, 5, c.Dispatcher().Registry().Len())

	res, err := c.Dispatcher().Turn(context.Background(), span("module: Weather\ncommand: Forecast\ncity: Oslo"))
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, dispatch.KindHandlerError, res.Outcomes[0].Kind)
	assert.Contains(t, res.Outcomes[0].Reason, "module Weather has no handler")
}

func TestNew_WithoutBuiltins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weather.yaml")
	require.NoError(t, os.WriteFile(path, []byte(weatherTable), 0o644))

	cfg := testConfig(t)
	cfg.BuiltinModules = false
	cfg.Declarations = []string{path}
	c := newContainer(t, cfg, io.Discard)

	assert.Nil(t, c.Store())
	assert.Nil(t, c.Builtins())
	assert.Equal(t, 1, c.Dispatcher().Registry().Len())
	_, err := os.Stat(cfg.Store.Path)
	assert.True(t, os.IsNotExist(err), "no database without the reference modules")
	assert.NoError(t, c.Close())
}

func TestNew_Errors(t *testing.T) {
	t.Run("no modules", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.BuiltinModules = false
		_, err := New(cfg, io.Discard, quietLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no modules declared")
	})

	t.Run("bad delimiters", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Syntax.Close = cfg.Syntax.Open
		_, err := New(cfg, io.Discard, quietLogger())
		assert.Error(t, err)
	})

	t.Run("duplicate module", func(t *testing.T) {
		dir := t.TempDir()
		dup := `modules:
  - module_name: IO
    module_command: IO
    purpose: Second IO
    commands: []
`
		require.NoError(t, os.WriteFile(filepath.Join(dir, "io.yaml"), []byte(dup), 0o644))
		cfg := testConfig(t)
		cfg.Declarations = []string{dir}
		_, err := New(cfg, io.Discard, quietLogger())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "IO")
	})

	t.Run("missing declarations", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Declarations = []string{filepath.Join(t.TempDir(), "absent")}
		_, err := New(cfg, io.Discard, quietLogger())
		assert.Error(t, err)
	})
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weather.yaml")
	require.NoError(t, os.WriteFile(path, []byte(weatherTable), 0o644))

	cfg := testConfig(t)
	cfg.Declarations = []string{dir}
	c := newContainer(t, cfg, io.Discard)
	before := c.Dispatcher().Registry().Fingerprint()

	require.NoError(t, os.WriteFile(path, []byte(weatherWithAlerts), 0o644))
	require.NoError(t, c.Reload())

	mod, ok := c.Dispatcher().Registry().Lookup("Weather")
	require.True(t, ok)
	assert.Len(t, mod.Commands, 2)
	assert.NotEqual(t, before, c.Dispatcher().Registry().Fingerprint())

	// A broken table leaves the current registry in place.
	require.NoError(t, os.WriteFile(path, []byte("modules: ["), 0o644))
	assert.Error(t, c.Reload())
	mod, ok = c.Dispatcher().Registry().Lookup("Weather")
	require.True(t, ok)
	assert.Len(t, mod.Commands, 2)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weather.yaml")
	require.NoError(t, os.WriteFile(path, []byte(weatherTable), 0o644))

	cfg := testConfig(t)
	cfg.Declarations = []string{dir}
	c := newContainer(t, cfg, io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Watch(ctx) }()

	// Keep rewriting until the watcher picks a change up; the first write
	// can land before the watch is registered.
	assert.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(weatherWithAlerts), 0o644)
		mod, ok := c.Dispatcher().Registry().Lookup("Weather")
		return ok && len(mod.Commands) == 2
	}, 10*time.Second, 200*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestWatch_NoPaths(t *testing.T) {
	c := newContainer(t, testConfig(t), io.Discard)
	assert.Error(t, c.Watch(context.Background()))
}
