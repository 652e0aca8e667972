package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const helloScenario = `name: hello
turns:
  - text: |
      [[command]]
      module: IO
      command: AccessModule
      content: Hello!
      [[/command]]
    expect:
      - module: IO
        response: {status: delivered}
assertions:
  - type: outbox_contains
    text: Hello!
`

const brokenScenario = `name: broken
turns:
  - text: |
      [[command]]
      module: Nowhere
      command: Go
      [[/command]]
    expect:
      - module: Nowhere
        response: {status: delivered}
`

// scenarioDir writes scenario files named by key into a fresh directory.
func scenarioDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func runTestCmd(t *testing.T, format string, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetArgs(args)
	return buf, cmd.Execute()
}

func TestTestCommand_Pass(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"hello.yaml": helloScenario})

	buf, err := runTestCmd(t, "text", dir)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "\u2713 hello")
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 0 failed, 1 total")
	assert.Contains(t, buf.String(), "\u2713 All scenarios passed")
}

func TestTestCommand_Failure(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"hello.yaml":  helloScenario,
		"broken.yaml": brokenScenario,
	})

	buf, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "\u2717 broken")
	assert.Contains(t, buf.String(), "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommand_JSON(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"hello.yaml":  helloScenario,
		"broken.yaml": brokenScenario,
	})

	buf, err := runTestCmd(t, "json", dir)
	require.Error(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
		Error  *CLIError  `json:"error"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 1, resp.Data.Failed)

	// WalkDir is lexical: broken before hello
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "broken", resp.Data.Scenarios[0].Name)
	assert.False(t, resp.Data.Scenarios[0].Pass)
	assert.NotEmpty(t, resp.Data.Scenarios[0].Errors)
}

func TestTestCommand_Filter(t *testing.T) {
	dir := scenarioDir(t, map[string]string{
		"hello.yaml":  helloScenario,
		"broken.yaml": brokenScenario,
	})

	buf, err := runTestCmd(t, "text", dir, "--filter", "hel*")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "1 passed, 0 failed, 1 total")
}

func TestTestCommand_GoldenUpdateAndCompare(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"hello.yaml": helloScenario})
	goldenPath := filepath.Join(dir, "golden", "hello.golden")

	buf, err := runTestCmd(t, "text", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "golden updated")

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), "--- turn 1 (test-turn-1)")
	assert.Contains(t, string(golden), "status: delivered")

	// Golden files are not picked up as scenarios
	_, err = runTestCmd(t, "text", dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenPath, []byte("stale\n"), 0o644))
	buf, err = runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "does not match golden file")
}

func TestTestCommand_NoScenarios(t *testing.T) {
	buf, err := runTestCmd(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "No scenarios found.")
}

func TestTestCommand_MissingDir(t *testing.T) {
	_, err := runTestCmd(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_InvalidScenario(t *testing.T) {
	dir := scenarioDir(t, map[string]string{"bad.yaml": "name: [unterminated\n"})

	buf, err := runTestCmd(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, buf.String(), "failed to load scenario")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "hello.golden"),
		goldenFilePath(filepath.Join("scenarios", "hello.yaml")))
}
