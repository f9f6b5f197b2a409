package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/compflow/pkg/compflow"
)

// fixture writes a mock-backed config and two inputs that differ only in
// their framework.
func fixture(t *testing.T) (cfg, react, vue string) {
	t.Helper()
	dir := t.TempDir()

	cfg = filepath.Join(dir, "compflow.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(`
primary_target: model-a
log_level: error
remote:
  kind: mock
  response: "`+"```tsx\\nexport const Card = () => null\\n```"+`"
cache:
  backend: sqlite
  path: `+filepath.Join(dir, "cache.db")+`
retry:
  max_attempts: 1
`), 0o600))

	write := func(name, framework string) string {
		path := filepath.Join(dir, name)
		data, err := json.Marshal(compflow.Input{
			Markup:  `<div class="card"></div>`,
			Options: compflow.GenerateOptions{Framework: framework},
		})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path, data, 0o600))
		return path
	}
	return cfg, write("react.json", "react"), write("vue.json", "vue")
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCommand(VersionInfo{Version: "test", Commit: "abc", Date: "today"})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

// TestRoot_ShowsHelp tests that the bare command prints usage.
func TestRoot_ShowsHelp(t *testing.T) {
	out, _, err := execute(t, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Usage:")
	assert.Contains(t, out, "run")
	assert.Contains(t, out, "cache")
}

// TestRoot_RejectsUnknownFlags tests strict flag parsing.
func TestRoot_RejectsUnknownFlags(t *testing.T) {
	_, _, err := execute(t, "", "--bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown flag")
}

// TestRun_GeneratesThenHitsCache tests a run followed by a cached rerun.
func TestRun_GeneratesThenHitsCache(t *testing.T) {
	cfg, react, _ := fixture(t)

	out, _, err := execute(t, "", "--config", cfg, "run", react)
	require.NoError(t, err)
	assert.Contains(t, out, "calling_remote")
	assert.Contains(t, out, "✓ react.json: model-a")
	assert.Contains(t, out, "export const Card = () => null")
	assert.NotContains(t, out, "```")

	out, _, err = execute(t, "", "--config", cfg, "run", "-q", react)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ react.json: cache")
	assert.NotContains(t, out, "calling_remote")
}

// TestRun_JSON tests machine-readable output and stdin input.
func TestRun_JSON(t *testing.T) {
	cfg, react, _ := fixture(t)
	data, err := os.ReadFile(react)
	require.NoError(t, err)

	out, _, err := execute(t, string(data), "--config", cfg, "run", "--json", "-")
	require.NoError(t, err)

	var reports []compflow.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, compflow.StateCompleted, reports[0].Final.State)
	require.NotNil(t, reports[0].Result)
	assert.Equal(t, "export const Card = () => null", reports[0].Result.Code)
}

// TestRun_Errors tests failures surface as errors with a message on stderr.
func TestRun_Errors(t *testing.T) {
	cfg, _, _ := fixture(t)

	_, stderr, err := execute(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "run", "x.json")
	require.Error(t, err)
	assert.Contains(t, stderr, "Cannot load configuration")

	_, stderr, err = execute(t, "", "--config", cfg, "run", filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, stderr, "Cannot read input")

	_, stderr, err = execute(t, `{"markup":"<p></p>","options":{}}`, "--config", cfg, "run", "-")
	require.Error(t, err)
	assert.Contains(t, stderr, "1 of 1 flows failed")

	_, _, err = execute(t, "", "--config", cfg, "run")
	assert.Error(t, err, "run needs at least one input")
}

// TestKey tests key derivation and facet diffs.
func TestKey(t *testing.T) {
	cfg, react, vue := fixture(t)

	out, _, err := execute(t, "", "--config", cfg, "key", react, vue)
	require.NoError(t, err)
	assert.Contains(t, out, "algorithm  sha256")
	assert.Contains(t, out, "differs in: [options]")

	out, _, err = execute(t, "", "--config", cfg, "key", react, react)
	require.NoError(t, err)
	assert.Contains(t, out, "keys match")

	out, _, err = execute(t, "", "--config", cfg, "key", "--json", react)
	require.NoError(t, err)
	var keys []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &keys))
	require.Len(t, keys, 1)
	assert.NotEmpty(t, keys[0]["key"])
}

// TestCache tests the maintenance subcommands against a populated cache.
func TestCache(t *testing.T) {
	cfg, react, vue := fixture(t)

	_, _, err := execute(t, "", "--config", cfg, "run", "-q", react, vue)
	require.NoError(t, err)

	out, _, err := execute(t, "", "--config", cfg, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "entries   2")

	out, _, err = execute(t, "", "--config", cfg, "cache", "keys")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(out), 2)

	out, _, err = execute(t, "", "--config", cfg, "cache", "sweep")
	require.NoError(t, err)
	assert.Contains(t, out, "removed 0 expired entries")

	out, _, err = execute(t, "", "--config", cfg, "cache", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared 2 entries")

	out, _, err = execute(t, "", "--config", cfg, "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "entries   0")
}
