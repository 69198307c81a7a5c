package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workspace writes a config using a SQLite store and a filesystem archive so
// separate command invocations share state.
func workspace(t *testing.T) (configPath, archiveRoot string) {
	t.Helper()
	dir := t.TempDir()
	archiveRoot = filepath.Join(dir, "reports")
	configPath = filepath.Join(dir, "tariffcore.yaml")
	cfg := "storage:\n  driver: sqlite\n  sqlite_path: " + filepath.Join(dir, "tariff.db") +
		"\nblob:\n  driver: fs\n  fs_root: " + archiveRoot + "\nlog:\n  level: warn\n"
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	return configPath, archiveRoot
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, logs bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&logs)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "tariffcheck", cmd.Use)
	for _, name := range []string{"import", "check", "approve", "tree", "rules"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}
	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "rules", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  driver: mysql\n"), 0o644))
	_, err := execute(t, "--config", path, "rules")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, ExitCode(err))
}

func TestRulesJSON(t *testing.T) {
	out, err := execute(t, "rules", "--format", "json")
	require.NoError(t, err)
	var resp struct {
		Status string     `json:"status"`
		Data   []RuleInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	position := map[string]int{}
	for i, info := range resp.Data {
		position[info.Name] = i
	}
	require.Contains(t, position, "ME6")
	require.Contains(t, position, "ME32")
	assert.Less(t, position["ME6"], position["ME32"])
}

func TestImportCheckAndApprove(t *testing.T) {
	cfg, archive := workspace(t)

	out, err := execute(t, "--config", cfg, "import", "testdata/chapter01.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "workbasket 1: 2 transactions, 9 versions")

	_, err = execute(t, "--config", cfg, "approve", "1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))

	out, err = execute(t, "--config", cfg, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "transaction 1: PASS")
	assert.Contains(t, out, "transaction 2: PASS")

	out, err = execute(t, "--config", cfg, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to check")

	out, err = execute(t, "--config", cfg, "approve", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "workbasket 1 APPROVED")

	reports, err := filepath.Glob(filepath.Join(archive, "rule-runs", "1", "*", "*.json"))
	require.NoError(t, err)
	assert.Len(t, reports, 2)

	out, err = execute(t, "--config", cfg, "tree", "2", "--prefix", "01")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], "0101210000/80 indent 1")
}

func TestImportWithFailingChecks(t *testing.T) {
	cfg, _ := workspace(t)
	metrics := filepath.Join(t.TempDir(), "tariffcore.prom")

	out, err := execute(t, "--config", cfg, "import", "testdata/missing_goods.yaml", "--approve")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, ExitCode(err))
	assert.Contains(t, out, "ME6")
	assert.NotContains(t, out, "ME7")

	_, err = execute(t, "--config", cfg, "check", "--include-archived", "--metrics-file", metrics)
	require.NoError(t, err)
	raw, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "tariffcore_transaction_check_duration_seconds")

	out, err = execute(t, "--config", cfg, "--format", "json", "approve", "1", "--check")
	require.Error(t, err)
	var resp struct {
		Status string        `json:"status"`
		Data   ApproveResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "failed", resp.Status)
	require.NotEmpty(t, resp.Data.Blockers)
	assert.Equal(t, "ME6", resp.Data.Blockers[0].Rule)
}

func TestInvalidArguments(t *testing.T) {
	_, err := execute(t, "approve", "abc")
	assert.Equal(t, ExitCommandError, ExitCode(err))
	_, err = execute(t, "tree", "x")
	assert.Equal(t, ExitCommandError, ExitCode(err))
	_, err = execute(t, "import", "testdata/absent.yaml")
	assert.Equal(t, ExitCommandError, ExitCode(err))
}
