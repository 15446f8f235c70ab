package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/eventshift/internal/config"
)

func runCommand(t *testing.T, args ...string) string {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestInitScaffoldsProject(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj")
	out := runCommand(t, "init", "--dir", dir)
	require.Contains(t, out, "Created")

	require.DirExists(t, filepath.Join(dir, "exports"))
	require.DirExists(t, filepath.Join(dir, "migration_runs"))

	data, err := os.ReadFile(filepath.Join(dir, "migration.yaml"))
	require.NoError(t, err)

	// The scaffold must parse and validate as-is (it starts in dry-run).
	cfg, err := config.ParseConfig(data)
	require.NoError(t, err)
	require.True(t, cfg.DryRun)
	require.NoError(t, config.Validate(cfg))
}

func TestInitKeepsExistingConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "proj")
	runCommand(t, "init", "--dir", dir)

	custom := []byte("dry_run: true\nsource:\n  export_path: mine.json\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "migration.yaml"), custom, 0o644))

	out := runCommand(t, "init", "--dir", dir)
	require.Contains(t, out, "Kept existing")

	data, err := os.ReadFile(filepath.Join(dir, "migration.yaml"))
	require.NoError(t, err)
	require.Equal(t, custom, data)
}
