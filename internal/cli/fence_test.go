package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFenceCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestFenceAddListRemove(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	out, err := runFenceCommand(t, "--format", "json",
		"fence", "add", "--db", db, "--user", "worker-1",
		"--name", "Berlin Depot", "--lat", "52.52", "--lng", "13.405", "--radius", "200")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	created, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)

	out, err = runFenceCommand(t,
		"fence", "list", "--db", db, "--user", "worker-1")
	require.NoError(t, err)
	assert.Contains(t, out, "Berlin Depot")
	assert.Contains(t, out, id)

	_, err = runFenceCommand(t,
		"fence", "rm", id, "--db", db, "--user", "worker-1")
	require.NoError(t, err)

	out, err = runFenceCommand(t,
		"fence", "list", "--db", db, "--user", "worker-1")
	require.NoError(t, err)
	assert.Contains(t, out, "no active fences")
}

func TestFenceAdd_RejectsOverlap(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := runFenceCommand(t,
		"fence", "add", "--db", db, "--user", "worker-1",
		"--name", "Depot", "--lat", "52.5200", "--lng", "13.4050")
	require.NoError(t, err)

	_, err = runFenceCommand(t,
		"fence", "add", "--db", db, "--user", "worker-1",
		"--name", "Too Close", "--lat", "52.5210", "--lng", "13.4050")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlap")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFenceRemove_UnknownFence(t *testing.T) {
	db := filepath.Join(t.TempDir(), "cli.db")

	_, err := runFenceCommand(t,
		"fence", "rm", "missing", "--db", db, "--user", "worker-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
