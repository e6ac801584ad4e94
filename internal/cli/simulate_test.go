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

const simulateScenario = `
name: cli_entry_timeout
description: Entry prompt times out into an automatic session.
fences:
  - id: site-a
    name: Berlin Depot
    meters_north: 0
steps:
  - signal:
      kind: enter
      fence: site-a
  - advance: 5m
`

func writeSimScenario(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(simulateScenario), 0o644))
	return path
}

func TestSimulate_PrintsTranscript(t *testing.T) {
	path := writeSimScenario(t)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"simulate", path})

	require.NoError(t, cmd.Execute())

	transcript := out.String()
	assert.Contains(t, transcript, "scenario cli_entry_timeout")
	assert.Contains(t, transcript, "notify enter fence=site-a")
	assert.Contains(t, transcript, "kind=automatic")
}

func TestSimulate_JSONOutput(t *testing.T) {
	path := writeSimScenario(t)

	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--format", "json", "simulate", path})

	require.NoError(t, cmd.Execute())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Contains(t, resp.Data, "scenario cli_entry_timeout")
}

func TestSimulate_MissingFile(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"simulate", filepath.Join(t.TempDir(), "missing.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSimulate_InvalidScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: only-a-name\n"), 0o644))

	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"simulate", path})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
