package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the command tree with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const testManifest = `
applications:
  - name: sensor-hub
    services: [api]
    target: r1
    releases:
      - commit: r1
        images:
          - service: api
            digest: sha256:api-1
devices:
  - uuid: dev-1
    application: sensor-hub
`

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", "whatever.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestValidateValidManifest(t *testing.T) {
	path := writeFile(t, "fleet.yaml", testManifest)

	out, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")
	assert.Contains(t, out, "1 applications, 1 devices")
}

func TestValidateInvalidManifestExitCode(t *testing.T) {
	path := writeFile(t, "fleet.yaml", "applications:\n  - name: app\n    services: [api]\n    target: ghost\n")

	out, err := execute(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error:")
}

func TestValidateJSONOutput(t *testing.T) {
	path := writeFile(t, "fleet.yaml", testManifest)

	out, err := execute(t, "--format", "json", "validate", path)
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestSeedThenState(t *testing.T) {
	manifestPath := writeFile(t, "fleet.yaml", testManifest)
	dbPath := filepath.Join(t.TempDir(), "fleet.db")

	out, err := execute(t, "seed", "--db", dbPath, manifestPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, "applied")

	out, err = execute(t, "state", "--db", dbPath, "dev-1")
	require.NoError(t, err, out)
	assert.Contains(t, out, "device:     dev-1")
	assert.Contains(t, out, "commit:     r1")
	assert.Contains(t, out, "api  sha256:api-1")
}

func TestSeedTwiceFails(t *testing.T) {
	manifestPath := writeFile(t, "fleet.yaml", testManifest)
	dbPath := filepath.Join(t.TempDir(), "fleet.db")

	_, err := execute(t, "seed", "--db", dbPath, manifestPath)
	require.NoError(t, err)

	_, err = execute(t, "seed", "--db", dbPath, manifestPath)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSeedRequiresDatabaseFlag(t *testing.T) {
	manifestPath := writeFile(t, "fleet.yaml", testManifest)

	_, err := execute(t, "seed", manifestPath)
	assert.Error(t, err)
}

func TestStateUnknownDevice(t *testing.T) {
	manifestPath := writeFile(t, "fleet.yaml", testManifest)
	dbPath := filepath.Join(t.TempDir(), "fleet.db")
	_, err := execute(t, "seed", "--db", dbPath, manifestPath)
	require.NoError(t, err)

	out, err := execute(t, "state", "--db", dbPath, "ghost")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "not found")
}

func TestStateJSONOutput(t *testing.T) {
	manifestPath := writeFile(t, "fleet.yaml", testManifest)
	dbPath := filepath.Join(t.TempDir(), "fleet.db")
	_, err := execute(t, "seed", "--db", dbPath, manifestPath)
	require.NoError(t, err)

	out, err := execute(t, "--format", "json", "state", "--db", dbPath, "dev-1")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			ETag  string `json:"etag"`
			State struct {
				Device string `json:"device"`
				Commit string `json:"commit"`
			} `json:"state"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "dev-1", resp.Data.State.Device)
	assert.Equal(t, "r1", resp.Data.State.Commit)
	assert.Len(t, resp.Data.ETag, 64)
}

func TestExitErrorUnwrapsAndCodes(t *testing.T) {
	base := errors.New("root cause")
	wrapped := WrapExitError(ExitCommandError, "opening database", base)

	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.ErrorIs(t, wrapped, base)
	assert.Contains(t, wrapped.Error(), "opening database")

	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "nope")))
}

func TestOutputFormatterJSONError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &buf}
	require.NoError(t, f.Error("it broke", map[string]string{"field": "name"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "it broke", resp.Error.Message)
}
