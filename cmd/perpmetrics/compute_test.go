package main

import (
	"PerpMetrics/internal/core"
	"PerpMetrics/internal/snapshot"
	"PerpMetrics/internal/testutil"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCompute(t *testing.T, stdin io.Reader, args ...string) (map[string]interface{}, error) {
	t.Helper()
	cmd := rootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(append([]string{"compute"}, args...))

	if err := cmd.Execute(); err != nil {
		return nil, err
	}
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded), out.String())
	return decoded, nil
}

func writeSnapshot(t *testing.T, snap *core.Snapshot) string {
	t.Helper()
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestCompute_File(t *testing.T) {
	path := writeSnapshot(t, testutil.Snapshot())

	out, err := runCompute(t, nil, path, "--pnl-after-fees")
	require.NoError(t, err)

	tokens := out["tokens"].(map[string]interface{})
	assert.Len(t, tokens, 4)
	book := out["book"].(map[string]interface{})
	assert.Len(t, book["positions"], 2)
	summary := out["summary"].(map[string]interface{})
	assert.Equal(t, 2.0, summary["positions"])
}

func TestCompute_TokensOnlyFromStdin(t *testing.T) {
	data, err := json.Marshal(testutil.Snapshot())
	require.NoError(t, err)

	out, err := runCompute(t, bytes.NewReader(data), "-", "--tokens-only")
	require.NoError(t, err)
	assert.Contains(t, out, "tokens")
	assert.Contains(t, out, "blend_stats")
	assert.NotContains(t, out, "book")
	assert.NotContains(t, out, "summary")
}

func TestCompute_Errors(t *testing.T) {
	_, err := runCompute(t, nil, filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)

	snap := testutil.Snapshot()
	snap.VaultWords = snap.VaultWords[:3]
	_, err = runCompute(t, nil, writeSnapshot(t, snap))
	assert.ErrorIs(t, err, snapshot.ErrMalformedSnapshot)

	_, err = runCompute(t, bytes.NewReader([]byte("{not json")), "-")
	assert.Error(t, err)

	_, err = runCompute(t, nil)
	assert.Error(t, err, "missing argument")
}
