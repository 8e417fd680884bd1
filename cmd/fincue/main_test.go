package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/routing"
)

// offlineEnv configures an in-memory store with no remote backend.
func offlineEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FINCUE_DRIVER", "memory")
	t.Setenv("FINCUE_REMOTE_API_KEY", "")
	t.Setenv("FINCUE_REMOTE_PROVIDER", "openai")
	t.Setenv("FINCUE_PROBE_URL", "")
	t.Setenv("FINCUE_LOG_LEVEL", "error")
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestLoadProfile_Env(t *testing.T) {
	offlineEnv(t)
	t.Setenv("FINCUE_PORT", "9090")
	t.Setenv("FINCUE_ADAPTER_TIMEOUT", "3")

	p, err := loadProfile()
	require.NoError(t, err)
	assert.Equal(t, "memory", p.Driver)
	assert.Equal(t, 9090, p.Port)
	assert.Equal(t, 3, p.AdapterTimeout)
	assert.Equal(t, "gpt-4o-mini", p.RemoteModel)
	assert.False(t, p.IsRemoteEnabled())
}

func TestProcessTextCommand(t *testing.T) {
	offlineEnv(t)
	out := execute(t, "process", "text", "Lunch", "$12.50", "at", "Chipotle")

	var res routing.ProcessingResult[backend.ParsedTransaction]
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	assert.Equal(t, backend.SourceLocal, res.Source)
	assert.Equal(t, routing.StrategyLocalOnly, res.Strategy)
	assert.InDelta(t, 12.5, res.Data.Amount, 1e-9)
}

func TestProcessTextCommand_Batch(t *testing.T) {
	offlineEnv(t)
	rootCmd.SetIn(strings.NewReader("coffee $4\n\ntaxi $20\n"))
	defer rootCmd.SetIn(nil)
	defer func() { _ = processTextCmd.Flags().Set("batch", "false") }()
	out := execute(t, "process", "text", "--batch", "-")

	var items []batchLine
	require.NoError(t, json.Unmarshal([]byte(out), &items), out)
	require.Len(t, items, 2)
	assert.Equal(t, 1, items[1].Index)
	require.NotNil(t, items[1].Result)
	assert.InDelta(t, 20, items[1].Result.Data.Amount, 1e-9)
}

func TestStrategySetCommand(t *testing.T) {
	offlineEnv(t)
	out := execute(t, "strategy", "set", "hybrid", "--threshold", "0.7")

	var got strategyState
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, routing.StrategyHybrid, got.Preferred)
	// No remote backend, so connectivity loss keeps the router on device.
	assert.Equal(t, routing.StrategyLocalOnly, got.Current)
	assert.True(t, got.Forced)
	assert.InDelta(t, 0.7, got.Threshold, 1e-9)
}

func TestVersionCommand(t *testing.T) {
	out := execute(t, "version")
	assert.Contains(t, out, "Version=")
}

func TestTextInput(t *testing.T) {
	text, err := textInput(strings.NewReader("ignored"), []string{"coffee", "4"})
	require.NoError(t, err)
	assert.Equal(t, "coffee 4", text)

	text, err = textInput(strings.NewReader("  rent 900\n"), []string{"-"})
	require.NoError(t, err)
	assert.Equal(t, "rent 900", text)

	_, err = textInput(strings.NewReader(" "), nil)
	assert.Error(t, err)
}

func TestFileInput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, []byte("RIFF"), 0o600))

	data, err := fileInput(nil, path)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF"), data)

	data, err = fileInput(strings.NewReader("png"), "-")
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), data)

	_, err = fileInput(nil, filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a 1", "b 2"}, splitLines(" a 1 \n\n b 2\n"))
	assert.Nil(t, splitLines(""))
}
