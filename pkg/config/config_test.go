package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFileCreatesDefault(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	c, err := LoadConfigFile(p)
	require.NoError(t, err)
	require.Equal(t, DefaultMaxFrames, c.GetMaxFrames())
	require.Equal(t, DefaultSymbolCacheSize, c.GetSymbolCacheSize())
	require.Equal(t, DefaultSessionCacheSize, c.GetSessionCacheSize())
	require.False(t, c.ShowInstruction)
	require.NotNil(t, c.Aliases)

	data, err := ioutil.ReadFile(p)
	require.NoError(t, err)
	require.Contains(t, string(data), "# max-frames: 256")
}

func TestLoadConfigFileValues(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	err := ioutil.WriteFile(p, []byte(`
aliases:
  trace: ["bt", "stack"]
max-frames: 32
session-cache-size: 0
thread-access: ["suspend-resume", "get-context", "query"]
show-instruction: true
disassemble-flavor: gnu
timeout: "1500ms"
`), 0600)
	require.NoError(t, err)

	c, err := LoadConfigFile(p)
	require.NoError(t, err)
	require.Equal(t, 32, c.GetMaxFrames())
	require.Equal(t, 0, c.GetSessionCacheSize())
	require.Equal(t, []string{"suspend-resume", "get-context", "query"}, c.ThreadAccess)
	require.Equal(t, []string{"bt", "stack"}, c.Aliases["trace"])
	require.True(t, c.ShowInstruction)
	require.Equal(t, "gnu", c.DisassembleFlavor)
	d, err := c.GetTimeout()
	require.NoError(t, err)
	require.Equal(t, 1500*time.Millisecond, d)
}

func TestLoadConfigFileInvalid(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, ioutil.WriteFile(p, []byte("max-frames: [1, 2\n"), 0600))
	_, err := LoadConfigFile(p)
	require.Error(t, err)
}

func TestGetTimeoutInvalid(t *testing.T) {
	c := &Config{Timeout: "soon"}
	_, err := c.GetTimeout()
	require.Error(t, err)
}
