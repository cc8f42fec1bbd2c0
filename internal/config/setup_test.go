package config

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectrum.yml")
	input := strings.Join([]string{
		"100",              // node id
		"",                 // console group
		"239.203.108.0/22", // address range
		"12264",            // port base
		"",                 // ttl
		"",                 // interface
		"n",                // autostart
		"1:2412000:20000, 2:2414000:20000",
		"DEBUG", // log level
	}, "\n") + "\n"
	var out bytes.Buffer

	cfg, err := setup(strings.NewReader(input), &out, path)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), cfg.Node.ID)
	assert.Equal(t, DefaultConsoleGroup, cfg.Registry.ConsoleGroup)
	assert.Equal(t, "239.203.108.0/22", cfg.AddressPrefix().String())
	assert.Equal(t, uint16(12264), cfg.Registry.PortBase)
	assert.False(t, cfg.Registry.Autostart)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []Channel{
		{Interface: 1, Frequency: 2412000, Bandwidth: 20000},
		{Interface: 2, Frequency: 2414000, Bandwidth: 20000},
	}, cfg.Channels)
	assert.Contains(t, out.String(), "Configuration saved successfully!")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Channels, loaded.Channels)
	assert.Equal(t, cfg.Node.ID, loaded.Node.ID)
}

func TestSetup_EOFUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectrum.yml")
	cfg, err := setup(strings.NewReader("9\n"), &bytes.Buffer{}, path)
	require.NoError(t, err)
	assert.Equal(t, uint32(9), cfg.Node.ID)
	assert.True(t, cfg.Registry.Autostart)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
}

func TestSetup_OutOfRangeUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectrum.yml")
	input := strings.Join([]string{
		"7",     // node id
		"",      // console group
		"",      // address range
		"70000", // port base
		"300",   // ttl
	}, "\n") + "\n"
	var out bytes.Buffer

	cfg, err := setup(strings.NewReader(input), &out, path)
	require.NoError(t, err)
	assert.Equal(t, uint16(DefaultPortBase), cfg.Registry.PortBase)
	assert.Equal(t, DefaultMulticastTTL, cfg.Registry.MulticastTTL)
	assert.Contains(t, out.String(), "Value out of range 1-65535, using default 11264")
	assert.Contains(t, out.String(), "Value out of range 1-255, using default 1")
}

func TestPromptInt(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  int64
	}{
		{"value", "42\n", 42},
		{"empty", "\n", 5},
		{"eof", "", 5},
		{"not a number", "x\n", 5},
		{"negative", "-1\n", 5},
		{"too large", "4294967296\n", 5},
		{"upper bound", "4294967295\n", 4294967295},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &prompter{r: bufio.NewReader(strings.NewReader(tt.input)), w: &bytes.Buffer{}}
			assert.Equal(t, tt.want, p.promptInt("n", 5, 1, 4294967295))
		})
	}
}

func TestSetup_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spectrum.yml")
	_, err := setup(strings.NewReader("1\n10.0.0.1:4701\n"), &bytes.Buffer{}, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "console_group")

	_, err = setup(strings.NewReader("1\n\n\n\n\n\n\n1:2:x\n"), &bytes.Buffer{}, path)
	assert.Error(t, err)
}

func TestSaveConfig_WriteError(t *testing.T) {
	err := SaveConfig(Default(), "/nonexistent/path/test_config.yml")
	assert.Error(t, err)
}

func TestParseStringSlice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"simple", "a,b,c", []string{"a", "b", "c"}},
		{"with spaces", "a, b, c", []string{"a", "b", "c"}},
		{"empty", "", []string{}},
		{"single", "a", []string{"a"}},
		{"with empty parts", "a,,b", []string{"a", "b"}},
		{"whitespace only", "   ,  ,  ", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseStringSlice(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseChannel(t *testing.T) {
	ch, err := parseChannel("3:5180000:40000")
	require.NoError(t, err)
	assert.Equal(t, Channel{Interface: 3, Frequency: 5180000, Bandwidth: 40000}, ch)

	_, err = parseChannel("3:5180000")
	assert.Error(t, err)
	_, err = parseChannel("3:-1:40000")
	assert.Error(t, err)
}
