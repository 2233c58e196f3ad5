package disklog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a YAML config file into a per-test directory.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "disklog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644),
		"Writing the config file should not return an error")
	return path
}

// TestDefaultConfig tests the built-in defaults
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "data", cfg.Dir, "The default directory should be data")
	assert.Equal(t, DefaultCompactionInterval, cfg.CompactionInterval, "The default interval should apply")
	assert.Equal(t, DefaultMaxSegmentSize, cfg.MaxSegmentSize, "The default segment size should apply")
	assert.False(t, cfg.Compression, "Compression should default to off")
	assert.NoError(t, cfg.validate(), "The defaults should validate")
}

// TestLoadConfig tests loading a complete YAML file
func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
dir: /var/lib/disklog
compactionInterval: 250ms
maxSegmentSize: 1048576
compression: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err, "LoadConfig should not return an error")

	assert.Equal(t, "/var/lib/disklog", cfg.Dir, "The directory should be read from the file")
	assert.Equal(t, 250*time.Millisecond, cfg.CompactionInterval, "Duration strings should be parsed")
	assert.Equal(t, int64(1048576), cfg.MaxSegmentSize, "The segment size should be read from the file")
	assert.True(t, cfg.Compression, "Compression should be read from the file")
}

// TestLoadConfig_Partial tests that absent fields keep their defaults
func TestLoadConfig_Partial(t *testing.T) {
	path := writeConfig(t, "dir: /tmp/partial\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err, "LoadConfig should not return an error")

	assert.Equal(t, "/tmp/partial", cfg.Dir, "The directory should be read from the file")
	assert.Equal(t, DefaultCompactionInterval, cfg.CompactionInterval, "An absent interval should keep the default")
	assert.Equal(t, DefaultMaxSegmentSize, cfg.MaxSegmentSize, "An absent segment size should keep the default")
	assert.False(t, cfg.Compression, "An absent compression flag should keep the default")
}

// TestLoadConfig_CompressionFalse tests that an explicit false is not
// mistaken for an absent field
func TestLoadConfig_CompressionFalse(t *testing.T) {
	path := writeConfig(t, "dir: /tmp/x\ncompression: false\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err, "LoadConfig should not return an error")
	assert.False(t, cfg.Compression, "An explicit false should be honored")
}

// TestLoadConfig_InvalidDuration tests rejection of malformed durations
func TestLoadConfig_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "compactionInterval: soon\n")

	_, err := LoadConfig(path)
	assert.Error(t, err, "A malformed duration should be rejected")
}

// TestLoadConfig_MissingFile tests loading a file that does not exist
func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "A missing file should be an error")
}

// TestLoadConfig_InvalidYAML tests rejection of malformed YAML
func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "dir: [\n")

	_, err := LoadConfig(path)
	assert.Error(t, err, "Malformed YAML should be rejected")
}

// TestConfig_Validate tests the validation rules
func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dir = ""
	assert.Error(t, cfg.validate(), "An empty directory should be rejected")

	cfg = DefaultConfig()
	cfg.CompactionInterval = 0
	assert.Error(t, cfg.validate(), "A zero interval should be rejected")

	cfg = DefaultConfig()
	cfg.MaxSegmentSize = -1
	assert.Error(t, cfg.validate(), "A negative segment size should be rejected")
}
