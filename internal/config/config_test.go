package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))
	assert.Equal(t, "zeros", cfg.Wipe.Method)
	assert.Equal(t, 72.0, cfg.Metadata.RateLimitPerSec)
	assert.Len(t, cfg.Metadata.SizeTiers, 4)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsclean.yaml")
	data := `
wipe:
  method: random
  restart_delay: 2s
metadata:
  rate_limit_per_sec: 10
logging:
  level: DEBUG
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "random", cfg.Wipe.Method)
	assert.Equal(t, 2*time.Second, cfg.Wipe.RestartDelay)
	assert.Equal(t, 10.0, cfg.Metadata.RateLimitPerSec)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	// untouched
	assert.Equal(t, Default().Wipe.ChunkSize, cfg.Wipe.ChunkSize)
	assert.Equal(t, Default().Metadata.FallbackTarget, cfg.Metadata.FallbackTarget)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("wipe:\n  method: gutmann\n"), 0644))
	_, err := Load(bad)
	assert.ErrorContains(t, err, "invalid wipe method")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("wipe: [\n"), 0644))
	_, err = Load(broken)
	assert.ErrorContains(t, err, "failed to parse")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"chunk zero", func(c *Config) { c.Wipe.ChunkSize = 0 }, "chunk size must be positive"},
		{"chunk huge", func(c *Config) { c.Wipe.ChunkSize = 512 * 1024 * 1024; c.Wipe.MaxFileSize = 1 << 40 }, "chunk size too large"},
		{"file below chunk", func(c *Config) { c.Wipe.MaxFileSize = 1 }, "smaller than chunk size"},
		{"nested workdir", func(c *Config) { c.Wipe.WorkDirName = "a/b" }, "plain directory name"},
		{"negative passes", func(c *Config) { c.Wipe.MaxPasses = -1 }, "max passes"},
		{"retries", func(c *Config) { c.Metadata.RetryAttempts = 0 }, "retry attempts"},
		{"free ratio", func(c *Config) { c.Metadata.FreeEntryRatio = 1.5 }, "free entry ratio"},
		{"bounds", func(c *Config) { c.Metadata.MaxTarget = 10 }, "invalid target bounds"},
		{"entry size", func(c *Config) { c.Metadata.EntrySize = 100 }, "entry size"},
		{"error cap", func(c *Config) { c.Metadata.MaxConsecutiveErrors = -1 }, "max consecutive errors"},
		{"tier", func(c *Config) { c.Metadata.SizeTiers = []SizeTier{{MaxBytes: 1, Target: 0}} }, "size tier 0"},
		{"level", func(c *Config) { c.Logging.Level = "TRACE" }, "invalid log level"},
		{"format", func(c *Config) { c.Reporting.Format = "xml" }, "invalid report format"},
		{"protected", func(c *Config) { c.Security.ProtectedMounts = []string{"boot"} }, "invalid protected mount"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, Validate(cfg), tt.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "fsclean.yaml")
	cfg := Default()
	cfg.Wipe.Method = "3487"
	cfg.Security.ExcludedMounts = []string{"/mnt/backup"}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveRefusesInvalid(t *testing.T) {
	cfg := Default()
	cfg.Wipe.Method = "nope"
	assert.Error(t, Save(cfg, filepath.Join(t.TempDir(), "x.yaml")))
}

func TestApplyProfile(t *testing.T) {
	for _, name := range ProfileNames() {
		cfg := Default()
		require.NoError(t, ApplyProfile(cfg, name), name)
		assert.NoError(t, Validate(cfg), name)
		assert.InDelta(t, 72.0, cfg.Metadata.RateLimitPerSec, 3.0, "%s keeps the churn rate limit", name)
	}

	cfg := Default()
	require.NoError(t, ApplyProfile(cfg, "safe"))
	assert.Equal(t, 25.0, cfg.Wipe.MaxSpeedMBpsExternal)
	assert.Equal(t, 70.0, cfg.Metadata.RateLimitPerSec)

	assert.Error(t, ApplyProfile(Default(), "ludicrous"))
}
