package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of the cleaner.
type Config struct {
	Security struct {
		RequireRoot     bool     `yaml:"require_root"`
		AllowRootFS     bool     `yaml:"allow_root_fs"`
		ProtectedMounts []string `yaml:"protected_mounts"`
		ExcludedMounts  []string `yaml:"excluded_mounts"`
	} `yaml:"security"`

	Wipe struct {
		Method               string        `yaml:"method"`
		ChunkSize            int64         `yaml:"chunk_size"`
		MaxFileSize          int64         `yaml:"max_file_size"`
		WorkDirName          string        `yaml:"work_dir_name"`
		ProgressInterval     time.Duration `yaml:"progress_interval"`
		SpaceInterval        time.Duration `yaml:"space_interval"`
		PauseInterval        time.Duration `yaml:"pause_interval"`
		AutoRestart          bool          `yaml:"auto_restart"`
		CycleMethods         bool          `yaml:"cycle_methods"`
		RestartDelay         time.Duration `yaml:"restart_delay"`
		MaxPasses            int           `yaml:"max_passes"`
		MaxSpeedMBpsExternal float64       `yaml:"max_speed_mbps_external"`
		JoinTimeout          time.Duration `yaml:"join_timeout"`
	} `yaml:"wipe"`

	Metadata struct {
		FsstatPath           string        `yaml:"fsstat_path"`
		FlsPath              string        `yaml:"fls_path"`
		FsstatTimeout        time.Duration `yaml:"fsstat_timeout"`
		FlsTimeout           time.Duration `yaml:"fls_timeout"`
		RetryAttempts        int           `yaml:"retry_attempts"`
		RetryDelay           time.Duration `yaml:"retry_delay"`
		FreeEntryRatio       float64       `yaml:"free_entry_ratio"`
		TotalEntryRatio      float64       `yaml:"total_entry_ratio"`
		MinTarget            int           `yaml:"min_target"`
		MaxTarget            int           `yaml:"max_target"`
		FallbackTarget       int           `yaml:"fallback_target"`
		SizeTiers            []SizeTier    `yaml:"size_tiers"`
		RateLimitPerSec      float64       `yaml:"rate_limit_per_sec"`
		ProgressEvery        int           `yaml:"progress_every"`
		EntrySize            int           `yaml:"entry_size"`
		ExfatFinalRatio      float64       `yaml:"exfat_final_ratio"`
		MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
	} `yaml:"metadata"`

	Logging struct {
		Level   string `yaml:"level"`
		File    string `yaml:"file"`
		Verbose bool   `yaml:"verbose"`
	} `yaml:"logging"`

	Reporting struct {
		Enabled   bool   `yaml:"enabled"`
		LocalPath string `yaml:"local_path"`
		Format    string `yaml:"format"`
	} `yaml:"reporting"`
}

// SizeTier maps volumes smaller than MaxBytes to a churn target.
// A zero MaxBytes marks the open-ended top tier.
type SizeTier struct {
	MaxBytes uint64 `yaml:"max_bytes"`
	Target   int    `yaml:"target"`
}

const gib = 1024 * 1024 * 1024

// DefaultSizeTiers: <100GB, <500GB, <2TB, >=2TB.
func DefaultSizeTiers() []SizeTier {
	return []SizeTier{
		{MaxBytes: 100 * gib, Target: 50000},
		{MaxBytes: 500 * gib, Target: 100000},
		{MaxBytes: 2048 * gib, Target: 150000},
		{MaxBytes: 0, Target: 200000},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}

	cfg.Security.RequireRoot = false
	cfg.Security.AllowRootFS = false
	cfg.Security.ProtectedMounts = []string{"/boot", "/boot/efi", "/proc", "/sys", "/dev"}
	cfg.Security.ExcludedMounts = []string{}

	cfg.Wipe.Method = "zeros"
	cfg.Wipe.ChunkSize = 64 * 1024 * 1024    // 64MB
	cfg.Wipe.MaxFileSize = 1024 * 1024 * 1024 // 1GB
	cfg.Wipe.WorkDirName = ".free_space_cleaner"
	cfg.Wipe.ProgressInterval = 500 * time.Millisecond
	cfg.Wipe.SpaceInterval = 3 * time.Second
	cfg.Wipe.PauseInterval = 100 * time.Millisecond
	cfg.Wipe.AutoRestart = false
	cfg.Wipe.CycleMethods = false
	cfg.Wipe.RestartDelay = 500 * time.Millisecond
	cfg.Wipe.MaxPasses = 0
	cfg.Wipe.MaxSpeedMBpsExternal = 0
	cfg.Wipe.JoinTimeout = 10 * time.Second

	cfg.Metadata.FsstatPath = "fsstat"
	cfg.Metadata.FlsPath = "fls"
	cfg.Metadata.FsstatTimeout = 30 * time.Second
	cfg.Metadata.FlsTimeout = 2 * time.Minute
	cfg.Metadata.RetryAttempts = 5
	cfg.Metadata.RetryDelay = 200 * time.Millisecond
	cfg.Metadata.FreeEntryRatio = 0.80
	cfg.Metadata.TotalEntryRatio = 0.20
	cfg.Metadata.MinTarget = 50000
	cfg.Metadata.MaxTarget = 200000
	cfg.Metadata.FallbackTarget = 75000
	cfg.Metadata.SizeTiers = DefaultSizeTiers()
	cfg.Metadata.RateLimitPerSec = 72
	cfg.Metadata.ProgressEvery = 50
	cfg.Metadata.EntrySize = 1024
	cfg.Metadata.ExfatFinalRatio = 0.25
	cfg.Metadata.MaxConsecutiveErrors = 0 // no cap

	cfg.Logging.Level = "INFO"
	cfg.Logging.File = ""
	cfg.Logging.Verbose = false

	cfg.Reporting.Enabled = false
	cfg.Reporting.LocalPath = "./reports"
	cfg.Reporting.Format = "json"

	return cfg
}

// Load reads the configuration from path. A missing file means defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}

	// Unspecified keys keep their default values.
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse config file %s", path)
	}

	if err := Validate(config); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return config, nil
}

// Validate checks config for out-of-range values.
func Validate(config *Config) error {
	validMethods := map[string]bool{
		"zeros":  true,
		"ones":   true,
		"random": true,
		"3487":   true,
	}
	if !validMethods[config.Wipe.Method] {
		return errors.Newf("invalid wipe method: %s", config.Wipe.Method)
	}

	if config.Wipe.ChunkSize <= 0 {
		return errors.Newf("chunk size must be positive, got %d", config.Wipe.ChunkSize)
	}
	if config.Wipe.ChunkSize > 256*1024*1024 {
		return errors.Newf("chunk size too large (max 256MB), got %d", config.Wipe.ChunkSize)
	}
	if config.Wipe.MaxFileSize < config.Wipe.ChunkSize {
		return errors.Newf("max file size %d is smaller than chunk size %d", config.Wipe.MaxFileSize, config.Wipe.ChunkSize)
	}
	if config.Wipe.WorkDirName == "" || filepath.Base(config.Wipe.WorkDirName) != config.Wipe.WorkDirName {
		return errors.Newf("work dir name must be a plain directory name, got %q", config.Wipe.WorkDirName)
	}
	if config.Wipe.ProgressInterval <= 0 || config.Wipe.SpaceInterval <= 0 || config.Wipe.PauseInterval <= 0 {
		return errors.New("progress, space and pause intervals must be positive")
	}
	if config.Wipe.MaxPasses < 0 {
		return errors.Newf("max passes cannot be negative, got %d", config.Wipe.MaxPasses)
	}
	if config.Wipe.MaxSpeedMBpsExternal < 0 {
		return errors.Newf("max speed cannot be negative, got %f", config.Wipe.MaxSpeedMBpsExternal)
	}

	if config.Metadata.RetryAttempts <= 0 || config.Metadata.RetryAttempts > 20 {
		return errors.Newf("retry attempts must be between 1 and 20, got %d", config.Metadata.RetryAttempts)
	}
	if config.Metadata.FreeEntryRatio <= 0 || config.Metadata.FreeEntryRatio > 1 {
		return errors.Newf("free entry ratio must be in (0,1], got %f", config.Metadata.FreeEntryRatio)
	}
	if config.Metadata.TotalEntryRatio <= 0 || config.Metadata.TotalEntryRatio > 1 {
		return errors.Newf("total entry ratio must be in (0,1], got %f", config.Metadata.TotalEntryRatio)
	}
	if config.Metadata.MinTarget <= 0 || config.Metadata.MaxTarget < config.Metadata.MinTarget {
		return errors.Newf("invalid target bounds [%d, %d]", config.Metadata.MinTarget, config.Metadata.MaxTarget)
	}
	if config.Metadata.FallbackTarget <= 0 {
		return errors.Newf("fallback target must be positive, got %d", config.Metadata.FallbackTarget)
	}
	if config.Metadata.RateLimitPerSec < 0 {
		return errors.Newf("rate limit cannot be negative, got %f", config.Metadata.RateLimitPerSec)
	}
	if config.Metadata.ProgressEvery <= 0 {
		return errors.Newf("progress_every must be positive, got %d", config.Metadata.ProgressEvery)
	}
	if config.Metadata.EntrySize < 256 || config.Metadata.EntrySize > 65536 {
		return errors.Newf("entry size must be between 256 and 65536, got %d", config.Metadata.EntrySize)
	}
	if config.Metadata.ExfatFinalRatio <= 0 || config.Metadata.ExfatFinalRatio > 1 {
		return errors.Newf("exfat final ratio must be in (0,1], got %f", config.Metadata.ExfatFinalRatio)
	}
	if config.Metadata.MaxConsecutiveErrors < 0 {
		return errors.Newf("max consecutive errors cannot be negative, got %d", config.Metadata.MaxConsecutiveErrors)
	}
	for i, tier := range config.Metadata.SizeTiers {
		if tier.Target <= 0 {
			return errors.Newf("size tier %d has non-positive target", i)
		}
	}

	validLevels := map[string]bool{
		"DEBUG": true,
		"INFO":  true,
		"WARN":  true,
		"ERROR": true,
	}
	if !validLevels[config.Logging.Level] {
		return errors.Newf("invalid log level: %s", config.Logging.Level)
	}

	if config.Reporting.Format != "json" && config.Reporting.Format != "yaml" {
		return errors.Newf("invalid report format: %s", config.Reporting.Format)
	}

	for _, path := range config.Security.ProtectedMounts {
		if path == "" || !filepath.IsAbs(path) {
			return errors.Newf("invalid protected mount: %q", path)
		}
	}

	return nil
}

// Save writes a valid config to path.
func Save(config *Config, path string) error {
	if err := Validate(config); err != nil {
		return errors.Wrap(err, "cannot save invalid config")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "failed to write config file")
	}

	return nil
}
