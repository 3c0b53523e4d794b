package config

import (
	"github.com/cockroachdb/errors"
)

// ApplyProfile applies a named performance profile to cfg.
func ApplyProfile(cfg *Config, profile string) error {
	switch profile {
	case "safe":
		cfg.Wipe.ChunkSize = 16 * 1024 * 1024 // 16MB
		cfg.Wipe.MaxSpeedMBpsExternal = 25
		cfg.Metadata.RateLimitPerSec = 70
	case "balanced":
		cfg.Wipe.ChunkSize = 64 * 1024 * 1024 // 64MB
		cfg.Wipe.MaxSpeedMBpsExternal = 0
		cfg.Metadata.RateLimitPerSec = 72
	case "fast":
		cfg.Wipe.ChunkSize = 128 * 1024 * 1024 // 128MB
		cfg.Wipe.MaxSpeedMBpsExternal = 0
		cfg.Metadata.RateLimitPerSec = 75
	default:
		return errors.Newf("unknown profile: %s", profile)
	}
	return nil
}

// ProfileNames lists the profiles ApplyProfile understands.
func ProfileNames() []string {
	return []string{"safe", "balanced", "fast"}
}
