package security

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"freespace_cleaner/internal/config"
	"freespace_cleaner/internal/system"
)

var ErrNotRoot = errors.New("root privileges required")

var geteuid = os.Geteuid

func SecurityChecks(cfg *config.Config) error {
	if cfg == nil {
		cfg = config.Default()
	}

	if cfg.Security.RequireRoot && !IsRoot() {
		return errors.WithHint(ErrNotRoot, "run with sudo or set security.require_root: false")
	}

	return nil
}

// IsRoot reports whether the process runs with effective uid 0.
func IsRoot() bool {
	return geteuid() == 0
}

// SkipReason explains why drive must not be touched, or returns "".
func SkipReason(cfg *config.Config, drive system.DriveInfo) string {
	if cfg == nil {
		cfg = config.Default()
	}
	mount := filepath.Clean(drive.MountPoint)

	for _, excluded := range cfg.Security.ExcludedMounts {
		if mount == filepath.Clean(excluded) {
			return "mount point is excluded in configuration"
		}
	}

	// /boot also covers /boot/efi
	for _, protected := range cfg.Security.ProtectedMounts {
		p := filepath.Clean(protected)
		if mount == p || strings.HasPrefix(mount, p+"/") {
			return "mount point is protected: " + p
		}
	}

	if mount == "/" && !cfg.Security.AllowRootFS {
		return "root filesystem requires security.allow_root_fs"
	}

	return ""
}

func ShouldSkipDrive(cfg *config.Config, drive system.DriveInfo) bool {
	return SkipReason(cfg, drive) != ""
}
