package system

import (
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// IsDiskFullError reports whether err means the volume has no space left
// (ENOSPC, or EDQUOT once the user's quota is exhausted).
func IsDiskFullError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk quota exceeded") ||
		strings.Contains(msg, "disk full")
}

// IsMediaError reports an I/O error from the device itself.
func IsMediaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, unix.EIO) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "input/output error")
}
