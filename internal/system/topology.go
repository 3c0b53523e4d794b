package system

import (
	"os"
	"path/filepath"
	"strings"
)

type DriveType string

const (
	DriveSSD     DriveType = "SSD"
	DriveHDD     DriveType = "HDD"
	DriveUSBSSD  DriveType = "USB SSD"
	DriveUSBHDD  DriveType = "USB HDD"
	DriveUnknown DriveType = "Unknown"
)

// Throttled reports whether writes to this media class are rate limited.
// Everything but an internal SSD is, including unknown media.
func (t DriveType) Throttled() bool {
	return t != DriveSSD
}

const defaultMaxDepth = 8

// Topology resolves block device names against a sysfs tree.
type Topology struct {
	SysRoot  string
	MaxDepth int
}

func NewTopology() *Topology {
	return &Topology{SysRoot: "/sys", MaxDepth: defaultMaxDepth}
}

// BaseDevice strips /dev/ and the partition suffix from a device name:
// nvme0n1p3 -> nvme0n1, sda1 -> sda. dm-* and luks-* names are returned as is.
func BaseDevice(name string) string {
	name = strings.TrimPrefix(name, "/dev/")
	switch {
	case name == "":
		return ""
	case isMapperName(name):
		return name
	case hasPartitionSeparator(name):
		if i := strings.LastIndexByte(name, 'p'); i > 0 && allDigits(name[i+1:]) && isDigit(name[i-1]) {
			return name[:i]
		}
		return name
	default:
		end := len(name)
		for end > 0 && isDigit(name[end-1]) {
			end--
		}
		if end == 0 {
			return name
		}
		return name[:end]
	}
}

// nvme, mmcblk and loop devices carry a digit before the partition number,
// so partitions are marked with a "p" separator.
func hasPartitionSeparator(name string) bool {
	return strings.HasPrefix(name, "nvme") ||
		strings.HasPrefix(name, "mmcblk") ||
		strings.HasPrefix(name, "loop")
}

func isMapperName(name string) bool {
	return strings.HasPrefix(name, "dm-") || strings.HasPrefix(name, "luks-")
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}

func (t *Topology) root() string {
	if t.SysRoot == "" {
		return "/sys"
	}
	return t.SysRoot
}

func (t *Topology) maxDepth() int {
	if t.MaxDepth <= 0 {
		return defaultMaxDepth
	}
	return t.MaxDepth
}

// ResolvePhysicalDevice follows device-mapper slaves down to the first
// physical disk. Names with no slaves come back unchanged.
func (t *Topology) ResolvePhysicalDevice(name string) string {
	current := BaseDevice(name)
	if strings.HasPrefix(current, "luks-") {
		if dm := t.dmForName(current); dm != "" {
			current = dm
		}
	}

	visited := map[string]bool{}
	for depth := 0; depth < t.maxDepth(); depth++ {
		if !strings.HasPrefix(current, "dm-") || visited[current] {
			break
		}
		visited[current] = true

		slave := t.firstSlave(current)
		if slave == "" {
			break
		}
		current = BaseDevice(slave)
	}
	return current
}

// dmForName finds the dm-N whose dm/name matches a mapper name.
func (t *Topology) dmForName(mapperName string) string {
	matches, err := filepath.Glob(filepath.Join(t.root(), "block", "dm-*"))
	if err != nil {
		return ""
	}
	for _, dir := range matches {
		data, err := os.ReadFile(filepath.Join(dir, "dm", "name"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(data)) == mapperName {
			return filepath.Base(dir)
		}
	}
	return ""
}

func (t *Topology) firstSlave(dm string) string {
	entries, err := os.ReadDir(filepath.Join(t.root(), "block", dm, "slaves"))
	if err != nil || len(entries) == 0 {
		return ""
	}
	// ReadDir sorts by name, so the choice is stable.
	return entries[0].Name()
}

// ClassifyDriveType maps a device name to its media class from sysfs.
func (t *Topology) ClassifyDriveType(name string) DriveType {
	base := BaseDevice(name)
	if base == "" {
		return DriveUnknown
	}
	if isMapperName(base) {
		physical := t.ResolvePhysicalDevice(base)
		if isMapperName(physical) {
			return DriveUnknown
		}
		base = physical
	}
	if strings.HasPrefix(base, "nvme") {
		return DriveSSD
	}

	blockDir := filepath.Join(t.root(), "block", base)
	data, err := os.ReadFile(filepath.Join(blockDir, "queue", "rotational"))
	if err != nil {
		return DriveUnknown
	}

	var kind DriveType
	switch strings.TrimSpace(string(data)) {
	case "0":
		kind = DriveSSD
	case "1":
		kind = DriveHDD
	default:
		return DriveUnknown
	}

	if t.onUSB(blockDir) {
		if kind == DriveSSD {
			return DriveUSBSSD
		}
		return DriveUSBHDD
	}
	return kind
}

func (t *Topology) onUSB(blockDir string) bool {
	real, err := filepath.EvalSymlinks(blockDir)
	if err != nil {
		return false
	}
	for _, part := range strings.Split(real, string(filepath.Separator)) {
		if strings.HasPrefix(part, "usb") {
			return true
		}
	}
	return false
}
