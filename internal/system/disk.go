package system

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// DriveInfo is a snapshot of one mounted volume.
type DriveInfo struct {
	MountPoint string    `json:"mount_point" yaml:"mount_point"`
	FreeBytes  uint64    `json:"free_bytes" yaml:"free_bytes"`
	TotalBytes uint64    `json:"total_bytes" yaml:"total_bytes"`
	DeviceName string    `json:"device_name" yaml:"device_name"`
	DriveType  DriveType `json:"drive_type" yaml:"drive_type"`
	FSType     string    `json:"fs_type" yaml:"fs_type"`
}

// UsedBytes never underflows.
func (d DriveInfo) UsedBytes() uint64 {
	if d.FreeBytes > d.TotalBytes {
		return 0
	}
	return d.TotalBytes - d.FreeBytes
}

// DiskUsage returns free (available to unprivileged users) and total bytes.
func DiskUsage(path string) (free, total uint64, err error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, errors.Wrapf(err, "statfs %s", path)
	}
	bsize := uint64(st.Bsize)
	return uint64(st.Bavail) * bsize, uint64(st.Blocks) * bsize, nil
}

// MountEntry is one line of a mounts table.
type MountEntry struct {
	Source     string
	MountPoint string
	FSType     string
}

// Mounts reads the mount table at path (normally /proc/self/mounts).
func Mounts(path string) ([]MountEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	var out []MountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		out = append(out, MountEntry{
			Source:     unescapeMount(fields[0]),
			MountPoint: unescapeMount(fields[1]),
			FSType:     fields[2],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return out, nil
}

// The kernel octal-escapes spaces, tabs and newlines in mount fields.
func unescapeMount(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(s)
}

// MountTable locates devices for mount points.
type MountTable struct {
	Path string
}

func NewMountTable() *MountTable {
	return &MountTable{Path: "/proc/self/mounts"}
}

// Lookup returns the entry mounted at mountPoint, or failing that the
// mount that contains it. With stacked mounts the last one wins, as in the
// kernel's view.
func (m *MountTable) Lookup(mountPoint string) (MountEntry, error) {
	entries, err := Mounts(m.Path)
	if err != nil {
		return MountEntry{}, err
	}
	target := filepath.Clean(mountPoint)
	best := -1
	bestLen := -1
	for i := range entries {
		mp := filepath.Clean(entries[i].MountPoint)
		if !containsPath(mp, target) {
			continue
		}
		if len(mp) >= bestLen {
			best, bestLen = i, len(mp)
		}
	}
	if best < 0 {
		return MountEntry{}, errors.Newf("no mount found for %s", mountPoint)
	}
	return entries[best], nil
}

func containsPath(parent, path string) bool {
	if parent == path || parent == "/" {
		return true
	}
	return strings.HasPrefix(path, parent+"/")
}

// Source returns the block device backing mountPoint, with /dev/mapper
// symlinks resolved to their dm-N node.
func (m *MountTable) Source(mountPoint string) (string, error) {
	entry, err := m.Lookup(mountPoint)
	if err != nil {
		return "", err
	}
	src := entry.Source
	if !strings.HasPrefix(src, "/dev/") {
		return "", errors.Newf("mount %s is not backed by a block device (%s)", mountPoint, src)
	}
	if resolved, err := filepath.EvalSymlinks(src); err == nil {
		src = resolved
	}
	return src, nil
}

// Prober builds DriveInfo snapshots.
type Prober struct {
	Mounts   *MountTable
	Topology *Topology
	// Runner, when set, is used to ask blkid what a fuseblk mount really is.
	Runner Runner
}

func NewProber() *Prober {
	return &Prober{Mounts: NewMountTable(), Topology: NewTopology()}
}

// ProbeDrive refreshes a DriveInfo from statfs, the mount table and sysfs.
// Device and type are best effort; only statfs failure is an error.
func (p *Prober) ProbeDrive(mountPoint string) (DriveInfo, error) {
	info := DriveInfo{MountPoint: mountPoint, DriveType: DriveUnknown}

	free, total, err := DiskUsage(mountPoint)
	if err != nil {
		return info, err
	}
	info.FreeBytes, info.TotalBytes = free, total

	if entry, err := p.Mounts.Lookup(mountPoint); err == nil {
		info.FSType = entry.FSType
		info.DeviceName = entry.Source
	}
	if src, err := p.Mounts.Source(mountPoint); err == nil {
		info.DeviceName = src
		info.DriveType = p.Topology.ClassifyDriveType(src)
	}
	if info.FSType == "fuseblk" {
		if fs := p.fuseblkType(info.DeviceName); fs != "" {
			info.FSType = fs
		}
	}
	return info, nil
}

// fuseblkType reads the on-disk filesystem type of a FUSE block mount
// (ntfs-3g, exfat-fuse). Empty when it cannot be determined.
func (p *Prober) fuseblkType(device string) string {
	if p.Runner == nil || !strings.HasPrefix(device, "/dev/") {
		return ""
	}
	out, err := p.Runner.Run(context.Background(), 5*time.Second, "blkid", "-o", "value", "-s", "TYPE", device)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
