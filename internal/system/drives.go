package system

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// UserMountPrefixes are the trees where removable and data volumes live.
var UserMountPrefixes = []string{"/home", "/mnt", "/media", "/run/media"}

type lsblkOutput struct {
	BlockDevices []lsblkDevice `json:"blockdevices"`
}

type lsblkDevice struct {
	Name       string  `json:"name"`
	MountPoint *string `json:"mountpoint"`
	// util-linux 2.37+ reports every mount point of a device.
	MountPoints []*string     `json:"mountpoints"`
	FSType      *string       `json:"fstype"`
	Children    []lsblkDevice `json:"children"`
}

// LsblkMount is one mounted filesystem reported by lsblk.
type LsblkMount struct {
	Name       string
	MountPoint string
	FSType     string
}

// ParseLsblk flattens lsblk -J output into its mounted entries.
func ParseLsblk(data []byte) ([]LsblkMount, error) {
	var out lsblkOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Wrap(err, "parse lsblk output")
	}
	var mounts []LsblkMount
	var walk func([]lsblkDevice)
	walk = func(devs []lsblkDevice) {
		for _, d := range devs {
			points := d.MountPoints
			if d.MountPoint != nil {
				points = append([]*string{d.MountPoint}, points...)
			}
			for _, mp := range points {
				if mp == nil || *mp == "" {
					continue
				}
				m := LsblkMount{Name: d.Name, MountPoint: *mp}
				if d.FSType != nil {
					m.FSType = *d.FSType
				}
				mounts = append(mounts, m)
			}
			walk(d.Children)
		}
	}
	walk(out.BlockDevices)
	return mounts, nil
}

// IsUserMount reports whether mountPoint lies under one of UserMountPrefixes.
func IsUserMount(mountPoint string) bool {
	for _, prefix := range UserMountPrefixes {
		if mountPoint == prefix || strings.HasPrefix(mountPoint, prefix+"/") {
			return true
		}
	}
	return false
}

// ListDrives enumerates user data volumes with lsblk and probes each one.
// /home is added even when it lives on the root filesystem.
func (p *Prober) ListDrives(ctx context.Context, runner Runner) ([]DriveInfo, error) {
	data, err := runner.Run(ctx, 10*time.Second, "lsblk", "-J", "-o", "NAME,MOUNTPOINT,SIZE,FSTYPE")
	if err != nil {
		return nil, errors.Wrap(err, "list block devices")
	}
	mounts, err := ParseLsblk(data)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var drives []DriveInfo
	for _, m := range mounts {
		if !IsUserMount(m.MountPoint) || seen[m.MountPoint] {
			continue
		}
		seen[m.MountPoint] = true

		info, err := p.ProbeDrive(m.MountPoint)
		if err != nil {
			continue
		}
		if (info.FSType == "" || info.FSType == "fuseblk") && m.FSType != "" {
			info.FSType = m.FSType
		}
		if info.DriveType == DriveUnknown {
			info.DriveType = p.Topology.ClassifyDriveType(m.Name)
		}
		drives = append(drives, info)
	}

	if !seen["/home"] {
		if st, err := os.Stat("/home"); err == nil && st.IsDir() {
			if info, err := p.ProbeDrive("/home"); err == nil {
				drives = append(drives, info)
			}
		}
	}

	sort.Slice(drives, func(i, j int) bool { return drives[i].MountPoint < drives[j].MountPoint })
	return drives, nil
}
