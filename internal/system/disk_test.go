package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func writeMounts(t *testing.T, content string) string {
	p := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	return p
}

const sampleMounts = `/dev/nvme0n1p2 / ext4 rw,relatime 0 0
proc /proc proc rw,nosuid 0 0
/dev/sdb1 /mnt/data ntfs3 rw,relatime 0 0
/dev/sdc1 /run/media/user/My\040Stick exfat rw 0 0
/dev/sdd1 /mnt/data ext4 rw 0 0
`

func TestMountTableLookup(t *testing.T) {
	mt := &MountTable{Path: writeMounts(t, sampleMounts)}

	e, err := mt.Lookup("/mnt/data")
	require.NoError(t, err)
	assert.Equal(t, "/dev/sdd1", e.Source, "stacked mount: last entry wins")

	e, err = mt.Lookup("/run/media/user/My Stick")
	require.NoError(t, err)
	assert.Equal(t, "exfat", e.FSType)

	e, err = mt.Lookup("/home/user")
	require.NoError(t, err)
	assert.Equal(t, "/", e.MountPoint)
	assert.Equal(t, "/dev/nvme0n1p2", e.Source)

	_, err = mt.Source("/proc")
	assert.Error(t, err)
}

func TestMountTableMissingFile(t *testing.T) {
	mt := &MountTable{Path: filepath.Join(t.TempDir(), "nope")}
	_, err := mt.Lookup("/")
	assert.Error(t, err)
}

func TestDiskUsage(t *testing.T) {
	free, total, err := DiskUsage(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, total, uint64(0))
	assert.LessOrEqual(t, free, total)

	_, _, err = DiskUsage(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestDriveInfoUsedBytes(t *testing.T) {
	assert.Equal(t, uint64(60), DriveInfo{FreeBytes: 40, TotalBytes: 100}.UsedBytes())
	assert.Equal(t, uint64(0), DriveInfo{FreeBytes: 200, TotalBytes: 100}.UsedBytes())
}

func TestIsDiskFullError(t *testing.T) {
	pathErr := &os.PathError{Op: "write", Path: "/x", Err: unix.ENOSPC}
	assert.True(t, IsDiskFullError(pathErr))
	assert.True(t, IsDiskFullError(errors.Wrap(pathErr, "chunk")))
	assert.True(t, IsDiskFullError(&os.PathError{Op: "write", Path: "/x", Err: unix.EDQUOT}))
	assert.True(t, IsDiskFullError(errors.New("write: no space left on device")))
	assert.False(t, IsDiskFullError(nil))
	assert.False(t, IsDiskFullError(&os.PathError{Op: "write", Path: "/x", Err: unix.EIO}))
}

func TestIsMediaError(t *testing.T) {
	assert.True(t, IsMediaError(&os.PathError{Op: "write", Path: "/x", Err: unix.EIO}))
	assert.False(t, IsMediaError(&os.PathError{Op: "write", Path: "/x", Err: unix.ENOSPC}))
	assert.False(t, IsMediaError(nil))
}

type stubRunner struct {
	out []byte
	err error
}

func (s stubRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	return s.out, s.err
}

func TestParseLsblk(t *testing.T) {
	data := []byte(`{"blockdevices":[
	  {"name":"sda","mountpoint":null,"size":"1T","fstype":null,"children":[
	    {"name":"sda1","mountpoint":"/mnt/backup","size":"1T","fstype":"ntfs"}
	  ]},
	  {"name":"nvme0n1","mountpoints":[null],"size":"500G","fstype":null,"children":[
	    {"name":"nvme0n1p2","mountpoints":["/","/home"],"size":"499G","fstype":"ext4"}
	  ]}
	]}`)
	mounts, err := ParseLsblk(data)
	require.NoError(t, err)
	require.Len(t, mounts, 3)
	assert.Equal(t, LsblkMount{Name: "sda1", MountPoint: "/mnt/backup", FSType: "ntfs"}, mounts[0])
	assert.Equal(t, "/", mounts[1].MountPoint)
	assert.Equal(t, "/home", mounts[2].MountPoint)

	_, err = ParseLsblk([]byte("not json"))
	assert.Error(t, err)
}

func TestIsUserMount(t *testing.T) {
	assert.True(t, IsUserMount("/home"))
	assert.True(t, IsUserMount("/mnt/data"))
	assert.True(t, IsUserMount("/run/media/user/stick"))
	assert.False(t, IsUserMount("/"))
	assert.False(t, IsUserMount("/homework"))
	assert.False(t, IsUserMount("/boot/efi"))
}

func TestListDrivesPropagatesRunnerError(t *testing.T) {
	p := NewProber()
	_, err := p.ListDrives(context.Background(), stubRunner{err: errors.New("lsblk missing")})
	assert.Error(t, err)
}

type blkidRunner struct {
	out  string
	err  error
	args []string
}

func (b *blkidRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	b.args = append([]string{name}, args...)
	return []byte(b.out), b.err
}

func fuseProber(t *testing.T, mount string, runner Runner) *Prober {
	return &Prober{
		Mounts:   &MountTable{Path: writeMounts(t, "/dev/sdz1 "+mount+" fuseblk rw 0 0\n")},
		Topology: &Topology{SysRoot: t.TempDir(), MaxDepth: defaultMaxDepth},
		Runner:   runner,
	}
}

func TestProbeDriveResolvesFuseblk(t *testing.T) {
	mount := t.TempDir()
	runner := &blkidRunner{out: "exfat\n"}

	info, err := fuseProber(t, mount, runner).ProbeDrive(mount)
	require.NoError(t, err)
	assert.Equal(t, "exfat", info.FSType)
	assert.Equal(t, "/dev/sdz1", info.DeviceName)
	assert.Equal(t, []string{"blkid", "-o", "value", "-s", "TYPE", "/dev/sdz1"}, runner.args)
}

func TestProbeDriveKeepsFuseblkWhenBlkidFails(t *testing.T) {
	mount := t.TempDir()
	info, err := fuseProber(t, mount, &blkidRunner{err: errors.New("blkid missing")}).ProbeDrive(mount)
	require.NoError(t, err)
	assert.Equal(t, "fuseblk", info.FSType)

	info, err = fuseProber(t, mount, nil).ProbeDrive(mount)
	require.NoError(t, err)
	assert.Equal(t, "fuseblk", info.FSType)
}
