//go:build linux

package sysio

import (
	"fmt"
	"os"
	"sync/atomic"

	"lfuse/internal/logging"

	"golang.org/x/sys/unix"
)

var (
	logger = logging.GetLogger().WithPrefix("sysio")
)

// Local runs the primitives against a directory tree reachable through the
// kernel, such as a parallel filesystem client mount.
type Local struct {
	ready atomic.Bool
}

var _ Backing = (*Local)(nil)

// NewLocal returns an uninitialized Local; call Setup before use.
func NewLocal() *Local {
	return &Local{}
}

// Setup reads the backing root from MountPointEnv and checks that it is a
// directory. A second call fails with EBUSY.
func (l *Local) Setup() error {
	root := os.Getenv(MountPointEnv)
	if root == "" {
		return fmt.Errorf("%s is not set: %w", MountPointEnv, unix.EINVAL)
	}

	var st unix.Stat_t
	if err := unix.Stat(root, &st); err != nil {
		return fmt.Errorf("stat backing root %s: %w", root, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return fmt.Errorf("backing root %s: %w", root, unix.ENOTDIR)
	}

	if !l.ready.CompareAndSwap(false, true) {
		return fmt.Errorf("backing library already initialized: %w", unix.EBUSY)
	}
	logger.Debug("Backing library initialized at %s", root)
	return nil
}

// check rejects primitives issued before Setup.
func (l *Local) check() error {
	if !l.ready.Load() {
		return unix.EIO
	}
	return nil
}

func (l *Local) Lstat(path string, st *unix.Stat_t) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Lstat(path, st)
}

func (l *Local) Access(path string, mode uint32) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Access(path, mode)
}

func (l *Local) Readlink(path string, buf []byte) (int, error) {
	if err := l.check(); err != nil {
		return -1, err
	}
	return unix.Readlink(path, buf)
}

func (l *Local) Mknod(path string, mode uint32, dev int) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Mknod(path, mode, dev)
}

func (l *Local) Mkdir(path string, mode uint32) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Mkdir(path, mode)
}

func (l *Local) Unlink(path string) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Unlink(path)
}

func (l *Local) Rmdir(path string) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Rmdir(path)
}

func (l *Local) Symlink(oldpath, newpath string) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Symlink(oldpath, newpath)
}

func (l *Local) Rename(oldpath, newpath string) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Rename(oldpath, newpath)
}

func (l *Local) Link(oldpath, newpath string) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Link(oldpath, newpath)
}

func (l *Local) Chmod(path string, mode uint32) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Chmod(path, mode)
}

func (l *Local) Chown(path string, uid, gid int) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Chown(path, uid, gid)
}

func (l *Local) Truncate(path string, size int64) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Truncate(path, size)
}

func (l *Local) Utime(path string, buf *unix.Utimbuf) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Utime(path, buf)
}

func (l *Local) Open(path string, flags int, mode uint32) (int, error) {
	if err := l.check(); err != nil {
		return -1, err
	}
	return unix.Open(path, flags, mode)
}

func (l *Local) Close(fd int) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Close(fd)
}

func (l *Local) Pread(fd int, p []byte, offset int64) (int, error) {
	if err := l.check(); err != nil {
		return -1, err
	}
	return unix.Pread(fd, p, offset)
}

func (l *Local) Pwrite(fd int, p []byte, offset int64) (int, error) {
	if err := l.check(); err != nil {
		return -1, err
	}
	return unix.Pwrite(fd, p, offset)
}

func (l *Local) Fsync(fd int) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Fsync(fd)
}

func (l *Local) Statfs(path string, st *unix.Statfs_t) error {
	if err := l.check(); err != nil {
		return err
	}
	return unix.Statfs(path, st)
}
