// Package sysio defines the POSIX-like I/O library that lfuse exposes as a
// mounted filesystem, and a local implementation of it.
//
// Every primitive takes a backing path (already rooted) or a descriptor
// returned by Open. A non-nil error is the failure signal; it carries the
// errno as a unix.Errno so callers never consult a process-wide error
// code.
package sysio

import (
	"golang.org/x/sys/unix"
)

// MountPointEnv is the variable through which the backing root is
// published before Setup is called.
const MountPointEnv = "LIBLUSTRE_MOUNT_POINT"

// Dirent is one record produced while iterating a directory.
type Dirent struct {
	Ino  uint64
	Type uint8 // DT_* value, as in struct dirent
	Name string
}

// Dir is an open directory stream. Next returns io.EOF after the last
// entry.
type Dir interface {
	Next() (*Dirent, error)
	Close() error
}

// Backing is the capability set lfuse needs from the I/O library.
type Backing interface {
	// Setup initializes the library from MountPointEnv. It must be called
	// exactly once, before any other primitive.
	Setup() error

	Lstat(path string, st *unix.Stat_t) error
	Access(path string, mode uint32) error
	Readlink(path string, buf []byte) (int, error)

	Opendir(path string) (Dir, error)

	Mknod(path string, mode uint32, dev int) error
	Mkdir(path string, mode uint32) error
	Unlink(path string) error
	Rmdir(path string) error
	Symlink(oldpath, newpath string) error
	Rename(oldpath, newpath string) error
	Link(oldpath, newpath string) error

	Chmod(path string, mode uint32) error
	// Chown follows a final symlink; there is no link-aware variant.
	Chown(path string, uid, gid int) error
	Truncate(path string, size int64) error
	// Utime sets access and modification times with whole-second
	// resolution.
	Utime(path string, buf *unix.Utimbuf) error

	Open(path string, flags int, mode uint32) (int, error)
	Close(fd int) error
	Pread(fd int, p []byte, offset int64) (int, error)
	Pwrite(fd int, p []byte, offset int64) (int, error)
	Fsync(fd int) error

	Statfs(path string, st *unix.Statfs_t) error
}
