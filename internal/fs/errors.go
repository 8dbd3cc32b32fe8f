// Package fs exposes a sysio.Backing as a FUSE filesystem.
//
// This file contains the error type returned by every dispatcher operation
// and the translation from backing errors to errno values.
package fs

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"lfuse/internal/logging"

	"bazil.org/fuse"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")

	// ErrBadDescriptor is returned for I/O on an OpenFile that is not open.
	ErrBadDescriptor = syscall.EBADF

	// ErrNotImplemented is returned for operations lfuse does not support.
	ErrNotImplemented = syscall.ENOSYS
)

// Error describes a failed operation. It carries the errno reported to
// the kernel.
type Error struct {
	Op     string        // Operation that failed (e.g., "getattr", "read")
	Path   VirtualPath   // Affected path, empty for descriptor operations
	Errnum syscall.Errno // Code handed back to the framework
	Err    error         // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// Errno implements fuse.ErrorNumber so bazil replies with the right code.
func (e *Error) Errno() fuse.Errno {
	return fuse.Errno(e.Errnum)
}

var _ fuse.ErrorNumber = (*Error)(nil)

// errnoOf extracts the errno carried by a backing error. Errors without
// one become EIO.
func errnoOf(err error) syscall.Errno {
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.Errnum
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, os.ErrExist):
		return syscall.EEXIST
	default:
		errLogger.Debug("No errno in %v, reporting EIO", err)
		return syscall.EIO
	}
}

// translate wraps a backing failure for op on path. A nil err stays nil.
func translate(op string, path VirtualPath, err error) error {
	if err == nil {
		return nil
	}
	fsErr := &Error{
		Op:     op,
		Path:   path,
		Errnum: errnoOf(err),
		Err:    err,
	}
	errLogger.Debug("%v", fsErr)
	return fsErr
}

// Code returns the framework return code for err: 0 on success, the
// negated errno on failure.
func Code(err error) int {
	if err == nil {
		return 0
	}
	return -int(errnoOf(err))
}

// Operation names used in errors, logs and metrics.
const (
	OpGetattr     = "getattr"
	OpAccess      = "access"
	OpReadlink    = "readlink"
	OpReadDir     = "readdir"
	OpMknod       = "mknod"
	OpMkdir       = "mkdir"
	OpUnlink      = "unlink"
	OpRmdir       = "rmdir"
	OpSymlink     = "symlink"
	OpRename      = "rename"
	OpLink        = "link"
	OpChmod       = "chmod"
	OpChown       = "chown"
	OpTruncate    = "truncate"
	OpUtimens     = "utimens"
	OpOpen        = "open"
	OpCreate      = "create"
	OpRead        = "read"
	OpWrite       = "write"
	OpStatfs      = "statfs"
	OpRelease     = "release"
	OpFsync       = "fsync"
	OpSetxattr    = "setxattr"
	OpGetxattr    = "getxattr"
	OpListxattr   = "listxattr"
	OpRemovexattr = "removexattr"
)
