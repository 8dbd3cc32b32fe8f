package fs

import (
	"errors"
	"io"
	"time"

	"lfuse/internal/logging"
	"lfuse/internal/sysio"

	"golang.org/x/sys/unix"
)

var (
	dispatchLogger = logging.GetLogger().WithPrefix("dispatch")
)

// FillFunc receives one directory entry during ReadDir. Returning true
// means the caller's buffer is full and iteration stops.
type FillFunc func(name string, st *unix.Stat_t) bool

// Dispatcher carries out filesystem operations, addressed by virtual
// path, against the backing library. Every operation translates its
// path(s), issues one backing primitive and returns nil or an *Error.
type Dispatcher struct {
	backing sysio.Backing
	paths   *Translator
	metrics *Metrics
}

// NewDispatcher returns a Dispatcher. metrics may be nil.
func NewDispatcher(backing sysio.Backing, paths *Translator, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		backing: backing,
		paths:   paths,
		metrics: metrics,
	}
}

func (d *Dispatcher) observe(op string, start time.Time, err *error) {
	d.metrics.observe(op, start, *err)
}

// Getattr lstats vp and returns the backing status unmodified.
func (d *Dispatcher) Getattr(vp VirtualPath, st *unix.Stat_t) (err error) {
	defer d.observe(OpGetattr, time.Now(), &err)
	dispatchLogger.Trace("getattr %s", vp)

	return translate(OpGetattr, vp, d.backing.Lstat(d.paths.Backing(vp), st))
}

// Access checks mask against vp.
func (d *Dispatcher) Access(vp VirtualPath, mask uint32) (err error) {
	defer d.observe(OpAccess, time.Now(), &err)
	dispatchLogger.Trace("access %s mask=%#o", vp, mask)

	return translate(OpAccess, vp, d.backing.Access(d.paths.Backing(vp), mask))
}

// Readlink reads the target of vp into buf and terminates it with a NUL.
// At most len(buf)-1 bytes of target are stored; the returned count
// excludes the NUL.
func (d *Dispatcher) Readlink(vp VirtualPath, buf []byte) (n int, err error) {
	defer d.observe(OpReadlink, time.Now(), &err)
	dispatchLogger.Trace("readlink %s size=%d", vp, len(buf))

	if len(buf) == 0 {
		return 0, &Error{Op: OpReadlink, Path: vp, Errnum: unix.EINVAL, Err: unix.EINVAL}
	}
	n, err = d.backing.Readlink(d.paths.Backing(vp), buf[:len(buf)-1])
	if err != nil {
		return 0, translate(OpReadlink, vp, err)
	}
	buf[n] = 0
	return n, nil
}

// ReadDir lists vp, handing each entry to fill with a status holding
// only the inode number and the file type. The backing directory is
// closed before ReadDir returns.
func (d *Dispatcher) ReadDir(vp VirtualPath, fill FillFunc) (err error) {
	defer d.observe(OpReadDir, time.Now(), &err)
	dispatchLogger.Trace("readdir %s", vp)

	dir, err := d.backing.Opendir(d.paths.Backing(vp))
	if err != nil {
		return translate(OpReadDir, vp, err)
	}
	defer dir.Close()

	for {
		de, err := dir.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return translate(OpReadDir, vp, err)
		}

		st := unix.Stat_t{
			Ino:  de.Ino,
			Mode: uint32(de.Type) << 12,
		}
		if fill(de.Name, &st) {
			return nil
		}
	}
}

// Mknod creates a node according to the file type in mode. Regular files
// are created exclusively and closed again; named pipes are not
// supported; every other type goes to the backing mknod.
func (d *Dispatcher) Mknod(vp VirtualPath, mode uint32, rdev int) (err error) {
	defer d.observe(OpMknod, time.Now(), &err)
	dispatchLogger.Trace("mknod %s mode=%#o rdev=%d", vp, mode, rdev)

	path := d.paths.Backing(vp)
	switch kindOf(mode) {
	case kindRegular:
		var fd int
		fd, err = d.backing.Open(path, unix.O_CREAT|unix.O_EXCL|unix.O_WRONLY, mode)
		if err == nil {
			err = d.backing.Close(fd)
		}
	case kindFIFO:
		return notImplemented(OpMknod, vp)
	default:
		err = d.backing.Mknod(path, mode, rdev)
	}
	return translate(OpMknod, vp, err)
}

// Mkdir creates directory vp.
func (d *Dispatcher) Mkdir(vp VirtualPath, mode uint32) (err error) {
	defer d.observe(OpMkdir, time.Now(), &err)
	dispatchLogger.Trace("mkdir %s mode=%#o", vp, mode)

	return translate(OpMkdir, vp, d.backing.Mkdir(d.paths.Backing(vp), mode))
}

// Unlink removes the non-directory vp.
func (d *Dispatcher) Unlink(vp VirtualPath) (err error) {
	defer d.observe(OpUnlink, time.Now(), &err)
	dispatchLogger.Trace("unlink %s", vp)

	return translate(OpUnlink, vp, d.backing.Unlink(d.paths.Backing(vp)))
}

// Rmdir removes the empty directory vp.
func (d *Dispatcher) Rmdir(vp VirtualPath) (err error) {
	defer d.observe(OpRmdir, time.Now(), &err)
	dispatchLogger.Trace("rmdir %s", vp)

	return translate(OpRmdir, vp, d.backing.Rmdir(d.paths.Backing(vp)))
}

// Symlink creates link pointing at target. The target is translated like
// any other path, so the stored link names a location under the backing
// root.
func (d *Dispatcher) Symlink(target, link VirtualPath) (err error) {
	defer d.observe(OpSymlink, time.Now(), &err)
	dispatchLogger.Trace("symlink %s -> %s", link, target)

	return translate(OpSymlink, link, d.backing.Symlink(d.paths.Backing(target), d.paths.Backing(link)))
}

// Rename moves from to to.
func (d *Dispatcher) Rename(from, to VirtualPath) (err error) {
	defer d.observe(OpRename, time.Now(), &err)
	dispatchLogger.Trace("rename %s -> %s", from, to)

	return translate(OpRename, from, d.backing.Rename(d.paths.Backing(from), d.paths.Backing(to)))
}

// Link creates the hard link to for from.
func (d *Dispatcher) Link(from, to VirtualPath) (err error) {
	defer d.observe(OpLink, time.Now(), &err)
	dispatchLogger.Trace("link %s -> %s", to, from)

	return translate(OpLink, to, d.backing.Link(d.paths.Backing(from), d.paths.Backing(to)))
}

// Chmod changes the permission bits of vp.
func (d *Dispatcher) Chmod(vp VirtualPath, mode uint32) (err error) {
	defer d.observe(OpChmod, time.Now(), &err)
	dispatchLogger.Trace("chmod %s mode=%#o", vp, mode)

	return translate(OpChmod, vp, d.backing.Chmod(d.paths.Backing(vp), mode))
}

// Chown changes the owner of vp. When vp is a symlink its target is
// changed, since the backing library has no lchown.
func (d *Dispatcher) Chown(vp VirtualPath, uid, gid int) (err error) {
	defer d.observe(OpChown, time.Now(), &err)
	dispatchLogger.Trace("chown %s uid=%d gid=%d", vp, uid, gid)

	return translate(OpChown, vp, d.backing.Chown(d.paths.Backing(vp), uid, gid))
}

// Truncate sets the size of vp.
func (d *Dispatcher) Truncate(vp VirtualPath, size int64) (err error) {
	defer d.observe(OpTruncate, time.Now(), &err)
	dispatchLogger.Trace("truncate %s size=%d", vp, size)

	return translate(OpTruncate, vp, d.backing.Truncate(d.paths.Backing(vp), size))
}

// Utimens sets the access and modification times of vp. Only whole
// seconds reach the backing library; nanoseconds are dropped.
func (d *Dispatcher) Utimens(vp VirtualPath, atime, mtime unix.Timespec) (err error) {
	defer d.observe(OpUtimens, time.Now(), &err)
	dispatchLogger.Trace("utimens %s atime=%d mtime=%d", vp, atime.Sec, mtime.Sec)

	buf := unix.Utimbuf{
		Actime:  atime.Sec,
		Modtime: mtime.Sec,
	}
	return translate(OpUtimens, vp, d.backing.Utime(d.paths.Backing(vp), &buf))
}

// Open opens vp with flags and stores the descriptor in of. On failure of
// is left untouched.
func (d *Dispatcher) Open(vp VirtualPath, flags int, of *OpenFile) (err error) {
	defer d.observe(OpOpen, time.Now(), &err)
	dispatchLogger.Trace("open %s flags=%#x", vp, flags)

	fd, err := d.backing.Open(d.paths.Backing(vp), flags, 0)
	if err != nil {
		return translate(OpOpen, vp, err)
	}
	of.set(fd)
	return nil
}

// Create opens vp with O_CREAT added to flags, creating it with mode when
// it does not exist.
func (d *Dispatcher) Create(vp VirtualPath, flags int, mode uint32, of *OpenFile) (err error) {
	defer d.observe(OpCreate, time.Now(), &err)
	dispatchLogger.Trace("create %s flags=%#x mode=%#o", vp, flags, mode)

	fd, err := d.backing.Open(d.paths.Backing(vp), flags|unix.O_CREAT, mode)
	if err != nil {
		return translate(OpCreate, vp, err)
	}
	of.set(fd)
	return nil
}

// Read reads into p at off from the descriptor held by of.
func (d *Dispatcher) Read(of *OpenFile, p []byte, off int64) (n int, err error) {
	defer d.observe(OpRead, time.Now(), &err)

	fd, ok := of.Descriptor()
	if !ok {
		return 0, badDescriptor(OpRead)
	}
	dispatchLogger.Trace("read fd=%d size=%d off=%d", fd, len(p), off)

	n, err = d.backing.Pread(fd, p, off)
	if err != nil {
		return 0, translate(OpRead, "", err)
	}
	d.metrics.transferred("read", n)
	return n, nil
}

// Write writes p at off through the descriptor held by of.
func (d *Dispatcher) Write(of *OpenFile, p []byte, off int64) (n int, err error) {
	defer d.observe(OpWrite, time.Now(), &err)

	fd, ok := of.Descriptor()
	if !ok {
		return 0, badDescriptor(OpWrite)
	}
	dispatchLogger.Trace("write fd=%d size=%d off=%d", fd, len(p), off)

	n, err = d.backing.Pwrite(fd, p, off)
	if err != nil {
		return 0, translate(OpWrite, "", err)
	}
	d.metrics.transferred("write", n)
	return n, nil
}

// Statfs reports filesystem statistics for the filesystem holding vp.
func (d *Dispatcher) Statfs(vp VirtualPath, st *unix.Statfs_t) (err error) {
	defer d.observe(OpStatfs, time.Now(), &err)
	dispatchLogger.Trace("statfs %s", vp)

	return translate(OpStatfs, vp, d.backing.Statfs(d.paths.Backing(vp), st))
}

// Release closes the descriptor held by of. of is no longer open
// afterwards, whatever the outcome.
func (d *Dispatcher) Release(of *OpenFile) (err error) {
	defer d.observe(OpRelease, time.Now(), &err)

	fd, ok := of.Descriptor()
	if !ok {
		return badDescriptor(OpRelease)
	}
	dispatchLogger.Trace("release fd=%d", fd)

	err = d.backing.Close(fd)
	of.clear()
	return translate(OpRelease, "", err)
}

// Fsync flushes the descriptor held by of. Data-only and full syncs are
// the same backing call.
func (d *Dispatcher) Fsync(of *OpenFile, datasync bool) (err error) {
	defer d.observe(OpFsync, time.Now(), &err)

	fd, ok := of.Descriptor()
	if !ok {
		return badDescriptor(OpFsync)
	}
	dispatchLogger.Trace("fsync fd=%d datasync=%v", fd, datasync)

	return translate(OpFsync, "", d.backing.Fsync(fd))
}

// Setxattr is not supported.
func (d *Dispatcher) Setxattr(vp VirtualPath, name string, value []byte) error {
	return notImplemented(OpSetxattr, vp)
}

// Getxattr is not supported.
func (d *Dispatcher) Getxattr(vp VirtualPath, name string) ([]byte, error) {
	return nil, notImplemented(OpGetxattr, vp)
}

// Listxattr is not supported.
func (d *Dispatcher) Listxattr(vp VirtualPath) ([]string, error) {
	return nil, notImplemented(OpListxattr, vp)
}

// Removexattr is not supported.
func (d *Dispatcher) Removexattr(vp VirtualPath, name string) error {
	return notImplemented(OpRemovexattr, vp)
}

func badDescriptor(op string) error {
	return &Error{Op: op, Errnum: ErrBadDescriptor, Err: ErrBadDescriptor}
}

func notImplemented(op string, vp VirtualPath) error {
	return &Error{Op: op, Path: vp, Errnum: ErrNotImplemented, Err: ErrNotImplemented}
}
