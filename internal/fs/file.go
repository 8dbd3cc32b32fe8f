package fs

import (
	"context"
	"time"

	"lfuse/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// readlinkBufSize matches the PATH_MAX+1 buffer FUSE hands to readlink.
const readlinkBufSize = unix.PathMax + 1

// fsyncDatasync is the FUSE_FSYNC_FDATASYNC flag.
const fsyncDatasync = 1

// Node is any object in the mounted tree: directory, file, symlink or
// special file. Its path follows renames; FS.mu guards it.
type Node struct {
	fs      *FS
	path    VirtualPath
	handles openFiles
}

// Path returns the current virtual path of the node.
func (n *Node) Path() VirtualPath {
	n.fs.mu.RLock()
	defer n.fs.mu.RUnlock()
	return n.path
}

// Attr implements the Node interface with the lstat of the backing path.
func (n *Node) Attr(_ context.Context, a *fuse.Attr) error {
	var st unix.Stat_t
	if err := n.fs.dispatcher.Getattr(n.Path(), &st); err != nil {
		return err
	}
	fillAttr(&st, a)
	return nil
}

// Access implements the NodeAccesser interface.
func (n *Node) Access(_ context.Context, req *fuse.AccessRequest) error {
	return n.fs.dispatcher.Access(n.Path(), req.Mask)
}

// Readlink implements the NodeReadlinker interface.
func (n *Node) Readlink(_ context.Context, _ *fuse.ReadlinkRequest) (string, error) {
	buf := make([]byte, readlinkBufSize)
	size, err := n.fs.dispatcher.Readlink(n.Path(), buf)
	if err != nil {
		return "", err
	}
	return string(buf[:size]), nil
}

// Setattr implements the NodeSetattrer interface. Changes are applied in
// the order mode, owner, size, times; the first failure stops the rest.
func (n *Node) Setattr(_ context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	d := n.fs.dispatcher

	if req.Valid.Mode() {
		if err := d.Chmod(n.Path(), unixMode(req.Mode)&07777); err != nil {
			return err
		}
	}

	if req.Valid.Uid() || req.Valid.Gid() {
		uid, gid := -1, -1
		if req.Valid.Uid() {
			uid = int(req.Uid)
		}
		if req.Valid.Gid() {
			gid = int(req.Gid)
		}
		if err := d.Chown(n.Path(), uid, gid); err != nil {
			return err
		}
	}

	if req.Valid.Size() {
		if err := d.Truncate(n.Path(), safeUint64ToInt64(req.Size)); err != nil {
			return err
		}
	}

	atimeSet := req.Valid.Atime() || req.Valid.AtimeNow()
	mtimeSet := req.Valid.Mtime() || req.Valid.MtimeNow()
	if atimeSet || mtimeSet {
		var st unix.Stat_t
		if !atimeSet || !mtimeSet {
			// keep the half the kernel did not send
			if err := d.Getattr(n.Path(), &st); err != nil {
				return err
			}
		}
		atime, mtime := st.Atim, st.Mtim

		now := time.Now()
		switch {
		case req.Valid.AtimeNow():
			atime = timespec(now)
		case req.Valid.Atime():
			atime = timespec(req.Atime)
		}
		switch {
		case req.Valid.MtimeNow():
			mtime = timespec(now)
		case req.Valid.Mtime():
			mtime = timespec(req.Mtime)
		}

		if err := d.Utimens(n.Path(), atime, mtime); err != nil {
			return err
		}
	}

	var st unix.Stat_t
	if err := d.Getattr(n.Path(), &st); err != nil {
		return err
	}
	fillAttr(&st, &resp.Attr)
	return nil
}

// Open implements the NodeOpener interface. Directories get a handle
// without a backing descriptor.
func (n *Node) Open(_ context.Context, req *fuse.OpenRequest, _ *fuse.OpenResponse) (fusefs.Handle, error) {
	if req.Dir {
		return &dirHandle{node: n}, nil
	}

	h := &Handle{node: n}
	if err := n.fs.dispatcher.Open(n.Path(), int(req.Flags), &h.file); err != nil {
		fileLogger.Trace("Open of %q failed: %v", n.Path(), err)
		return nil, err
	}
	n.handles.add(&h.file)
	return h, nil
}

// Fsync implements the NodeFsyncer interface. bazil delivers fsync to the
// node, so the sync goes through any descriptor open on it.
func (n *Node) Fsync(_ context.Context, req *fuse.FsyncRequest) error {
	if req.Dir {
		return notImplemented(OpFsync, n.Path())
	}

	datasync := req.Flags&fsyncDatasync != 0
	return n.handles.sync(func(of *OpenFile) error {
		return n.fs.dispatcher.Fsync(of, datasync)
	})
}

// Forget implements the NodeForgetter interface. The kernel no longer
// refers to the node, so a later lookup of its path builds a fresh one.
func (n *Node) Forget() {
	n.fs.forget(n)
}

// Getxattr implements the NodeGetxattrer interface.
func (n *Node) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	value, err := n.fs.dispatcher.Getxattr(n.Path(), req.Name)
	if err != nil {
		return err
	}
	resp.Xattr = value
	return nil
}

// Setxattr implements the NodeSetxattrer interface.
func (n *Node) Setxattr(_ context.Context, req *fuse.SetxattrRequest) error {
	return n.fs.dispatcher.Setxattr(n.Path(), req.Name, req.Xattr)
}

// Listxattr implements the NodeListxattrer interface.
func (n *Node) Listxattr(_ context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	names, err := n.fs.dispatcher.Listxattr(n.Path())
	if err != nil {
		return err
	}
	for _, name := range names {
		resp.Append(name)
	}
	return nil
}

// Removexattr implements the NodeRemovexattrer interface.
func (n *Node) Removexattr(_ context.Context, req *fuse.RemovexattrRequest) error {
	return n.fs.dispatcher.Removexattr(n.Path(), req.Name)
}

// Handle is an open regular file. It owns the OpenFile holding the
// backing descriptor until Release.
type Handle struct {
	node *Node
	file OpenFile
}

// Read implements the HandleReader interface with a positioned read.
func (h *Handle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	buf := make([]byte, req.Size)
	n, err := h.node.fs.dispatcher.Read(&h.file, buf, req.Offset)
	if err != nil {
		return err
	}
	resp.Data = buf[:n]
	return nil
}

// Write implements the HandleWriter interface with a positioned write.
func (h *Handle) Write(_ context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	n, err := h.node.fs.dispatcher.Write(&h.file, req.Data, req.Offset)
	if err != nil {
		return err
	}
	resp.Size = n
	return nil
}

// Release implements the HandleReleaser interface, closing the backing
// descriptor.
func (h *Handle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	return h.node.handles.release(&h.file, h.node.fs.dispatcher.Release)
}
