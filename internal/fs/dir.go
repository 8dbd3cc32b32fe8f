package fs

import (
	"context"
	"syscall"

	"lfuse/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

func (n *Node) child(name string) *Node {
	return n.fs.node(n.Path().Child(name))
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (n *Node) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	child := n.child(name)

	var st unix.Stat_t
	if err := n.fs.dispatcher.Getattr(child.Path(), &st); err != nil {
		dirLogger.Trace("Lookup of %q in %q failed: %v", name, n.Path(), err)
		return nil, err
	}
	return child, nil
}

// Mknod implements the NodeMknoder interface.
func (n *Node) Mknod(_ context.Context, req *fuse.MknodRequest) (fusefs.Node, error) {
	child := n.child(req.Name)
	if err := n.fs.dispatcher.Mknod(child.Path(), unixMode(req.Mode), int(req.Rdev)); err != nil {
		return nil, err
	}
	return child, nil
}

// Mkdir implements the NodeMkdirer interface.
func (n *Node) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	child := n.child(req.Name)
	if err := n.fs.dispatcher.Mkdir(child.Path(), unixMode(req.Mode)&07777); err != nil {
		return nil, err
	}
	return child, nil
}

// Create implements the NodeCreater interface. The new node and its open
// handle are returned together.
func (n *Node) Create(_ context.Context, req *fuse.CreateRequest, _ *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	child := n.child(req.Name)
	h := &Handle{node: child}

	if err := n.fs.dispatcher.Create(child.Path(), int(req.Flags), unixMode(req.Mode), &h.file); err != nil {
		return nil, nil, err
	}
	child.handles.add(&h.file)
	return child, h, nil
}

// Symlink implements the NodeSymlinker interface.
func (n *Node) Symlink(_ context.Context, req *fuse.SymlinkRequest) (fusefs.Node, error) {
	child := n.child(req.NewName)
	if err := n.fs.dispatcher.Symlink(VirtualPath(req.Target), child.Path()); err != nil {
		return nil, err
	}
	return child, nil
}

// Remove implements the NodeRemover interface, removing a file or directory.
func (n *Node) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	child := n.Path().Child(req.Name)

	var err error
	if req.Dir {
		err = n.fs.dispatcher.Rmdir(child)
	} else {
		err = n.fs.dispatcher.Unlink(child)
	}
	if err != nil {
		return err
	}
	n.fs.drop(child)
	return nil
}

// Rename implements the NodeRenamer interface, renaming/moving a file or directory.
func (n *Node) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Node)
	if !ok {
		dirLogger.Error("Rename target is not a lfuse node: %T", newDir)
		return syscall.EINVAL
	}
	from, to := n.Path().Child(req.OldName), target.Path().Child(req.NewName)
	if err := n.fs.dispatcher.Rename(from, to); err != nil {
		return err
	}
	n.fs.move(from, to)
	return nil
}

// Link implements the NodeLinker interface.
func (n *Node) Link(_ context.Context, req *fuse.LinkRequest, old fusefs.Node) (fusefs.Node, error) {
	source, ok := old.(*Node)
	if !ok {
		dirLogger.Error("Link source is not a lfuse node: %T", old)
		return nil, syscall.EINVAL
	}

	child := n.child(req.NewName)
	if err := n.fs.dispatcher.Link(source.Path(), child.Path()); err != nil {
		return nil, err
	}
	return child, nil
}

// dirHandle is the handle of an open directory. It holds no backing
// state; each listing opens the backing directory afresh.
type dirHandle struct {
	node *Node
}

// ReadDirAll implements the HandleReadDirAller interface, listing directory contents.
func (h *dirHandle) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	var entries []fuse.Dirent
	err := h.node.fs.dispatcher.ReadDir(h.node.Path(), func(name string, st *unix.Stat_t) bool {
		entries = append(entries, fuse.Dirent{
			Inode: st.Ino,
			Type:  fuse.DirentType(st.Mode >> 12),
			Name:  name,
		})
		return false
	})
	if err != nil {
		return nil, err
	}

	dirLogger.Trace("Directory %q contains %d entries", h.node.Path(), len(entries))
	return entries, nil
}
