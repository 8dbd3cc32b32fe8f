package fs

import (
	"context"
	"strings"
	"sync"
	"time"

	"lfuse/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"golang.org/x/sys/unix"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// attrValidity is how long the kernel may cache attributes and entries.
const attrValidity = time.Second

// FS binds a Dispatcher to bazil's node API. Nodes only remember their
// virtual path; every request is resolved against the backing library.
// The kernel keeps node IDs across renames, so FS hands out one Node per
// path and moves it, with everything below it, when the path is renamed.
type FS struct {
	dispatcher *Dispatcher

	mu    sync.RWMutex
	nodes map[VirtualPath]*Node
}

// New returns the filesystem served for d.
func New(d *Dispatcher) *FS {
	return &FS{
		dispatcher: d,
		nodes:      make(map[VirtualPath]*Node),
	}
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (f *FS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return f.node(RootPath), nil
}

// node returns the Node for vp, creating it on first use.
func (f *FS) node(vp VirtualPath) *Node {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n, ok := f.nodes[vp]; ok {
		return n
	}
	n := &Node{fs: f, path: vp}
	f.nodes[vp] = n
	return n
}

// move re-keys the node at from, and every node below it, to to. A node
// previously known at to was replaced by the rename and is dropped.
func (f *FS) move(from, to VirtualPath) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for vp := range f.nodes {
		if vp == to || isBelow(vp, to) {
			delete(f.nodes, vp)
		}
	}

	moved := make(map[VirtualPath]*Node)
	for vp, n := range f.nodes {
		if vp == from || isBelow(vp, from) {
			moved[to+vp[len(from):]] = n
			delete(f.nodes, vp)
		}
	}
	for vp, n := range moved {
		vfsLogger.Trace("Moving node %q -> %q", n.path, vp)
		n.path = vp
		f.nodes[vp] = n
	}
}

// forget drops n unless it is the root or its path now names another
// node.
func (f *FS) forget(n *Node) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !n.path.IsRoot() && f.nodes[n.path] == n {
		delete(f.nodes, n.path)
	}
}

// drop forgets whichever node is known at vp.
func (f *FS) drop(vp VirtualPath) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.nodes, vp)
}

func (f *FS) nodeCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.nodes)
}

func isBelow(vp, dir VirtualPath) bool {
	if dir.IsRoot() {
		return !vp.IsRoot()
	}
	return strings.HasPrefix(string(vp), string(dir)+"/")
}

// Statfs implements fusefs.FSStatfser using the statistics of the backing
// root.
func (f *FS) Statfs(_ context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	var st unix.Statfs_t
	if err := f.dispatcher.Statfs(RootPath, &st); err != nil {
		return err
	}

	resp.Blocks = st.Blocks
	resp.Bfree = st.Bfree
	resp.Bavail = st.Bavail
	resp.Files = st.Files
	resp.Ffree = st.Ffree
	resp.Bsize = safeInt64ToUint32(int64(st.Bsize))
	resp.Namelen = safeInt64ToUint32(int64(st.Namelen))
	resp.Frsize = safeInt64ToUint32(int64(st.Frsize))
	return nil
}
