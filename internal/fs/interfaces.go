package fs

import (
	"bazil.org/fuse/fs"
)

// Capabilities checked at compile time. Node serves every kind of object,
// so it carries both the directory and the file side of the node API.
var (
	_ fs.FS         = (*FS)(nil)
	_ fs.FSStatfser = (*FS)(nil)

	_ fs.Node               = (*Node)(nil)
	_ fs.NodeStringLookuper = (*Node)(nil)
	_ fs.NodeAccesser       = (*Node)(nil)
	_ fs.NodeReadlinker     = (*Node)(nil)
	_ fs.NodeMknoder        = (*Node)(nil)
	_ fs.NodeMkdirer        = (*Node)(nil)
	_ fs.NodeCreater        = (*Node)(nil)
	_ fs.NodeSymlinker      = (*Node)(nil)
	_ fs.NodeRemover        = (*Node)(nil)
	_ fs.NodeRenamer        = (*Node)(nil)
	_ fs.NodeLinker         = (*Node)(nil)
	_ fs.NodeSetattrer      = (*Node)(nil)
	_ fs.NodeOpener         = (*Node)(nil)
	_ fs.NodeFsyncer        = (*Node)(nil)
	_ fs.NodeForgetter      = (*Node)(nil)
	_ fs.NodeGetxattrer     = (*Node)(nil)
	_ fs.NodeSetxattrer     = (*Node)(nil)
	_ fs.NodeListxattrer    = (*Node)(nil)
	_ fs.NodeRemovexattrer  = (*Node)(nil)

	_ fs.Handle         = (*Handle)(nil)
	_ fs.HandleReader   = (*Handle)(nil)
	_ fs.HandleWriter   = (*Handle)(nil)
	_ fs.HandleReleaser = (*Handle)(nil)

	_ fs.Handle             = (*dirHandle)(nil)
	_ fs.HandleReadDirAller = (*dirHandle)(nil)
)
