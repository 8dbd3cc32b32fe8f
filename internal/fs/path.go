package fs

import (
	"lfuse/internal/logging"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// VirtualPath is a path as seen inside the mounted filesystem. It always
// starts with "/".
type VirtualPath string

// RootPath is the virtual path of the mount's root directory.
const RootPath VirtualPath = "/"

// Child returns the virtual path of name inside vp.
func (vp VirtualPath) Child(name string) VirtualPath {
	if vp.IsRoot() {
		return VirtualPath("/" + name)
	}
	return VirtualPath(string(vp) + "/" + name)
}

// IsRoot returns true if this is the root virtual path "/"
func (vp VirtualPath) IsRoot() bool {
	return vp == RootPath
}

func (vp VirtualPath) String() string {
	return string(vp)
}

// Translator maps virtual paths onto the backing root. The root is fixed
// at construction.
type Translator struct {
	root string
}

// NewTranslator returns a Translator for the given backing root. The root
// is used verbatim and should not end in "/".
func NewTranslator(root string) *Translator {
	pathLogger.Debug("Translating virtual paths into %s", root)
	return &Translator{root: root}
}

// Root returns the backing root.
func (t *Translator) Root() string {
	return t.root
}

// Backing returns root+vp. No cleaning or escaping is applied: "/a/../b"
// stays "/a/../b" under the root.
func (t *Translator) Backing(vp VirtualPath) string {
	return t.root + string(vp)
}
