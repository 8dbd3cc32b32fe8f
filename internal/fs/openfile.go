package fs

import (
	"sync"
)

// OpenFile is the per-open-file context. It holds at most one backing
// descriptor. The zero value is not open; every descriptor value the
// backing library hands out, 0 included, is a valid open descriptor.
type OpenFile struct {
	fd   int
	open bool
}

// IsOpen reports whether the context holds a descriptor.
func (of *OpenFile) IsOpen() bool {
	return of != nil && of.open
}

// Descriptor returns the backing descriptor and whether there is one.
func (of *OpenFile) Descriptor() (int, bool) {
	if !of.IsOpen() {
		return -1, false
	}
	return of.fd, true
}

func (of *OpenFile) set(fd int) {
	of.fd = fd
	of.open = true
}

func (of *OpenFile) clear() {
	of.fd = 0
	of.open = false
}

// openFiles tracks the contexts opened through one node, so that a
// node-level fsync can reach a descriptor. A descriptor is only synced or
// closed with mu held, so fsync never sees one that is being released.
type openFiles struct {
	mu  sync.Mutex
	set map[*OpenFile]struct{}
}

func (o *openFiles) add(of *OpenFile) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.set == nil {
		o.set = make(map[*OpenFile]struct{})
	}
	o.set[of] = struct{}{}
}

// sync calls fn with one registered context that is still open, or with
// a context that is not open when there is none.
func (o *openFiles) sync(fn func(*OpenFile) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	of := o.first()
	if of == nil {
		of = &OpenFile{}
	}
	return fn(of)
}

// release unregisters of and calls fn to close it.
func (o *openFiles) release(of *OpenFile, fn func(*OpenFile) error) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	delete(o.set, of)
	return fn(of)
}

// first returns one registered context that is still open, or nil. mu
// must be held.
func (o *openFiles) first() *OpenFile {
	for of := range o.set {
		if of.IsOpen() {
			return of
		}
	}
	return nil
}

func (o *openFiles) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.set)
}
