package fs

import (
	"os"

	"golang.org/x/sys/unix"
)

// nodeKind selects how mknod is carried out.
type nodeKind int

const (
	kindRegular nodeKind = iota
	kindFIFO
	kindOther
)

func kindOf(mode uint32) nodeKind {
	switch mode & unix.S_IFMT {
	case unix.S_IFREG:
		return kindRegular
	case unix.S_IFIFO:
		return kindFIFO
	default:
		return kindOther
	}
}

// unixMode converts an os.FileMode, as bazil hands it in, into st_mode
// bits.
func unixMode(m os.FileMode) uint32 {
	mode := uint32(m.Perm())

	switch {
	case m&os.ModeDir != 0:
		mode |= unix.S_IFDIR
	case m&os.ModeSymlink != 0:
		mode |= unix.S_IFLNK
	case m&os.ModeNamedPipe != 0:
		mode |= unix.S_IFIFO
	case m&os.ModeSocket != 0:
		mode |= unix.S_IFSOCK
	case m&os.ModeCharDevice != 0:
		mode |= unix.S_IFCHR
	case m&os.ModeDevice != 0:
		mode |= unix.S_IFBLK
	default:
		mode |= unix.S_IFREG
	}

	if m&os.ModeSetuid != 0 {
		mode |= unix.S_ISUID
	}
	if m&os.ModeSetgid != 0 {
		mode |= unix.S_ISGID
	}
	if m&os.ModeSticky != 0 {
		mode |= unix.S_ISVTX
	}
	return mode
}

// fileMode is the inverse of unixMode.
func fileMode(mode uint32) os.FileMode {
	m := os.FileMode(mode & 0777)

	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		m |= os.ModeDir
	case unix.S_IFLNK:
		m |= os.ModeSymlink
	case unix.S_IFIFO:
		m |= os.ModeNamedPipe
	case unix.S_IFSOCK:
		m |= os.ModeSocket
	case unix.S_IFCHR:
		m |= os.ModeDevice | os.ModeCharDevice
	case unix.S_IFBLK:
		m |= os.ModeDevice
	}

	if mode&unix.S_ISUID != 0 {
		m |= os.ModeSetuid
	}
	if mode&unix.S_ISGID != 0 {
		m |= os.ModeSetgid
	}
	if mode&unix.S_ISVTX != 0 {
		m |= os.ModeSticky
	}
	return m
}
