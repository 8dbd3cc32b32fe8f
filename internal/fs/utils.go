package fs

import (
	"math"
	"time"

	"bazil.org/fuse"
	"golang.org/x/sys/unix"
)

func safeInt64ToUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func safeInt64ToUint32(n int64) uint32 {
	if n < 0 {
		return 0
	}
	if n > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(n)
}

func timespec(t time.Time) unix.Timespec {
	return unix.NsecToTimespec(t.UnixNano())
}

// fillAttr copies a backing status into the attributes bazil replies with.
func fillAttr(st *unix.Stat_t, a *fuse.Attr) {
	a.Valid = attrValidity
	a.Inode = st.Ino
	a.Size = safeInt64ToUint64(st.Size)
	a.Blocks = safeInt64ToUint64(st.Blocks)
	a.Atime = time.Unix(st.Atim.Unix())
	a.Mtime = time.Unix(st.Mtim.Unix())
	a.Ctime = time.Unix(st.Ctim.Unix())
	a.Mode = fileMode(st.Mode)
	a.Nlink = uint32(st.Nlink)
	a.Uid = st.Uid
	a.Gid = st.Gid
	a.Rdev = uint32(st.Rdev)
	a.BlockSize = safeInt64ToUint32(int64(st.Blksize))
}

func safeUint64ToInt64(n uint64) int64 {
	if n > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(n)
}
