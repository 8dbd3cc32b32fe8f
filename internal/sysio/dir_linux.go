package sysio

import (
	"bytes"
	"encoding/binary"
	"io"

	"golang.org/x/sys/unix"
)

// Layout of struct linux_dirent64.
const (
	direntInoOff    = 0
	direntReclenOff = 16
	direntTypeOff   = 18
	direntNameOff   = 19
)

const direntBufSize = 8192

type dirStream struct {
	fd  int
	buf []byte
	pos int
	end int
}

// Opendir opens path for iteration with getdents64.
func (l *Local) Opendir(path string) (Dir, error) {
	if err := l.check(); err != nil {
		return nil, err
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return &dirStream{fd: fd, buf: make([]byte, direntBufSize)}, nil
}

func (d *dirStream) Next() (*Dirent, error) {
	if d.fd < 0 {
		return nil, unix.EBADF
	}
	for {
		if d.pos >= d.end {
			n, err := unix.Getdents(d.fd, d.buf)
			if err != nil {
				return nil, err
			}
			if n <= 0 {
				return nil, io.EOF
			}
			d.pos, d.end = 0, n
		}

		rec := d.buf[d.pos:d.end]
		if len(rec) < direntNameOff {
			return nil, unix.EIO
		}
		reclen := int(binary.NativeEndian.Uint16(rec[direntReclenOff:]))
		if reclen < direntNameOff || reclen > len(rec) {
			return nil, unix.EIO
		}
		d.pos += reclen

		ino := binary.NativeEndian.Uint64(rec[direntInoOff:])
		if ino == 0 {
			continue
		}
		name := rec[direntNameOff:reclen]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		return &Dirent{
			Ino:  ino,
			Type: rec[direntTypeOff],
			Name: string(name),
		}, nil
	}
}

func (d *dirStream) Close() error {
	if d.fd < 0 {
		return unix.EBADF
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
