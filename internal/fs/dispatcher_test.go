package fs

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"
	"testing"

	"lfuse/internal/sysio"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func setupDispatcher(t *testing.T) (*Dispatcher, string) {
	t.Helper()
	root := t.TempDir()
	t.Setenv(sysio.MountPointEnv, root)

	backing := sysio.NewLocal()
	require.NoError(t, backing.Setup())
	return NewDispatcher(backing, NewTranslator(root), nil), root
}

// recordingBacking records descriptor and time primitives. Any other
// primitive reaches the nil embedded Backing and panics.
type recordingBacking struct {
	sysio.Backing
	calls []string
	fd    int
	utime *unix.Utimbuf
	dir   *fakeDir
}

func (r *recordingBacking) Open(path string, flags int, mode uint32) (int, error) {
	r.calls = append(r.calls, "open "+path)
	return r.fd, nil
}

func (r *recordingBacking) Close(fd int) error {
	r.calls = append(r.calls, "close "+strconv.Itoa(fd))
	return nil
}

func (r *recordingBacking) Pread(fd int, p []byte, off int64) (int, error) {
	r.calls = append(r.calls, "pread "+strconv.Itoa(fd))
	return len(p), nil
}

func (r *recordingBacking) Pwrite(fd int, p []byte, off int64) (int, error) {
	r.calls = append(r.calls, "pwrite "+strconv.Itoa(fd))
	return len(p), nil
}

func (r *recordingBacking) Fsync(fd int) error {
	r.calls = append(r.calls, "fsync "+strconv.Itoa(fd))
	return nil
}

func (r *recordingBacking) Utime(path string, buf *unix.Utimbuf) error {
	r.calls = append(r.calls, "utime "+path)
	r.utime = buf
	return nil
}

func (r *recordingBacking) Symlink(oldpath, newpath string) error {
	r.calls = append(r.calls, "symlink "+oldpath+" "+newpath)
	return nil
}

func (r *recordingBacking) Rename(oldpath, newpath string) error {
	r.calls = append(r.calls, "rename "+oldpath+" "+newpath)
	return nil
}

func (r *recordingBacking) Link(oldpath, newpath string) error {
	r.calls = append(r.calls, "link "+oldpath+" "+newpath)
	return nil
}

func (r *recordingBacking) Opendir(path string) (sysio.Dir, error) {
	r.calls = append(r.calls, "opendir "+path)
	return r.dir, nil
}

// fakeDir yields entries, then fails with err if set, else io.EOF.
type fakeDir struct {
	entries []sysio.Dirent
	err     error
	closed  int
}

func (d *fakeDir) Next() (*sysio.Dirent, error) {
	if len(d.entries) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, io.EOF
	}
	de := d.entries[0]
	d.entries = d.entries[1:]
	return &de, nil
}

func (d *fakeDir) Close() error {
	d.closed++
	return nil
}

func newRecording() (*Dispatcher, *recordingBacking) {
	rec := &recordingBacking{}
	return NewDispatcher(rec, NewTranslator("/backing"), nil), rec
}

func TestInvalidOpenFileNeverReachesBacking(t *testing.T) {
	d, rec := newRecording()
	var of OpenFile
	buf := make([]byte, 8)

	_, err := d.Read(&of, buf, 0)
	assert.Equal(t, -int(syscall.EBADF), Code(err))

	_, err = d.Write(&of, buf, 0)
	assert.Equal(t, -int(syscall.EBADF), Code(err))

	err = d.Fsync(&of, false)
	assert.Equal(t, -int(syscall.EBADF), Code(err))

	err = d.Release(&of)
	assert.Equal(t, -int(syscall.EBADF), Code(err))

	assert.Empty(t, rec.calls)
}

func TestDescriptorZeroIsUsable(t *testing.T) {
	d, rec := newRecording()
	rec.fd = 0

	var of OpenFile
	require.NoError(t, d.Open("/f", unix.O_RDWR, &of))
	fd, ok := of.Descriptor()
	require.True(t, ok)
	assert.Equal(t, 0, fd)

	buf := make([]byte, 4)
	n, err := d.Read(&of, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = d.Write(&of, buf, 0)
	require.NoError(t, err)
	require.NoError(t, d.Fsync(&of, true))
	require.NoError(t, d.Release(&of))
	assert.False(t, of.IsOpen())

	assert.Equal(t, []string{"open /backing/f", "pread 0", "pwrite 0", "fsync 0", "close 0"}, rec.calls)

	// released contexts are rejected like never-opened ones
	_, err = d.Read(&of, buf, 0)
	assert.Equal(t, -int(syscall.EBADF), Code(err))
	assert.Len(t, rec.calls, 5)
}

func TestUtimensDropsNanoseconds(t *testing.T) {
	d, rec := newRecording()

	err := d.Utimens("/f", unix.Timespec{Sec: 50, Nsec: 1}, unix.Timespec{Sec: 100, Nsec: 999999999})
	require.NoError(t, err)
	require.NotNil(t, rec.utime)
	assert.EqualValues(t, 50, rec.utime.Actime)
	assert.EqualValues(t, 100, rec.utime.Modtime)
	assert.Equal(t, []string{"utime /backing/f"}, rec.calls)
}

func TestDualPathOperationsTranslateBothEnds(t *testing.T) {
	d, rec := newRecording()

	require.NoError(t, d.Symlink("/target", "/dir/link"))
	require.NoError(t, d.Rename("/a", "/b"))
	require.NoError(t, d.Link("/a", "/c"))

	assert.Equal(t, []string{
		"symlink /backing/target /backing/dir/link",
		"rename /backing/a /backing/b",
		"link /backing/a /backing/c",
	}, rec.calls)
}

func TestReadDirClosesOnEveryPath(t *testing.T) {
	entries := []sysio.Dirent{
		{Ino: 11, Type: unix.DT_REG, Name: "a"},
		{Ino: 12, Type: unix.DT_DIR, Name: "b"},
		{Ino: 13, Type: unix.DT_LNK, Name: "c"},
	}

	t.Run("Complete", func(t *testing.T) {
		d, rec := newRecording()
		rec.dir = &fakeDir{entries: entries}

		var got []string
		modes := map[string]uint32{}
		err := d.ReadDir("/d", func(name string, st *unix.Stat_t) bool {
			got = append(got, name)
			modes[name] = st.Mode
			assert.NotZero(t, st.Ino)
			return false
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, got)
		assert.Equal(t, uint32(unix.S_IFREG), modes["a"])
		assert.Equal(t, uint32(unix.S_IFDIR), modes["b"])
		assert.Equal(t, uint32(unix.S_IFLNK), modes["c"])
		assert.Equal(t, 1, rec.dir.closed)
		assert.Equal(t, []string{"opendir /backing/d"}, rec.calls)
	})

	t.Run("StopAfterOne", func(t *testing.T) {
		d, rec := newRecording()
		rec.dir = &fakeDir{entries: entries}

		calls := 0
		err := d.ReadDir("/d", func(string, *unix.Stat_t) bool {
			calls++
			return true
		})
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, 1, rec.dir.closed)
	})

	t.Run("IterationError", func(t *testing.T) {
		d, rec := newRecording()
		rec.dir = &fakeDir{entries: entries[:1], err: syscall.EIO}

		err := d.ReadDir("/d", func(string, *unix.Stat_t) bool { return false })
		assert.Equal(t, -int(syscall.EIO), Code(err))
		assert.Equal(t, 1, rec.dir.closed)
	})
}

func TestOpenMissingFile(t *testing.T) {
	d, _ := setupDispatcher(t)

	var of OpenFile
	err := d.Open("/missing", unix.O_RDONLY, &of)
	assert.Equal(t, -int(syscall.ENOENT), Code(err))
	assert.False(t, of.IsOpen())
}

func TestRoundTrip(t *testing.T) {
	d, _ := setupDispatcher(t)
	rng := rand.New(rand.NewSource(42))

	for _, size := range []int{0, 1, 4096, 1 << 20} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			vp := VirtualPath("/file-" + strconv.Itoa(size))
			data := make([]byte, size)
			rng.Read(data)

			require.NoError(t, d.Mknod(vp, unix.S_IFREG|0644, 0))

			var w OpenFile
			require.NoError(t, d.Open(vp, unix.O_WRONLY, &w))
			n, err := d.Write(&w, data, 0)
			require.NoError(t, err)
			assert.Equal(t, size, n)
			require.NoError(t, d.Release(&w))

			var r OpenFile
			require.NoError(t, d.Open(vp, unix.O_RDONLY, &r))
			defer d.Release(&r)

			buf := make([]byte, size+1)
			n, err = d.Read(&r, buf, 0)
			require.NoError(t, err)
			assert.Equal(t, size, n)
			assert.True(t, bytes.Equal(data, buf[:n]))
		})
	}
}

func TestReadDirLocal(t *testing.T) {
	d, root := setupDispatcher(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "d"), 0755))
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, "d", name), nil, 0644))
	}

	// the backing listing is passed through, dot entries included
	var names []string
	err := d.ReadDir("/d", func(name string, st *unix.Stat_t) bool {
		names = append(names, name)
		if name == "." || name == ".." {
			assert.Equal(t, uint32(unix.S_IFDIR), st.Mode)
		} else {
			assert.Equal(t, uint32(unix.S_IFREG), st.Mode)
		}
		return false
	})
	require.NoError(t, err)
	sort.Strings(names)
	assert.Equal(t, []string{".", "..", "a", "b", "c"}, names)

	calls := 0
	err = d.ReadDir("/d", func(string, *unix.Stat_t) bool {
		calls++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	err = d.ReadDir("/nope", func(string, *unix.Stat_t) bool { return false })
	assert.Equal(t, -int(syscall.ENOENT), Code(err))
}

func TestMknod(t *testing.T) {
	d, root := setupDispatcher(t)

	t.Run("Regular", func(t *testing.T) {
		require.NoError(t, d.Mknod("/reg", unix.S_IFREG|0640, 0))
		info, err := os.Lstat(filepath.Join(root, "reg"))
		require.NoError(t, err)
		assert.True(t, info.Mode().IsRegular())

		err = d.Mknod("/reg", unix.S_IFREG|0640, 0)
		assert.Equal(t, -int(syscall.EEXIST), Code(err))
	})

	t.Run("FIFO", func(t *testing.T) {
		for _, mode := range []uint32{unix.S_IFIFO, unix.S_IFIFO | 0644, unix.S_IFIFO | 0777} {
			err := d.Mknod("/pipe", mode, 7)
			assert.Equal(t, -int(syscall.ENOSYS), Code(err))
		}
		_, err := os.Lstat(filepath.Join(root, "pipe"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Other", func(t *testing.T) {
		require.NoError(t, d.Mknod("/sock", unix.S_IFSOCK|0644, 0))
		var st unix.Stat_t
		require.NoError(t, d.Getattr("/sock", &st))
		assert.Equal(t, uint32(unix.S_IFSOCK), st.Mode&unix.S_IFMT)
	})
}

func TestReadlink(t *testing.T) {
	d, root := setupDispatcher(t)
	require.NoError(t, os.Symlink("/target", filepath.Join(root, "link")))

	for _, size := range []int{2, 4, 7, 8, 64} {
		t.Run(strconv.Itoa(size), func(t *testing.T) {
			buf := bytes.Repeat([]byte{'x'}, size)
			n, err := d.Readlink("/link", buf)
			require.NoError(t, err)
			assert.LessOrEqual(t, n, size-1)
			assert.Equal(t, byte(0), buf[n])
			assert.Equal(t, "/target"[:n], string(buf[:n]))
		})
	}

	_, err := d.Readlink("/link", nil)
	assert.Equal(t, -int(syscall.EINVAL), Code(err))

	_, err = d.Readlink("/missing", make([]byte, 16))
	assert.Equal(t, -int(syscall.ENOENT), Code(err))
}

func TestSymlinkTargetIsTranslated(t *testing.T) {
	d, root := setupDispatcher(t)

	require.NoError(t, d.Symlink("/target", "/link"))
	target, err := os.Readlink(filepath.Join(root, "link"))
	require.NoError(t, err)
	assert.Equal(t, root+"/target", target)

	var st unix.Stat_t
	require.NoError(t, d.Getattr("/link", &st))
	assert.Equal(t, uint32(unix.S_IFLNK), st.Mode&unix.S_IFMT)
}

func TestNamespaceOperations(t *testing.T) {
	d, root := setupDispatcher(t)

	require.NoError(t, d.Mkdir("/dir", 0755))
	require.NoError(t, d.Mknod("/dir/f", unix.S_IFREG|0644, 0))
	require.NoError(t, d.Rename("/dir/f", "/dir/g"))
	require.NoError(t, d.Link("/dir/g", "/h"))

	var st unix.Stat_t
	require.NoError(t, d.Getattr("/h", &st))
	assert.EqualValues(t, 2, st.Nlink)

	err := d.Rmdir("/dir")
	assert.Equal(t, -int(syscall.ENOTEMPTY), Code(err))

	require.NoError(t, d.Unlink("/dir/g"))
	require.NoError(t, d.Rmdir("/dir"))
	_, err = os.Lstat(filepath.Join(root, "dir"))
	assert.True(t, os.IsNotExist(err))

	err = d.Unlink("/dir/g")
	assert.Equal(t, -int(syscall.ENOENT), Code(err))
}

func TestAttributeChanges(t *testing.T) {
	d, root := setupDispatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "f"), []byte("hello world"), 0644))

	require.NoError(t, d.Chmod("/f", 0600))
	require.NoError(t, d.Truncate("/f", 5))
	require.NoError(t, d.Chown("/f", os.Getuid(), os.Getgid()))
	require.NoError(t, d.Utimens("/f", unix.Timespec{Sec: 100, Nsec: 999999999}, unix.Timespec{Sec: 100, Nsec: 999999999}))

	var st unix.Stat_t
	require.NoError(t, d.Getattr("/f", &st))
	assert.Equal(t, uint32(0600), st.Mode&0777)
	assert.EqualValues(t, 5, st.Size)
	assert.EqualValues(t, 100, st.Mtim.Sec)
	assert.EqualValues(t, 0, st.Mtim.Nsec)
	assert.EqualValues(t, 100, st.Atim.Sec)
	assert.EqualValues(t, 0, st.Atim.Nsec)

	require.NoError(t, d.Access("/f", unix.F_OK))
	err := d.Access("/nope", unix.F_OK)
	assert.Equal(t, -int(syscall.ENOENT), Code(err))
}

func TestChownFollowsSymlinks(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("changing ownership needs root")
	}
	d, root := setupDispatcher(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "target"), nil, 0644))
	require.NoError(t, os.Symlink(filepath.Join(root, "target"), filepath.Join(root, "link")))

	require.NoError(t, d.Chown("/link", 1234, 1234))

	var st unix.Stat_t
	require.NoError(t, unix.Stat(filepath.Join(root, "target"), &st))
	assert.EqualValues(t, 1234, st.Uid)
	require.NoError(t, unix.Lstat(filepath.Join(root, "link"), &st))
	assert.EqualValues(t, 0, st.Uid)
}

func TestStatfs(t *testing.T) {
	d, _ := setupDispatcher(t)

	var st unix.Statfs_t
	require.NoError(t, d.Statfs(RootPath, &st))
	assert.NotZero(t, st.Bsize)
	assert.NotZero(t, st.Blocks)
}

func TestXattrNotImplemented(t *testing.T) {
	d, _ := newRecording()

	assert.Equal(t, -int(syscall.ENOSYS), Code(d.Setxattr("/f", "user.a", []byte("v"))))
	_, err := d.Getxattr("/f", "user.a")
	assert.Equal(t, -int(syscall.ENOSYS), Code(err))
	_, err = d.Listxattr("/f")
	assert.Equal(t, -int(syscall.ENOSYS), Code(err))
	assert.Equal(t, -int(syscall.ENOSYS), Code(d.Removexattr("/f", "user.a")))
	assert.True(t, errors.Is(err, ErrNotImplemented))
}
