package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenFileZeroValue(t *testing.T) {
	var of OpenFile
	assert.False(t, of.IsOpen())

	fd, ok := of.Descriptor()
	assert.False(t, ok)
	assert.Equal(t, -1, fd)

	var nilFile *OpenFile
	assert.False(t, nilFile.IsOpen())
}

func TestOpenFileSetClear(t *testing.T) {
	var of OpenFile
	of.set(0)
	require.True(t, of.IsOpen())
	fd, ok := of.Descriptor()
	assert.True(t, ok)
	assert.Equal(t, 0, fd)

	of.clear()
	assert.False(t, of.IsOpen())
}

func TestOpenFilesRegistry(t *testing.T) {
	var reg openFiles
	synced := func() *OpenFile {
		var got *OpenFile
		require.NoError(t, reg.sync(func(of *OpenFile) error {
			got = of
			return nil
		}))
		return got
	}
	assert.False(t, synced().IsOpen())

	var closed, open OpenFile
	open.set(3)
	reg.add(&closed)
	assert.False(t, synced().IsOpen(), "contexts that are not open are skipped")

	reg.add(&open)
	assert.Same(t, &open, synced())
	assert.Equal(t, 2, reg.count())

	released := 0
	closeFn := func(of *OpenFile) error {
		released++
		of.clear()
		return nil
	}
	require.NoError(t, reg.release(&open, closeFn))
	require.NoError(t, reg.release(&closed, closeFn))
	assert.Equal(t, 2, released)
	assert.False(t, open.IsOpen())
	assert.False(t, synced().IsOpen())
	assert.Zero(t, reg.count())
}
