package l1records

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/visualmesh/internal/fsutil"
)

func TestFileSource_ReadsAcrossFiles(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteFile(mfs, "/data/train-0.tfrecord", [][]byte{[]byte("a"), []byte("b")}))
	require.NoError(t, WriteFile(mfs, "/data/train-1.tfrecord", nil))
	require.NoError(t, WriteFile(mfs, "/data/train-2.tfrecord", [][]byte{[]byte("c")}))

	paths, err := ExpandPaths(mfs, "/data/train-*.tfrecord")
	require.NoError(t, err)
	require.Len(t, paths, 3)

	src := NewFileSource(mfs, paths)
	defer src.Close()

	var got []string
	for {
		rec, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, string(rec))
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestFileSource_MissingFile(t *testing.T) {
	src := NewFileSource(fsutil.NewMemoryFileSystem(), []string{"/nope.tfrecord"})
	_, err := src.Next(context.Background())
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
}

func TestFileSource_Cancelled(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteFile(mfs, "/r.tfrecord", [][]byte{[]byte("a")}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewFileSource(mfs, []string{"/r.tfrecord"}).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExpandPaths(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("/a/x.tfrecord", nil)
	mfs.WriteFile("/b/y.tfrecord", nil)

	paths, err := ExpandPaths(mfs, "/a/*.tfrecord, /literal.tfrecord", "/b/*.tfrecord")
	require.NoError(t, err)
	assert.Equal(t, []string{"/a/x.tfrecord", "/literal.tfrecord", "/b/y.tfrecord"}, paths)

	_, err = ExpandPaths(mfs, "/c/*.tfrecord")
	assert.Error(t, err, "a glob matching nothing should fail")

	_, err = ExpandPaths(mfs, " , ")
	assert.ErrorContains(t, err, "no record paths given")
}

func TestSliceSource(t *testing.T) {
	src := NewSliceSource([][]byte{[]byte("x")})
	rec, err := src.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", string(rec))
	_, err = src.Next(context.Background())
	assert.Equal(t, io.EOF, err)
	assert.NoError(t, src.Close())
}
