package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestOSFileSystem_CreateOpenStat(t *testing.T) {
	osfs := OSFileSystem{}
	dir := filepath.Join(t.TempDir(), "shards")
	if err := osfs.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}

	path := filepath.Join(dir, "train-00000.tfrecord")
	w, err := osfs.Create(path)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	info, err := osfs.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != int64(len("payload")) {
		t.Errorf("expected size %d, got %d", len("payload"), info.Size())
	}

	f, err := osfs.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("expected %q, got %q", "payload", data)
	}
}

func TestOSFileSystem_Glob(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.tfrecord", "a.tfrecord", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	matches, err := OSFileSystem{}.Glob(filepath.Join(dir, "*.tfrecord"))
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if filepath.Base(matches[0]) != "a.tfrecord" {
		t.Errorf("expected sorted matches, got %v", matches)
	}
}

func TestMemoryFileSystem_CreateAndOpen(t *testing.T) {
	mfs := NewMemoryFileSystem()

	w, err := mfs.Create("/data/created.tfrecord")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := mfs.Open("/data/created.tfrecord")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(f)
	if string(data) != "hello" {
		t.Errorf("expected hello, got %q", data)
	}
	info, err := f.Stat()
	if err != nil || info.Size() != 5 {
		t.Errorf("unexpected stat: %v %v", info, err)
	}
}

func TestMemoryFileSystem_OpenMissing(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if _, err := mfs.Open("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
	if _, err := mfs.Stat("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected ErrNotExist from Stat, got %v", err)
	}
}

func TestMemoryFileSystem_Glob(t *testing.T) {
	mfs := NewMemoryFileSystem()
	mfs.WriteFile("/d/train-1.tfrecord", []byte("1"))
	mfs.WriteFile("/d/train-0.tfrecord", []byte("0"))
	mfs.WriteFile("/d/eval-0.tfrecord", []byte("e"))

	matches, err := mfs.Glob("/d/train-*.tfrecord")
	if err != nil {
		t.Fatalf("Glob failed: %v", err)
	}
	want := []string{"/d/train-0.tfrecord", "/d/train-1.tfrecord"}
	if len(matches) != len(want) {
		t.Fatalf("expected %v, got %v", want, matches)
	}
	for i := range want {
		if matches[i] != want[i] {
			t.Errorf("match %d: expected %s, got %s", i, want[i], matches[i])
		}
	}

	if _, err := mfs.Glob("[bad"); err == nil {
		t.Error("expected error for malformed pattern")
	}
}

func TestMemoryFileSystem_MkdirAll(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		info, err := mfs.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("expected %s to be a directory", dir)
		}
	}
}
