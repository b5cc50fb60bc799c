package l1records

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/banshee-data/visualmesh/internal/fsutil"
)

// Source yields raw serialised records. Next returns io.EOF once the
// source is exhausted. A Source is used from a single goroutine.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// ExpandPaths expands each comma separated glob pattern in patterns against
// fsys. Patterns without glob metacharacters are kept as-is so that a
// missing file is reported when it is opened rather than silently dropped.
func ExpandPaths(fsys fsutil.FileSystem, patterns ...string) ([]string, error) {
	var paths []string
	for _, group := range patterns {
		for _, p := range strings.Split(group, ",") {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if !strings.ContainsAny(p, "*?[") {
				paths = append(paths, p)
				continue
			}
			matches, err := fsys.Glob(p)
			if err != nil {
				return nil, fmt.Errorf("expand %q: %w", p, err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("expand %q: no files match", p)
			}
			paths = append(paths, matches...)
		}
	}
	if len(paths) == 0 {
		return nil, errors.New("no record paths given")
	}
	return paths, nil
}

// FileSource reads TFRecord files one after another.
type FileSource struct {
	fsys  fsutil.FileSystem
	paths []string
	next  int

	file   fs.File
	reader *Reader
	path   string
}

// NewFileSource creates a source over paths, read in order.
func NewFileSource(fsys fsutil.FileSystem, paths []string) *FileSource {
	if fsys == nil {
		fsys = fsutil.OSFileSystem{}
	}
	return &FileSource{fsys: fsys, paths: paths}
}

// Next returns the next record across all files.
func (s *FileSource) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.reader == nil {
			if s.next >= len(s.paths) {
				return nil, io.EOF
			}
			if err := s.open(s.paths[s.next]); err != nil {
				return nil, err
			}
			s.next++
		}

		rec, err := s.reader.Next()
		if err == io.EOF {
			if err := s.closeCurrent(); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.path, err)
		}
		return rec, nil
	}
}

func (s *FileSource) open(path string) error {
	f, err := s.fsys.Open(path)
	if err != nil {
		return fmt.Errorf("open record file: %w", err)
	}
	s.file = f
	s.path = path
	s.reader = NewReader(f)
	return nil
}

func (s *FileSource) closeCurrent() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.reader = nil
	return err
}

// Close releases the currently open file, if any.
func (s *FileSource) Close() error {
	return s.closeCurrent()
}

// SliceSource serves records from memory. Useful for replaying a fixed set
// of payloads.
type SliceSource struct {
	records [][]byte
	next    int
}

// NewSliceSource creates a source over records.
func NewSliceSource(records [][]byte) *SliceSource {
	return &SliceSource{records: records}
}

// Next returns the next record or io.EOF.
func (s *SliceSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.next]
	s.next++
	return rec, nil
}

// Close is a no-op.
func (s *SliceSource) Close() error { return nil }

// WriteFile writes payloads as a TFRecord file through fsys.
func WriteFile(fsys fsutil.FileSystem, path string, payloads [][]byte) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create record file: %w", err)
	}
	w := NewWriter(f)
	for _, p := range payloads {
		if err := w.Write(p); err != nil {
			f.Close()
			return fmt.Errorf("write record %d: %w", w.Count(), err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush record file: %w", err)
	}
	return f.Close()
}
