package tilestore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// FS is the external FS/Object collaborator contract of spec §6: the core
// only ever needs read/size/list of byte ranges, never multipart upload or
// bucket management.
type FS interface {
	Read(ctx context.Context, uri string, offset, length int64) ([]byte, error)
	Size(ctx context.Context, uri string) (int64, error)
	List(ctx context.Context, prefix string) ([]string, error)
}

// MapFS is an in-memory FS used by tests and local/demo runs; it plays the
// same role the teacher's VFS-backed Stream abstraction (reader.go,
// file.go) played for a single GSF file, generalized to arbitrary byte
// ranges over many named objects.
type MapFS struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMapFS() *MapFS {
	return &MapFS{objects: map[string][]byte{}}
}

func (m *MapFS) Put(uri string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[uri] = data
}

func (m *MapFS) Read(_ context.Context, uri string, offset, length int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[uri]
	if !ok {
		return nil, errors.Errorf("mapfs: no such object %q", uri)
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, errors.Errorf("mapfs: offset out of range for %q", uri)
	}
	end := offset + length
	if length < 0 || end > int64(len(data)) {
		end = int64(len(data))
	}
	out := make([]byte, end-offset)
	copy(out, data[offset:end])
	return out, nil
}

func (m *MapFS) Size(_ context.Context, uri string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[uri]
	if !ok {
		return 0, errors.Errorf("mapfs: no such object %q", uri)
	}
	return int64(len(data)), nil
}

func (m *MapFS) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

// LocalFS is the real FS collaborator for fragments laid out as plain
// files under a directory tree, the storage backend the CLI uses: "uri"
// is a path relative to root.
type LocalFS struct {
	root string
}

// NewLocalFS roots a LocalFS at dir; every URI passed to Read/Size/List is
// resolved relative to it.
func NewLocalFS(dir string) *LocalFS {
	return &LocalFS{root: dir}
}

func (l *LocalFS) path(uri string) string {
	return filepath.Join(l.root, filepath.FromSlash(uri))
}

func (l *LocalFS) Read(_ context.Context, uri string, offset, length int64) ([]byte, error) {
	f, err := os.Open(l.path(uri))
	if err != nil {
		return nil, errors.Wrapf(err, "localfs: open %q", uri)
	}
	defer f.Close()

	if length < 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, errors.Wrapf(err, "localfs: stat %q", uri)
		}
		length = info.Size() - offset
	}
	out := make([]byte, length)
	if _, err := f.ReadAt(out, offset); err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "localfs: read %q", uri)
	}
	return out, nil
}

func (l *LocalFS) Size(_ context.Context, uri string) (int64, error) {
	info, err := os.Stat(l.path(uri))
	if err != nil {
		return 0, errors.Wrapf(err, "localfs: stat %q", uri)
	}
	return info.Size(), nil
}

func (l *LocalFS) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	root := l.path(prefix)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "localfs: list %q", prefix)
	}
	sort.Strings(out)
	return out, nil
}
