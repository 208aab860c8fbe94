// Package zarr writes Zarr v2 hierarchies to a directory or a zip file.
package zarr

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
)

// Store holds the keys of a hierarchy. Keys use "/" separators.
type Store interface {
	Set(key string, value []byte) error
	Close() error
}

// DirStore keeps each key as a file under a root directory.
type DirStore struct {
	root string
}

func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &DirStore{root: root}, nil
}

func (s *DirStore) Root() string { return s.root }

func (s *DirStore) Set(key string, value []byte) error {
	clean, err := cleanKey(key)
	if err != nil {
		return err
	}
	p := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, value, 0o644)
}

func (s *DirStore) Close() error { return nil }

// ZipStore writes keys as uncompressed entries of a zip archive; chunk
// payloads carry their own compression.
type ZipStore struct {
	f    *os.File
	zw   *zip.Writer
	seen map[string]bool
}

func NewZipStore(p string) (*ZipStore, error) {
	f, err := os.Create(p)
	if err != nil {
		return nil, err
	}
	return &ZipStore{f: f, zw: zip.NewWriter(f), seen: map[string]bool{}}, nil
}

func (s *ZipStore) Set(key string, value []byte) error {
	clean, err := cleanKey(key)
	if err != nil {
		return err
	}
	if s.seen[clean] {
		return fmt.Errorf("zarr: key %q written twice", clean)
	}
	s.seen[clean] = true
	w, err := s.zw.CreateHeader(&zip.FileHeader{Name: clean, Method: zip.Store})
	if err != nil {
		return err
	}
	_, err = w.Write(value)
	return err
}

func (s *ZipStore) Close() error {
	zerr := s.zw.Close()
	ferr := s.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

// MemStore keeps keys in memory.
type MemStore struct {
	mu    sync.Mutex
	items map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{items: map[string][]byte{}}
}

func (s *MemStore) Set(key string, value []byte) error {
	clean, err := cleanKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[clean] = append([]byte(nil), value...)
	return nil
}

func (s *MemStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[strings.TrimPrefix(key, "/")]
	return v, ok
}

func (s *MemStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.items))
	for k := range s.items {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (s *MemStore) Close() error { return nil }

func cleanKey(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("zarr: empty key")
	}
	return strings.TrimPrefix(clean, "/"), nil
}
