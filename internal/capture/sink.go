package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// BlobSink stores frames and hands out opaque references
type BlobSink interface {
	Put(ctx context.Context, owner string, data []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Remove(ctx context.Context, ref string) error
}

// ErrUnknownRef is returned for references the sink never issued
var ErrUnknownRef = errors.New("unknown blob reference")

// DirSink keeps frames as files in one directory
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) Put(_ context.Context, owner string, data []byte) (string, error) {
	ref := refFor(owner)
	tmp, err := os.CreateTemp(s.dir, ".frame-*")
	if err != nil {
		return "", fmt.Errorf("create frame: %w", err)
	}
	// Write-then-rename so a reader never sees a half-written frame
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write frame: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close frame: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, ref)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store frame: %w", err)
	}
	return ref, nil
}

func (s *DirSink) Get(_ context.Context, ref string) ([]byte, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	return data, err
}

func (s *DirSink) Remove(_ context.Context, ref string) error {
	path, err := s.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Path returns the file holding ref
func (s *DirSink) Path(ref string) (string, error) {
	return s.path(ref)
}

func (s *DirSink) path(ref string) (string, error) {
	if ref == "" || ref != filepath.Base(ref) || strings.HasPrefix(ref, ".") {
		return "", fmt.Errorf("%w: %q", ErrUnknownRef, ref)
	}
	return filepath.Join(s.dir, ref), nil
}

// refFor builds a file-safe reference that still shows its owner
func refFor(owner string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, owner)
	if safe == "" {
		safe = "anon"
	}
	return safe + "-" + uuid.NewString() + ".jpg"
}

// MemorySink keeps frames in memory
type MemorySink struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemorySink() *MemorySink {
	return &MemorySink{blobs: make(map[string][]byte)}
}

func (s *MemorySink) Put(_ context.Context, owner string, data []byte) (string, error) {
	ref := refFor(owner)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (s *MemorySink) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRef, ref)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemorySink) Remove(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, ref)
	return nil
}

// Refs lists stored references, sorted
func (s *MemorySink) Refs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]string, 0, len(s.blobs))
	for ref := range s.blobs {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
