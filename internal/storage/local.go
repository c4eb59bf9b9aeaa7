package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Local stores blobs as files under a root directory. Keys map to
// relative paths; traversal outside the root is rejected.
type Local struct {
	root string
}

var _ Storage = (*Local)(nil)

// NewLocal creates the root directory and returns the backend.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "reflux-artifacts")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Local{root: dir}, nil
}

// Backend returns the backend name.
func (l *Local) Backend() string { return BackendLocal }

// Put writes the blob to a temp file and renames it into place so
// readers never observe a partial write.
func (l *Local) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (*PutResult, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("create artifact subdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".reflux-*")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name())

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	return &PutResult{
		ETag: hex.EncodeToString(hash.Sum(nil)),
		Size: size,
	}, nil
}

// Get opens the blob file.
func (l *Local) Get(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %q not found", key)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

// Delete removes the blob file. Missing files are treated as already
// deleted.
func (l *Local) Delete(_ context.Context, key string) error {
	path, err := l.resolve(key)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

func (l *Local) resolve(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("artifact key is empty")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("artifact key %q escapes the storage root", key)
	}
	return filepath.Join(l.root, clean), nil
}
