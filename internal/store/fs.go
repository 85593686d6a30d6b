// Package store maps the content tree onto a directory structure.
package store

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Root is the path of the content root inside an FS
const Root = "."

// MetaSuffix marks per-node metadata files
const MetaSuffix = ".meta"

const hashBlockSize = 64 * 1024

// FS reads and writes content files relative to a root directory
type FS struct {
	fs billy.Filesystem
}

// New wraps a billy filesystem whose root is the content root
func New(fs billy.Filesystem) *FS {
	return &FS{fs: fs}
}

// NewOS creates an FS backed by the directory root
func NewOS(root string) *FS {
	return New(osfs.New(root))
}

// NewMemory creates an FS backed by memory, used by tests and dry runs
func NewMemory() *FS {
	return New(memfs.New())
}

// ReadText returns the full content of p, or "" if p does not exist
func (f *FS) ReadText(p string) (string, error) {
	data, err := util.ReadFile(f.fs, p)
	if err != nil {
		if isNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", p, err)
	}
	return string(data), nil
}

// SaveText overwrites p with data, creating parent directories
func (f *FS) SaveText(p, data string) error {
	w, err := f.Create(p)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", p, err)
	}
	return nil
}

// ReadStructured decodes p with the codec matching its extension. A missing
// file yields an empty mapping.
func (f *FS) ReadStructured(p string) (map[string]any, error) {
	text, err := f.ReadText(p)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return map[string]any{}, nil
	}
	c, err := codecFor(p)
	if err != nil {
		return nil, err
	}
	data, err := c.decode([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// SaveStructured merges data into the mapping already stored at p and
// writes the result back. Keys of data win; keys only present on disk are
// kept. The merged mapping is returned.
func (f *FS) SaveStructured(p string, data map[string]any) (map[string]any, error) {
	c, err := codecFor(p)
	if err != nil {
		return nil, err
	}
	merged, err := f.ReadStructured(p)
	if err != nil {
		return nil, err
	}
	for k, v := range data {
		merged[k] = v
	}
	encoded, err := c.encode(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", p, err)
	}
	if err := f.SaveText(p, string(encoded)); err != nil {
		return nil, err
	}
	return merged, nil
}

// ReadDirectories lists the non-hidden subdirectories of p
func (f *FS) ReadDirectories(p string) ([]string, error) {
	return f.list(p, func(info os.FileInfo) bool {
		return info.IsDir()
	})
}

// ReadFiles lists the regular files of p, skipping hidden files and
// metadata files
func (f *FS) ReadFiles(p string) ([]string, error) {
	return f.list(p, func(info os.FileInfo) bool {
		return !info.IsDir() && !strings.HasSuffix(info.Name(), MetaSuffix)
	})
}

func (f *FS) list(p string, keep func(os.FileInfo) bool) ([]string, error) {
	infos, err := f.fs.ReadDir(p)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", p, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), ".") || !keep(info) {
			continue
		}
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether p exists
func (f *FS) Exists(p string) (bool, error) {
	_, err := f.fs.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case isNotExist(err):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
}

// Open opens p for reading
func (f *FS) Open(p string) (io.ReadCloser, error) {
	file, err := f.fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", p, err)
	}
	return file, nil
}

// Create truncates or creates p for writing, creating parent directories
func (f *FS) Create(p string) (io.WriteCloser, error) {
	if dir := path.Dir(p); dir != Root {
		if err := f.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	file, err := f.fs.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", p, err)
	}
	return file, nil
}

// Remove deletes a single file. A missing file is not an error.
func (f *FS) Remove(p string) error {
	if err := f.fs.Remove(p); err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// RemoveAll deletes p and everything below it
func (f *FS) RemoveAll(p string) error {
	if err := util.RemoveAll(f.fs, p); err != nil && !isNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", p, err)
	}
	return nil
}

// Move renames oldPath to newPath. A missing source is not an error.
func (f *FS) Move(oldPath, newPath string) error {
	exists, err := f.Exists(oldPath)
	if err != nil || !exists {
		return err
	}
	if dir := path.Dir(newPath); dir != Root {
		if err := f.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := f.fs.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", oldPath, newPath, err)
	}
	return nil
}

// Hash returns the hex md5 digest of p
func (f *FS) Hash(p string) (string, error) {
	file, err := f.fs.Open(p)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", p, err)
	}
	defer func() {
		_ = file.Close()
	}()

	h := md5.New()
	if _, err := io.CopyBuffer(h, file, make([]byte, hashBlockSize)); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", p, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func isNotExist(err error) bool {
	return errors.Is(err, iofs.ErrNotExist)
}
