package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StoredFile is a file that has just been written to the upload directory.
type StoredFile struct {
	FileInfo
	OriginalName string
	Size         int64
}

// LocalStorage keeps files flat inside a Root and derives their public URLs
// from the configured backend base URL.
type LocalStorage struct {
	root    *Root
	baseURL string
	namer   *Namer
}

func NewLocalStorage(root *Root, baseURL string) *LocalStorage {
	return &LocalStorage{
		root:    root,
		baseURL: strings.TrimRight(baseURL, "/"),
		namer:   NewNamer(),
	}
}

func (s *LocalStorage) Root() *Root {
	return s.root
}

// FileURL is the externally reachable address of a storage name.
func (s *LocalStorage) FileURL(name string) string {
	return s.baseURL + "/uploads/" + url.PathEscape(name)
}

// ListFiles returns every regular file in the root. Order follows the
// directory listing and callers must not rely on it.
func (s *LocalStorage) ListFiles(ctx context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.root.Path())
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrStorageIO, s.root.Path(), err)
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		files = append(files, FileInfo{
			Name: entry.Name(),
			URL:  s.FileURL(entry.Name()),
		})
	}
	return files, nil
}

// Exists reports whether name is a regular file in the root.
func (s *LocalStorage) Exists(ctx context.Context, name string) (bool, error) {
	sp, err := s.root.Resolve(name)
	if err != nil {
		return false, err
	}
	info, err := os.Lstat(sp.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: stat %s: %w", ErrStorageIO, name, err)
	}
	return info.Mode().IsRegular(), nil
}

// Open returns the file for reading along with its stat info.
func (s *LocalStorage) Open(name string) (*os.File, fs.FileInfo, error) {
	sp, err := s.root.Resolve(name)
	if err != nil {
		return nil, nil, err
	}
	info, err := os.Lstat(sp.Path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stat %s: %w", ErrStorageIO, name, err)
	}
	f, err := os.Open(sp.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open %s: %w", ErrStorageIO, name, err)
	}
	return f, info, nil
}

func (s *LocalStorage) DownloadFile(ctx context.Context, name string) (io.ReadCloser, error) {
	f, _, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Save persists data under a freshly generated storage name.
func (s *LocalStorage) Save(ctx context.Context, originalName string, data io.Reader) (StoredFile, error) {
	name := s.namer.Name(originalName)
	size, err := s.write(ctx, name, data)
	if err != nil {
		return StoredFile{}, err
	}
	return StoredFile{
		FileInfo:     FileInfo{Name: name, URL: s.FileURL(name)},
		OriginalName: originalName,
		Size:         size,
	}, nil
}

// UploadFile writes data under exactly name, replacing any file already there.
func (s *LocalStorage) UploadFile(ctx context.Context, name string, data io.Reader) (FileInfo, error) {
	if _, err := s.write(ctx, name, data); err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Name: name, URL: s.FileURL(name)}, nil
}

// write streams into the staging directory and renames into place so that a
// half-received body never shows up under its storage name.
func (s *LocalStorage) write(ctx context.Context, name string, data io.Reader) (int64, error) {
	sp, err := s.root.Resolve(name)
	if err != nil {
		return 0, err
	}

	tmpPath := filepath.Join(s.root.PartialDir(), uuid.NewString())
	out, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("%w: create %s: %w", ErrStorageIO, tmpPath, err)
	}

	size, err := io.Copy(out, &contextReader{ctx: ctx, r: data})
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: write %s: %w", ErrStorageIO, name, err)
	}

	if err := os.Rename(tmpPath, sp.Path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("%w: rename into %s: %w", ErrStorageIO, name, err)
	}
	return size, nil
}

// DeleteFile removes name, failing with ErrNotFound when it is not a regular
// file in the root.
func (s *LocalStorage) DeleteFile(ctx context.Context, name string) error {
	sp, err := s.root.Resolve(name)
	if err != nil {
		return err
	}
	info, err := os.Lstat(sp.Path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrStorageIO, name, err)
	}
	if err := os.Remove(sp.Path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("%w: remove %s: %w", ErrStorageIO, name, err)
	}
	return nil
}

// SweepPartials removes staged uploads last modified more than maxAge ago and
// returns how many were removed.
func (s *LocalStorage) SweepPartials(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root.PartialDir())
	if err != nil {
		return 0, fmt.Errorf("%w: list partials: %w", ErrStorageIO, err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.root.PartialDir(), entry.Name())
		if err := os.RemoveAll(path); err != nil {
			slog.Warn("Failed to remove stale partial upload", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
