package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBaseURL = "http://files.test"

func newTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	return NewLocalStorage(newTestRoot(t), testBaseURL+"/")
}

func TestSave_WritesUnderGeneratedName(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	stored, err := s.Save(ctx, "report.pdf", strings.NewReader("pdf bytes"))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(stored.Name, "-report.pdf"))
	assert.Equal(t, "report.pdf", stored.OriginalName)
	assert.Equal(t, int64(len("pdf bytes")), stored.Size)
	assert.Equal(t, testBaseURL+"/uploads/"+stored.Name, stored.URL)

	data, err := os.ReadFile(filepath.Join(s.Root().Path(), stored.Name))
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))

	partials, err := os.ReadDir(s.Root().PartialDir())
	require.NoError(t, err)
	assert.Empty(t, partials)
}

func TestSave_TraversalInOriginalNameStaysInRoot(t *testing.T) {
	s := newTestStorage(t)

	stored, err := s.Save(context.Background(), "../../evil.sh", strings.NewReader("x"))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(stored.Name, "-evil.sh"))
	_, err = os.Stat(filepath.Join(s.Root().Path(), stored.Name))
	assert.NoError(t, err)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestSave_FailedBodyLeavesNothingBehind(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.Save(context.Background(), "a.txt", io.MultiReader(strings.NewReader("partial"), failingReader{}))
	require.ErrorIs(t, err, ErrStorageIO)

	files, err := s.ListFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)

	partials, err := os.ReadDir(s.Root().PartialDir())
	require.NoError(t, err)
	assert.Empty(t, partials)
}

func TestSave_CanceledContext(t *testing.T) {
	s := newTestStorage(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Save(ctx, "a.txt", strings.NewReader("data"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestListFiles_SkipsDirectoriesAndPartials(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	a, err := s.Save(ctx, "a.txt", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := s.Save(ctx, "b.txt", strings.NewReader("b"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root().PartialDir(), "in-flight"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Root().Path(), "subdir"), 0o755))

	files, err := s.ListFiles(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []FileInfo{
		{Name: a.Name, URL: testBaseURL + "/uploads/" + a.Name},
		{Name: b.Name, URL: testBaseURL + "/uploads/" + b.Name},
	}, files)
}

func TestListFiles_EmptyIsNotNil(t *testing.T) {
	s := newTestStorage(t)

	files, err := s.ListFiles(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

func TestListFiles_MissingRoot(t *testing.T) {
	s := newTestStorage(t)
	require.NoError(t, os.RemoveAll(s.Root().Path()))

	_, err := s.ListFiles(context.Background())
	assert.ErrorIs(t, err, ErrStorageIO)
}

func TestExists(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	stored, err := s.Save(ctx, "a.txt", strings.NewReader("a"))
	require.NoError(t, err)

	ok, err := s.Exists(ctx, stored.Name)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, partialDirName)
	require.NoError(t, err)
	assert.False(t, ok, "directories are not stored files")

	_, err = s.Exists(ctx, "../outside")
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestDeleteFile(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	stored, err := s.Save(ctx, "a.txt", strings.NewReader("a"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteFile(ctx, stored.Name))
	ok, err := s.Exists(ctx, stored.Name)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, s.DeleteFile(ctx, stored.Name), ErrNotFound)
	assert.ErrorIs(t, s.DeleteFile(ctx, partialDirName), ErrNotFound)
	assert.ErrorIs(t, s.DeleteFile(ctx, "../../etc/passwd"), ErrPathEscape)
}

func TestDownloadFile(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	stored, err := s.Save(ctx, "a.txt", strings.NewReader("hello"))
	require.NoError(t, err)

	rc, err := s.DownloadFile(ctx, stored.Name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = s.DownloadFile(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUploadFile_UsesExactName(t *testing.T) {
	s := newTestStorage(t)

	info, err := s.UploadFile(context.Background(), "mirrored.bin", strings.NewReader("m"))
	require.NoError(t, err)
	assert.Equal(t, FileInfo{Name: "mirrored.bin", URL: testBaseURL + "/uploads/mirrored.bin"}, info)

	_, err = s.UploadFile(context.Background(), "../x", strings.NewReader("m"))
	assert.ErrorIs(t, err, ErrPathEscape)
}

func TestFileURL_EscapesName(t *testing.T) {
	s := newTestStorage(t)
	assert.Equal(t, testBaseURL+"/uploads/my%20file%231.txt", s.FileURL("my file#1.txt"))
}

func TestSweepPartials(t *testing.T) {
	s := newTestStorage(t)

	stale := filepath.Join(s.Root().PartialDir(), "stale")
	fresh := filepath.Join(s.Root().PartialDir(), "fresh")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(fresh, []byte("x"), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	removed, err := s.SweepPartials(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}
