package storage

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu         sync.Mutex
	activities []Activity
}

func (f *fakeRecorder) RecordActivity(ctx context.Context, a Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activities = append(f.activities, a)
	return nil
}

func setupTestServer(t *testing.T) (*FileServer, http.Handler) {
	t.Helper()
	fs := &FileServer{Files: newTestStorage(t)}
	router := mux.NewRouter().UseEncodedPath()
	fs.RegisterRoutes(router)
	return fs, router
}

func multipartRequest(t *testing.T, method, path, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("note", "ignored"))
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func upload(t *testing.T, h http.Handler, filename string, content []byte) fileURLResponse {
	t.Helper()
	rr := serve(h, multipartRequest(t, http.MethodPost, "/upload", "file", filename, content))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp fileURLResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

// pathOf turns an issued fileUrl back into a request path on the test router.
func pathOf(t *testing.T, fileURL string) string {
	t.Helper()
	require.True(t, strings.HasPrefix(fileURL, testBaseURL), fileURL)
	return strings.TrimPrefix(fileURL, testBaseURL)
}

func storageNameOf(t *testing.T, fileURL string) string {
	t.Helper()
	name, err := url.PathUnescape(strings.TrimPrefix(pathOf(t, fileURL), "/uploads/"))
	require.NoError(t, err)
	return name
}

func listNames(t *testing.T, h http.Handler) []string {
	t.Helper()
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/files", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var files []FileInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &files))
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names
}

func decodeMessage(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var resp messageResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp), rr.Body.String())
	return resp.Message
}

func TestUpload_RoundTripsBytes(t *testing.T) {
	_, h := setupTestServer(t)

	content := make([]byte, 256*1024)
	_, err := rand.Read(content)
	require.NoError(t, err)

	resp := upload(t, h, "report.pdf", content)
	assert.Equal(t, "File uploaded successfully", resp.Message)
	assert.True(t, strings.HasPrefix(resp.FileURL, testBaseURL+"/uploads/"))
	assert.True(t, strings.HasSuffix(resp.FileURL, "-report.pdf"))

	rr := serve(h, httptest.NewRequest(http.MethodGet, pathOf(t, resp.FileURL), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, content, rr.Body.Bytes())
}

func TestUpload_SameNameTwiceGetsDistinctStorageNames(t *testing.T) {
	_, h := setupTestServer(t)

	first := upload(t, h, "report.pdf", []byte("one"))
	second := upload(t, h, "report.pdf", []byte("two"))

	assert.NotEqual(t, storageNameOf(t, first.FileURL), storageNameOf(t, second.FileURL))
	assert.Len(t, listNames(t, h), 2)
}

func TestUpload_MissingFileField(t *testing.T) {
	_, h := setupTestServer(t)

	rr := serve(h, multipartRequest(t, http.MethodPost, "/upload", "", "", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "No file uploaded", decodeMessage(t, rr))

	rr = serve(h, httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("not multipart")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "No file uploaded", decodeMessage(t, rr))
}

func TestUpload_TooLarge(t *testing.T) {
	fs, h := setupTestServer(t)
	fs.MaxUploadBytes = 1024

	rr := serve(h, multipartRequest(t, http.MethodPost, "/upload", "file", "big.bin", bytes.Repeat([]byte("x"), 64*1024)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, "File too large", decodeMessage(t, rr))
	assert.Empty(t, listNames(t, h))
}

func TestUpload_RecordsActivity(t *testing.T) {
	fs, h := setupTestServer(t)
	rec := &fakeRecorder{}
	fs.Recorder = rec

	resp := upload(t, h, "a.txt", []byte("abc"))

	require.Len(t, rec.activities, 1)
	assert.Equal(t, Activity{
		Action:       ActionUpload,
		StorageName:  storageNameOf(t, resp.FileURL),
		OriginalName: "a.txt",
		Size:         3,
	}, rec.activities[0])
}

func TestDelete_Missing(t *testing.T) {
	_, h := setupTestServer(t)
	upload(t, h, "keep.txt", []byte("keep"))
	before := listNames(t, h)

	rr := serve(h, httptest.NewRequest(http.MethodDelete, "/delete/nope.txt", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "File not found", decodeMessage(t, rr))
	assert.ElementsMatch(t, before, listNames(t, h))
}

func TestDelete_ExistingThenGet404(t *testing.T) {
	_, h := setupTestServer(t)
	resp := upload(t, h, "report.pdf", []byte("bytes"))
	other := upload(t, h, "other.pdf", []byte("other"))
	name := storageNameOf(t, resp.FileURL)

	rr := serve(h, httptest.NewRequest(http.MethodDelete, "/delete/"+url.PathEscape(name), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "File deleted successfully", decodeMessage(t, rr))

	assert.Equal(t, []string{storageNameOf(t, other.FileURL)}, listNames(t, h))

	rr = serve(h, httptest.NewRequest(http.MethodGet, pathOf(t, resp.FileURL), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "File not found", decodeMessage(t, rr))
}

func TestDelete_EncodedNameWithSpaces(t *testing.T) {
	_, h := setupTestServer(t)
	resp := upload(t, h, "my report.pdf", []byte("bytes"))

	rr := serve(h, httptest.NewRequest(http.MethodDelete, "/delete/"+url.PathEscape(storageNameOf(t, resp.FileURL)), nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, listNames(t, h))
}

func TestList_CountsAndURLs(t *testing.T) {
	_, h := setupTestServer(t)

	var issued []string
	for i := 0; i < 5; i++ {
		issued = append(issued, storageNameOf(t, upload(t, h, "f.txt", []byte{byte(i)}).FileURL))
	}
	for _, name := range issued[:2] {
		rr := serve(h, httptest.NewRequest(http.MethodDelete, "/delete/"+url.PathEscape(name), nil))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/files", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var files []FileInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &files))

	require.Len(t, files, 3)
	for _, f := range files {
		assert.Equal(t, testBaseURL+"/uploads/"+url.PathEscape(f.Name), f.URL)
	}
}

func TestList_EmptyIsArray(t *testing.T) {
	_, h := setupTestServer(t)

	rr := serve(h, httptest.NewRequest(http.MethodGet, "/files", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestReplace_Existing(t *testing.T) {
	fs, h := setupTestServer(t)
	rec := &fakeRecorder{}
	fs.Recorder = rec

	old := upload(t, h, "report.pdf", []byte("v1"))
	oldName := storageNameOf(t, old.FileURL)

	rr := serve(h, multipartRequest(t, http.MethodPut, "/update/"+url.PathEscape(oldName), "file", "report.pdf", []byte("v2")))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var resp fileURLResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, "File replaced successfully", resp.Message)
	assert.NotEqual(t, old.FileURL, resp.FileURL)

	rr = serve(h, httptest.NewRequest(http.MethodGet, pathOf(t, old.FileURL), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(h, httptest.NewRequest(http.MethodGet, pathOf(t, resp.FileURL), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "v2", rr.Body.String())

	assert.Equal(t, []string{storageNameOf(t, resp.FileURL)}, listNames(t, h))

	require.Len(t, rec.activities, 2)
	assert.Equal(t, ActionReplace, rec.activities[1].Action)
	assert.Equal(t, oldName, rec.activities[1].ReplacedName)
}

func TestReplace_MissingOldStillStoresNew(t *testing.T) {
	_, h := setupTestServer(t)

	rr := serve(h, multipartRequest(t, http.MethodPut, "/update/ghost.txt", "file", "new.txt", []byte("new")))
	require.Equal(t, http.StatusOK, rr.Code)
	var resp fileURLResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, []string{storageNameOf(t, resp.FileURL)}, listNames(t, h))
}

func TestReplace_MissingFileFieldKeepsOld(t *testing.T) {
	_, h := setupTestServer(t)
	old := upload(t, h, "a.txt", []byte("a"))
	oldName := storageNameOf(t, old.FileURL)

	rr := serve(h, multipartRequest(t, http.MethodPut, "/update/"+url.PathEscape(oldName), "", "", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, []string{oldName}, listNames(t, h))
}

func TestPathEscape_Rejected(t *testing.T) {
	fs, h := setupTestServer(t)
	outside := filepath.Join(filepath.Dir(fs.Files.Root().Path()), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("secret"), 0o644))

	encoded := url.PathEscape("../secret.txt")
	passwd := url.PathEscape("../../etc/passwd")

	cases := []*http.Request{
		httptest.NewRequest(http.MethodDelete, "/delete/"+encoded, nil),
		httptest.NewRequest(http.MethodDelete, "/delete/"+passwd, nil),
		multipartRequest(t, http.MethodPut, "/update/"+encoded, "file", "x.txt", []byte("x")),
		multipartRequest(t, http.MethodPut, "/update/"+passwd, "file", "x.txt", []byte("x")),
		httptest.NewRequest(http.MethodGet, "/uploads/"+encoded, nil),
	}
	for _, req := range cases {
		rr := serve(h, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, "%s %s", req.Method, req.URL.EscapedPath())
		assert.Equal(t, "Invalid file name", decodeMessage(t, rr))
	}

	data, err := os.ReadFile(outside)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(data))
	assert.Empty(t, listNames(t, h), "rejected replace must not store the new body")
}

func TestServe_HeadAndRange(t *testing.T) {
	_, h := setupTestServer(t)
	resp := upload(t, h, "a.txt", []byte("0123456789"))

	req := httptest.NewRequest(http.MethodGet, pathOf(t, resp.FileURL), nil)
	req.Header.Set("Range", "bytes=2-4")
	rr := serve(h, req)
	assert.Equal(t, http.StatusPartialContent, rr.Code)
	assert.Equal(t, "234", rr.Body.String())

	rr = serve(h, httptest.NewRequest(http.MethodHead, pathOf(t, resp.FileURL), nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "10", rr.Header().Get("Content-Length"))
}

func TestDelete_ConcurrentWithLocks(t *testing.T) {
	fs, h := setupTestServer(t)
	fs.Locks = NewNameLocks()
	name := storageNameOf(t, upload(t, h, "a.txt", []byte("a")).FileURL)

	codes := make(chan int, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes <- serve(h, httptest.NewRequest(http.MethodDelete, "/delete/"+url.PathEscape(name), nil)).Code
		}()
	}
	wg.Wait()
	close(codes)

	counts := map[int]int{}
	for c := range codes {
		counts[c]++
	}
	assert.Equal(t, 1, counts[http.StatusOK])
	assert.Equal(t, 7, counts[http.StatusNotFound])
}

func TestDecodeName(t *testing.T) {
	name, err := decodeName("a%20b.txt")
	require.NoError(t, err)
	assert.Equal(t, "a b.txt", name)

	name, err = decodeName("a+b.txt")
	require.NoError(t, err)
	assert.Equal(t, "a+b.txt", name)

	_, err = decodeName("%zz")
	assert.ErrorIs(t, err, ErrClientInput)
}
