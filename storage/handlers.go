package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
)

const (
	msgUploaded     = "File uploaded successfully"
	msgReplaced     = "File replaced successfully"
	msgDeleted      = "File deleted successfully"
	msgNotFound     = "File not found"
	msgNoFile       = "No file uploaded"
	msgInvalidName  = "Invalid file name"
	msgInvalidInput = "Invalid request"
	msgTooLarge     = "File too large"
	msgInternal     = "Internal server error"

	uploadField = "file"
)

var errNoFile = fmt.Errorf("%w: %s", ErrClientInput, msgNoFile)

// Activity describes a completed write or delete, for audit purposes.
type Activity struct {
	Action       string
	StorageName  string
	OriginalName string
	ReplacedName string
	Size         int64
}

const (
	ActionUpload  = "upload"
	ActionReplace = "replace"
	ActionDelete  = "delete"
)

// ActivityRecorder receives an Activity after each successful operation.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, a Activity) error
}

// FileServer serves the upload, replace, list, delete and static endpoints
// on top of a LocalStorage. Locks is optional; when nil, concurrent requests
// on the same name are not coordinated.
type FileServer struct {
	Files          *LocalStorage
	Locks          *NameLocks
	Recorder       ActivityRecorder
	MaxUploadBytes int64
}

type messageResponse struct {
	Message string `json:"message"`
}

type fileURLResponse struct {
	Message string `json:"message"`
	FileURL string `json:"fileUrl"`
}

// RegisterRoutes wires the file endpoints. The router must use encoded paths
// so that name parameters reach the handlers still percent-encoded.
func (s *FileServer) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/upload", s.HandleUpload).Methods(http.MethodPost)
	router.HandleFunc("/update/{oldFilename}", s.HandleReplace).Methods(http.MethodPut)
	router.HandleFunc("/files", s.HandleList).Methods(http.MethodGet)
	router.HandleFunc("/delete/{filename}", s.HandleDelete).Methods(http.MethodDelete)
	router.HandleFunc("/uploads/{name}", s.HandleServe).Methods(http.MethodGet, http.MethodHead)
}

func (s *FileServer) HandleUpload(w http.ResponseWriter, r *http.Request) {
	stored, err := s.receive(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.record(r.Context(), Activity{
		Action:       ActionUpload,
		StorageName:  stored.Name,
		OriginalName: stored.OriginalName,
		Size:         stored.Size,
	})

	slog.Info("File uploaded", "name", stored.Name, "original", stored.OriginalName, "size", stored.Size)
	writeJSON(w, http.StatusOK, fileURLResponse{Message: msgUploaded, FileURL: stored.URL})
}

// HandleReplace stores the new body under a fresh name and then removes the
// old file if it is still there. The old URL stops working either way.
func (s *FileServer) HandleReplace(w http.ResponseWriter, r *http.Request) {
	oldName, err := decodeName(mux.Vars(r)["oldFilename"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.Files.Root().Resolve(oldName); err != nil {
		writeError(w, r, err)
		return
	}

	unlock := s.Locks.Lock(oldName)
	defer unlock()

	stored, err := s.receive(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	exists, err := s.Files.Exists(r.Context(), oldName)
	if err != nil {
		slog.Error("Replacement stored but old file check failed", "old", oldName, "new", stored.Name, "error", err)
		writeError(w, r, err)
		return
	}
	if exists {
		if err := s.Files.DeleteFile(r.Context(), oldName); err != nil && !errors.Is(err, ErrNotFound) {
			slog.Error("Replacement stored but old file removal failed", "old", oldName, "new", stored.Name, "error", err)
			writeError(w, r, err)
			return
		}
	}

	s.record(r.Context(), Activity{
		Action:       ActionReplace,
		StorageName:  stored.Name,
		OriginalName: stored.OriginalName,
		ReplacedName: oldName,
		Size:         stored.Size,
	})

	slog.Info("File replaced", "old", oldName, "new", stored.Name, "old_existed", exists)
	writeJSON(w, http.StatusOK, fileURLResponse{Message: msgReplaced, FileURL: stored.URL})
}

func (s *FileServer) HandleList(w http.ResponseWriter, r *http.Request) {
	files, err := s.Files.ListFiles(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *FileServer) HandleDelete(w http.ResponseWriter, r *http.Request) {
	name, err := decodeName(mux.Vars(r)["filename"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	unlock := s.Locks.Lock(name)
	defer unlock()

	exists, err := s.Files.Exists(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !exists {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: msgNotFound})
		return
	}
	if err := s.Files.DeleteFile(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}

	s.record(r.Context(), Activity{Action: ActionDelete, StorageName: name})
	slog.Info("File deleted", "name", name)
	writeJSON(w, http.StatusOK, messageResponse{Message: msgDeleted})
}

// HandleServe streams a stored file back with range and conditional request
// support.
func (s *FileServer) HandleServe(w http.ResponseWriter, r *http.Request) {
	name, err := decodeName(mux.Vars(r)["name"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	f, info, err := s.Files.Open(name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// receive streams the multipart "file" field straight into storage.
func (s *FileServer) receive(w http.ResponseWriter, r *http.Request) (StoredFile, error) {
	if s.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return StoredFile{}, fmt.Errorf("%w: %v", errNoFile, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return StoredFile{}, errNoFile
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return StoredFile{}, err
			}
			return StoredFile{}, fmt.Errorf("%w: malformed multipart body: %v", ErrClientInput, err)
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		stored, err := s.Files.Save(r.Context(), part.FileName(), part)
		part.Close()
		return stored, err
	}
}

func (s *FileServer) record(ctx context.Context, a Activity) {
	if s.Recorder == nil {
		return
	}
	if err := s.Recorder.RecordActivity(ctx, a); err != nil {
		slog.Warn("Failed to record activity", "action", a.Action, "name", a.StorageName, "error", err)
	}
}

func decodeName(raw string) (string, error) {
	name, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoded name %q", ErrClientInput, raw)
	}
	return name, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

// writeError maps a storage error onto a status code and a generic message.
// Details stay in the server log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := http.StatusInternalServerError, msgInternal

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		status, message = http.StatusRequestEntityTooLarge, msgTooLarge
	case errors.Is(err, ErrPathEscape):
		status, message = http.StatusBadRequest, msgInvalidName
	case errors.Is(err, ErrClientInput):
		status, message = http.StatusBadRequest, clientMessage(err)
	case errors.Is(err, ErrNotFound):
		status, message = http.StatusNotFound, msgNotFound
	}

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		slog.Info("Request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, messageResponse{Message: message})
}

func clientMessage(err error) string {
	if errors.Is(err, errNoFile) {
		return msgNoFile
	}
	return msgInvalidInput
}
