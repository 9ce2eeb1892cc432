package backup

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"tapasrm.dev/file-drop/storage"
)

const checksumSuffix = ".last_checksum"

// BackupSQLite uploads the SQLite file if checksum changed.
func BackupSQLite(ctx context.Context, dbPath, blobName string, store storage.Storage) error {
	f, err := os.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer f.Close()

	curChecksum, err := fileChecksum(f)
	if err != nil {
		return fmt.Errorf("checksum: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind db: %w", err)
	}

	lastChecksum := readLocalChecksum(checksumPath(dbPath))
	if curChecksum == lastChecksum {
		slog.Debug("Backup skipped (no change detected)", "path", dbPath, "checksum", curChecksum)
		return nil
	}

	slog.Info("Uploading SQLite backup", "path", dbPath, "blob", blobName)
	if _, err := store.UploadFile(ctx, blobName, f); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	writeLocalChecksum(checksumPath(dbPath), curChecksum)
	slog.Info("Backup successful", "path", dbPath, "blob", blobName, "checksum", curChecksum)
	return nil
}

// RestoreSQLite downloads blobName and atomically replaces the local file.
func RestoreSQLite(ctx context.Context, dbPath, blobName string, store storage.Storage) error {
	slog.Info("Restoring SQLite from blob", "path", dbPath, "blob", blobName)

	rc, err := store.DownloadFile(ctx, blobName)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer rc.Close()

	tempFile := dbPath + ".tmp"
	out, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	h := md5.New()
	_, err = io.Copy(io.MultiWriter(out, h), rc)
	out.Close()
	if err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("write file: %w", err)
	}

	checksum := hex.EncodeToString(h.Sum(nil))
	if err := os.Rename(tempFile, dbPath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("rename: %w", err)
	}

	writeLocalChecksum(checksumPath(dbPath), checksum)
	slog.Info("Restore completed", "path", dbPath, "blob", blobName, "checksum", checksum)
	return nil
}

func checksumPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "."+filepath.Base(dbPath)+checksumSuffix)
}

func fileChecksum(f *os.File) (string, error) {
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLocalChecksum(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func writeLocalChecksum(path, checksum string) {
	_ = os.WriteFile(path, []byte(checksum), 0644)
}
