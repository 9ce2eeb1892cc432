package cronmgr

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"tapasrm.dev/file-drop/backup"
	"tapasrm.dev/file-drop/journal"
	"tapasrm.dev/file-drop/storage"
)

const (
	SweepJobID  = "sweep"
	MirrorJobID = "mirror"
	BackupJobID = "backup"
)

// SweepJob removes staged uploads abandoned for longer than maxAge.
func SweepJob(files *storage.LocalStorage, maxAge time.Duration) JobFunc {
	return func(ctx context.Context) error {
		removed, err := files.SweepPartials(maxAge)
		if err != nil {
			return err
		}
		if removed > 0 {
			slog.Info("Swept stale partial uploads", "removed", removed, "max_age", maxAge)
		}
		return nil
	}
}

// MirrorJob copies the upload directory to dst and prunes files deleted
// locally.
func MirrorJob(src, dst storage.Storage) JobFunc {
	return func(ctx context.Context) error {
		_, err := backup.MirrorDirectory(ctx, src, dst, true)
		return err
	}
}

// BackupJob uploads the journal database whenever it has changed.
func BackupJob(j *journal.Journal, blobName string, store storage.Storage) JobFunc {
	return func(ctx context.Context) error {
		if err := j.Checkpoint(ctx); err != nil {
			return fmt.Errorf("checkpoint journal: %w", err)
		}
		return backup.BackupSQLite(ctx, j.Path(), blobName, store)
	}
}
