package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tapasrm.dev/file-drop/storage"
)

// MirrorResult counts what a mirror pass changed.
type MirrorResult struct {
	Uploaded int
	Deleted  int
	Failed   int
}

// MirrorDirectory copies every file in src that dst lacks. Storage names are
// never reused for different content, so a name present on both sides is
// treated as up to date. With prune set, names only dst has are deleted.
// Per-file failures are collected and do not stop the pass.
func MirrorDirectory(ctx context.Context, src, dst storage.Storage, prune bool) (MirrorResult, error) {
	var result MirrorResult

	local, err := src.ListFiles(ctx)
	if err != nil {
		return result, fmt.Errorf("list source: %w", err)
	}
	remote, err := dst.ListFiles(ctx)
	if err != nil {
		return result, fmt.Errorf("list destination: %w", err)
	}

	remoteNames := make(map[string]bool, len(remote))
	for _, f := range remote {
		remoteNames[f.Name] = true
	}
	localNames := make(map[string]bool, len(local))

	var errs []error
	for _, f := range local {
		localNames[f.Name] = true
		if remoteNames[f.Name] {
			continue
		}
		if err := copyFile(ctx, src, dst, f.Name); err != nil {
			// the file may have been deleted after listing
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			result.Failed++
			errs = append(errs, err)
			continue
		}
		result.Uploaded++
	}

	if prune {
		for _, f := range remote {
			if localNames[f.Name] {
				continue
			}
			if err := dst.DeleteFile(ctx, f.Name); err != nil && !errors.Is(err, storage.ErrNotFound) {
				result.Failed++
				errs = append(errs, fmt.Errorf("delete %s: %w", f.Name, err))
				continue
			}
			result.Deleted++
		}
	}

	slog.Info("Mirror pass finished", "uploaded", result.Uploaded, "deleted", result.Deleted, "failed", result.Failed)
	return result, errors.Join(errs...)
}

func copyFile(ctx context.Context, src, dst storage.Storage, name string) error {
	rc, err := src.DownloadFile(ctx, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	defer rc.Close()

	if _, err := dst.UploadFile(ctx, name, rc); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}
	return nil
}
