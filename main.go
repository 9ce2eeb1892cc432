package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"tapasrm.dev/file-drop/backup"
	"tapasrm.dev/file-drop/config"
	"tapasrm.dev/file-drop/cronmgr"
	"tapasrm.dev/file-drop/journal"
	"tapasrm.dev/file-drop/middleware"
	"tapasrm.dev/file-drop/storage"
)

func setupLogger(format string, level slog.Level) {
	// JSON for log shippers, text for humans
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		setupLogger("text", slog.LevelInfo)
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := storage.NewRoot(cfg.UploadDir)
	if err == nil {
		err = root.EnsureRoot()
	}
	if err != nil {
		slog.Error("Failed to initialize upload directory", "dir", cfg.UploadDir, "error", err)
		os.Exit(1)
	}
	files := storage.NewLocalStorage(root, cfg.BackendURL)
	slog.Info("Upload directory ready", "path", root.Path())

	var assetsStore, backupStore *storage.AzureBlobStorage
	if cfg.Azure.Enabled() {
		assetsStore, err = storage.NewAzureBlobStorage(cfg.Azure.Account, cfg.Azure.Key, cfg.Azure.AssetsContainer, cfg.Azure.PublicBaseURL)
		if err != nil {
			slog.Error("Failed to initialize assets storage", "error", err)
			os.Exit(1)
		}
		backupStore, err = storage.NewAzureBlobStorage(cfg.Azure.Account, cfg.Azure.Key, cfg.Azure.BackupContainer, "")
		if err != nil {
			slog.Error("Failed to initialize backup storage", "error", err)
			os.Exit(1)
		}
		for _, store := range []*storage.AzureBlobStorage{assetsStore, backupStore} {
			if err := store.EnsureContainer(ctx); err != nil {
				slog.Warn("Could not ensure blob container", "container", store.Name(), "error", err)
			}
		}
		slog.Info("Azure blob storage initialized", "assets_container", cfg.Azure.AssetsContainer, "backup_container", cfg.Azure.BackupContainer)
	} else {
		slog.Info("Azure storage not configured, mirroring and journal backup disabled", "hint", "Set AZURE_STORAGE_ACCOUNT, AZURE_STORAGE_KEY, ASSETS_CONTAINER, and BACKUP_CONTAINER to enable blob storage")
	}

	var jrnl *journal.Journal
	journalBlob := "file_drop_backups/" + filepath.Base(cfg.JournalPath)
	if cfg.JournalPath != "" {
		if _, statErr := os.Stat(cfg.JournalPath); errors.Is(statErr, os.ErrNotExist) && backupStore != nil {
			if err := backup.RestoreSQLite(ctx, cfg.JournalPath, journalBlob, backupStore); err != nil {
				slog.Info("No existing journal backup found, starting fresh", "error", err)
			}
		}
		jrnl, err = journal.Open(cfg.JournalPath)
		if err != nil {
			slog.Error("Failed to open journal", "path", cfg.JournalPath, "error", err)
			os.Exit(1)
		}
		defer jrnl.Close()
	}

	manager, err := cronmgr.NewCronManager()
	if err != nil {
		slog.Error("Failed to create job manager", "error", err)
		os.Exit(1)
	}
	if err := manager.AddJob(cronmgr.SweepJobID, "Sweep partial uploads", cfg.SweepSchedule, cronmgr.SweepJob(files, cfg.PartialMaxAge)); err != nil {
		slog.Error("Failed to schedule sweep job", "error", err)
		os.Exit(1)
	}
	if assetsStore != nil {
		if err := manager.AddJob(cronmgr.MirrorJobID, "Mirror uploads to blob storage", cfg.MirrorSchedule, cronmgr.MirrorJob(files, assetsStore)); err != nil {
			slog.Error("Failed to schedule mirror job", "error", err)
			os.Exit(1)
		}
	}
	if backupStore != nil && jrnl != nil {
		if err := manager.AddJob(cronmgr.BackupJobID, "Back up journal", cfg.BackupSchedule, cronmgr.BackupJob(jrnl, journalBlob, backupStore)); err != nil {
			slog.Error("Failed to schedule backup job", "error", err)
			os.Exit(1)
		}
	}
	manager.Start()
	defer manager.Stop()

	fileServer := &storage.FileServer{
		Files:          files,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}
	if cfg.NameLocks {
		fileServer.Locks = storage.NewNameLocks()
		slog.Info("Per-name advisory locks enabled")
	}
	if jrnl != nil {
		fileServer.Recorder = jrnl
	}

	// Name parameters must reach handlers percent-encoded so that an encoded
	// "/" or ".." is decoded and checked by the handler, not by the router.
	router := mux.NewRouter().UseEncodedPath()
	router.Use(middleware.SecurityHeaders)
	fileServer.RegisterRoutes(router)
	manager.RegisterRoutes(router)
	if jrnl != nil {
		router.HandleFunc("/api/journal", jrnl.HandleRecent).Methods(http.MethodGet)
	}
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	handler := middleware.RequestLogger(middleware.CORS(cfg.FrontendURL)(router))

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		slog.Info("Shutting down", "timeout", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Graceful shutdown failed", "error", err)
		}
	}()

	slog.Info("Server starting", "address", server.Addr, "backend_url", cfg.BackendURL, "frontend_url", cfg.FrontendURL)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	<-shutdownDone
	slog.Info("Server stopped")
}
