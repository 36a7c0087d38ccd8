package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mmynk/ledgersync/internal/config"
	"github.com/mmynk/ledgersync/internal/ledger"
	"github.com/mmynk/ledgersync/internal/notify"
	"github.com/mmynk/ledgersync/internal/storage/sqlite"
	lsync "github.com/mmynk/ledgersync/internal/sync"
	"github.com/mmynk/ledgersync/internal/transport"
)

var errSyncDisabled = errors.New("no remote configured: set remote.url or LEDGER_REMOTE_URL")

// app wires the store, engine and sync collaborators for one process.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	store    *sqlite.SQLiteStore
	notifier *notify.LogNotifier
	ledger   *ledger.Service

	// engine is nil when no remote is configured.
	engine *lsync.Engine
}

func newApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("Storage initialized", "database", cfg.DBPath)

	notifier := notify.NewLogNotifier(logger)
	a := &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		notifier: notifier,
		ledger: ledger.NewService(store, notifier,
			ledger.WithLogger(logger),
			ledger.WithOverdueAfter(cfg.Ledger.OverdueAfter),
		),
	}

	if cfg.SyncEnabled() {
		opts := []transport.Option{
			transport.WithTimeout(cfg.Remote.Timeout),
			transport.WithDeviceID(cfg.DeviceID),
		}
		if cfg.Remote.AccessToken != "" {
			opts = append(opts, transport.WithTokenSource(transport.StaticToken(cfg.Remote.AccessToken)))
		}
		a.engine = lsync.NewEngine(lsync.Config{
			Store:        store,
			Transport:    transport.NewClient(cfg.Remote.URL, opts...),
			Reminders:    notifier,
			DeviceID:     cfg.DeviceID,
			PullLimit:    cfg.Sync.PullLimit,
			MaxPages:     cfg.Sync.MaxPages,
			MaxAttempts:  cfg.Sync.MaxAttempts,
			RetryBackoff: cfg.Sync.RetryBackoff,
			Logger:       logger,
		})
		logger.Info("Sync enabled", "remote", cfg.Remote.URL, "device_id", cfg.DeviceID)
	}

	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
