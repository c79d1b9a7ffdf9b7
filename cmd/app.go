package cmd

import (
	"fmt"

	"github.com/marcus/plate/internal/clipboard"
	"github.com/marcus/plate/internal/config"
	"github.com/marcus/plate/internal/crypto"
	"github.com/marcus/plate/internal/db"
	"github.com/marcus/plate/internal/events"
	"github.com/marcus/plate/internal/history"
	"github.com/marcus/plate/internal/models"
	"github.com/marcus/plate/internal/shell"
	platesync "github.com/marcus/plate/internal/sync"
	"github.com/marcus/plate/internal/syncclient"
	"github.com/marcus/plate/internal/syncconfig"
)

// newClipboard is swapped out by tests
var newClipboard = func() clipboard.Clipboard { return clipboard.NewSystem() }

// app is the local stack: config, database, codec, history and the shell
// service that owns the settings record.
type app struct {
	cfg     *config.Config
	db      *db.DB
	codec   *crypto.Codec
	history *history.Store
	clip    clipboard.Clipboard
	bus     *events.Bus
	svc     *shell.Service
}

// openApp resolves config and opens the local history. writer receives
// clipboard writes made through the service; nil writes straight to the
// clipboard.
func openApp(writer shell.ClipboardWriter) (*app, error) {
	cfg, err := config.Resolve()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return openAppWith(cfg, writer)
}

func openAppWith(cfg *config.Config, writer shell.ClipboardWriter) (*app, error) {
	secret, err := config.EnsureEncryptionSecret()
	if err != nil {
		return nil, fmt.Errorf("encryption secret: %w", err)
	}
	codec, err := crypto.NewCodec(secret)
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	// The bound must be the saved one before Load, or a larger saved history
	// would be cut to the default.
	settings, err := database.LoadSettings()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("load settings: %w", err)
	}
	store := history.New(database, settings.MaxHistoryItems, codec)
	if err := store.Load(); err != nil {
		database.Close()
		return nil, fmt.Errorf("load history: %w", err)
	}

	a := &app{
		cfg:     cfg,
		db:      database,
		codec:   codec,
		history: store,
		clip:    newClipboard(),
		bus:     events.NewBus(),
	}
	if a.svc, err = a.newService(writer); err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) newService(writer shell.ClipboardWriter) (*shell.Service, error) {
	return shell.NewService(shell.Options{
		Clipboard: a.clip,
		Writer:    writer,
		History:   a.history,
		Store:     a.db,
		Codec:     a.codec,
		Events:    a.bus,
	})
}

// settings reads the live record from whichever service is current
func (a *app) settings() models.Settings {
	return a.svc.Settings()
}

// Close releases the database and stops event delivery
func (a *app) Close() error {
	a.bus.Close()
	return a.db.Close()
}

// newEngine builds the sync engine from the stored credentials. The engine
// is disconnected until Connect or Run.
func (a *app) newEngine() (*platesync.Engine, error) {
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, fmt.Errorf("device id: %w", err)
	}
	client := syncclient.New(a.cfg.ServerURL, syncconfig.GetToken(), deviceID)
	client.Timeout = syncconfig.GetRequestTimeout()
	client.MaxRetries = syncconfig.GetMaxRetries()

	return platesync.New(platesync.Options{
		Client:   client,
		Store:    a.history,
		Codec:    a.codec,
		Events:   a.bus,
		Settings: a.settings,
		Cursor:   a.db,
	})
}
