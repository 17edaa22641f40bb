package main

import (
	"fmt"

	"github.com/mwsrs/reviews/internal/offline/db"
	"github.com/mwsrs/reviews/internal/offline/gateway"
	"github.com/mwsrs/reviews/internal/offline/sync"
	"github.com/mwsrs/reviews/internal/ui"
)

// app is the wiring shared by every command that touches data.
type app struct {
	store *db.DB
	api   *gateway.Gateway
	coord sync.Coordinator
}

// openApp opens the store and API client. An unusable store does not stop
// the command: reads and writes then go straight to the API.
func openApp(opts ...sync.Option) (*app, error) {
	store, err := db.Open(cfg.Store.Path)
	if err != nil {
		logs.Logger("db").Printf("%s local store unavailable, continuing without cache: %v", ui.RenderWarn("Warning:"), err)
		store = db.Disabled(err)
	}

	api, err := gateway.New(gateway.Config{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Logger:  logs.Debug("gateway"),
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}

	return &app{
		store: store,
		api:   api,
		coord: sync.New(store, api, logs.Logger("sync"), opts...),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
