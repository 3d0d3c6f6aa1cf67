package main

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/navsync/internal/apiclient"
	"github.com/dukerupert/navsync/internal/database"
	"github.com/dukerupert/navsync/internal/dataset"
	"github.com/dukerupert/navsync/internal/scheduler"
	"github.com/dukerupert/navsync/internal/store"
	"github.com/dukerupert/navsync/internal/syncstate"
)

// clientSession bundles what the client-side commands share: the local
// dataset, the persisted sync state and the API client.
type clientSession struct {
	db      *sql.DB
	state   *syncstate.State
	dataset *dataset.FileStore
	api     *apiclient.Client
}

func openClientSession() (*clientSession, error) {
	if err := cfg.ValidateClient(); err != nil {
		return nil, err
	}

	db, err := database.Open(cfg.Client.StatePath, database.Client)
	if err != nil {
		return nil, fmt.Errorf("opening sync state: %w", err)
	}

	return &clientSession{
		db:      db,
		state:   syncstate.New(store.NewStateStore(db)),
		dataset: dataset.NewFileStore(cfg.Client.DatasetPath, version),
		api: apiclient.NewClient(apiclient.Config{
			BaseURL: cfg.Client.ServerURL,
			Token:   cfg.Client.Token,
			Timeout: cfg.Client.RequestTimeout.Duration,
		}),
	}, nil
}

func (s *clientSession) Close() error {
	return s.db.Close()
}

func schedulerConfig() scheduler.Config {
	cl := cfg.Client
	return scheduler.Config{
		MinInterval:  cl.Interval.Duration,
		LockTTL:      cl.LockTTL.Duration,
		InitialDelay: cl.InitialDelay.Duration,
		WakeInterval: cl.WakeInterval.Duration,
		Debounce:     cl.Debounce.Duration,
		MaxRetries:   cl.MaxRetries,
	}
}
