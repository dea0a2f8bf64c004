// Package storage opens the configured repository backend.
package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"forwarding-audit-go/internal/config"
	"forwarding-audit-go/internal/database"
	"forwarding-audit-go/internal/repository"
	"forwarding-audit-go/internal/repository/csvrepo"
	"forwarding-audit-go/internal/repository/gormrepo"
	"forwarding-audit-go/internal/repository/memrepo"
)

// Backend bundles the two stores of one backend with its lifecycle hooks.
type Backend struct {
	Name    string
	Rules   repository.RuleStore
	Filters repository.FilterStore

	ping  func(ctx context.Context) error
	close func() error
}

// Ping reports whether the backend can serve requests.
func (b *Backend) Ping(ctx context.Context) error {
	if b.ping == nil {
		return nil
	}
	return b.ping(ctx)
}

// Close releases backend resources.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

// Open builds the backend named by cfg.Storage.Backend. fs is used by the
// csv backend only.
func Open(cfg *config.Config, fs afero.Fs) (*Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendGorm:
		db, err := database.InitDatabase(cfg.Database)
		if err != nil {
			return nil, err
		}
		store := gormrepo.New(db)
		return &Backend{
			Name:    config.BackendGorm,
			Rules:   store.Rules(),
			Filters: store.Filters(),
			ping:    store.Ping,
			close:   store.Close,
		}, nil

	case config.BackendCSV:
		store, err := csvrepo.New(fs, cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open csv store: %w", err)
		}
		return &Backend{
			Name:    config.BackendCSV,
			Rules:   store.Rules(),
			Filters: store.Filters(),
			ping:    store.Ping,
		}, nil

	case config.BackendMemory:
		store := memrepo.New()
		logrus.Warn("Using in-memory store, data will not survive a restart")
		return &Backend{
			Name:    config.BackendMemory,
			Rules:   store.Rules(),
			Filters: store.Filters(),
			ping:    store.Ping,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
