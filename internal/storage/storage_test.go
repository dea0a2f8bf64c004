package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwarding-audit-go/internal/config"
	"forwarding-audit-go/internal/model"
)

func roundTrip(t *testing.T, b *Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.Ping(ctx))

	created, err := b.Rules.Create(ctx, model.Rule{Email: "user@example.com", Name: "User"})
	require.NoError(t, err)

	_, err = b.Filters.Create(ctx, created.ID, map[string]interface{}{"from": "x"}, nil, "")
	require.NoError(t, err)

	got, err := b.Rules.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, got.HasForwardingFilters)
}

func TestOpenMemory(t *testing.T) {
	b, err := Open(&config.Config{Storage: config.StorageConfig{Backend: config.BackendMemory}}, nil)
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, config.BackendMemory, b.Name)
	roundTrip(t, b)
}

func TestOpenCSV(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := &config.Config{Storage: config.StorageConfig{Backend: config.BackendCSV, DataDir: "/data"}}

	b, err := Open(cfg, fs)
	require.NoError(t, err)
	roundTrip(t, b)

	ok, err := afero.Exists(fs, "/data/rules.csv")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenCSVLogsOnce(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()
	level := logrus.GetLevel()
	logrus.SetLevel(logrus.InfoLevel)
	defer logrus.SetLevel(level)

	cfg := &config.Config{Storage: config.StorageConfig{Backend: config.BackendCSV, DataDir: "/data"}}
	_, err := Open(cfg, afero.NewMemMapFs())
	require.NoError(t, err)

	opened := 0
	for _, e := range hook.AllEntries() {
		if e.Message == "CSV store opened" {
			opened++
		}
	}
	assert.Equal(t, 1, opened)
}

func TestOpenGormSQLite(t *testing.T) {
	cfg := &config.Config{
		Storage: config.StorageConfig{Backend: config.BackendGorm},
		Database: config.DatabaseConfig{
			Driver: config.DriverSQLite,
			Path:   filepath.Join(t.TempDir(), "audit.db"),
		},
	}

	b, err := Open(cfg, nil)
	require.NoError(t, err)
	defer b.Close()

	roundTrip(t, b)
}

func TestOpenUnknown(t *testing.T) {
	_, err := Open(&config.Config{Storage: config.StorageConfig{Backend: "redis"}}, nil)
	assert.Error(t, err)
}
