package importer

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
	"forwarding-audit-go/internal/repository/csvrepo"
	"forwarding-audit-go/internal/repository/gormrepo"
	"forwarding-audit-go/internal/repository/memrepo"
)

type snapshotRow struct {
	Rule   model.Rule
	Filter *model.Filter
}

func snapshot(t *testing.T, rules repository.RuleStore, filters repository.FilterStore) []snapshotRow {
	t.Helper()
	ctx := context.Background()

	all, err := repository.ListAll(ctx, rules)
	require.NoError(t, err)

	rows := make([]snapshotRow, 0, len(all))
	for _, r := range all {
		f, err := filters.GetForRule(ctx, r.ID)
		require.NoError(t, err)
		if f != nil {
			// filter ids are reassigned on every import
			f.ID = 0
		}
		rows = append(rows, snapshotRow{Rule: r, Filter: f})
	}
	return rows
}

type storeFactory func(t *testing.T) (repository.RuleStore, repository.FilterStore)

func memStore(t *testing.T) (repository.RuleStore, repository.FilterStore) {
	store := memrepo.New()
	return store.Rules(), store.Filters()
}

func gormStore(t *testing.T) (repository.RuleStore, repository.FilterStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "audit.db")), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, gormrepo.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := gormrepo.New(db)
	return store.Rules(), store.Filters()
}

func csvStore(t *testing.T) (repository.RuleStore, repository.FilterStore) {
	t.Helper()
	store, err := csvrepo.New(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	return store.Rules(), store.Filters()
}

func TestImportAllIsIdempotent(t *testing.T) {
	backends := []struct {
		name string
		open storeFactory
	}{
		{"memory", memStore},
		{"gorm", gormStore},
		{"csv", csvStore},
	}

	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			rules, filters := b.open(t)
			im := New(rules, filters)

			first, err := im.ImportAll(ctx, SampleRecords())
			require.NoError(t, err)
			assert.Equal(t, Result{Created: 4, FiltersCreated: 3}, first)

			statsBefore, err := rules.Statistics(ctx)
			require.NoError(t, err)
			before := snapshot(t, rules, filters)

			second, err := im.ImportAll(ctx, SampleRecords())
			require.NoError(t, err)
			assert.Equal(t, Result{Updated: 4, FiltersCreated: 3, FiltersRemoved: 3}, second)

			statsAfter, err := rules.Statistics(ctx)
			require.NoError(t, err)
			assert.Equal(t, statsBefore, statsAfter)
			assert.Equal(t, before, snapshot(t, rules, filters))

			assert.Equal(t, model.Statistics{
				TotalRules:       4,
				ActiveForwarding: 3,
				RulesWithFilters: 3,
				RulesWithErrors:  1,
				TotalFilters:     3,
			}, statsAfter)
		})
	}
}

func TestImportAllReplacesFields(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	im := New(store.Rules(), store.Filters())

	_, err := im.ImportAll(ctx, []Record{{
		Email:           "user1@example.com",
		Name:            "John Doe",
		ForwardingEmail: "forwarding@example.com",
		Disposition:     "keep",
		Filter: &FilterRecord{
			Criteria: map[string]interface{}{"from": "a@b.com"},
			Action:   map[string]interface{}{"forward": "c@d.com"},
		},
	}})
	require.NoError(t, err)

	// Absent optionals are cleared, not merged, and the filter goes away.
	res, err := im.ImportAll(ctx, []Record{{Email: "user1@example.com", Name: "John D."}})
	require.NoError(t, err)
	assert.Equal(t, Result{Updated: 1, FiltersRemoved: 1}, res)

	rule, err := store.Rules().FindByEmail(ctx, "user1@example.com")
	require.NoError(t, err)
	require.NotNil(t, rule)
	assert.Equal(t, "John D.", rule.Name)
	assert.Empty(t, rule.ForwardingEmail)
	assert.Empty(t, rule.Disposition)
	assert.False(t, rule.HasForwardingFilters)

	f, err := store.Filters().GetForRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestImportAllIgnoresIncomingFlag(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	im := New(store.Rules(), store.Filters())

	_, err := im.ImportAll(ctx, []Record{{Email: "x@example.com", Name: "X", HasForwardingFilters: true}})
	require.NoError(t, err)

	rule, err := store.Rules().FindByEmail(ctx, "x@example.com")
	require.NoError(t, err)
	assert.False(t, rule.HasForwardingFilters)
}

func TestImportAllStopsOnInvalidRecord(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	im := New(store.Rules(), store.Filters())

	res, err := im.ImportAll(ctx, []Record{
		{Email: "ok@example.com", Name: "Ok"},
		{Email: "  ", Name: "Blank"},
		{Email: "never@example.com", Name: "Never"},
	})
	require.ErrorIs(t, err, ErrInvalidRecord)
	assert.Equal(t, 1, res.Records())

	all, err := repository.ListAll(ctx, store.Rules())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestImportAllRequiresName(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	im := New(store.Rules(), store.Filters())

	res, err := im.ImportAll(ctx, []Record{{Email: "noname@example.com", Name: " "}})
	require.ErrorIs(t, err, ErrInvalidRecord)
	assert.Zero(t, res.Records())

	rule, err := store.Rules().FindByEmail(ctx, "noname@example.com")
	require.NoError(t, err)
	assert.Nil(t, rule)
}
