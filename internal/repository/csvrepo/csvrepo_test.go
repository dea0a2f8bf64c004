package csvrepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
	"forwarding-audit-go/internal/repository/repotest"
)

func TestConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) (repository.RuleStore, repository.FilterStore) {
		s, err := New(afero.NewMemMapFs(), "/data")
		require.NoError(t, err)
		return s.Rules(), s.Filters()
	})
}

func TestConformanceOnDisk(t *testing.T) {
	repotest.Run(t, func(t *testing.T) (repository.RuleStore, repository.FilterStore) {
		s, err := New(afero.NewOsFs(), t.TempDir())
		require.NoError(t, err)
		return s.Rules(), s.Filters()
	})
}

func TestReopenKeepsDataAndSequences(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s, err := New(fs, "/data")
	require.NoError(t, err)
	first, err := s.Rules().Create(ctx, model.Rule{Email: "a@x.com", Name: "A", Disposition: "keep"})
	require.NoError(t, err)
	second, err := s.Rules().Create(ctx, model.Rule{Email: "b@x.com", Name: "B, with comma", InvestigationNote: "line one\nline two"})
	require.NoError(t, err)
	_, err = s.Filters().Create(ctx, first.ID,
		map[string]interface{}{"from": "hacky@hackyhackers.com", "subject": "invoice"},
		map[string]interface{}{"addLabels": "TRASH"}, "2024-02-02")
	require.NoError(t, err)
	require.NoError(t, s.Rules().Delete(ctx, second.ID))

	reopened, err := New(fs, "/data")
	require.NoError(t, err)

	got, err := reopened.Rules().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.HasForwardingFilters)
	assert.Equal(t, "keep", got.Disposition)

	f, err := reopened.Filters().GetForRule(ctx, first.ID)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "invoice", f.Criteria["subject"])
	assert.Equal(t, "2024-02-02", f.CreatedAt)

	third, err := reopened.Rules().Create(ctx, model.Rule{Email: "c@x.com", Name: "C"})
	require.NoError(t, err)
	assert.Greater(t, third.ID, second.ID)
}

// renameFailFs fails renames onto one file name while armed.
type renameFailFs struct {
	afero.Fs
	target string
	armed  bool
}

func (f *renameFailFs) Rename(oldname, newname string) error {
	if f.armed && filepath.Base(newname) == f.target {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errors.New("disk full")}
	}
	return f.Fs.Rename(oldname, newname)
}

func TestFailedWriteRollsBack(t *testing.T) {
	ctx := context.Background()
	fs := &renameFailFs{Fs: afero.NewMemMapFs(), target: rulesFile}

	s, err := New(fs, "/data")
	require.NoError(t, err)
	rule, err := s.Rules().Create(ctx, model.Rule{Email: "a@x.com", Name: "A"})
	require.NoError(t, err)

	fs.armed = true
	_, err = s.Filters().Create(ctx, rule.ID, map[string]interface{}{"from": "a@b.com"}, map[string]interface{}{}, "")
	assert.ErrorIs(t, err, repository.ErrStorage)
	fs.armed = false

	f, err := s.Filters().GetForRule(ctx, rule.ID)
	require.NoError(t, err)
	assert.Nil(t, f)

	got, err := s.Rules().GetByID(ctx, rule.ID)
	require.NoError(t, err)
	assert.False(t, got.HasForwardingFilters)

	count, err := s.Filters().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReadOnlyDirectory(t *testing.T) {
	ctx := context.Background()
	base := afero.NewMemMapFs()
	s, err := New(base, "/data")
	require.NoError(t, err)
	_, err = s.Rules().Create(ctx, model.Rule{Email: "a@x.com", Name: "A"})
	require.NoError(t, err)

	ro, err := New(afero.NewReadOnlyFs(base), "/data")
	require.NoError(t, err)

	rules, err := ro.Rules().List(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	_, err = ro.Rules().Create(ctx, model.Rule{Email: "b@x.com", Name: "B"})
	assert.ErrorIs(t, err, repository.ErrStorage)

	deleted, err := ro.Filters().DeleteForRule(ctx, rules[0].ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
