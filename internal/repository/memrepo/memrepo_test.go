package memrepo

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
	"forwarding-audit-go/internal/repository/repotest"
)

func TestConformance(t *testing.T) {
	repotest.Run(t, func(t *testing.T) (repository.RuleStore, repository.FilterStore) {
		s := New()
		return s.Rules(), s.Filters()
	})
}

func TestConcurrentFilterWritesKeepFlag(t *testing.T) {
	ctx := context.Background()
	s := New()
	rules, filters := s.Rules(), s.Filters()

	var ids []uint
	for i := 0; i < 20; i++ {
		r, err := rules.Create(ctx, model.Rule{Email: fmt.Sprintf("u%d@x.com", i), Name: "u"})
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(2)
		go func(id uint) {
			defer wg.Done()
			_, _ = filters.Create(ctx, id, map[string]interface{}{"from": "a@b.com"}, map[string]interface{}{}, "")
		}(id)
		go func(id uint) {
			defer wg.Done()
			_, _ = filters.DeleteForRule(ctx, id)
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		rule, err := rules.GetByID(ctx, id)
		require.NoError(t, err)
		f, err := filters.GetForRule(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, f != nil, rule.HasForwardingFilters, "rule %d", id)
	}
}
