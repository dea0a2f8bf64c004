// Package repository defines the storage contract shared by every backend.
//
// Backends differ in their concurrency guarantees:
//
//   - gormrepo commits each call in its own transaction. Calls are not
//     grouped; concurrent updates to one rule are last-write-wins.
//   - csvrepo serializes calls inside one process only. It takes no file
//     locks, so several processes sharing a data directory need an external
//     single-writer discipline.
//   - memrepo is safe for concurrent use within one process and loses all
//     state on restart.
package repository

import (
	"context"
	"strings"

	"forwarding-audit-go/internal/model"
)

// RuleStore is CRUD, search and statistics over forwarding rules.
type RuleStore interface {
	// Create stores a new rule and assigns its ID. It fails with
	// ErrDuplicateEmail when the email is taken.
	Create(ctx context.Context, rule model.Rule) (*model.Rule, error)
	// List returns rules in ascending creation order. Out-of-range offsets
	// and non-positive limits yield an empty slice.
	List(ctx context.Context, offset, limit int) ([]model.Rule, error)
	GetByID(ctx context.Context, id uint) (*model.Rule, error)
	// FindByEmail returns the rule with exactly this email, or nil.
	FindByEmail(ctx context.Context, email string) (*model.Rule, error)
	Update(ctx context.Context, id uint, update model.RuleUpdate) (*model.Rule, error)
	// Delete removes the rule only. Callers delete its filter first.
	Delete(ctx context.Context, id uint) error
	Search(ctx context.Context, query SearchQuery) ([]model.Rule, error)
	Statistics(ctx context.Context) (model.Statistics, error)
}

// FilterStore manages the at most one filter owned by a rule and keeps the
// rule's HasForwardingFilters flag in step with it.
type FilterStore interface {
	// Create replaces any filter of the rule and sets the rule's flag.
	Create(ctx context.Context, ruleID uint, criteria, action map[string]interface{}, createdAt string) (*model.Filter, error)
	// GetForRule returns nil without error when the rule has no filter.
	GetForRule(ctx context.Context, ruleID uint) (*model.Filter, error)
	// DeleteForRule reports whether a filter was removed and clears the flag
	// when it was.
	DeleteForRule(ctx context.Context, ruleID uint) (bool, error)
	Count(ctx context.Context) (int64, error)
}

// SearchQuery holds the optional search predicates; nil means unconstrained.
type SearchQuery struct {
	EmailContains *string
	HasFilters    *bool
}

// Matches applies both predicates to r. The email match folds case with
// Unicode rules, so every backend filters emails here rather than in its
// query language.
func (q SearchQuery) Matches(r model.Rule) bool {
	if q.EmailContains != nil && !strings.Contains(strings.ToLower(r.Email), strings.ToLower(*q.EmailContains)) {
		return false
	}
	if q.HasFilters != nil && r.HasForwardingFilters != *q.HasFilters {
		return false
	}
	return true
}

// DefaultPageSize is the page size used when callers page through every rule.
const DefaultPageSize = 500

// ListAll pages through every rule in creation order.
func ListAll(ctx context.Context, rules RuleStore) ([]model.Rule, error) {
	var all []model.Rule
	for offset := 0; ; offset += DefaultPageSize {
		page, err := rules.List(ctx, offset, DefaultPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < DefaultPageSize {
			return all, nil
		}
	}
}
