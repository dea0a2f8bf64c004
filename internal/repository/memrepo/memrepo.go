// Package memrepo is the in-process backend. All state lives in one Store
// guarded by a single RWMutex, so a filter write and the matching flag change
// happen under the same lock. Nothing survives a restart.
package memrepo

import (
	"context"
	"sort"
	"sync"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
)

// Store holds rules and filters for both repository views.
type Store struct {
	mu           sync.RWMutex
	rules        map[uint]*model.Rule
	byEmail      map[string]uint
	filters      map[uint]*model.Filter // keyed by rule id
	nextRuleID   uint
	nextFilterID uint
}

// New creates an empty store.
func New() *Store {
	return &Store{
		rules:        make(map[uint]*model.Rule),
		byEmail:      make(map[string]uint),
		filters:      make(map[uint]*model.Filter),
		nextRuleID:   1,
		nextFilterID: 1,
	}
}

// Rules returns the RuleStore view.
func (s *Store) Rules() *RuleRepository {
	return &RuleRepository{s: s}
}

// Filters returns the FilterStore view.
func (s *Store) Filters() *FilterRepository {
	return &FilterRepository{s: s}
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// sortedRules returns copies ordered by id. Caller holds the lock.
func (s *Store) sortedRules() []model.Rule {
	out := make([]model.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RuleRepository implements repository.RuleStore.
type RuleRepository struct {
	s *Store
}

var _ repository.RuleStore = (*RuleRepository)(nil)

// Create stores a new rule
func (r *RuleRepository) Create(ctx context.Context, rule model.Rule) (*model.Rule, error) {
	if err := repository.ValidateRule(rule); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.byEmail[rule.Email]; ok {
		return nil, repository.ErrDuplicateEmail
	}

	rule.ID = r.s.nextRuleID
	rule.HasForwardingFilters = false
	r.s.nextRuleID++

	stored := rule
	r.s.rules[rule.ID] = &stored
	r.s.byEmail[rule.Email] = rule.ID
	return &rule, nil
}

// List returns a page of rules
func (r *RuleRepository) List(ctx context.Context, offset, limit int) ([]model.Rule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	all := r.s.sortedRules()
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || offset >= len(all) {
		return []model.Rule{}, nil
	}
	end := offset + limit
	if end > len(all) || end < offset {
		end = len(all)
	}
	return all[offset:end], nil
}

// GetByID returns a rule by id
func (r *RuleRepository) GetByID(ctx context.Context, id uint) (*model.Rule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rule, ok := r.s.rules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := *rule
	return &out, nil
}

// FindByEmail returns the rule with the exact email, or nil
func (r *RuleRepository) FindByEmail(ctx context.Context, email string) (*model.Rule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.byEmail[email]
	if !ok {
		return nil, nil
	}
	out := *r.s.rules[id]
	return &out, nil
}

// Update applies a partial update
func (r *RuleRepository) Update(ctx context.Context, id uint, update model.RuleUpdate) (*model.Rule, error) {
	if err := repository.ValidateUpdate(update); err != nil {
		return nil, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rule, ok := r.s.rules[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if update.Email != nil && *update.Email != rule.Email {
		if _, taken := r.s.byEmail[*update.Email]; taken {
			return nil, repository.ErrDuplicateEmail
		}
		delete(r.s.byEmail, rule.Email)
		r.s.byEmail[*update.Email] = id
	}
	update.Apply(rule)
	out := *rule
	return &out, nil
}

// Delete removes a rule
func (r *RuleRepository) Delete(ctx context.Context, id uint) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rule, ok := r.s.rules[id]
	if !ok {
		return repository.ErrNotFound
	}
	delete(r.s.byEmail, rule.Email)
	delete(r.s.rules, id)
	return nil
}

// Search filters rules by email substring and filter flag
func (r *RuleRepository) Search(ctx context.Context, query repository.SearchQuery) ([]model.Rule, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := []model.Rule{}
	for _, rule := range r.s.sortedRules() {
		if query.Matches(rule) {
			out = append(out, rule)
		}
	}
	return out, nil
}

// Statistics counts rules and filters
func (r *RuleRepository) Statistics(ctx context.Context) (model.Statistics, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := model.Statistics{
		TotalRules:   int64(len(r.s.rules)),
		TotalFilters: int64(len(r.s.filters)),
	}
	for _, rule := range r.s.rules {
		if rule.ForwardingEmail != "" {
			stats.ActiveForwarding++
		}
		if rule.HasForwardingFilters {
			stats.RulesWithFilters++
		}
		if rule.Error != "" {
			stats.RulesWithErrors++
		}
	}
	return stats, nil
}

// FilterRepository implements repository.FilterStore.
type FilterRepository struct {
	s *Store
}

var _ repository.FilterStore = (*FilterRepository)(nil)

// Create replaces the rule's filter and marks the rule
func (f *FilterRepository) Create(ctx context.Context, ruleID uint, criteria, action map[string]interface{}, createdAt string) (*model.Filter, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	rule, ok := f.s.rules[ruleID]
	if !ok {
		return nil, repository.ErrUnknownRule
	}

	filter := model.Filter{
		ID:        f.s.nextFilterID,
		RuleID:    ruleID,
		Criteria:  model.CloneMap(criteria),
		Action:    model.CloneMap(action),
		CreatedAt: createdAt,
	}
	f.s.nextFilterID++
	f.s.filters[ruleID] = &filter
	rule.HasForwardingFilters = true

	out := filter.Clone()
	return &out, nil
}

// GetForRule returns the rule's filter, or nil
func (f *FilterRepository) GetForRule(ctx context.Context, ruleID uint) (*model.Filter, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()

	filter, ok := f.s.filters[ruleID]
	if !ok {
		return nil, nil
	}
	out := filter.Clone()
	return &out, nil
}

// DeleteForRule removes the rule's filter and clears the flag
func (f *FilterRepository) DeleteForRule(ctx context.Context, ruleID uint) (bool, error) {
	f.s.mu.Lock()
	defer f.s.mu.Unlock()

	if _, ok := f.s.filters[ruleID]; !ok {
		return false, nil
	}
	delete(f.s.filters, ruleID)
	if rule, ok := f.s.rules[ruleID]; ok {
		rule.HasForwardingFilters = false
	}
	return true, nil
}

// Count returns the number of stored filters
func (f *FilterRepository) Count(ctx context.Context) (int64, error) {
	f.s.mu.RLock()
	defer f.s.mu.RUnlock()
	return int64(len(f.s.filters)), nil
}
