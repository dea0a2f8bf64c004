// Package csvrepo is the flat-file backend: rules.csv, filters.csv and
// sequences.csv in one directory. Each mutation reloads the directory,
// applies the change, and rewrites the files through temp-file renames.
//
// The mutex below only serializes callers inside this process. Nothing locks
// the files themselves; processes sharing a directory must agree on a single
// writer.
package csvrepo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
)

// errUnchanged lets a mutation skip the rewrite when it changed nothing.
var errUnchanged = errors.New("unchanged")

// Store bundles the rule and filter repositories over one data directory.
type Store struct {
	mu  sync.RWMutex
	fs  afero.Fs
	dir string
}

// New opens dir on fs, creating empty tables when they are missing.
func New(fs afero.Fs, dir string) (*Store, error) {
	if _, err := fs.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := fs.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("stat data dir: %w", err)
	}
	s := &Store{fs: fs, dir: dir}

	tables := []struct {
		name   string
		header []string
	}{
		{rulesFile, ruleHeader},
		{filtersFile, filterHeader},
		{sequencesFile, sequenceHeader},
	}
	for _, t := range tables {
		path := filepath.Join(dir, t.name)
		if _, err := fs.Stat(path); err == nil {
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", t.name, err)
		}
		if err := writeTable(fs, path, t.header, nil); err != nil {
			return nil, fmt.Errorf("create %s: %w", t.name, err)
		}
	}

	logrus.WithField("dir", dir).Info("CSV store opened")
	return s, nil
}

// Rules returns the RuleStore view.
func (s *Store) Rules() *RuleRepository {
	return &RuleRepository{s: s}
}

// Filters returns the FilterStore view.
func (s *Store) Filters() *FilterRepository {
	return &FilterRepository{s: s}
}

// Ping checks that the data directory is reachable.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.fs.Stat(s.dir)
	return err
}

func (s *Store) view(op string, fn func(d *dataset) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := load(s.fs, s.dir)
	if err != nil {
		return repository.NewStorageError(op, err)
	}
	return fn(d)
}

// mutate applies fn and persists the result. When persisting fails the
// previous content is written back so a failed call leaves no partial change.
func (s *Store) mutate(op string, fn func(d *dataset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := load(s.fs, s.dir)
	if err != nil {
		return repository.NewStorageError(op, err)
	}
	before := d.clone()

	if err := fn(d); err != nil {
		if errors.Is(err, errUnchanged) {
			return nil
		}
		return err
	}
	if err := save(s.fs, s.dir, d); err != nil {
		if rbErr := save(s.fs, s.dir, before); rbErr != nil {
			logrus.WithFields(logrus.Fields{"op": op, "dir": s.dir}).Errorf("CSV rollback failed: %v", rbErr)
		}
		return repository.NewStorageError(op, err)
	}
	return nil
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

	err := r.s.mutate("create rule", func(d *dataset) error {
		if d.emailIndex(rule.Email) >= 0 {
			return repository.ErrDuplicateEmail
		}
		rule.ID = d.nextRuleID
		rule.HasForwardingFilters = false
		d.nextRuleID++
		d.rules = append(d.rules, rule)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// List returns a page of rules
func (r *RuleRepository) List(ctx context.Context, offset, limit int) ([]model.Rule, error) {
	out := []model.Rule{}
	err := r.s.view("list rules", func(d *dataset) error {
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || offset >= len(d.rules) {
			return nil
		}
		end := offset + limit
		if end > len(d.rules) || end < offset {
			end = len(d.rules)
		}
		out = append(out, d.rules[offset:end]...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID returns a rule by id
func (r *RuleRepository) GetByID(ctx context.Context, id uint) (*model.Rule, error) {
	var rule model.Rule
	err := r.s.view("get rule", func(d *dataset) error {
		i := d.ruleIndex(id)
		if i < 0 {
			return repository.ErrNotFound
		}
		rule = d.rules[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// FindByEmail returns the rule with the exact email, or nil
func (r *RuleRepository) FindByEmail(ctx context.Context, email string) (*model.Rule, error) {
	var found *model.Rule
	err := r.s.view("find rule by email", func(d *dataset) error {
		if i := d.emailIndex(email); i >= 0 {
			rule := d.rules[i]
			found = &rule
		}
		return nil
	})
	return found, err
}

// Update applies a partial update
func (r *RuleRepository) Update(ctx context.Context, id uint, update model.RuleUpdate) (*model.Rule, error) {
	if err := repository.ValidateUpdate(update); err != nil {
		return nil, err
	}

	var rule model.Rule
	err := r.s.mutate("update rule", func(d *dataset) error {
		i := d.ruleIndex(id)
		if i < 0 {
			return repository.ErrNotFound
		}
		if update.Email != nil && *update.Email != d.rules[i].Email && d.emailIndex(*update.Email) >= 0 {
			return repository.ErrDuplicateEmail
		}
		update.Apply(&d.rules[i])
		rule = d.rules[i]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// Delete removes a rule
func (r *RuleRepository) Delete(ctx context.Context, id uint) error {
	return r.s.mutate("delete rule", func(d *dataset) error {
		i := d.ruleIndex(id)
		if i < 0 {
			return repository.ErrNotFound
		}
		d.rules = append(d.rules[:i], d.rules[i+1:]...)
		return nil
	})
}

// Search filters rules by email substring and filter flag
func (r *RuleRepository) Search(ctx context.Context, query repository.SearchQuery) ([]model.Rule, error) {
	out := []model.Rule{}
	err := r.s.view("search rules", func(d *dataset) error {
		for _, rule := range d.rules {
			if query.Matches(rule) {
				out = append(out, rule)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Statistics counts rules and filters from one load of the directory
func (r *RuleRepository) Statistics(ctx context.Context) (model.Statistics, error) {
	var stats model.Statistics
	err := r.s.view("rule statistics", func(d *dataset) error {
		stats.TotalRules = int64(len(d.rules))
		stats.TotalFilters = int64(len(d.filters))
		for _, rule := range d.rules {
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
		return nil
	})
	return stats, err
}

// FilterRepository implements repository.FilterStore.
type FilterRepository struct {
	s *Store
}

var _ repository.FilterStore = (*FilterRepository)(nil)

// Create replaces the rule's filter and marks the rule
func (f *FilterRepository) Create(ctx context.Context, ruleID uint, criteria, action map[string]interface{}, createdAt string) (*model.Filter, error) {
	var filter model.Filter
	err := f.s.mutate("create filter", func(d *dataset) error {
		i := d.ruleIndex(ruleID)
		if i < 0 {
			return repository.ErrUnknownRule
		}
		filter = model.Filter{
			ID:        d.nextFilterID,
			RuleID:    ruleID,
			Criteria:  model.CloneMap(criteria),
			Action:    model.CloneMap(action),
			CreatedAt: createdAt,
		}
		d.nextFilterID++
		d.filters[ruleID] = filter
		d.rules[i].HasForwardingFilters = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := filter.Clone()
	return &out, nil
}

// GetForRule returns the rule's filter, or nil
func (f *FilterRepository) GetForRule(ctx context.Context, ruleID uint) (*model.Filter, error) {
	var found *model.Filter
	err := f.s.view("get filter", func(d *dataset) error {
		if filter, ok := d.filters[ruleID]; ok {
			out := filter.Clone()
			found = &out
		}
		return nil
	})
	return found, err
}

// DeleteForRule removes the rule's filter and clears the flag
func (f *FilterRepository) DeleteForRule(ctx context.Context, ruleID uint) (bool, error) {
	var deleted bool
	err := f.s.mutate("delete filter", func(d *dataset) error {
		if _, ok := d.filters[ruleID]; !ok {
			return errUnchanged
		}
		delete(d.filters, ruleID)
		if i := d.ruleIndex(ruleID); i >= 0 {
			d.rules[i].HasForwardingFilters = false
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// Count returns the number of stored filters
func (f *FilterRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := f.s.view("count filters", func(d *dataset) error {
		n = int64(len(d.filters))
		return nil
	})
	return n, err
}
