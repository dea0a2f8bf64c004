// Package gormrepo is the relational backend. Every call runs in its own
// transaction; there is no grouping across calls.
package gormrepo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
)

// Store bundles the rule and filter repositories over one connection.
type Store struct {
	db *gorm.DB
}

// New creates a store on an already migrated connection.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Rule{}, &model.Filter{})
}

// Rules returns the RuleStore view.
func (s *Store) Rules() *RuleRepository {
	return &RuleRepository{db: s.db, filters: s.Filters()}
}

// Filters returns the FilterStore view.
func (s *Store) Filters() *FilterRepository {
	return &FilterRepository{db: s.db}
}

// Ping runs a trivial query.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("SELECT 1").Error
}

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RuleRepository implements repository.RuleStore.
type RuleRepository struct {
	db      *gorm.DB
	filters *FilterRepository
}

var _ repository.RuleStore = (*RuleRepository)(nil)

func emailTaken(tx *gorm.DB, email string, exceptID uint) (bool, error) {
	var count int64
	q := tx.Model(&model.Rule{}).Where("email = ?", email)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// Create stores a new rule
func (r *RuleRepository) Create(ctx context.Context, rule model.Rule) (*model.Rule, error) {
	if err := repository.ValidateRule(rule); err != nil {
		return nil, err
	}

	rule.ID = 0
	rule.HasForwardingFilters = false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := emailTaken(tx, rule.Email, 0)
		if err != nil {
			return err
		}
		if taken {
			return repository.ErrDuplicateEmail
		}
		return tx.Create(&rule).Error
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, repository.ErrDuplicateEmail
		}
		return nil, repository.NewStorageError("create rule", err)
	}
	return &rule, nil
}

// List returns a page of rules
func (r *RuleRepository) List(ctx context.Context, offset, limit int) ([]model.Rule, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		return []model.Rule{}, nil
	}

	rules := []model.Rule{}
	if err := r.db.WithContext(ctx).Order("id ASC").Offset(offset).Limit(limit).Find(&rules).Error; err != nil {
		return nil, repository.NewStorageError("list rules", err)
	}
	return rules, nil
}

// GetByID returns a rule by id
func (r *RuleRepository) GetByID(ctx context.Context, id uint) (*model.Rule, error) {
	var rule model.Rule
	if err := r.db.WithContext(ctx).First(&rule, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, repository.NewStorageError("get rule", err)
	}
	return &rule, nil
}

// FindByEmail returns the rule with the exact email, or nil
func (r *RuleRepository) FindByEmail(ctx context.Context, email string) (*model.Rule, error) {
	var rule model.Rule
	result := r.db.WithContext(ctx).Where("email = ?", email).Limit(1).Find(&rule)
	if result.Error != nil {
		return nil, repository.NewStorageError("find rule by email", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &rule, nil
}

// Update applies a partial update
func (r *RuleRepository) Update(ctx context.Context, id uint, update model.RuleUpdate) (*model.Rule, error) {
	if err := repository.ValidateUpdate(update); err != nil {
		return nil, err
	}

	var rule model.Rule
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rule, id).Error; err != nil {
			return err
		}
		if update.IsEmpty() {
			return nil
		}
		if update.Email != nil && *update.Email != rule.Email {
			taken, err := emailTaken(tx, *update.Email, id)
			if err != nil {
				return err
			}
			if taken {
				return repository.ErrDuplicateEmail
			}
		}
		if err := tx.Model(&model.Rule{}).Where("id = ?", id).Updates(update.Columns()).Error; err != nil {
			return err
		}
		update.Apply(&rule)
		return nil
	})
	switch {
	case err == nil:
		return &rule, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, repository.ErrNotFound
	case errors.Is(err, repository.ErrDuplicateEmail), errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, repository.ErrDuplicateEmail
	default:
		return nil, repository.NewStorageError("update rule", err)
	}
}

// Delete removes a rule
func (r *RuleRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&model.Rule{}, id)
	if result.Error != nil {
		return repository.NewStorageError("delete rule", result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Search filters rules by email substring and filter flag
func (r *RuleRepository) Search(ctx context.Context, query repository.SearchQuery) ([]model.Rule, error) {
	// SQL LOWER folds ASCII only on some dialects, so the email predicate is
	// applied in Go after the flag filter.
	q := r.db.WithContext(ctx).Model(&model.Rule{})
	if query.HasFilters != nil {
		q = q.Where("has_forwarding_filters = ?", *query.HasFilters)
	}

	var candidates []model.Rule
	if err := q.Order("id ASC").Find(&candidates).Error; err != nil {
		return nil, repository.NewStorageError("search rules", err)
	}

	rules := []model.Rule{}
	for _, rule := range candidates {
		if query.Matches(rule) {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

// Statistics counts rules and filters. Each count is its own query.
func (r *RuleRepository) Statistics(ctx context.Context) (model.Statistics, error) {
	var stats model.Statistics
	db := r.db.WithContext(ctx)

	counts := []struct {
		dst   *int64
		where string
		args  []interface{}
	}{
		{&stats.TotalRules, "", nil},
		{&stats.ActiveForwarding, "forwarding_email <> ?", []interface{}{""}},
		{&stats.RulesWithFilters, "has_forwarding_filters = ?", []interface{}{true}},
		{&stats.RulesWithErrors, "error IS NOT NULL AND error <> ?", []interface{}{""}},
	}
	for _, c := range counts {
		q := db.Model(&model.Rule{})
		if c.where != "" {
			q = q.Where(c.where, c.args...)
		}
		if err := q.Count(c.dst).Error; err != nil {
			return model.Statistics{}, repository.NewStorageError("rule statistics", err)
		}
	}

	total, err := r.filters.Count(ctx)
	if err != nil {
		return model.Statistics{}, err
	}
	stats.TotalFilters = total
	return stats, nil
}

// FilterRepository implements repository.FilterStore.
type FilterRepository struct {
	db *gorm.DB
}

var _ repository.FilterStore = (*FilterRepository)(nil)

// Create replaces the rule's filter and marks the rule in one transaction
func (f *FilterRepository) Create(ctx context.Context, ruleID uint, criteria, action map[string]interface{}, createdAt string) (*model.Filter, error) {
	filter := model.Filter{
		RuleID:    ruleID,
		Criteria:  model.CloneMap(criteria),
		Action:    model.CloneMap(action),
		CreatedAt: createdAt,
	}

	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Rule{}).Where("id = ?", ruleID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repository.ErrUnknownRule
		}
		if err := tx.Where("forwarding_id = ?", ruleID).Delete(&model.Filter{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&filter).Error; err != nil {
			return err
		}
		return tx.Model(&model.Rule{}).Where("id = ?", ruleID).Update("has_forwarding_filters", true).Error
	})
	if err != nil {
		if errors.Is(err, repository.ErrUnknownRule) {
			return nil, err
		}
		return nil, repository.NewStorageError("create filter", err)
	}
	return &filter, nil
}

// GetForRule returns the rule's filter, or nil
func (f *FilterRepository) GetForRule(ctx context.Context, ruleID uint) (*model.Filter, error) {
	var filter model.Filter
	result := f.db.WithContext(ctx).Where("forwarding_id = ?", ruleID).Limit(1).Find(&filter)
	if result.Error != nil {
		return nil, repository.NewStorageError("get filter", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &filter, nil
}

// DeleteForRule removes the rule's filter and clears the flag in one transaction
func (f *FilterRepository) DeleteForRule(ctx context.Context, ruleID uint) (bool, error) {
	var deleted bool
	err := f.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("forwarding_id = ?", ruleID).Delete(&model.Filter{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		deleted = true
		return tx.Model(&model.Rule{}).Where("id = ?", ruleID).Update("has_forwarding_filters", false).Error
	})
	if err != nil {
		return false, repository.NewStorageError("delete filter", err)
	}
	return deleted, nil
}

// Count returns the number of stored filters
func (f *FilterRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := f.db.WithContext(ctx).Model(&model.Filter{}).Count(&count).Error; err != nil {
		return 0, repository.NewStorageError("count filters", err)
	}
	return count, nil
}
