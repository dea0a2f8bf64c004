// Package importer upserts externally sourced rule records into the stores.
package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
)

// ErrInvalidRecord is returned for records that cannot be applied.
var ErrInvalidRecord = errors.New("invalid import record")

// FilterRecord is the filter half of an imported record.
type FilterRecord struct {
	Criteria  map[string]interface{} `json:"criteria" yaml:"criteria"`
	Action    map[string]interface{} `json:"action" yaml:"action"`
	CreatedAt string                 `json:"created_at" yaml:"created_at"`
}

// Record is one rule as exported by the audited mail system. A null
// optional field is read as empty.
type Record struct {
	Email             string `json:"email" yaml:"email"`
	Name              string `json:"name" yaml:"name"`
	ForwardingEmail   string `json:"forwarding_email" yaml:"forwarding_email"`
	Disposition       string `json:"disposition" yaml:"disposition"`
	Error             string `json:"error" yaml:"error"`
	InvestigationNote string `json:"investigation_note" yaml:"investigation_note"`

	// HasForwardingFilters is accepted for compatibility with exports that
	// carry it; the stored flag always follows Filter.
	HasForwardingFilters bool `json:"has_forwarding_filters" yaml:"has_forwarding_filters"`

	Filter *FilterRecord `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// Rule converts the scalar fields of r into a model.Rule.
func (r Record) Rule() model.Rule {
	return model.Rule{
		Email:             strings.TrimSpace(r.Email),
		Name:              r.Name,
		ForwardingEmail:   r.ForwardingEmail,
		Disposition:       r.Disposition,
		Error:             r.Error,
		InvestigationNote: r.InvestigationNote,
	}
}

// Result counts what an import changed.
type Result struct {
	Created        int `json:"created"`
	Updated        int `json:"updated"`
	FiltersCreated int `json:"filters_created"`
	FiltersRemoved int `json:"filters_removed"`
}

// Records returns how many records were applied.
func (r Result) Records() int {
	return r.Created + r.Updated
}

// Importer applies records to a RuleStore/FilterStore pair.
type Importer struct {
	rules   repository.RuleStore
	filters repository.FilterStore
}

// New creates a new importer
func New(rules repository.RuleStore, filters repository.FilterStore) *Importer {
	return &Importer{rules: rules, filters: filters}
}

// ImportAll upserts every record by email: an existing rule has all of its
// scalar fields replaced, a missing one is created, and the rule's filter is
// replaced by the record's (or removed when the record has none). Running it
// twice with the same input leaves the same state.
//
// The first failing record stops the import; the result covers the records
// applied before it.
func (im *Importer) ImportAll(ctx context.Context, records []Record) (Result, error) {
	var res Result

	for i, rec := range records {
		if err := im.importOne(ctx, rec, &res); err != nil {
			return res, fmt.Errorf("record %d (%s): %w", i, rec.Email, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"created":         res.Created,
		"updated":         res.Updated,
		"filters_created": res.FiltersCreated,
		"filters_removed": res.FiltersRemoved,
	}).Info("Import completed")

	return res, nil
}

func (im *Importer) importOne(ctx context.Context, rec Record, res *Result) error {
	incoming := rec.Rule()
	if incoming.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidRecord)
	}
	if strings.TrimSpace(incoming.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRecord)
	}

	existing, err := im.rules.FindByEmail(ctx, incoming.Email)
	if err != nil {
		return err
	}

	var ruleID uint
	if existing != nil {
		updated, err := im.rules.Update(ctx, existing.ID, model.ReplaceWith(incoming))
		if err != nil {
			return err
		}
		ruleID = updated.ID
		res.Updated++
	} else {
		created, err := im.rules.Create(ctx, incoming)
		if err != nil {
			return err
		}
		ruleID = created.ID
		res.Created++
	}

	removed, err := im.filters.DeleteForRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if removed {
		res.FiltersRemoved++
	}

	if rec.Filter == nil {
		return nil
	}
	if _, err := im.filters.Create(ctx, ruleID, rec.Filter.Criteria, rec.Filter.Action, rec.Filter.CreatedAt); err != nil {
		return err
	}
	res.FiltersCreated++

	logrus.WithFields(logrus.Fields{
		"rule_id": ruleID,
		"email":   incoming.Email,
	}).Debug("Imported rule with filter")
	return nil
}
