// Package report builds audit documents from the rule stores and writes them
// as PDF or plain-text artifacts.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
)

// Variant selects what a report contains.
type Variant string

const (
	VariantFull      Variant = "full"
	VariantStats     Variant = "stats"
	VariantRulesOnly Variant = "rules-only"
)

// ErrUnknownVariant is returned for variant names that are not recognised.
var ErrUnknownVariant = errors.New("unknown report variant")

const (
	noneMarker    = "None"
	unknownMarker = "Unknown"
)

// ParseVariant maps a request value onto a Variant. The empty string means
// the full report.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return VariantFull, nil
	case VariantFull, VariantStats, VariantRulesOnly:
		return v, nil
	case "rules_only":
		return VariantRulesOnly, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownVariant, s)
	}
}

// Title is the heading printed at the top of the document.
func (v Variant) Title() string {
	switch v {
	case VariantStats:
		return "Email Forwarding Rules Statistics Report"
	case VariantRulesOnly:
		return "Email Forwarding Rules Only Report"
	default:
		return "Email Forwarding Rules Audit Report"
	}
}

func (v Variant) namePrefix() string {
	switch v {
	case VariantStats:
		return "stats_report"
	case VariantRulesOnly:
		return "rules_only_report"
	default:
		return "email_forwarding_rules_audit_report"
	}
}

func (v Variant) includesStatistics() bool { return v != VariantRulesOnly }
func (v Variant) includesRules() bool      { return v != VariantStats }
func (v Variant) includesFilters() bool    { return v == VariantFull }

// Table is a header row plus body rows of plain strings.
type Table struct {
	Header []string
	Rows   [][]string
}

// RuleSection is the block printed for one rule.
type RuleSection struct {
	Heading string
	Details Table
	Filter  *Table
}

// Document is the renderer-independent content of a report.
type Document struct {
	Variant    Variant
	Title      string
	Generated  time.Time
	Statistics *Table
	Rules      []RuleSection
	Notes      []string
}

// HasRules reports whether the document carries a rules section at all,
// even an empty one.
func (d *Document) HasRules() bool {
	return d.Variant.includesRules()
}

// Build reads a snapshot of the stores and lays out the document for
// variant, which must be one of the Variant constants. The read is not
// isolated from concurrent writes.
func Build(ctx context.Context, variant Variant, rules repository.RuleStore, filters repository.FilterStore, now time.Time) (*Document, error) {
	switch variant {
	case VariantFull, VariantStats, VariantRulesOnly:
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownVariant, variant)
	}

	doc := &Document{
		Variant:   variant,
		Title:     variant.Title(),
		Generated: now,
	}

	if variant.includesStatistics() {
		stats, err := rules.Statistics(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read statistics: %w", err)
		}
		doc.Statistics = statisticsTable(stats)
	}

	if variant.includesRules() {
		all, err := repository.ListAll(ctx, rules)
		if err != nil {
			return nil, fmt.Errorf("failed to list rules: %w", err)
		}

		doc.Rules = make([]RuleSection, 0, len(all))
		for _, r := range all {
			section := RuleSection{
				Heading: fmt.Sprintf("Rule #%d: %s", r.ID, r.Email),
				Details: ruleTable(r),
			}
			if variant.includesFilters() {
				f, err := filters.GetForRule(ctx, r.ID)
				if err != nil {
					return nil, fmt.Errorf("failed to read filter for rule %d: %w", r.ID, err)
				}
				if f != nil {
					t := filterTable(*f)
					section.Filter = &t
				}
			}
			doc.Rules = append(doc.Rules, section)
		}
	}

	switch variant {
	case VariantStats:
		doc.Notes = append(doc.Notes,
			"This report contains only statistical information about email forwarding rules. "+
				"For detailed information about individual rules, please generate a complete report.")
	case VariantRulesOnly:
		doc.Notes = append(doc.Notes,
			"Note: This report contains only basic information about forwarding rules. "+
				"Filter details have been excluded. For complete information including filters, "+
				"please generate a full report.")
	}

	return doc, nil
}

func statisticsTable(stats model.Statistics) *Table {
	t := &Table{Header: []string{"Metric", "Value"}}
	for _, m := range stats.Metrics() {
		t.Rows = append(t.Rows, []string{metricLabel(m.Key), strconv.FormatInt(m.Value, 10)})
	}
	return t
}

// metricLabel turns "total_rules" into "Total Rules".
func metricLabel(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
		}
	}
	return strings.Join(words, " ")
}

func ruleTable(r model.Rule) Table {
	hasFilters := "No"
	if r.HasForwardingFilters {
		hasFilters = "Yes"
	}
	return Table{
		Header: []string{"Attribute", "Value"},
		Rows: [][]string{
			{"Name", r.Name},
			{"Forwarding Email", orMarker(r.ForwardingEmail, noneMarker)},
			{"Disposition", orMarker(r.Disposition, noneMarker)},
			{"Has Filters", hasFilters},
			{"Error", orMarker(r.Error, noneMarker)},
			{"Investigation Note", orMarker(r.InvestigationNote, noneMarker)},
		},
	}
}

func filterTable(f model.Filter) Table {
	return Table{
		Header: []string{"Attribute", "Value"},
		Rows: [][]string{
			{"Filter ID", strconv.FormatUint(uint64(f.ID), 10)},
			{"Created At", orMarker(f.CreatedAt, unknownMarker)},
			{"Criteria", indentJSON(f.Criteria)},
			{"Action", indentJSON(f.Action)},
		},
	}
}

func indentJSON(m map[string]interface{}) string {
	if m == nil {
		m = map[string]interface{}{}
	}
	out, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", m)
	}
	return string(out)
}

func orMarker(s, marker string) string {
	if s == "" {
		return marker
	}
	return s
}
