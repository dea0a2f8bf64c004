package csvrepo

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"forwarding-audit-go/internal/model"
)

const (
	rulesFile     = "rules.csv"
	filtersFile   = "filters.csv"
	sequencesFile = "sequences.csv"
)

var (
	ruleHeader     = []string{"id", "email", "name", "forwarding_email", "disposition", "has_forwarding_filters", "error", "investigation_note"}
	filterHeader   = []string{"id", "forwarding_id", "criteria", "action", "created_at"}
	sequenceHeader = []string{"table", "next_id"}
)

// dataset is the full content of a data directory. Rules are kept in id
// order; filters are keyed by owning rule id.
type dataset struct {
	rules        []model.Rule
	filters      map[uint]model.Filter
	nextRuleID   uint
	nextFilterID uint
}

func (d *dataset) ruleIndex(id uint) int {
	for i := range d.rules {
		if d.rules[i].ID == id {
			return i
		}
	}
	return -1
}

func (d *dataset) emailIndex(email string) int {
	for i := range d.rules {
		if d.rules[i].Email == email {
			return i
		}
	}
	return -1
}

func (d *dataset) clone() *dataset {
	out := &dataset{
		rules:        append([]model.Rule(nil), d.rules...),
		filters:      make(map[uint]model.Filter, len(d.filters)),
		nextRuleID:   d.nextRuleID,
		nextFilterID: d.nextFilterID,
	}
	for k, v := range d.filters {
		out.filters[k] = v.Clone()
	}
	return out
}

func readTable(fs afero.Fs, path string, header []string) ([][]string, error) {
	f, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}

// writeTable replaces path atomically through a temp file in the same
// directory.
func writeTable(fs afero.Fs, path string, header []string, rows [][]string) error {
	tmp, err := afero.TempFile(fs, filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.WriteAll(append([][]string{header}, rows...)); err != nil {
		tmp.Close()
		fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		fs.Remove(tmpName)
		return err
	}
	if err := fs.Rename(tmpName, path); err != nil {
		fs.Remove(tmpName)
		return err
	}
	return nil
}

// encoding/csv folds \r\n inside quoted fields to \n, so text cells carry
// carriage returns escaped. Backslashes are escaped too to keep the mapping
// reversible.
var (
	textEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`)
	textUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r")
)

func encodeText(s string) string { return textEscaper.Replace(s) }

func decodeText(s string) string { return textUnescaper.Replace(s) }

func parseUint(s string) (uint, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}

func decodeMap(s string) (map[string]interface{}, error) {
	m := map[string]interface{}{}
	if s == "" {
		return m, nil
	}
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encodeMap(m map[string]interface{}) (string, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func load(fs afero.Fs, dir string) (*dataset, error) {
	d := &dataset{filters: make(map[uint]model.Filter), nextRuleID: 1, nextFilterID: 1}

	ruleRows, err := readTable(fs, filepath.Join(dir, rulesFile), ruleHeader)
	if err != nil {
		return nil, err
	}
	for _, row := range ruleRows {
		id, err := parseUint(row[0])
		if err != nil {
			return nil, fmt.Errorf("rule id %q: %w", row[0], err)
		}
		flag, err := strconv.ParseBool(row[5])
		if err != nil {
			return nil, fmt.Errorf("rule %d flag %q: %w", id, row[5], err)
		}
		d.rules = append(d.rules, model.Rule{
			ID:                   id,
			Email:                decodeText(row[1]),
			Name:                 decodeText(row[2]),
			ForwardingEmail:      decodeText(row[3]),
			Disposition:          decodeText(row[4]),
			HasForwardingFilters: flag,
			Error:                decodeText(row[6]),
			InvestigationNote:    decodeText(row[7]),
		})
		if id >= d.nextRuleID {
			d.nextRuleID = id + 1
		}
	}

	filterRows, err := readTable(fs, filepath.Join(dir, filtersFile), filterHeader)
	if err != nil {
		return nil, err
	}
	for _, row := range filterRows {
		id, err := parseUint(row[0])
		if err != nil {
			return nil, fmt.Errorf("filter id %q: %w", row[0], err)
		}
		ruleID, err := parseUint(row[1])
		if err != nil {
			return nil, fmt.Errorf("filter %d rule id %q: %w", id, row[1], err)
		}
		criteria, err := decodeMap(row[2])
		if err != nil {
			return nil, fmt.Errorf("filter %d criteria: %w", id, err)
		}
		action, err := decodeMap(row[3])
		if err != nil {
			return nil, fmt.Errorf("filter %d action: %w", id, err)
		}
		d.filters[ruleID] = model.Filter{
			ID:        id,
			RuleID:    ruleID,
			Criteria:  model.CloneMap(criteria),
			Action:    model.CloneMap(action),
			CreatedAt: decodeText(row[4]),
		}
		if id >= d.nextFilterID {
			d.nextFilterID = id + 1
		}
	}

	seqRows, err := readTable(fs, filepath.Join(dir, sequencesFile), sequenceHeader)
	if err != nil {
		return nil, err
	}
	for _, row := range seqRows {
		next, err := parseUint(row[1])
		if err != nil {
			return nil, fmt.Errorf("sequence %q: %w", row[0], err)
		}
		switch row[0] {
		case "rules":
			if next > d.nextRuleID {
				d.nextRuleID = next
			}
		case "filters":
			if next > d.nextFilterID {
				d.nextFilterID = next
			}
		}
	}
	return d, nil
}

func save(fs afero.Fs, dir string, d *dataset) error {
	filterRows := make([][]string, 0, len(d.filters))
	for _, rule := range d.rules {
		f, ok := d.filters[rule.ID]
		if !ok {
			continue
		}
		row, err := filterRow(f)
		if err != nil {
			return err
		}
		filterRows = append(filterRows, row)
	}
	// Filters whose rule was deleted without clearing them first.
	for ruleID, f := range d.filters {
		if d.ruleIndex(ruleID) >= 0 {
			continue
		}
		row, err := filterRow(f)
		if err != nil {
			return err
		}
		filterRows = append(filterRows, row)
	}

	ruleRows := make([][]string, 0, len(d.rules))
	for _, r := range d.rules {
		ruleRows = append(ruleRows, []string{
			strconv.FormatUint(uint64(r.ID), 10),
			encodeText(r.Email),
			encodeText(r.Name),
			encodeText(r.ForwardingEmail),
			encodeText(r.Disposition),
			strconv.FormatBool(r.HasForwardingFilters),
			encodeText(r.Error),
			encodeText(r.InvestigationNote),
		})
	}

	seqRows := [][]string{
		{"rules", strconv.FormatUint(uint64(d.nextRuleID), 10)},
		{"filters", strconv.FormatUint(uint64(d.nextFilterID), 10)},
	}

	if err := writeTable(fs, filepath.Join(dir, filtersFile), filterHeader, filterRows); err != nil {
		return err
	}
	if err := writeTable(fs, filepath.Join(dir, rulesFile), ruleHeader, ruleRows); err != nil {
		return err
	}
	return writeTable(fs, filepath.Join(dir, sequencesFile), sequenceHeader, seqRows)
}

func filterRow(f model.Filter) ([]string, error) {
	criteria, err := encodeMap(f.Criteria)
	if err != nil {
		return nil, fmt.Errorf("encode criteria of filter %d: %w", f.ID, err)
	}
	action, err := encodeMap(f.Action)
	if err != nil {
		return nil, fmt.Errorf("encode action of filter %d: %w", f.ID, err)
	}
	return []string{
		strconv.FormatUint(uint64(f.ID), 10),
		strconv.FormatUint(uint64(f.RuleID), 10),
		criteria,
		action,
		encodeText(f.CreatedAt),
	}, nil
}
