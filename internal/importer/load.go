package importer

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// LoadFile reads a list of records from a .json, .yaml or .yml file.
func LoadFile(fs afero.Fs, path string) ([]Record, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var records []Record
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &records)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &records)
	default:
		return nil, fmt.Errorf("unsupported record file extension %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	return records, nil
}

// SampleRecords returns the four rules used to seed a demo data set.
func SampleRecords() []Record {
	return []Record{
		{
			Email:                "user1@example.com",
			Name:                 "John Doe",
			ForwardingEmail:      "forwarding@example.com",
			Disposition:          "keep",
			HasForwardingFilters: true,
			InvestigationNote:    "Legitimate forwarding to",
			Filter: &FilterRecord{
				Criteria:  map[string]interface{}{"from": "newsletter@company.com"},
				Action:    map[string]interface{}{"forward": "john.archive@example.com"},
				CreatedAt: "2024-01-15",
			},
		},
		{
			Email:                "user3@example.com",
			Name:                 "Mary Johnson",
			ForwardingEmail:      "mary.personal@example.com",
			Disposition:          "archive",
			HasForwardingFilters: true,
			InvestigationNote:    "Approved by manager on 2024-03-05",
			Filter: &FilterRecord{
				Criteria:  map[string]interface{}{"subject": "timesheet"},
				Action:    map[string]interface{}{"addLabels": "IMPORTANT", "forward": "mary.work@example.com"},
				CreatedAt: "2024-02-10",
			},
		},
		{
			Email:                "user4@example.com",
			Name:                 "Bob Wilson",
			ForwardingEmail:      "bob.backup@example.com",
			Disposition:          "trash",
			HasForwardingFilters: true,
			InvestigationNote:    "Needs further investigation - external domain",
			Filter: &FilterRecord{
				Criteria:  map[string]interface{}{"from": "hacky@hackyhackers.com", "subject": "invoice"},
				Action:    map[string]interface{}{"addLabels": "TRASH", "forward": "security@example.com"},
				CreatedAt: "2024-02-02",
			},
		},
		{
			Email:             "user2@example.com",
			Name:              "Jane Smith",
			Error:             "Permission denied",
			InvestigationNote: "Error occurred during audit",
		},
	}
}
