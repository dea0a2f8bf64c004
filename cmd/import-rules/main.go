package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	flag "github.com/spf13/pflag"

	"forwarding-audit-go/internal/app"
	"forwarding-audit-go/internal/config"
	"forwarding-audit-go/internal/importer"
	"forwarding-audit-go/internal/model"
	"forwarding-audit-go/internal/repository"
	"forwarding-audit-go/internal/storage"
)

func main() {
	file := flag.StringP("file", "f", "", "JSON or YAML file with rule records")
	sample := flag.Bool("sample", false, "import the built-in sample records")
	quiet := flag.BoolP("quiet", "q", false, "skip listing the imported rules")
	flag.Parse()

	if err := run(*file, *sample, *quiet); err != nil {
		logrus.Fatalf("import failed: %v", err)
	}
}

func run(file string, sample, quiet bool) error {
	if (file == "") == !sample {
		return fmt.Errorf("exactly one of --file or --sample is required")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := app.ConfigureLogging(cfg.Log); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	fs := afero.NewOsFs()
	records := importer.SampleRecords()
	if file != "" {
		records, err = importer.LoadFile(fs, file)
		if err != nil {
			return err
		}
	}

	backend, err := storage.Open(cfg, fs)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer backend.Close()

	ctx := context.Background()
	res, err := importer.New(backend.Rules, backend.Filters).ImportAll(ctx, records)
	if err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"created":         res.Created,
		"updated":         res.Updated,
		"filters_created": res.FiltersCreated,
		"filters_removed": res.FiltersRemoved,
	}).Infof("Imported %d records into %s store", res.Records(), backend.Name)

	if !quiet {
		if err := listRules(ctx, backend); err != nil {
			return err
		}
	}

	stats, err := backend.Rules.Statistics(ctx)
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func listRules(ctx context.Context, backend *storage.Backend) error {
	rules, err := backend.Rules.Search(ctx, repository.SearchQuery{})
	if err != nil {
		return err
	}

	for _, rule := range rules {
		entry := struct {
			model.Rule
			Filter *model.Filter `json:"filter"`
		}{Rule: rule}

		if rule.HasForwardingFilters {
			entry.Filter, err = backend.Filters.GetForRule(ctx, rule.ID)
			if err != nil {
				return err
			}
		}
		if err := printJSON(entry); err != nil {
			return err
		}
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
