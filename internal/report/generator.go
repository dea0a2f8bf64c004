package report

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"forwarding-audit-go/internal/repository"
)

var (
	// ErrReportWrite marks a failure to put the artifact in place.
	ErrReportWrite = errors.New("report write failed")
	// ErrInvalidName is returned for caller names that are not a bare file name.
	ErrInvalidName = errors.New("invalid report name")
)

// WriteError carries the artifact path and the I/O failure behind it.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write report %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrReportWrite) hold for every WriteError.
func (e *WriteError) Is(target error) bool { return target == ErrReportWrite }

// Request describes one report to generate.
type Request struct {
	Variant Variant `json:"variant"`
	// Name is an optional bare file name. When set, a re-run overwrites the
	// previous artifact; when empty a timestamped name is used.
	Name string `json:"name,omitempty"`
}

// Artifact describes a report that was written successfully.
type Artifact struct {
	Variant     Variant   `json:"variant"`
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Size        int64     `json:"size"`
	Rules       int       `json:"rules"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Generator renders reports into a directory of an afero filesystem.
type Generator struct {
	fs       afero.Fs
	dir      string
	renderer Renderer
	rules    repository.RuleStore
	filters  repository.FilterStore
	now      func() time.Time
}

// NewGenerator creates a new report generator
func NewGenerator(fs afero.Fs, dir string, renderer Renderer, rules repository.RuleStore, filters repository.FilterStore) *Generator {
	return &Generator{
		fs:       fs,
		dir:      dir,
		renderer: renderer,
		rules:    rules,
		filters:  filters,
		now:      time.Now,
	}
}

// Dir returns the output directory.
func (g *Generator) Dir() string { return g.dir }

// Generate builds the document and writes it via a temporary file that is
// renamed into place only after rendering completed. On failure nothing is
// left under the final name, and a previous artifact of the same name is
// kept untouched.
func (g *Generator) Generate(ctx context.Context, req Request) (*Artifact, error) {
	variant, err := ParseVariant(string(req.Variant))
	if err != nil {
		return nil, err
	}
	req.Variant = variant
	now := g.now()

	name, err := ResolveName(req.Variant, req.Name, g.renderer.Extension(), now)
	if err != nil {
		return nil, err
	}

	doc, err := Build(ctx, req.Variant, g.rules, g.filters, now)
	if err != nil {
		return nil, err
	}

	target := filepath.Join(g.dir, name)
	size, err := g.write(target, doc)
	if err != nil {
		return nil, &WriteError{Path: target, Err: err}
	}

	logrus.WithFields(logrus.Fields{
		"variant": req.Variant,
		"path":    target,
		"size":    size,
	}).Info("Report generated")

	return &Artifact{
		Variant:     req.Variant,
		Name:        name,
		Path:        target,
		Size:        size,
		Rules:       len(doc.Rules),
		GeneratedAt: now,
	}, nil
}

func (g *Generator) write(target string, doc *Document) (int64, error) {
	if err := g.fs.MkdirAll(g.dir, 0o755); err != nil {
		return 0, err
	}

	tmp, err := afero.TempFile(g.fs, g.dir, "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	fail := func(err error) (int64, error) {
		tmp.Close()
		if rmErr := g.fs.Remove(tmpName); rmErr != nil && !errors.Is(rmErr, afero.ErrFileNotFound) {
			logrus.WithError(rmErr).Warnf("Failed to remove temporary report %s", tmpName)
		}
		return 0, err
	}

	if err := g.renderer.Render(tmp, doc); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		return fail(err)
	}
	if err := g.fs.Rename(tmpName, target); err != nil {
		return fail(err)
	}
	return info.Size(), nil
}

// ResolveName returns the artifact file name: name with ext appended when
// missing, or a timestamped default for variant when name is empty.
func ResolveName(variant Variant, name, ext string, now time.Time) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return variant.namePrefix() + "_" + Timestamp(now) + ext, nil
	}

	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || path.Base(name) != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q must not start with a dot", ErrInvalidName, name)
	}

	if !strings.EqualFold(filepath.Ext(name), ext) {
		name += ext
	}
	return name, nil
}

// Timestamp formats t as YYYYMMDD_HHMMSS_micro.
func Timestamp(t time.Time) string {
	return fmt.Sprintf("%s_%06d", t.Format("20060102_150405"), t.Nanosecond()/int(time.Microsecond))
}
