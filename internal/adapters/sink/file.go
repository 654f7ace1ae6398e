// Package sink holds report destinations that do not need a remote service.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/fsutil"
	"github.com/hugo-lorenzo-mato/ghostwriter/internal/report"
)

// File writes each event's report to <dir>/<slug>.md. The artifact ID is the
// file path.
type File struct {
	dir string
}

// NewFile creates a file sink rooted at dir.
func NewFile(dir string) *File {
	return &File{dir: dir}
}

// Name returns "file".
func (f *File) Name() string { return "file" }

// Path returns where the report for eventKey is written.
func (f *File) Path(eventKey string) string {
	slug := report.Slug(eventKey)
	if slug == "" {
		slug = "report"
	}
	return filepath.Join(f.dir, slug+".md")
}

// Create writes the report.
func (f *File) Create(ctx context.Context, eventKey string, r *core.Report) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := f.Path(eventKey)
	if err := fsutil.WriteFileAtomic(path, []byte(r.Body), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

// Update replaces the report at artifactID. A removed file is not_found.
func (f *File) Update(ctx context.Context, _ string, artifactID string, r *core.Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(artifactID); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return core.ErrNotFound("report file", artifactID)
		}
		return fmt.Errorf("checking %s: %w", artifactID, err)
	}
	if err := fsutil.WriteFileAtomic(artifactID, []byte(r.Body), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", artifactID, err)
	}
	return nil
}

// FindArtifact reports whether the event's report file exists.
func (f *File) FindArtifact(_ context.Context, eventKey string) (string, bool, error) {
	path := f.Path(eventKey)
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return path, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return "", false, nil
	default:
		return "", false, err
	}
}
