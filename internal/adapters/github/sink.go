package github

import (
	"context"
	"strconv"
	"strings"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// DefaultMarker tags the comments ghostwriter owns.
const DefaultMarker = "<!-- ghostwriter:review -->"

// Sink publishes reports as pull request comments. Event keys are
// "owner/repo#number" and artifact IDs are comment IDs.
type Sink struct {
	client *Client
	marker string
}

// NewSink creates a sink. An empty marker uses DefaultMarker.
func NewSink(client *Client, marker string) *Sink {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultMarker
	}
	return &Sink{client: client, marker: marker}
}

// Name returns "github".
func (s *Sink) Name() string { return "github" }

// Create posts a new comment.
func (s *Sink) Create(ctx context.Context, eventKey string, report *core.Report) (string, error) {
	ref, err := core.ParsePullRef(eventKey)
	if err != nil {
		return "", err
	}
	id, err := s.client.createComment(ctx, ref, s.body(report))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

// Update edits an existing comment. A deleted comment yields a not_found error.
func (s *Sink) Update(ctx context.Context, eventKey, artifactID string, report *core.Report) error {
	ref, err := core.ParsePullRef(eventKey)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(artifactID, 10, 64)
	if err != nil {
		return core.ErrNotFound("comment", artifactID)
	}
	return s.client.editComment(ctx, ref, id, s.body(report))
}

// FindArtifact looks for a comment carrying the marker.
func (s *Sink) FindArtifact(ctx context.Context, eventKey string) (string, bool, error) {
	ref, err := core.ParsePullRef(eventKey)
	if err != nil {
		return "", false, err
	}
	id, found, err := s.client.findComment(ctx, ref, s.marker)
	if err != nil || !found {
		return "", false, err
	}
	return strconv.FormatInt(id, 10), true, nil
}

func (s *Sink) body(report *core.Report) string {
	return strings.TrimRight(report.Body, "\n") + "\n\n" + s.marker + "\n"
}
