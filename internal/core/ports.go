package core

import (
	"context"
	"time"
)

// =============================================================================
// Backend Port
// =============================================================================

// Backend is one interchangeable implementation of a stage, such as a hosted
// model or a static scanner.
type Backend interface {
	// Name returns the backend identifier (e.g., "groq", "static").
	// It is part of the cache agent ID, so it must be stable.
	Name() string

	// Configured reports whether the backend has what it needs to run,
	// typically a credential. Unconfigured backends are skipped.
	Configured() bool

	// Analyze runs the backend over the input.
	Analyze(ctx context.Context, input string) (*Result, error)
}

// =============================================================================
// Cache Store Port
// =============================================================================

// CacheIndexEntry is the index record for a cached payload.
type CacheIndexEntry struct {
	Key       string    `json:"key"`
	AgentID   string    `json:"agent_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Size      int64     `json:"size"`
}

// CacheRecord is a payload together with its index entry.
type CacheRecord struct {
	CacheIndexEntry
	Payload []byte `json:"-"`
}

// CacheStore persists cache payloads and their index as separate records.
// Implementations must write and delete payload and index together, so an
// index key always has a payload and vice versa.
type CacheStore interface {
	// GetEntry returns the record for key, or nil when absent.
	GetEntry(ctx context.Context, key string) (*CacheRecord, error)

	// PutEntry writes payload and index atomically, replacing any previous record.
	PutEntry(ctx context.Context, rec *CacheRecord) error

	// DeleteEntries removes payload and index for each key and returns how
	// many records existed.
	DeleteEntries(ctx context.Context, keys []string) (int, error)

	// ListIndex returns every index entry without reading payloads.
	ListIndex(ctx context.Context) ([]CacheIndexEntry, error)
}

// =============================================================================
// Delivery Ports
// =============================================================================

// DeliveryStore remembers which artifact belongs to which event key.
type DeliveryStore interface {
	// GetDelivery returns the record for eventKey, or nil when absent.
	GetDelivery(ctx context.Context, eventKey string) (*DeliveryRecord, error)

	// PutDelivery upserts the record.
	PutDelivery(ctx context.Context, rec *DeliveryRecord) error
}

// Sink publishes reports to the outside world.
type Sink interface {
	Name() string

	// Create publishes a new artifact and returns its ID.
	Create(ctx context.Context, eventKey string, report *Report) (string, error)

	// Update replaces the content of an existing artifact. It returns a
	// not_found DomainError when the artifact no longer exists.
	Update(ctx context.Context, eventKey, artifactID string, report *Report) error
}

// ArtifactFinder is implemented by sinks that can locate an artifact they
// previously created without a delivery record.
type ArtifactFinder interface {
	FindArtifact(ctx context.Context, eventKey string) (artifactID string, found bool, err error)
}

// =============================================================================
// Pull Request Port
// =============================================================================

// DiffSource fetches the unified diff of a pull request.
type DiffSource interface {
	FetchDiff(ctx context.Context, ref PullRef) (string, error)
}
