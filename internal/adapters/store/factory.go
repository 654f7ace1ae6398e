package store

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// Store is a backing store for both the fingerprint cache and the delivery
// guard.
type Store interface {
	core.CacheStore
	core.DeliveryStore
	Close() error
}

// Options configures store creation.
type Options struct {
	// Backend is one of sqlite, badger or memory.
	Backend string

	// Path is the SQLite file or the Badger directory.
	Path string

	// Logger receives backend-internal logs (badger only).
	Logger *slog.Logger
}

// Open creates the configured store.
func Open(opts Options) (Store, error) {
	switch opts.Backend {
	case "", "sqlite":
		if strings.TrimSpace(opts.Path) == "" {
			return nil, core.ErrValidation(core.CodeInvalidConfig, "sqlite store needs a path")
		}
		path := filepath.Clean(opts.Path)
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, core.ErrStorage(core.CodeStoreOpen, "opening sqlite store").WithCause(err)
		}
		logger(opts).Debug("opened store", "backend", "sqlite", "path", path)
		return s, nil
	case "badger":
		s, err := NewBadgerStore(BadgerConfig{Path: opts.Path, SyncWrites: true, Logger: opts.Logger})
		if err != nil {
			return nil, core.ErrStorage(core.CodeStoreOpen, "opening badger store").WithCause(err)
		}
		logger(opts).Debug("opened store", "backend", "badger", "path", opts.Path)
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown store backend %q", opts.Backend))
	}
}

func logger(opts Options) *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return slog.New(slog.DiscardHandler)
}
