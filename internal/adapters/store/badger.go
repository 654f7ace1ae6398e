package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// Key prefixes. Payload and index of a cache entry share the same suffix.
var (
	payloadPrefix  = []byte("p/")
	indexPrefix    = []byte("i/")
	deliveryPrefix = []byte("d/")
)

// BadgerConfig configures a BadgerStore.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// BadgerStore keeps the cache and delivery records in BadgerDB.
type BadgerStore struct {
	db *badger.DB
}

var (
	_ core.CacheStore    = (*BadgerStore)(nil)
	_ core.DeliveryStore = (*BadgerStore)(nil)
)

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens a BadgerDB store.
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path required")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func prefixed(prefix []byte, key string) []byte {
	out := make([]byte, 0, len(prefix)+len(key))
	out = append(out, prefix...)
	return append(out, key...)
}

// GetEntry returns the record for key, or nil when absent.
func (s *BadgerStore) GetEntry(_ context.Context, key string) (*core.CacheRecord, error) {
	var rec *core.CacheRecord
	err := s.db.View(func(txn *badger.Txn) error {
		idxItem, err := txn.Get(prefixed(indexPrefix, key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var entry core.CacheIndexEntry
		if err := idxItem.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return fmt.Errorf("decoding cache index: %w", err)
		}

		payloadItem, err := txn.Get(prefixed(payloadPrefix, key))
		if err != nil {
			return fmt.Errorf("reading cache payload: %w", err)
		}
		payload, err := payloadItem.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec = &core.CacheRecord{CacheIndexEntry: entry, Payload: payload}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading cache entry: %w", err)
	}
	return rec, nil
}

// PutEntry writes payload and index in one transaction.
func (s *BadgerStore) PutEntry(_ context.Context, rec *core.CacheRecord) error {
	entry := rec.CacheIndexEntry
	entry.Size = int64(len(rec.Payload))
	idx, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache index: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(prefixed(payloadPrefix, rec.Key), rec.Payload); err != nil {
			return fmt.Errorf("writing cache payload: %w", err)
		}
		if err := txn.Set(prefixed(indexPrefix, rec.Key), idx); err != nil {
			return fmt.Errorf("writing cache index: %w", err)
		}
		return nil
	})
}

// deleteBatchKeys bounds how many keys one DeleteEntries transaction
// touches, keeping bulk evictions under badger's transaction size limit.
var deleteBatchKeys = 1000

// DeleteEntries removes payload and index for each key. Keys are deleted in
// batches; a key's payload and index always go in the same transaction.
// On error the count covers the batches already committed.
func (s *BadgerStore) DeleteEntries(_ context.Context, keys []string) (int, error) {
	deleted := 0
	for start := 0; start < len(keys); start += deleteBatchKeys {
		batch := keys[start:min(start+deleteBatchKeys, len(keys))]
		n := 0
		err := s.db.Update(func(txn *badger.Txn) error {
			n = 0
			for _, key := range batch {
				_, err := txn.Get(prefixed(indexPrefix, key))
				switch {
				case errors.Is(err, badger.ErrKeyNotFound):
				case err != nil:
					return err
				default:
					n++
				}
				if err := txn.Delete(prefixed(indexPrefix, key)); err != nil {
					return err
				}
				if err := txn.Delete(prefixed(payloadPrefix, key)); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return deleted, fmt.Errorf("deleting cache entries: %w", err)
		}
		deleted += n
	}
	return deleted, nil
}

// ListIndex returns every index entry ordered by creation time.
func (s *BadgerStore) ListIndex(_ context.Context) ([]core.CacheIndexEntry, error) {
	var entries []core.CacheIndexEntry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = indexPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var e core.CacheIndexEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				return fmt.Errorf("decoding cache index: %w", err)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing cache index: %w", err)
	}
	sortIndex(entries)
	return entries, nil
}

// GetDelivery returns the delivery record for eventKey, or nil when absent.
func (s *BadgerStore) GetDelivery(_ context.Context, eventKey string) (*core.DeliveryRecord, error) {
	var rec *core.DeliveryRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(prefixed(deliveryPrefix, eventKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec = &core.DeliveryRecord{}
			return json.Unmarshal(val, rec)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("reading delivery: %w", err)
	}
	return rec, nil
}

// PutDelivery upserts a delivery record.
func (s *BadgerStore) PutDelivery(_ context.Context, rec *core.DeliveryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding delivery: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(prefixed(deliveryPrefix, rec.EventKey), data)
	}); err != nil {
		return fmt.Errorf("writing delivery: %w", err)
	}
	return nil
}

func sortIndex(entries []core.CacheIndexEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].Key < entries[j].Key
		}
		return entries[i].CreatedAt.Before(entries[j].CreatedAt)
	})
}
