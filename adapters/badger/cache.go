// Package badger keeps the most recent simulation record in an embedded
// BadgerDB so a restarted session can re-display it.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"trialsim/domain/trial"
	"trialsim/internal"
	"trialsim/ports"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// Config holds configuration for the cache database
type Config struct {
	// Path is ignored when InMemory is true.
	Path       string
	InMemory   bool
	SyncWrites bool
	Logger     *internal.Logger
}

// badgerLogger adapts the application logger to BadgerDB's Logger interface
type badgerLogger struct {
	logger *internal.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) { l.logger.Error(format, args...) }

func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warn(format, args...) }

func (l *badgerLogger) Infof(format string, args ...interface{}) { l.logger.Debug(format, args...) }

func (l *badgerLogger) Debugf(format string, args ...interface{}) { l.logger.Trace(format, args...) }

// Open opens the cache database, creating the directory if needed
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.WithComponent("Badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return db, nil
}

// Cache implements ports.ResultCache for one owner
type Cache struct {
	db  *badger.DB
	key []byte
}

var _ ports.ResultCache = (*Cache)(nil)

// NewCache returns the last-result cache of ownerID
func NewCache(db *badger.DB, ownerID uuid.UUID) *Cache {
	return &Cache{db: db, key: lastKey(ownerID)}
}

func lastKey(ownerID uuid.UUID) []byte {
	return []byte("last_result/" + ownerID.String())
}

// LoadLast returns the cached record; ok is false on a miss
func (c *Cache) LoadLast(ctx context.Context) (*trial.RunRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var payload []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key)
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cached result: %w", err)
	}

	var record trial.RunRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, false, fmt.Errorf("decode cached result: %w", err)
	}
	return &record, true, nil
}

// StoreLast replaces the cached record
func (c *Cache) StoreLast(ctx context.Context, record *trial.RunRecord) error {
	if record == nil {
		return errors.New("nil run record")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key, payload)
	})
}
