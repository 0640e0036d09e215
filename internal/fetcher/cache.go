package fetcher

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"
)

const rawKeyPrefix = "raw:"

// RawCache keeps downloaded page bodies between refreshes.
// Entries expire after the configured TTL; zero keeps them forever.
type RawCache struct {
	db  *badger.DB
	ttl time.Duration
}

// zapBadgerLogger adapts zap to badger.Logger
type zapBadgerLogger struct {
	logger *zap.SugaredLogger
}

var _ badger.Logger = (*zapBadgerLogger)(nil)

func (l *zapBadgerLogger) Errorf(msg string, items ...any)   { l.logger.Errorf(msg, items...) }
func (l *zapBadgerLogger) Warningf(msg string, items ...any) { l.logger.Warnf(msg, items...) }
func (l *zapBadgerLogger) Infof(msg string, items ...any)    { l.logger.Debugf(msg, items...) }
func (l *zapBadgerLogger) Debugf(msg string, items ...any)   { l.logger.Debugf(msg, items...) }

// OpenRawCache opens a cache in dir, creating the directory if needed.
// An empty dir gives an in-memory cache.
func OpenRawCache(dir string, ttl time.Duration, logger *zap.Logger) (*RawCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache dir: %w", err)
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		opts = badger.DefaultOptions(dir)
	}

	opts.Logger = &zapBadgerLogger{logger: logger.Named("badger").Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw cache: %w", err)
	}
	return &RawCache{db: db, ttl: ttl}, nil
}

// Get returns the cached body for key
func (c *RawCache) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(rawKeyPrefix + key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set stores body under key
func (c *RawCache) Set(key string, body []byte) error {
	return c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(rawKeyPrefix+key), body)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
}

// Delete removes key if present
func (c *RawCache) Delete(key string) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(rawKeyPrefix + key))
	})
}

// Len counts live entries
func (c *RawCache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(rawKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close closes the underlying database
func (c *RawCache) Close() error {
	return c.db.Close()
}
