// Package boltkv is a key-value engine on top of a bbolt B+tree file. It is
// the alternative to the log-structured engine in internal/storage and
// answers the same Get/Set/Remove calls with the same errors.
package boltkv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/matteso1/kvs/internal/storage"
)

// FileName is the database file inside the data directory.
const FileName = "kvs.db"

var bucketName = []byte("kv")

// Options configures a DB.
type Options struct {
	// Sync commits every transaction to disk before it returns.
	Sync bool
	// Timeout bounds the wait for the file lock held by another process.
	Timeout time.Duration
	// Logger receives engine events. Nil discards them.
	Logger *zap.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Sync:    true,
		Timeout: time.Second,
	}
}

// DB is a bbolt-backed engine.
type DB struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens or creates the database in dir.
func Open(dir string, opts Options) (*DB, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dir, FileName)
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	db.NoSync = !opts.Sync

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	d := &DB{db: db, logger: opts.Logger.With(zap.String("path", path))}
	d.logger.Info("bolt engine opened")
	return d, nil
}

// Get returns the value of key. The boolean is false if key doesn't exist.
func (d *DB) Get(key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := d.db.View(func(tx *bolt.Tx) error {
		// The slices are only valid inside the transaction.
		k, v := tx.Bucket(bucketName).Cursor().Seek([]byte(key))
		if k != nil && string(k) == key {
			value, found = string(v), true
		}
		return nil
	})
	if err != nil {
		return "", false, mapError(err)
	}
	return value, found, nil
}

// Set assigns value to key.
func (d *DB) Set(key, value string) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("set %q: %w", key, mapError(err))
	}
	return nil
}

// Remove erases key. It fails with storage.ErrKeyNotFound if the key doesn't
// exist.
func (d *DB) Remove(key string) error {
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		if k, _ := b.Cursor().Seek([]byte(key)); k == nil || string(k) != key {
			return storage.ErrKeyNotFound
		}
		return b.Delete([]byte(key))
	})
	return mapError(err)
}

// Keys returns every key in ascending order.
func (d *DB) Keys() ([]string, error) {
	var keys []string
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, mapError(err)
	}
	return keys, nil
}

// Stats reports the key count and file size. bbolt reuses freed pages
// itself, so there is no garbage to report.
func (d *DB) Stats() storage.Stats {
	var stats storage.Stats
	err := d.db.View(func(tx *bolt.Tx) error {
		stats.Keys = tx.Bucket(bucketName).Stats().KeyN
		stats.Segments = 1
		stats.TotalBytes = tx.Size()
		stats.LiveBytes = tx.Size()
		return nil
	})
	if err != nil {
		d.logger.Warn("failed to read stats", zap.Error(err))
	}
	return stats
}

// Close closes the database file.
func (d *DB) Close() error {
	err := d.db.Close()
	d.logger.Info("bolt engine closed")
	return err
}

func mapError(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return storage.ErrClosed
	}
	return err
}
