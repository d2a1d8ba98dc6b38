package server

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/matteso1/kvs/internal/boltkv"
	"github.com/matteso1/kvs/internal/storage"
)

// Storage engines a data directory can be created with.
const (
	// EngineKVS is the log-structured engine in internal/storage.
	EngineKVS = "kvs"
	// EngineBolt is the bbolt engine in internal/boltkv.
	EngineBolt = "bolt"
)

const engineFileName = "engine"

// ErrEngineMismatch is returned when a data directory was created by a
// different engine than the one requested.
var ErrEngineMismatch = errors.New("data directory belongs to another engine")

// ClosableEngine is an Engine that owns files and must be closed.
type ClosableEngine interface {
	Engine
	Close() error
}

// CheckEngine records name as the engine owning dir, or verifies that dir
// was already created with it.
func CheckEngine(dir, name string) error {
	if name != EngineKVS && name != EngineBolt {
		return fmt.Errorf("unsupported engine %q", name)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	path := filepath.Join(dir, engineFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, []byte(name), 0644); err != nil {
			return fmt.Errorf("failed to record engine: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read engine file: %w", err)
	}

	if existing := string(bytes.TrimSpace(data)); existing != name {
		return fmt.Errorf("%w: %s was created with %q, not %q", ErrEngineMismatch, dir, existing, name)
	}
	return nil
}

// OpenEngine checks the engine guard in config.DataDir and opens the engine
// config.Engine names.
func OpenEngine(config Config, logger *zap.Logger) (ClosableEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := CheckEngine(config.DataDir, config.Engine); err != nil {
		return nil, err
	}

	switch config.Engine {
	case EngineBolt:
		opts := boltkv.DefaultOptions()
		opts.Sync = config.Storage.SyncMode == storage.SyncAlways
		opts.Logger = logger.Named("bolt")
		db, err := boltkv.Open(config.DataDir, opts)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		storageConfig := config.Storage
		if storageConfig.Logger == nil {
			storageConfig.Logger = logger.Named("storage")
		}
		store, err := storage.Open(config.DataDir, storageConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return store, nil
	}
}
