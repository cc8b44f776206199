// Package db is the engine's entry point: a registry of named collections,
// each owning an independently configured store and index.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"surgedb/internal/config"
	"surgedb/internal/index"
	"surgedb/internal/persistence"
	"surgedb/internal/quantization"
	"surgedb/internal/store"
	pkgerrors "surgedb/pkg/errors"
	"surgedb/pkg/logger"
)

// DB routes operations to named collections. Unknown names fail with
// not-found; nothing is auto-created.
type DB struct {
	conf *config.Config

	mu          sync.RWMutex
	collections map[string]*Collection
}

// New creates a registry rooted at the config's data directory.
func New(conf *config.Config) (*DB, error) {
	if conf == nil {
		return nil, fmt.Errorf("%w: nil config", pkgerrors.ErrInvalidConfig)
	}
	if err := os.MkdirAll(conf.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &DB{
		conf:        conf,
		collections: make(map[string]*Collection),
	}, nil
}

// Open recovers every persisted collection found under the data directory.
func (db *DB) Open() error {
	entries, err := os.ReadDir(db.conf.Dir)
	if err != nil {
		return fmt.Errorf("failed to scan data directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		dir := filepath.Join(db.conf.Dir, name)
		conf, ok, err := db.configFromManifest(dir)
		if err != nil {
			return fmt.Errorf("failed to recover collection %s: %w", name, err)
		}
		if !ok {
			continue
		}
		coll, err := openCollection(name, conf)
		if err != nil {
			return fmt.Errorf("failed to recover collection %s: %w", name, err)
		}
		db.mu.Lock()
		db.collections[name] = coll
		db.mu.Unlock()
	}
	return nil
}

// configFromManifest reconstructs a collection config from its committed
// manifest. Directories without a manifest are skipped.
func (db *DB) configFromManifest(dir string) (CollectionConfig, bool, error) {
	man, err := persistence.ReadManifest(dir)
	if err != nil || man == nil {
		return CollectionConfig{}, false, err
	}
	metric, err := index.ParseMetric(man.Metric)
	if err != nil {
		return CollectionConfig{}, false, err
	}
	quant, err := quantization.ParseType(man.Quantization)
	if err != nil {
		return CollectionConfig{}, false, err
	}
	return db.fillDefaults(CollectionConfig{
		Dimensions:   man.Dimensions,
		Metric:       metric,
		Quantization: quant,
		Persistent:   true,
		DataPath:     dir,
	}), true, nil
}

func (db *DB) fillDefaults(conf CollectionConfig) CollectionConfig {
	if conf.M == 0 {
		conf.M = db.conf.Index.M
	}
	if conf.EfConstruction == 0 {
		conf.EfConstruction = db.conf.Index.EfConstruction
	}
	if conf.EfSearch == 0 {
		conf.EfSearch = db.conf.Index.EfSearch
	}
	return conf
}

// CreateCollection creates a new collection under the given name.
func (db *DB) CreateCollection(name string, conf CollectionConfig) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: collection name must not be empty", pkgerrors.ErrInvalidConfig)
	}
	conf = db.fillDefaults(conf)
	if conf.Persistent && conf.DataPath == "" {
		conf.DataPath = filepath.Join(db.conf.Dir, name)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if _, exists := db.collections[name]; exists {
		return nil, pkgerrors.ErrCollectionExists
	}

	var coll *Collection
	var err error
	if conf.Persistent {
		coll, err = openCollection(name, conf)
	} else {
		coll, err = newCollection(name, conf)
	}
	if err != nil {
		return nil, err
	}
	db.collections[name] = coll

	logger.Info("collection created",
		"name", name,
		"dimensions", conf.Dimensions,
		"metric", conf.Metric,
		"quantization", conf.Quantization,
		"persistent", conf.Persistent,
	)
	return coll, nil
}

// GetCollection returns the named collection.
func (db *DB) GetCollection(name string) (*Collection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	coll, ok := db.collections[name]
	if !ok {
		return nil, pkgerrors.ErrCollectionNotFound
	}
	return coll, nil
}

// DeleteCollection drops the named collection: all records, index state and
// on-disk data are released irrecoverably.
func (db *DB) DeleteCollection(name string) error {
	db.mu.Lock()
	coll, ok := db.collections[name]
	if ok {
		delete(db.collections, name)
	}
	db.mu.Unlock()
	if !ok {
		return pkgerrors.ErrCollectionNotFound
	}

	if err := coll.Close(); err != nil {
		logger.Warn("failed to close collection on delete", "name", name, "error", err)
	}
	if coll.engine != nil {
		if err := coll.engine.Destroy(); err != nil {
			return fmt.Errorf("failed to remove collection data: %w", err)
		}
	}
	logger.Info("collection deleted", "name", name)
	return nil
}

// ListCollections returns all collection names, sorted.
func (db *DB) ListCollections() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.collections))
	for name := range db.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats aggregates per-collection statistics.
func (db *DB) Stats() map[string]store.Stats {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make(map[string]store.Stats, len(db.collections))
	for name, coll := range db.collections {
		out[name] = coll.Stats()
	}
	return out
}

// Close releases every collection's resources. Persisted data stays on disk.
func (db *DB) Close() {
	db.mu.Lock()
	defer db.mu.Unlock()
	for name, coll := range db.collections {
		if err := coll.Close(); err != nil {
			logger.Warn("failed to close collection", "name", name, "error", err)
		}
	}
	db.collections = make(map[string]*Collection)
}
