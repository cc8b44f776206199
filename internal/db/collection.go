package db

import (
	"fmt"
	"sync"

	"github.com/twmb/murmur3"

	"surgedb/internal/filter"
	"surgedb/internal/index"
	"surgedb/internal/persistence"
	"surgedb/internal/quantization"
	"surgedb/internal/store"
	pkgerrors "surgedb/pkg/errors"
	"surgedb/pkg/logger"
)

const idLockStripes = 128

// CollectionConfig fixes a collection's shape at creation time.
type CollectionConfig struct {
	Dimensions   int
	Metric       index.Metric
	Quantization quantization.Type
	Persistent   bool
	DataPath     string

	// HNSW build parameters; zero values take the engine defaults.
	M              int
	EfConstruction int
	EfSearch       int
}

// normalize fills the zero values of optional fields.
func (c *CollectionConfig) normalize() {
	if c.Metric == "" {
		c.Metric = index.MetricCosine
	}
	if c.Quantization == "" {
		c.Quantization = quantization.TypeNone
	}
}

func (c *CollectionConfig) validate() error {
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", pkgerrors.ErrInvalidConfig)
	}
	if c.Persistent && c.DataPath == "" {
		return fmt.Errorf("%w: persistent collection requires a data path", pkgerrors.ErrInvalidConfig)
	}
	return nil
}

// VectorRecord is a stored vector as returned to callers: the decoded
// (approximate, under quantization) vector plus its metadata.
type VectorRecord struct {
	ID       string         `json:"id"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResult is one search hit with optional metadata attached.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Collection owns one named vector set: its store, its index and, when
// persistent, its on-disk state.
type Collection struct {
	name   string
	config CollectionConfig
	store  *store.Store
	index  *index.HNSW

	engine *persistence.Engine
	wal    *persistence.WAL

	// idLocks serialize mutations per id so store and index always move
	// together; searches never touch these.
	idLocks [idLockStripes]sync.Mutex

	checkpointMu sync.Mutex
}

func newCollection(name string, conf CollectionConfig) (*Collection, error) {
	conf.normalize()
	quant, err := quantization.New(conf.Quantization)
	if err != nil {
		return nil, err
	}
	return buildCollection(name, conf, quant)
}

func buildCollection(name string, conf CollectionConfig, quant quantization.Quantizer) (*Collection, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	st, err := store.New(conf.Dimensions, quant)
	if err != nil {
		return nil, err
	}
	idx, err := index.NewHNSW(index.Options{
		Dimension:      conf.Dimensions,
		Metric:         conf.Metric,
		M:              conf.M,
		EfConstruction: conf.EfConstruction,
		EfSearch:       conf.EfSearch,
	}, st)
	if err != nil {
		return nil, err
	}
	return &Collection{
		name:   name,
		config: conf,
		store:  st,
		index:  idx,
	}, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Config returns the collection's creation-time configuration.
func (c *Collection) Config() CollectionConfig { return c.config }

func (c *Collection) lockID(id string) *sync.Mutex {
	return &c.idLocks[murmur3.Sum32([]byte(id))%idLockStripes]
}

// Insert adds a new vector, failing on an existing id.
func (c *Collection) Insert(id string, vector []float32, metadata map[string]any) error {
	lock := c.lockID(id)
	lock.Lock()
	defer lock.Unlock()

	if err := c.store.Insert(id, vector, metadata); err != nil {
		return err
	}
	if err := c.index.Add(id, vector); err != nil {
		return err
	}
	return c.logUpsert(id, vector, metadata)
}

// Upsert inserts or atomically replaces a vector. The index entry for a
// replaced vector is retired in the same step that installs the new one, so
// no search ever resolves stale data through it.
func (c *Collection) Upsert(id string, vector []float32, metadata map[string]any) error {
	lock := c.lockID(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.store.Upsert(id, vector, metadata); err != nil {
		return err
	}
	if err := c.index.Add(id, vector); err != nil {
		return err
	}
	return c.logUpsert(id, vector, metadata)
}

// Delete removes a vector, its metadata and its index entry together.
func (c *Collection) Delete(id string) error {
	lock := c.lockID(id)
	lock.Lock()
	defer lock.Unlock()

	if err := c.store.Delete(id); err != nil {
		return err
	}
	// The index may lag behind only for ids that never reached it; a
	// missing entry here is not an error.
	if err := c.index.Remove(id); err != nil && err != pkgerrors.ErrVectorNotFound {
		return err
	}
	return c.logDelete(id)
}

// Get returns the stored record for id, with the vector decoded.
func (c *Collection) Get(id string) (*VectorRecord, error) {
	rec, ok := c.store.Get(id)
	if !ok {
		return nil, pkgerrors.ErrVectorNotFound
	}
	return &VectorRecord{
		ID:       rec.ID,
		Vector:   c.store.Quantizer().Decode(rec.Encoded),
		Metadata: rec.Metadata,
	}, nil
}

// Len returns the number of live vectors.
func (c *Collection) Len() int { return c.store.Len() }

// List returns a page of vector ids in lexical order. Offsets past the end
// and non-positive limits yield an empty page.
func (c *Collection) List(offset, limit int) []string {
	ids := c.store.IDs()
	if offset < 0 || offset >= len(ids) || limit <= 0 {
		return []string{}
	}
	ids = ids[offset:]
	if limit < len(ids) {
		ids = ids[:limit]
	}
	return ids
}

// Stats reports the collection's storage statistics.
func (c *Collection) Stats() store.Stats { return c.store.Stats() }

// Search returns the k approximately nearest vectors to query.
func (c *Collection) Search(query []float32, k int) ([]SearchResult, error) {
	return c.SearchWithFilter(query, k, nil)
}

// SearchWithFilter returns the k nearest vectors whose metadata satisfies
// the predicate. The index over-fetches until k matches are found or the
// whole collection has been considered.
func (c *Collection) SearchWithFilter(query []float32, k int, f *filter.Filter) ([]SearchResult, error) {
	var accept func(id string) bool
	if f != nil {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		accept = func(id string) bool {
			rec, ok := c.store.Get(id)
			return ok && f.Matches(rec.Metadata)
		}
	}

	hits, err := c.index.SearchFiltered(query, k, accept)
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, len(hits))
	for i, hit := range hits {
		results[i] = SearchResult{ID: hit.ID, Score: hit.Score}
		if rec, ok := c.store.Get(hit.ID); ok {
			results[i].Metadata = rec.Metadata
		}
	}
	return results, nil
}

// Checkpoint writes a durable snapshot of the collection and retires the
// WAL frames the snapshot covers. Writers are quiesced only for the brief
// capture-and-rotate step; serialization and disk writes then proceed
// without stalling them.
func (c *Collection) Checkpoint() error {
	if c.engine == nil {
		return pkgerrors.ErrNotPersistent
	}
	c.checkpointMu.Lock()
	defer c.checkpointMu.Unlock()

	// The snapshot and the log rotation must observe the same cut: with
	// every id lock held, a write lands either fully in the snapshot or
	// fully in the fresh log segment, never split across the two.
	for i := range c.idLocks {
		c.idLocks[i].Lock()
	}
	snapshot := c.store.Snapshot()
	quant := c.store.Quantizer()
	state := quant.State()
	rotateErr := c.wal.Rotate(c.engine.SealedWALPath())
	for i := range c.idLocks {
		c.idLocks[i].Unlock()
	}
	if rotateErr != nil {
		return rotateErr
	}

	records := make([]*persistence.SnapshotRecord, len(snapshot))
	for i, rec := range snapshot {
		records[i] = &persistence.SnapshotRecord{
			ID:       rec.ID,
			Encoded:  rec.Encoded,
			Metadata: rec.Metadata,
		}
	}
	man := &persistence.Manifest{
		FormatVersion: persistence.FormatVersion,
		Name:          c.name,
		Dimensions:    c.config.Dimensions,
		Metric:        string(c.config.Metric),
		Quantization:  string(quant.Type()),
		VectorCount:   len(records),
		QuantState:    state,
	}
	if err := c.engine.Checkpoint(man, records); err != nil {
		// The sealed segment stays; recovery replays it over the
		// previous committed checkpoint.
		return err
	}
	if err := c.engine.DiscardSealedWAL(); err != nil {
		return err
	}
	logger.Info("checkpoint complete", "collection", c.name, "vectors", len(records))
	return nil
}

// Sync forces buffered WAL writes to durable storage. It is a no-op for
// in-memory collections.
func (c *Collection) Sync() error {
	if c.wal == nil {
		return nil
	}
	return c.wal.Sync()
}

// Close releases the collection's file handles. In-memory state is dropped
// by the registry.
func (c *Collection) Close() error {
	if c.wal != nil {
		return c.wal.Close()
	}
	return nil
}

func (c *Collection) logUpsert(id string, vector []float32, metadata map[string]any) error {
	if c.wal == nil {
		return nil
	}
	return c.wal.AppendUpsert(id, vector, metadata)
}

func (c *Collection) logDelete(id string) error {
	if c.wal == nil {
		return nil
	}
	return c.wal.AppendDelete(id)
}
