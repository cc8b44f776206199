// Package store owns a collection's vector records: encoded vector bytes and
// metadata keyed by id. It is the ground truth the index derives from.
package store

import (
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"surgedb/internal/quantization"
	pkgerrors "surgedb/pkg/errors"
)

// decodedCacheSize bounds the decoded-vector cache used for lossy encodings.
const decodedCacheSize = 8192

// Record is one stored vector. Records are immutable once inserted; upsert
// swaps the whole record pointer so readers never observe a half-written
// vector/metadata pair.
type Record struct {
	ID       string
	Encoded  []byte
	Metadata map[string]any
}

// Stats summarizes a store's contents.
type Stats struct {
	VectorCount      int     `json:"vector_count"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes"`
	CompressionRatio float64 `json:"compression_ratio"`
}

// Store holds the records of a single collection.
type Store struct {
	dim   int
	quant quantization.Quantizer

	mu      sync.RWMutex
	records map[string]*Record
	bytes   int64

	// decoded caches reconstructed vectors for lossy encodings. Identity
	// encoding decodes cheaply and skips the cache.
	decoded *lru.Cache[string, []float32]
}

// New creates an empty store for vectors of the given dimension.
func New(dim int, quant quantization.Quantizer) (*Store, error) {
	if dim <= 0 {
		return nil, pkgerrors.ErrInvalidDimension
	}
	s := &Store{
		dim:     dim,
		quant:   quant,
		records: make(map[string]*Record),
	}
	if quant.BytesPerDimension() < 4 {
		cache, err := lru.New[string, []float32](decodedCacheSize)
		if err != nil {
			return nil, err
		}
		s.decoded = cache
	}
	return s, nil
}

// Quantizer exposes the store's encoding, for manifests and distance checks.
func (s *Store) Quantizer() quantization.Quantizer { return s.quant }

// Dimension returns the configured vector width.
func (s *Store) Dimension() int { return s.dim }

func (s *Store) encode(vector []float32) ([]byte, error) {
	if len(vector) != s.dim {
		return nil, &pkgerrors.DimensionError{Expected: s.dim, Got: len(vector)}
	}
	// Train synchronizes internally and is a no-op once calibrated.
	if !s.quant.Trained() {
		s.quant.Train([][]float32{vector})
	}
	return s.quant.Encode(vector), nil
}

// Insert adds a new record, failing on an existing id.
func (s *Store) Insert(id string, vector []float32, metadata map[string]any) error {
	encoded, err := s.encode(vector)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; exists {
		return pkgerrors.ErrDuplicateID
	}
	s.records[id] = &Record{ID: id, Encoded: encoded, Metadata: metadata}
	s.bytes += int64(len(id) + len(encoded))
	return nil
}

// Upsert inserts or replaces a record. It reports whether an existing record
// was replaced, so the caller can retire the old index entry first.
func (s *Store) Upsert(id string, vector []float32, metadata map[string]any) (replaced bool, err error) {
	encoded, err := s.encode(vector)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	old, exists := s.records[id]
	if exists {
		s.bytes -= int64(len(id) + len(old.Encoded))
	}
	s.records[id] = &Record{ID: id, Encoded: encoded, Metadata: metadata}
	s.bytes += int64(len(id) + len(encoded))
	s.mu.Unlock()

	if s.decoded != nil {
		s.decoded.Remove(id)
	}
	return exists, nil
}

// Delete removes a record.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	rec, exists := s.records[id]
	if !exists {
		s.mu.Unlock()
		return pkgerrors.ErrVectorNotFound
	}
	delete(s.records, id)
	s.bytes -= int64(len(id) + len(rec.Encoded))
	s.mu.Unlock()

	if s.decoded != nil {
		s.decoded.Remove(id)
	}
	return nil
}

// Restore installs an already-encoded record during recovery, bypassing
// dimension validation and quantizer training.
func (s *Store) Restore(id string, encoded []byte, metadata map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, exists := s.records[id]; exists {
		s.bytes -= int64(len(id) + len(old.Encoded))
	}
	s.records[id] = &Record{ID: id, Encoded: encoded, Metadata: metadata}
	s.bytes += int64(len(id) + len(encoded))
}

// Get returns the record for id.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Vector resolves the decoded vector for a live record. It implements the
// index's VectorSource.
func (s *Store) Vector(id string) ([]float32, bool) {
	if s.decoded != nil {
		if vec, ok := s.decoded.Get(id); ok {
			return vec, true
		}
	}
	rec, ok := s.Get(id)
	if !ok {
		return nil, false
	}
	vec := s.quant.Decode(rec.Encoded)
	if s.decoded != nil {
		s.decoded.Add(id, vec)
	}
	return vec, true
}

// IDs returns all record ids in lexical order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the record count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Stats reports count, approximate memory footprint and the effective
// compression ratio (raw float32 bytes over stored bytes per vector).
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		VectorCount:      len(s.records),
		MemoryUsageBytes: s.bytes,
		CompressionRatio: 4 / float64(s.quant.BytesPerDimension()),
	}
}

// Snapshot returns a point-in-time slice of all records. Record values are
// immutable, so sharing pointers with concurrent writers is safe.
func (s *Store) Snapshot() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out
}
