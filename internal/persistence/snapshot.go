package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"surgedb/pkg/logger"
)

const (
	manifestFile  = "manifest.json"
	recordsFile   = "records.bin.gz"
	walFile       = "wal.log"
	walSealedFile = "wal.sealed"
)

// SnapshotRecord is one persisted vector record. Vector bytes are stored in
// their quantized encoding; the manifest carries the calibration state
// needed to decode them.
type SnapshotRecord struct {
	ID       string         `json:"id"`
	Encoded  []byte         `json:"encoded"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Engine persists one collection under its own directory.
type Engine struct {
	dir string
}

// NewEngine binds a persistence engine to a collection directory, creating
// it if needed.
func NewEngine(dir string) (*Engine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create collection directory: %w", err)
	}
	return &Engine{dir: dir}, nil
}

// Dir returns the collection directory.
func (e *Engine) Dir() string { return e.dir }

// WALPath returns the collection's write-ahead log path.
func (e *Engine) WALPath() string { return filepath.Join(e.dir, walFile) }

// SealedWALPath returns the path of the rotated log segment awaiting a
// checkpoint commit. On replay, sealed frames apply before the active log's.
func (e *Engine) SealedWALPath() string { return filepath.Join(e.dir, walSealedFile) }

// DiscardSealedWAL removes the sealed log segment once a checkpoint covering
// its frames has committed.
func (e *Engine) DiscardSealedWAL() error {
	err := os.Remove(e.SealedWALPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// HasCheckpoint reports whether a committed snapshot exists.
func (e *Engine) HasCheckpoint() bool {
	_, err := os.Stat(filepath.Join(e.dir, manifestFile))
	return err == nil
}

// Checkpoint writes a full snapshot atomically: records and manifest go to a
// staging directory first, then move into place with the manifest rename as
// the commit point. A crash mid-write leaves the previous checkpoint intact.
func (e *Engine) Checkpoint(man *Manifest, records []*SnapshotRecord) error {
	staging := filepath.Join(e.dir, ".staging-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := writeRecordsFile(filepath.Join(staging, recordsFile), records); err != nil {
		return err
	}
	if err := writeManifestFile(filepath.Join(staging, manifestFile), man); err != nil {
		return err
	}

	// Records first, manifest last: openers validate the manifest before
	// touching records, so a crash between the two renames is recoverable.
	if err := os.Rename(filepath.Join(staging, recordsFile), filepath.Join(e.dir, recordsFile)); err != nil {
		return fmt.Errorf("failed to commit records: %w", err)
	}
	if err := os.Rename(filepath.Join(staging, manifestFile), filepath.Join(e.dir, manifestFile)); err != nil {
		return fmt.Errorf("failed to commit manifest: %w", err)
	}

	logger.Debug("checkpoint committed", "collection", man.Name, "vectors", man.VectorCount)
	return nil
}

// LoadManifest reads the committed manifest, or nil when no checkpoint
// exists yet.
func (e *Engine) LoadManifest() (*Manifest, error) {
	m, err := readManifestFile(filepath.Join(e.dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return m, err
}

// LoadRecords streams the committed snapshot's records through fn.
func (e *Engine) LoadRecords(fn func(rec *SnapshotRecord) error) error {
	f, err := os.Open(filepath.Join(e.dir, recordsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to open records file: %w", err)
	}
	defer gz.Close()

	dec := json.NewDecoder(gz)
	for {
		var rec SnapshotRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode record: %w", err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
}

// Destroy removes all on-disk state for the collection.
func (e *Engine) Destroy() error {
	return os.RemoveAll(e.dir)
}

func writeRecordsFile(path string, records []*SnapshotRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create records file: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	enc := json.NewEncoder(gz)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to encode record %s: %w", rec.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to flush records file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync records file: %w", err)
	}
	return nil
}
