package db

import (
	"errors"
	"fmt"

	"surgedb/internal/persistence"
	"surgedb/internal/quantization"
	pkgerrors "surgedb/pkg/errors"
	"surgedb/pkg/logger"
)

// openCollection opens a persistent collection at its data path: validate
// the manifest against the requested config, load the snapshot, rebuild the
// index from it, replay the WAL tail, then reattach the WAL for appending.
//
// The index is rebuilt rather than deserialized: persisted records are the
// only source of truth, and the rebuild doubles as tombstone compaction.
func openCollection(name string, conf CollectionConfig) (*Collection, error) {
	conf.normalize()
	if err := conf.validate(); err != nil {
		return nil, err
	}
	engine, err := persistence.NewEngine(conf.DataPath)
	if err != nil {
		return nil, err
	}

	man, err := engine.LoadManifest()
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest for %s: %w", name, err)
	}

	var quant quantization.Quantizer
	if man != nil {
		if err := man.Validate(conf.Dimensions, string(conf.Metric), string(conf.Quantization)); err != nil {
			return nil, err
		}
		quant, err = quantization.Restore(conf.Quantization, man.QuantState)
	} else {
		quant, err = quantization.New(conf.Quantization)
	}
	if err != nil {
		return nil, err
	}

	c, err := buildCollection(name, conf, quant)
	if err != nil {
		return nil, err
	}
	c.engine = engine

	if man == nil {
		// First open: commit an empty checkpoint so a registry restart
		// can reconstruct the collection's config and replay the WAL
		// even before any data checkpoint has run.
		init := &persistence.Manifest{
			FormatVersion: persistence.FormatVersion,
			Name:          name,
			Dimensions:    conf.Dimensions,
			Metric:        string(conf.Metric),
			Quantization:  string(conf.Quantization),
			QuantState:    quant.State(),
		}
		if err := engine.Checkpoint(init, nil); err != nil {
			return nil, fmt.Errorf("failed to initialize collection %s: %w", name, err)
		}
	}

	restored := 0
	err = engine.LoadRecords(func(rec *persistence.SnapshotRecord) error {
		c.store.Restore(rec.ID, rec.Encoded, rec.Metadata)
		restored++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load records for %s: %w", name, err)
	}

	for _, rec := range c.store.Snapshot() {
		if err := c.index.Add(rec.ID, quant.Decode(rec.Encoded)); err != nil {
			return nil, fmt.Errorf("failed to rebuild index for %s: %w", name, err)
		}
	}

	replayed := 0
	apply := func(entry *persistence.WALEntry) error {
		replayed++
		if entry.Deleted {
			if err := c.store.Delete(entry.ID); err != nil && !errors.Is(err, pkgerrors.ErrVectorNotFound) {
				return err
			}
			if err := c.index.Remove(entry.ID); err != nil && !errors.Is(err, pkgerrors.ErrVectorNotFound) {
				return err
			}
			return nil
		}
		if _, err := c.store.Upsert(entry.ID, entry.Vector, entry.Metadata); err != nil {
			return err
		}
		return c.index.Add(entry.ID, entry.Vector)
	}
	// A sealed segment survives only when a checkpoint failed mid-flight;
	// its frames predate the active log's.
	if err := persistence.ReplayWAL(engine.SealedWALPath(), apply); err != nil {
		return nil, fmt.Errorf("failed to replay wal for %s: %w", name, err)
	}
	if err := persistence.ReplayWAL(engine.WALPath(), apply); err != nil {
		return nil, fmt.Errorf("failed to replay wal for %s: %w", name, err)
	}

	wal, err := persistence.OpenWAL(engine.WALPath())
	if err != nil {
		return nil, err
	}
	c.wal = wal

	if restored > 0 || replayed > 0 {
		logger.Info("collection recovered",
			"name", name,
			"snapshot_records", restored,
			"wal_entries", replayed,
			"live_vectors", c.store.Len(),
		)
	}
	return c, nil
}
