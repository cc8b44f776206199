// Package persistence checkpoints a collection's store to durable storage
// and recovers it on open. The record set is authoritative; the ANN index is
// rebuilt from it, never serialized.
package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"surgedb/internal/quantization"
	pkgerrors "surgedb/pkg/errors"
)

// FormatVersion gates on-disk compatibility. Bump on any layout change.
const FormatVersion = 1

// Manifest describes a checkpoint. It is the commit record of a snapshot:
// written last, validated first on open.
type Manifest struct {
	FormatVersion int                `json:"format_version"`
	Name          string             `json:"name"`
	Dimensions    int                `json:"dimensions"`
	Metric        string             `json:"distance_metric"`
	Quantization  string             `json:"quantization"`
	VectorCount   int                `json:"vector_count"`
	QuantState    quantization.State `json:"quantization_state"`
}

// Validate checks the manifest against a requested configuration. Any
// disagreement fails fast; persisted data is never silently reinterpreted.
func (m *Manifest) Validate(dimensions int, metric string, quant string) error {
	if m.FormatVersion != FormatVersion {
		return &pkgerrors.ConfigMismatchError{Field: "format_version", Persisted: m.FormatVersion, Requested: FormatVersion}
	}
	if m.Dimensions != dimensions {
		return &pkgerrors.ConfigMismatchError{Field: "dimensions", Persisted: m.Dimensions, Requested: dimensions}
	}
	if m.Metric != metric {
		return &pkgerrors.ConfigMismatchError{Field: "distance_metric", Persisted: m.Metric, Requested: metric}
	}
	if m.Quantization != quant {
		return &pkgerrors.ConfigMismatchError{Field: "quantization", Persisted: m.Quantization, Requested: quant}
	}
	return nil
}

// ReadManifest reads the committed manifest under dir, or nil when no
// checkpoint has been committed there.
func ReadManifest(dir string) (*Manifest, error) {
	m, err := readManifestFile(filepath.Join(dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return m, err
}

func writeManifestFile(path string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readManifestFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}
