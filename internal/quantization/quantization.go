// Package quantization provides the vector encodings used by collection storage.
// Encoded bytes are what the store owns; search decodes on demand.
package quantization

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	pkgerrors "surgedb/pkg/errors"
)

// Type identifies a quantization scheme.
type Type string

const (
	TypeNone Type = "none"
	TypeSQ8  Type = "sq8"
)

// ParseType accepts the wire spellings used by clients.
func ParseType(s string) (Type, error) {
	switch s {
	case "", "none", "None":
		return TypeNone, nil
	case "sq8", "SQ8", "ScalarQuantize8":
		return TypeSQ8, nil
	default:
		return "", fmt.Errorf("%w: unknown quantization %q", pkgerrors.ErrInvalidConfig, s)
	}
}

// State is the calibration state recorded in the collection manifest.
// It must stay fixed for the collection's lifetime; recalibration would
// silently mix encodings.
type State struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

// Quantizer transforms between raw float vectors and their stored encoding.
type Quantizer interface {
	// Encode converts a raw vector to its stored byte representation.
	Encode(v []float32) []byte

	// Decode reconstructs an (approximate, for lossy schemes) float vector.
	Decode(b []byte) []float32

	// Train calibrates the quantizer from sample vectors. It is a no-op
	// once trained.
	Train(vectors [][]float32)

	// Trained reports whether the quantizer is ready to encode.
	Trained() bool

	// BytesPerDimension returns the stored width of one component.
	BytesPerDimension() int

	// Type identifies the scheme.
	Type() Type

	// State returns the calibration state for the manifest.
	State() State
}

// New returns an untrained quantizer of the given type.
func New(t Type) (Quantizer, error) {
	switch t {
	case TypeNone:
		return &noneQuantizer{}, nil
	case TypeSQ8:
		return &scalarQuantizer{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown quantization %q", pkgerrors.ErrInvalidConfig, t)
	}
}

// Restore returns a quantizer carrying previously persisted calibration state.
func Restore(t Type, state State) (Quantizer, error) {
	q, err := New(t)
	if err != nil {
		return nil, err
	}
	// A zero-width range means the persisted calibration never ran; the
	// quantizer stays untrained and calibrates on the first encode.
	if sq, ok := q.(*scalarQuantizer); ok && state.Min < state.Max {
		sq.min = state.Min
		sq.max = state.Max
		sq.trained = true
	}
	return q, nil
}

// noneQuantizer stores raw float32 components little-endian.
type noneQuantizer struct{}

func (*noneQuantizer) Encode(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func (*noneQuantizer) Decode(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func (*noneQuantizer) Train([][]float32)      {}
func (*noneQuantizer) Trained() bool          { return true }
func (*noneQuantizer) BytesPerDimension() int { return 4 }
func (*noneQuantizer) Type() Type             { return TypeNone }
func (*noneQuantizer) State() State           { return State{} }

// scalarQuantizer implements 8-bit scalar quantization: each component is
// linearly mapped from the calibrated [min, max] range to [0, 255].
// Components outside the calibrated range clamp. The mutex publishes the
// calibration: concurrent first inserts race to train, and an encoder must
// never observe trained without the range that came with it.
type scalarQuantizer struct {
	mu      sync.RWMutex
	min     float32
	max     float32
	trained bool
}

func (sq *scalarQuantizer) Train(vectors [][]float32) {
	sq.mu.Lock()
	defer sq.mu.Unlock()
	if sq.trained || len(vectors) == 0 {
		return
	}

	sq.min = math.MaxFloat32
	sq.max = -math.MaxFloat32
	for _, vec := range vectors {
		for _, val := range vec {
			if val < sq.min {
				sq.min = val
			}
			if val > sq.max {
				sq.max = val
			}
		}
	}

	// Degenerate range: all observed components equal.
	if sq.min == sq.max {
		sq.max = sq.min + 1
	}

	sq.trained = true
}

func (sq *scalarQuantizer) Trained() bool {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return sq.trained
}

// rangeBounds snapshots the calibration for one encode or decode pass.
func (sq *scalarQuantizer) rangeBounds() (min, max float32) {
	sq.mu.RLock()
	defer sq.mu.RUnlock()
	return sq.min, sq.max
}

func (sq *scalarQuantizer) Encode(v []float32) []byte {
	min, max := sq.rangeBounds()
	b := make([]byte, len(v))
	scale := 255.0 / (max - min)
	for i, val := range v {
		if val < min {
			val = min
		} else if val > max {
			val = max
		}
		b[i] = uint8((val-min)*scale + 0.5)
	}
	return b
}

func (sq *scalarQuantizer) Decode(b []byte) []float32 {
	min, max := sq.rangeBounds()
	v := make([]float32, len(b))
	scale := (max - min) / 255.0
	for i, code := range b {
		v[i] = float32(code)*scale + min
	}
	return v
}

func (sq *scalarQuantizer) BytesPerDimension() int { return 1 }
func (sq *scalarQuantizer) Type() Type             { return TypeSQ8 }

func (sq *scalarQuantizer) State() State {
	min, max := sq.rangeBounds()
	return State{Min: min, Max: max}
}

// MaxError returns the worst-case per-component reconstruction error of the
// calibrated range: half of one quantization step.
func (sq *scalarQuantizer) MaxError() float32 {
	min, max := sq.rangeBounds()
	return (max - min) / 510.0
}
