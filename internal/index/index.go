// Package index maintains the approximate nearest-neighbor structure over a
// collection's vectors. The index holds only id references; vector bytes stay
// in the store and are resolved through a VectorSource.
package index

import (
	"fmt"

	pkgerrors "surgedb/pkg/errors"
)

// Metric is the distance metric configured per collection.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
	MetricDot       Metric = "dot"
)

// ParseMetric accepts the wire spellings used by clients.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "", "cosine", "Cosine":
		return MetricCosine, nil
	case "euclidean", "Euclidean", "l2", "L2":
		return MetricEuclidean, nil
	case "dot", "Dot", "DotProduct":
		return MetricDot, nil
	default:
		return "", fmt.Errorf("%w: unknown distance metric %q", pkgerrors.ErrInvalidConfig, s)
	}
}

// Result is one search hit. Score follows the metric's natural direction:
// similarity (higher is better) for cosine and dot product, distance (lower
// is better) for euclidean. Results are always emitted best-first.
type Result struct {
	ID    string
	Score float32
}

// VectorSource resolves a live record's decoded vector. The second return
// is false when the record no longer exists.
type VectorSource interface {
	Vector(id string) ([]float32, bool)
}

// Options configures an HNSW graph.
type Options struct {
	Dimension      int
	Metric         Metric
	M              int
	EfConstruction int
	EfSearch       int
}

const (
	defaultM              = 16
	defaultEfConstruction = 200
	defaultEfSearch       = 100
)

func (o *Options) fillDefaults() {
	if o.M <= 1 {
		o.M = defaultM
	}
	if o.EfConstruction <= 0 {
		o.EfConstruction = defaultEfConstruction
	}
	if o.EfSearch <= 0 {
		o.EfSearch = defaultEfSearch
	}
}
