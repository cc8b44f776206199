package index

import (
	"math"

	"github.com/viterin/vek/vek32"
)

// distFunc returns a function computing the metric as an ascending distance,
// so a single ordering works for every metric: cosine distance = 1 - cos,
// dot distance = -dot, euclidean distance as-is.
func distFunc(m Metric) func(a, b []float32) float32 {
	switch m {
	case MetricCosine:
		return cosineDistance
	case MetricDot:
		return func(a, b []float32) float32 { return -vek32.Dot(a, b) }
	default:
		return vek32.Distance
	}
}

func cosineDistance(a, b []float32) float32 {
	dot := vek32.Dot(a, b)
	na := vek32.Dot(a, a)
	nb := vek32.Dot(b, b)
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/float32(math.Sqrt(float64(na)*float64(nb)))
}

// scoreFromDistance converts the internal ascending distance back to the
// metric's reported score: similarity for cosine/dot, distance for euclidean.
func scoreFromDistance(m Metric, d float32) float32 {
	switch m {
	case MetricCosine:
		return 1 - d
	case MetricDot:
		return -d
	default:
		return d
	}
}
