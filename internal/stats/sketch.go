// Package stats holds the streaming statistics used by profile expressions.
package stats

import (
	"fmt"
	"math"

	"github.com/influxdata/tdigest"
)

// DefaultCompression trades accuracy for centroid count.
const DefaultCompression = 100

// Sketch is a mergeable approximation of a distribution. It keeps an exact
// count and sum next to a t-digest for quantiles.
//
// A Sketch is not safe for concurrent use. Profile state is only touched
// while its window is locked.
type Sketch struct {
	compression float64
	digest      *tdigest.TDigest
	count       float64
	sum         float64
}

// NewSketch returns an empty sketch. A non-positive compression uses the default.
func NewSketch(compression float64) *Sketch {
	if compression <= 0 {
		compression = DefaultCompression
	}
	return &Sketch{
		compression: compression,
		digest:      tdigest.NewWithCompression(compression),
	}
}

// Add records one observation.
func (s *Sketch) Add(x float64) error {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return fmt.Errorf("sketch: cannot add %v", x)
	}
	s.digest.Add(x, 1)
	s.count++
	s.sum += x
	return nil
}

func (s *Sketch) Count() float64       { return s.count }
func (s *Sketch) Sum() float64         { return s.sum }
func (s *Sketch) Compression() float64 { return s.compression }

// Mean returns NaN for an empty sketch.
func (s *Sketch) Mean() float64 {
	if s.count == 0 {
		return math.NaN()
	}
	return s.sum / s.count
}

// Percentile returns the approximate p-th percentile, p in [0, 100].
func (s *Sketch) Percentile(p float64) (float64, error) {
	if p < 0 || p > 100 {
		return 0, fmt.Errorf("sketch: percentile %v out of range [0, 100]", p)
	}
	if s.count == 0 {
		return math.NaN(), nil
	}
	return s.digest.Quantile(p / 100), nil
}

// Clone returns an independent copy of s.
func (s *Sketch) Clone() *Sketch {
	c := NewSketch(s.compression)
	for _, cen := range s.digest.Centroids(nil) {
		c.digest.AddCentroid(cen)
	}
	c.count = s.count
	c.sum = s.sum
	return c
}

// Centroids exposes the digest for serialization.
func (s *Sketch) Centroids() (means, weights []float64) {
	for _, c := range s.digest.Centroids(nil) {
		means = append(means, c.Mean)
		weights = append(weights, c.Weight)
	}
	return means, weights
}

// FromCentroids rebuilds a sketch from its serialized form.
func FromCentroids(compression, sum float64, means, weights []float64) (*Sketch, error) {
	if len(means) != len(weights) {
		return nil, fmt.Errorf("sketch: %d means but %d weights", len(means), len(weights))
	}
	s := NewSketch(compression)
	for i := range means {
		s.digest.AddCentroid(tdigest.Centroid{Mean: means[i], Weight: weights[i]})
		s.count += weights[i]
	}
	s.sum = sum
	return s, nil
}
