// Package confidence adjusts backend-reported confidence with routing context.
package confidence

import (
	"time"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/network"
)

// Observation is everything the scorer knows about a produced result.
type Observation struct {
	Base           float64
	ProcessingTime time.Duration
	Source         backend.Source
	FallbackUsed   bool
	Offline        bool
	Quality        network.Quality
}

// ThresholdFunc returns the current acceptance threshold.
type ThresholdFunc func() float64

// Scorer computes adjusted confidence values.
type Scorer struct {
	threshold ThresholdFunc
}

// NewScorer creates a scorer that reads its fallback threshold from threshold.
func NewScorer(threshold ThresholdFunc) *Scorer {
	return &Scorer{threshold: threshold}
}

// Adjust applies speed, source, connectivity and fallback adjustments to o.Base.
// The result is always within [0,1].
func (s *Scorer) Adjust(o Observation) float64 {
	v := o.Base + speedAdjustment(o.ProcessingTime) + sourceAdjustment(o.Source, o.Quality)
	if o.Offline {
		v -= 0.03
	} else {
		v += qualityAdjustment(o.Quality)
	}
	if o.FallbackUsed {
		v -= 0.05
	}
	return Clamp(v)
}

// ShouldFallback reports whether c is below the current threshold.
func (s *Scorer) ShouldFallback(c float64) bool {
	return c < s.threshold()
}

func speedAdjustment(d time.Duration) float64 {
	switch secs := d.Seconds(); {
	case secs < 0.5:
		return 0.15
	case secs < 1.0:
		return 0.10
	case secs < 2.0:
		return 0.05
	case secs > 5.0:
		return -0.15
	case secs > 3.0:
		return -0.10
	default:
		return 0
	}
}

func sourceAdjustment(src backend.Source, q network.Quality) float64 {
	switch src {
	case backend.SourceLocal:
		return 0.05
	case backend.SourceRemote:
		if q == network.QualityPoor {
			return 0.05
		}
		return 0.10
	case backend.SourceHybrid:
		return 0.15
	default:
		return 0
	}
}

func qualityAdjustment(q network.Quality) float64 {
	switch q {
	case network.QualityExcellent:
		return 0.05
	case network.QualityGood:
		return 0.02
	case network.QualityPoor:
		return -0.05
	default:
		return -0.03
	}
}

// Clamp bounds v to [0,1].
func Clamp(v float64) float64 {
	return min(max(v, 0), 1)
}
