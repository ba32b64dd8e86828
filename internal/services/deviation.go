package services

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/enersight/peakline/internal/models"
)

// noticeableSigmaFactor is the fixed multiple of the sample standard
// deviation a reading must deviate from the mean by before a user's
// consumption counts as noticeable.
const noticeableSigmaFactor = 2.0

// DeviationScorer decides whether a set of readings contains a statistically
// noticeable outlier. It is pure: logging is diagnostic only and never
// affects the result.
type DeviationScorer struct {
	logger *logrus.Logger
}

// NewDeviationScorer creates a new deviation scorer.
func NewDeviationScorer(logger *logrus.Logger) *DeviationScorer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DeviationScorer{logger: logger}
}

// IsNoticeable reports whether any reading deviates from the sample mean by
// more than twice the sample standard deviation. Fewer than two readings can
// never be noticeable: there is not enough data to characterize variance.
// The outcome is order-independent.
func (s *DeviationScorer) IsNoticeable(readings []models.SensorReading) bool {
	if len(readings) < 2 {
		return false
	}

	values := make([]float64, len(readings))
	for i, reading := range readings {
		values[i] = reading.EnergyValue.InexactFloat64()
	}

	mean := calculateMean(values)
	threshold := noticeableSigmaFactor * calculateStdDev(values)

	for i, v := range values {
		if math.Abs(v-mean) > threshold {
			s.logger.WithFields(logrus.Fields{
				"sensor_id": readings[i].SensorID,
				"value":     v,
				"mean":      mean,
				"threshold": threshold,
			}).Debug("Noticeable deviation found")
			return true
		}
	}

	return false
}

func calculateMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStdDev computes the Bessel-corrected (n-1) sample standard
// deviation. A single value has zero deviation by definition.
func calculateStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := calculateMean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	variance := sumSquares / float64(len(values)-1)
	return math.Sqrt(variance)
}
