package services

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/enersight/peakline/internal/config"
	"github.com/enersight/peakline/internal/models"
	"github.com/enersight/peakline/internal/telemetry"
)

// Clock supplies wall-clock time so window derivation stays deterministic
// under test.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the real wall clock.
func SystemClock() Clock { return systemClock{} }

// ReadingStore is the slice of the persistence layer the detector needs.
type ReadingStore interface {
	GetReadings(ctx context.Context, sensorID string, start, end time.Time) ([]models.SensorReading, error)
	MarkPeaks(ctx context.Context, sensorID string, candidates []models.SensorReading) ([]models.Peak, error)
}

// PeakDetector scans one half-hour window of a sensor's readings per run and
// marks statistically significant consumption spikes as peaks.
type PeakDetector struct {
	store  ReadingStore
	clock  Clock
	config config.DetectionConfig
	logger *logrus.Logger
}

// NewPeakDetector creates a new peak detector.
func NewPeakDetector(store ReadingStore, clock Clock, cfg config.DetectionConfig, logger *logrus.Logger) *PeakDetector {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PeakDetector{
		store:  store,
		clock:  clock,
		config: cfg,
		logger: logger,
	}
}

// CurrentWindow derives the half-hour detection window from wall-clock time:
// at minute >= 30 the window is [HH:00, HH:30), otherwise [HH-1:30, HH:00).
// Every invocation within the same half hour recomputes the identical window,
// which makes repeated scheduler ticks idempotent by construction.
func CurrentWindow(now time.Time) models.PeakWindow {
	var start time.Time
	if now.Minute() >= 30 {
		start = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), 0, 0, 0, now.Location())
	} else {
		start = time.Date(now.Year(), now.Month(), now.Day(), now.Hour()-1, 30, 0, 0, now.Location())
	}
	return models.PeakWindow{Start: start, End: start.Add(30 * time.Minute)}
}

// FindAndMark scans the current window of the given sensor and marks up to
// maxPeaks peaks (the configured cap when maxPeaks <= 0). Storage failures
// are logged with the attempted window bounds and swallowed, so one bad
// sensor never aborts a multi-sensor cron sweep.
//
// Parameters:
//
//	ctx: Context.
//	sensorID: Sensor to scan.
//	maxPeaks: Cap on newly marked peaks for this run.
//
// Returns:
//
//	models.PeakWindow: The window that was scanned.
//	int: Number of peaks newly marked by this run.
func (d *PeakDetector) FindAndMark(ctx context.Context, sensorID string, maxPeaks int) (models.PeakWindow, int) {
	ctx, span := telemetry.PipelineTracer().Start(ctx, "detector.FindAndMark")
	defer span.End()
	span.SetAttributes(attribute.String("sensor_id", sensorID))

	if maxPeaks <= 0 {
		maxPeaks = d.config.MaxPeaksPerRun
	}

	window := CurrentWindow(d.clock.Now())

	readings, err := d.store.GetReadings(ctx, sensorID, window.Start, window.End)
	if err != nil {
		d.logWindowError(sensorID, window, "failed to fetch readings", err)
		return window, 0
	}

	candidates := d.findCandidates(readings)
	if len(candidates) > maxPeaks {
		candidates = candidates[:maxPeaks]
	}
	if len(candidates) == 0 {
		return window, 0
	}

	marked, err := d.store.MarkPeaks(ctx, sensorID, candidates)
	if err != nil {
		d.logWindowError(sensorID, window, "failed to mark peaks", err)
		return window, 0
	}

	span.SetAttributes(attribute.Int("peaks_marked", len(marked)))
	d.logger.WithFields(logrus.Fields{
		"sensor_id":    sensorID,
		"window_start": window.Start,
		"window_end":   window.End,
		"peaks_marked": len(marked),
	}).Info("Peak detection run completed")

	return window, len(marked)
}

// findCandidates applies the windowed threshold rule: a reading is a peak
// candidate when its value exceeds the window mean by more than the
// configured multiple of the sample standard deviation. Candidates are
// ordered strongest deviation first so the cap keeps the most significant
// spikes. In a window of identical values the deviation is zero and nothing
// qualifies.
func (d *PeakDetector) findCandidates(readings []models.SensorReading) []models.SensorReading {
	if len(readings) < 2 {
		return nil
	}

	values := make([]float64, len(readings))
	for i, reading := range readings {
		values[i] = reading.EnergyValue.InexactFloat64()
	}

	mean := calculateMean(values)
	threshold := mean + d.config.SigmaFactor*calculateStdDev(values)

	type scored struct {
		reading models.SensorReading
		value   float64
	}
	var candidates []scored
	for i, v := range values {
		if v > threshold {
			candidates = append(candidates, scored{reading: readings[i], value: v})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].value > candidates[j].value
	})

	result := make([]models.SensorReading, len(candidates))
	for i, c := range candidates {
		result[i] = c.reading
	}
	return result
}

func (d *PeakDetector) logWindowError(sensorID string, window models.PeakWindow, msg string, err error) {
	d.logger.WithFields(logrus.Fields{
		"sensor_id":    sensorID,
		"window_start": window.Start,
		"window_end":   window.End,
		"error":        err.Error(),
	}).Error(msg)
}
