package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enersight/peakline/internal/config"
	"github.com/enersight/peakline/internal/models"
)

func TestCurrentWindow(t *testing.T) {
	tests := []struct {
		name          string
		now           time.Time
		expectedStart time.Time
	}{
		{
			name:          "early in the hour maps to previous half hour",
			now:           time.Date(2026, 3, 14, 14, 5, 0, 0, time.UTC),
			expectedStart: time.Date(2026, 3, 14, 13, 30, 0, 0, time.UTC),
		},
		{
			name:          "minute 29 still maps to previous half hour",
			now:           time.Date(2026, 3, 14, 14, 29, 59, 0, time.UTC),
			expectedStart: time.Date(2026, 3, 14, 13, 30, 0, 0, time.UTC),
		},
		{
			name:          "minute 30 flips to the current hour",
			now:           time.Date(2026, 3, 14, 14, 30, 0, 0, time.UTC),
			expectedStart: time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC),
		},
		{
			name:          "minute 31 stays in the current hour",
			now:           time.Date(2026, 3, 14, 14, 31, 0, 0, time.UTC),
			expectedStart: time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC),
		},
		{
			name:          "just after midnight reaches back into the previous day",
			now:           time.Date(2026, 3, 14, 0, 10, 0, 0, time.UTC),
			expectedStart: time.Date(2026, 3, 13, 23, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window := CurrentWindow(tt.now)
			assert.Equal(t, tt.expectedStart, window.Start)
			assert.Equal(t, tt.expectedStart.Add(30*time.Minute), window.End)
			assert.Equal(t, 30*time.Minute, window.Duration())
		})
	}
}

func TestCurrentWindowStableWithinHalfHour(t *testing.T) {
	first := CurrentWindow(time.Date(2026, 3, 14, 14, 31, 2, 0, time.UTC))
	second := CurrentWindow(time.Date(2026, 3, 14, 14, 58, 59, 0, time.UTC))
	assert.Equal(t, first, second)
}

func windowReadings(window models.PeakWindow, values ...float64) []models.SensorReading {
	readings := make([]models.SensorReading, len(values))
	for i, v := range values {
		readings[i] = models.SensorReading{
			ID:          "r" + string(rune('a'+i)),
			SensorID:    "sensor-1",
			Timestamp:   window.Start.Add(time.Duration(i) * time.Minute),
			EnergyValue: decimal.NewFromFloat(v),
		}
	}
	return readings
}

func TestFindAndMarkFlagsSpike(t *testing.T) {
	now := time.Date(2026, 3, 14, 14, 10, 0, 0, time.UTC)
	window := CurrentWindow(now)
	store := &fakeReadingStore{readings: windowReadings(window, 5, 5, 40)}

	detector := NewPeakDetector(store, fixedClock{now}, config.DetectionConfig{
		MaxPeaksPerRun: 5,
		SigmaFactor:    1.0,
	}, logrus.New())

	got, count := detector.FindAndMark(context.Background(), "sensor-1", 0)

	assert.Equal(t, window, got)
	assert.Equal(t, 1, count)
	require.Len(t, store.markCalls, 1)
	require.Len(t, store.markCalls[0], 1)
	assert.True(t, store.markCalls[0][0].EnergyValue.Equal(decimal.NewFromInt(40)))
}

func TestFindAndMarkFlatWindowFindsNothing(t *testing.T) {
	now := time.Date(2026, 3, 14, 14, 10, 0, 0, time.UTC)
	store := &fakeReadingStore{readings: windowReadings(CurrentWindow(now), 10, 10, 10, 10)}

	detector := NewPeakDetector(store, fixedClock{now}, config.DetectionConfig{
		MaxPeaksPerRun: 5,
		SigmaFactor:    1.0,
	}, nil)

	_, count := detector.FindAndMark(context.Background(), "sensor-1", 0)

	assert.Zero(t, count)
	assert.Empty(t, store.markCalls)
}

func TestFindAndMarkRespectsCap(t *testing.T) {
	now := time.Date(2026, 3, 14, 14, 45, 0, 0, time.UTC)
	window := CurrentWindow(now)
	// Two low readings drag the mean to 8; all eight tens sit above it.
	store := &fakeReadingStore{readings: windowReadings(window, 0, 0, 10, 10, 10, 10, 10, 10, 10, 10)}

	detector := NewPeakDetector(store, fixedClock{now}, config.DetectionConfig{
		MaxPeaksPerRun: 5,
		SigmaFactor:    0,
	}, nil)

	_, count := detector.FindAndMark(context.Background(), "sensor-1", 0)

	assert.Equal(t, 5, count)
	require.Len(t, store.markCalls, 1)
	assert.Len(t, store.markCalls[0], 5)
}

func TestFindAndMarkOrdersCandidatesByStrength(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 40, 0, 0, time.UTC)
	window := CurrentWindow(now)
	store := &fakeReadingStore{readings: windowReadings(window, 10, 10, 50, 30, 40)}

	detector := NewPeakDetector(store, fixedClock{now}, config.DetectionConfig{
		MaxPeaksPerRun: 2,
		SigmaFactor:    0,
	}, nil)

	_, count := detector.FindAndMark(context.Background(), "sensor-1", 0)

	assert.Equal(t, 2, count)
	require.Len(t, store.markCalls, 1)
	require.Len(t, store.markCalls[0], 2)
	assert.True(t, store.markCalls[0][0].EnergyValue.Equal(decimal.NewFromInt(50)))
	assert.True(t, store.markCalls[0][1].EnergyValue.Equal(decimal.NewFromInt(40)))
}

func TestFindAndMarkSwallowsFetchError(t *testing.T) {
	now := time.Date(2026, 3, 14, 14, 10, 0, 0, time.UTC)
	store := &fakeReadingStore{readErr: errors.New("connection refused")}

	detector := NewPeakDetector(store, fixedClock{now}, config.DetectionConfig{
		MaxPeaksPerRun: 5,
		SigmaFactor:    1.0,
	}, logrus.New())

	window, count := detector.FindAndMark(context.Background(), "sensor-1", 0)

	assert.Zero(t, count)
	assert.Equal(t, CurrentWindow(now), window)
}

func TestFindAndMarkSwallowsMarkError(t *testing.T) {
	now := time.Date(2026, 3, 14, 14, 10, 0, 0, time.UTC)
	store := &fakeReadingStore{
		readings: windowReadings(CurrentWindow(now), 5, 5, 40),
		markErr:  errors.New("deadlock detected"),
	}

	detector := NewPeakDetector(store, fixedClock{now}, config.DetectionConfig{
		MaxPeaksPerRun: 5,
		SigmaFactor:    1.0,
	}, logrus.New())

	_, count := detector.FindAndMark(context.Background(), "sensor-1", 0)

	assert.Zero(t, count)
}

func TestFindAndMarkSingleReadingNeverQualifies(t *testing.T) {
	now := time.Date(2026, 3, 14, 14, 10, 0, 0, time.UTC)
	store := &fakeReadingStore{readings: windowReadings(CurrentWindow(now), 9000)}

	detector := NewPeakDetector(store, fixedClock{now}, config.DetectionConfig{
		MaxPeaksPerRun: 5,
		SigmaFactor:    1.0,
	}, nil)

	_, count := detector.FindAndMark(context.Background(), "sensor-1", 0)

	assert.Zero(t, count)
	assert.Empty(t, store.markCalls)
}
