package services

import (
	"context"
	"time"

	"github.com/enersight/peakline/internal/models"
)

// fixedClock returns a constant time for deterministic window tests.
type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type fakeReadingStore struct {
	readings []models.SensorReading
	readErr  error
	markErr  error

	markCalls [][]models.SensorReading
}

func (f *fakeReadingStore) GetReadings(ctx context.Context, sensorID string, start, end time.Time) ([]models.SensorReading, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	var inWindow []models.SensorReading
	for _, r := range f.readings {
		if !r.Timestamp.Before(start) && r.Timestamp.Before(end) {
			inWindow = append(inWindow, r)
		}
	}
	return inWindow, nil
}

func (f *fakeReadingStore) MarkPeaks(ctx context.Context, sensorID string, candidates []models.SensorReading) ([]models.Peak, error) {
	if f.markErr != nil {
		return nil, f.markErr
	}
	f.markCalls = append(f.markCalls, candidates)
	peaks := make([]models.Peak, len(candidates))
	for i, c := range candidates {
		peaks[i] = models.Peak{
			ID:          "peak-" + c.ID,
			SensorID:    sensorID,
			Timestamp:   c.Timestamp,
			EnergyValue: c.EnergyValue,
			Marked:      true,
		}
	}
	return peaks, nil
}

type fakeAttributionStore struct {
	unattributed map[string]bool
	filterErr    error
	saveErr      error

	saved []savedAttribution
}

type savedAttribution struct {
	peakID     string
	deviceName string
	confidence float64
	userID     string
}

func (f *fakeAttributionStore) GetPeaksWithoutDevices(ctx context.Context, refs []models.PeakRef) ([]models.PeakRef, error) {
	if f.filterErr != nil {
		return nil, f.filterErr
	}
	var filtered []models.PeakRef
	for _, ref := range refs {
		if f.unattributed[ref.ID] {
			filtered = append(filtered, ref)
		}
	}
	return filtered, nil
}

func (f *fakeAttributionStore) SaveDeviceAttribution(ctx context.Context, peakID, deviceName string, confidence float64, userID string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, savedAttribution{
		peakID:     peakID,
		deviceName: deviceName,
		confidence: confidence,
		userID:     userID,
	})
	// Mimic the storage-side dedup: a saved peak is attributed from now on.
	if f.unattributed != nil {
		f.unattributed[peakID] = false
	}
	return nil
}

type fakeUserReadingStore struct {
	readings []models.SensorReading
	err      error
}

func (f *fakeUserReadingStore) GetUserReadings(ctx context.Context, userID string, since time.Time) ([]models.SensorReading, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.readings, nil
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) Send(ctx context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, text)
	return nil
}
