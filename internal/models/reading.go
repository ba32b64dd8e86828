package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SensorReading represents a single metered data point as produced by the
// hardware ingestion path. Readings are immutable; this service only reads them.
type SensorReading struct {
	ID          string          `json:"id" db:"id"`
	SensorID    string          `json:"sensor_id" db:"sensor_id"`
	Timestamp   time.Time       `json:"timestamp" db:"recorded_at"`
	EnergyValue decimal.Decimal `json:"energy_value" db:"energy_value"`
}

// PeakWindow is a half-hour, wall-clock-aligned interval [Start, End) bounding
// one detection run. Windows for consecutive runs never overlap.
type PeakWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w PeakWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w PeakWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}
