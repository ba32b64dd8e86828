package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Peak is a sensor reading flagged as an anomalous consumption spike.
// Created by the peak detector; only the attribution reconciler appends to
// Attributions afterwards. Peaks are never deleted by the pipeline.
type Peak struct {
	ID           string              `json:"id" db:"id"`
	SensorID     string              `json:"sensor_id" db:"sensor_id"`
	Timestamp    time.Time           `json:"timestamp" db:"recorded_at"`
	EnergyValue  decimal.Decimal     `json:"energy_value" db:"energy_value"`
	Marked       bool                `json:"marked" db:"marked"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	Attributions []DeviceAttribution `json:"attributions,omitempty"`
}

// PeakRef is the slim peak identity plus reading context that flows through
// the classification batch.
type PeakRef struct {
	ID          string          `json:"id"`
	SensorID    string          `json:"sensor_id"`
	Timestamp   time.Time       `json:"timestamp"`
	EnergyValue decimal.Decimal `json:"energy_value"`
}

// Ref returns the batchable reference for a peak.
func (p Peak) Ref() PeakRef {
	return PeakRef{
		ID:          p.ID,
		SensorID:    p.SensorID,
		Timestamp:   p.Timestamp,
		EnergyValue: p.EnergyValue,
	}
}

// DeviceAttribution associates a peak with a probable appliance and the
// classifier's confidence. At most one row exists per (peak, device) pair.
type DeviceAttribution struct {
	ID         string    `json:"id" db:"id"`
	PeakID     string    `json:"peak_id" db:"peak_id"`
	DeviceName string    `json:"device_name" db:"device_name"`
	Confidence float64   `json:"confidence" db:"confidence"`
	UserID     string    `json:"user_id" db:"user_id"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
