package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/enersight/peakline/internal/models"
)

// AttributionStore is the slice of the persistence layer shared by the batch
// builder and the reconciler.
type AttributionStore interface {
	GetPeaksWithoutDevices(ctx context.Context, refs []models.PeakRef) ([]models.PeakRef, error)
	SaveDeviceAttribution(ctx context.Context, peakID, deviceName string, confidence float64, userID string) error
}

// BatchBuilder assembles classification batches. Peaks that already carry at
// least one device attribution are excluded forever: this filter is the sole
// dedup mechanism preventing repeat classification. It is not a freshness
// filter; peaks the classifier failed to explain stay eligible.
type BatchBuilder struct {
	store  AttributionStore
	logger *logrus.Logger
}

// NewBatchBuilder creates a new batch builder.
func NewBatchBuilder(store AttributionStore, logger *logrus.Logger) *BatchBuilder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BatchBuilder{store: store, logger: logger}
}

// BuildBatch filters the candidate peaks down to those with zero existing
// attributions. An empty result means the caller must skip the external
// classification call entirely.
func (b *BatchBuilder) BuildBatch(ctx context.Context, peaks []models.PeakRef) ([]models.PeakRef, error) {
	if len(peaks) == 0 {
		return nil, nil
	}

	batch, err := b.store.GetPeaksWithoutDevices(ctx, peaks)
	if err != nil {
		return nil, fmt.Errorf("failed to build classification batch: %w", err)
	}

	b.logger.WithFields(logrus.Fields{
		"candidates": len(peaks),
		"batch_size": len(batch),
	}).Debug("Classification batch built")

	return batch, nil
}
