package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/enersight/peakline/internal/classifier"
	"github.com/enersight/peakline/internal/config"
)

// AttributionReconciler applies the confidence threshold to classification
// results, maps raw labels to display names and persists one attribution per
// accepted (peak, device) pair. Writes are individually idempotent at the
// storage layer, so a failed batch may be resubmitted in full.
type AttributionReconciler struct {
	store  AttributionStore
	config config.AttributionConfig
	logger *logrus.Logger
}

// NewAttributionReconciler creates a new reconciler.
func NewAttributionReconciler(store AttributionStore, cfg config.AttributionConfig, logger *logrus.Logger) *AttributionReconciler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AttributionReconciler{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Reconcile persists the accepted device attributions from a classification
// response. Candidates below the confidence threshold are discarded, not
// stored. A peak whose candidates are all discarded gets no attribution row
// and stays eligible for future classification rounds.
//
// On a persistence failure the error is logged with full context and
// returned; callers retrying the round must re-apply the batch builder's
// dedup filter first, which drops any attributions this invocation did
// manage to commit.
//
// Parameters:
//
//	ctx: Context.
//	response: Decoded classification response.
//	userID: Owning user.
//
// Returns:
//
//	int: Number of attributions persisted.
//	error: Reconciliation failure.
func (r *AttributionReconciler) Reconcile(ctx context.Context, response *classifier.ClassificationResponse, userID string) (int, error) {
	if response == nil {
		return 0, nil
	}

	saved := 0
	for _, result := range response.Results {
		for _, candidate := range result.Candidates {
			if candidate.Confidence < r.config.MinConfidence {
				continue
			}

			deviceName := DisplayName(candidate.Label)
			if err := r.store.SaveDeviceAttribution(ctx, result.PeakID, deviceName, candidate.Confidence, userID); err != nil {
				r.logger.WithFields(logrus.Fields{
					"peak_id":     result.PeakID,
					"device_name": deviceName,
					"raw_label":   candidate.Label,
					"confidence":  candidate.Confidence,
					"user_id":     userID,
					"error":       err.Error(),
				}).Error("Failed to persist device attribution")
				return saved, fmt.Errorf("failed to reconcile peak %s: %w", result.PeakID, err)
			}

			saved++
		}
	}

	r.logger.WithFields(logrus.Fields{
		"user_id":        userID,
		"results":        len(response.Results),
		"attributed":     saved,
		"min_confidence": r.config.MinConfidence,
	}).Info("Attribution reconciliation completed")

	return saved, nil
}
