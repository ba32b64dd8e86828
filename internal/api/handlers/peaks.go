package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/enersight/peakline/internal/classifier"
	"github.com/enersight/peakline/internal/models"
	"github.com/enersight/peakline/internal/services"
)

// ClassifierClient is the outbound bridge to the ML classification service.
type ClassifierClient interface {
	Classify(ctx context.Context, batch []models.PeakRef) (*classifier.ClassificationResponse, error)
}

// PeakStore is the slice of the repository the trigger handlers consume.
type PeakStore interface {
	GetPeakRefs(ctx context.Context, peakIDs []string) ([]models.PeakRef, error)
	GetUnattributedPeaksForUser(ctx context.Context, userID string, limit int) ([]models.PeakRef, error)
	ListPeaksForUser(ctx context.Context, userID string, limit int) ([]models.Peak, error)
}

// PeakHandler serves the pipeline trigger endpoints and the dashboard peak
// listing.
type PeakHandler struct {
	detector   *services.PeakDetector
	batcher    *services.BatchBuilder
	reconciler *services.AttributionReconciler
	notifier   *services.AnomalyNotifier
	classifier ClassifierClient
	store      PeakStore
	logger     *logrus.Logger
}

// NewPeakHandler creates a new peak handler.
func NewPeakHandler(
	detector *services.PeakDetector,
	batcher *services.BatchBuilder,
	reconciler *services.AttributionReconciler,
	notifier *services.AnomalyNotifier,
	classifierClient ClassifierClient,
	store PeakStore,
	logger *logrus.Logger,
) *PeakHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &PeakHandler{
		detector:   detector,
		batcher:    batcher,
		reconciler: reconciler,
		notifier:   notifier,
		classifier: classifierClient,
		store:      store,
		logger:     logger,
	}
}

type processPeaksRequest struct {
	SensorID string `json:"sensor_id" binding:"required"`
	MaxPeaks int    `json:"max_peaks"`
}

// ProcessPeaks runs one peak detection pass for a sensor. The response is
// always success-shaped: detection errors are logged inside the detector,
// never surfaced, so the scheduler does not retry-storm a single bad sensor.
func (h *PeakHandler) ProcessPeaks(c *gin.Context) {
	var req processPeaksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sensor_id is required"})
		return
	}

	window, found := h.detector.FindAndMark(c.Request.Context(), req.SensorID, req.MaxPeaks)

	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"sensor_id":    req.SensorID,
		"window_start": window.Start.Format(time.RFC3339),
		"window_end":   window.End.Format(time.RFC3339),
		"peaks_found":  found,
	})
}

type runClassificationRequest struct {
	UserID  string   `json:"user_id" binding:"required"`
	PeakIDs []string `json:"peak_ids"`
}

// RunClassification triggers batch builder, ML bridge and reconciler for a
// user's peak set. An empty batch after dedup filtering is a skip, not a
// failure; bridge and reconciliation failures fail the whole round with no
// per-peak partial success signaling.
func (h *PeakHandler) RunClassification(c *gin.Context) {
	var req runClassificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	ctx := c.Request.Context()

	var candidates []models.PeakRef
	var err error
	if len(req.PeakIDs) > 0 {
		candidates, err = h.store.GetPeakRefs(ctx, req.PeakIDs)
	} else {
		candidates, err = h.store.GetUnattributedPeaksForUser(ctx, req.UserID, 0)
	}
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"user_id": req.UserID,
			"error":   err.Error(),
		}).Error("Failed to resolve classification candidates")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve candidate peaks"})
		return
	}

	batch, err := h.batcher.BuildBatch(ctx, candidates)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"user_id": req.UserID,
			"error":   err.Error(),
		}).Error("Failed to build classification batch")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to build classification batch"})
		return
	}

	if len(batch) == 0 {
		// Nothing unattributed: skip the external call entirely.
		c.JSON(http.StatusOK, gin.H{
			"status":  "skipped",
			"user_id": req.UserID,
			"reason":  "no unattributed peaks",
		})
		return
	}

	response, err := h.classifier.Classify(ctx, batch)
	if err != nil {
		status, category := classifyFailure(err)
		h.logger.WithFields(logrus.Fields{
			"user_id":    req.UserID,
			"batch_size": len(batch),
			"category":   category,
			"error":      err.Error(),
		}).Error("Classification call failed")
		c.JSON(status, gin.H{"error": "classification failed", "category": category})
		return
	}

	attributed, err := h.reconciler.Reconcile(ctx, response, req.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "attribution reconciliation failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"user_id":    req.UserID,
		"batch_size": len(batch),
		"attributed": attributed,
	})
}

// classifyFailure maps a bridge error to an HTTP status and an error
// category the trigger caller can branch on.
func classifyFailure(err error) (int, string) {
	var decodeErr *classifier.DecodeError
	switch {
	case errors.Is(err, classifier.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, classifier.ErrEmptyBody):
		return http.StatusBadGateway, "empty_body"
	case errors.As(err, &decodeErr):
		return http.StatusBadGateway, "decode"
	default:
		return http.StatusBadGateway, "transport"
	}
}

type anomalyCheckRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// CheckAnomaly runs the alerting path for one user.
func (h *PeakHandler) CheckAnomaly(c *gin.Context) {
	var req anomalyCheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}

	notified, err := h.notifier.CheckAndNotify(c.Request.Context(), req.UserID)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"user_id": req.UserID,
			"error":   err.Error(),
		}).Error("Anomaly check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "anomaly check failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"user_id":  req.UserID,
		"notified": notified,
	})
}

// ListPeaks returns the authenticated user's peaks with their attributions,
// newest first.
func (h *PeakHandler) ListPeaks(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	peaks, err := h.store.ListPeaksForUser(c.Request.Context(), userID, 50)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"error":   err.Error(),
		}).Error("Failed to list peaks")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list peaks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"peaks": peaks, "count": len(peaks)})
}
