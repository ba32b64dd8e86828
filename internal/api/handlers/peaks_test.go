package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/enersight/peakline/internal/classifier"
	"github.com/enersight/peakline/internal/config"
	"github.com/enersight/peakline/internal/models"
	"github.com/enersight/peakline/internal/services"
)

type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time { return c.now }

type stubReadingStore struct {
	readings []models.SensorReading
	err      error
}

func (s *stubReadingStore) GetReadings(ctx context.Context, sensorID string, start, end time.Time) ([]models.SensorReading, error) {
	return s.readings, s.err
}

func (s *stubReadingStore) MarkPeaks(ctx context.Context, sensorID string, candidates []models.SensorReading) ([]models.Peak, error) {
	peaks := make([]models.Peak, len(candidates))
	for i, c := range candidates {
		peaks[i] = models.Peak{ID: "peak-" + c.ID, SensorID: sensorID, Timestamp: c.Timestamp, EnergyValue: c.EnergyValue}
	}
	return peaks, nil
}

type stubAttributionStore struct {
	unattributed map[string]bool
	saveErr      error
	saved        int
}

func (s *stubAttributionStore) GetPeaksWithoutDevices(ctx context.Context, refs []models.PeakRef) ([]models.PeakRef, error) {
	var out []models.PeakRef
	for _, ref := range refs {
		if s.unattributed[ref.ID] {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (s *stubAttributionStore) SaveDeviceAttribution(ctx context.Context, peakID, deviceName string, confidence float64, userID string) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved++
	return nil
}

type stubClassifier struct {
	response *classifier.ClassificationResponse
	err      error
	batches  [][]models.PeakRef
}

func (s *stubClassifier) Classify(ctx context.Context, batch []models.PeakRef) (*classifier.ClassificationResponse, error) {
	s.batches = append(s.batches, batch)
	return s.response, s.err
}

type stubPeakStore struct {
	refs     []models.PeakRef
	peaks    []models.Peak
	refsErr  error
	listErr  error
	userRefs []models.PeakRef
}

func (s *stubPeakStore) GetPeakRefs(ctx context.Context, peakIDs []string) ([]models.PeakRef, error) {
	return s.refs, s.refsErr
}

func (s *stubPeakStore) GetUnattributedPeaksForUser(ctx context.Context, userID string, limit int) ([]models.PeakRef, error) {
	return s.userRefs, s.refsErr
}

func (s *stubPeakStore) ListPeaksForUser(ctx context.Context, userID string, limit int) ([]models.Peak, error) {
	return s.peaks, s.listErr
}

type mapDeduper struct {
	seen map[string]bool
}

func (d *mapDeduper) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type stubUserReadingStore struct {
	readings []models.SensorReading
	err      error
}

func (s *stubUserReadingStore) GetUserReadings(ctx context.Context, userID string, since time.Time) ([]models.SensorReading, error) {
	return s.readings, s.err
}

type stubSender struct {
	sent []string
}

func (s *stubSender) Send(ctx context.Context, text string) error {
	s.sent = append(s.sent, text)
	return nil
}

type handlerFixture struct {
	readings     *stubReadingStore
	attributions *stubAttributionStore
	classifier   *stubClassifier
	peaks        *stubPeakStore
	userReadings *stubUserReadingStore
	sender       *stubSender
	handler      *PeakHandler
}

func newFixture(now time.Time) *handlerFixture {
	f := &handlerFixture{
		readings:     &stubReadingStore{},
		attributions: &stubAttributionStore{unattributed: map[string]bool{}},
		classifier:   &stubClassifier{},
		peaks:        &stubPeakStore{},
		userReadings: &stubUserReadingStore{},
		sender:       &stubSender{},
	}

	detector := services.NewPeakDetector(f.readings, stubClock{now}, config.DetectionConfig{
		MaxPeaksPerRun: 5,
		SigmaFactor:    1.0,
	}, nil)
	batcher := services.NewBatchBuilder(f.attributions, nil)
	reconciler := services.NewAttributionReconciler(f.attributions, config.AttributionConfig{MinConfidence: 0.90}, nil)
	scorer := services.NewDeviationScorer(nil)
	notifier := services.NewAnomalyNotifier(f.userReadings, scorer, &mapDeduper{}, f.sender, stubClock{now}, 24*time.Hour, nil)

	f.handler = NewPeakHandler(detector, batcher, reconciler, notifier, f.classifier, f.peaks, nil)
	return f
}

func performJSON(router *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		_ = json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func newPeakRouter(h *PeakHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/peaks/process", h.ProcessPeaks)
	router.POST("/classification/run", h.RunClassification)
	router.POST("/alerts/anomaly", h.CheckAnomaly)
	router.GET("/peaks", func(c *gin.Context) {
		c.Set("user_id", "user-1")
		h.ListPeaks(c)
	})
	return router
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestProcessPeaks(t *testing.T) {
	now := time.Date(2026, 3, 14, 14, 10, 0, 0, time.UTC)
	f := newFixture(now)
	window := services.CurrentWindow(now)
	f.readings.readings = []models.SensorReading{
		{ID: "r1", SensorID: "sensor-1", Timestamp: window.Start.Add(time.Minute), EnergyValue: decimal.NewFromInt(5)},
		{ID: "r2", SensorID: "sensor-1", Timestamp: window.Start.Add(2 * time.Minute), EnergyValue: decimal.NewFromInt(5)},
		{ID: "r3", SensorID: "sensor-1", Timestamp: window.Start.Add(3 * time.Minute), EnergyValue: decimal.NewFromInt(40)},
	}

	w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/peaks/process", gin.H{"sensor_id": "sensor-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["peaks_found"])
	assert.Equal(t, window.Start.Format(time.RFC3339), body["window_start"])
	assert.Equal(t, window.End.Format(time.RFC3339), body["window_end"])
}

func TestProcessPeaksMissingSensorID(t *testing.T) {
	f := newFixture(time.Now())

	w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/peaks/process", gin.H{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessPeaksStoreFailureStaysSuccessShaped(t *testing.T) {
	f := newFixture(time.Date(2026, 3, 14, 14, 10, 0, 0, time.UTC))
	f.readings.err = errors.New("connection refused")

	w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/peaks/process", gin.H{"sensor_id": "sensor-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["peaks_found"])
}

func TestRunClassification(t *testing.T) {
	f := newFixture(time.Now())
	f.peaks.userRefs = []models.PeakRef{{ID: "p1"}, {ID: "p2"}}
	f.attributions.unattributed = map[string]bool{"p1": true, "p2": true}
	f.classifier.response = &classifier.ClassificationResponse{
		Results: []classifier.PeakClassification{
			{PeakID: "p1", Candidates: []classifier.DeviceCandidate{{Label: "fridge", Confidence: 0.95}}},
			{PeakID: "p2", Candidates: []classifier.DeviceCandidate{{Label: "router", Confidence: 0.40}}},
		},
	}

	w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/classification/run", gin.H{"user_id": "user-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["batch_size"])
	assert.Equal(t, float64(1), body["attributed"])
	require.Len(t, f.classifier.batches, 1)
	assert.Len(t, f.classifier.batches[0], 2)
}

func TestRunClassificationSkipsWhenAllAttributed(t *testing.T) {
	f := newFixture(time.Now())
	f.peaks.userRefs = []models.PeakRef{{ID: "p1"}}
	// p1 already has a device: the dedup filter empties the batch.

	w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/classification/run", gin.H{"user_id": "user-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "skipped", body["status"])
	assert.Empty(t, f.classifier.batches)
}

func TestRunClassificationExplicitPeakIDs(t *testing.T) {
	f := newFixture(time.Now())
	f.peaks.refs = []models.PeakRef{{ID: "p9"}}
	f.attributions.unattributed = map[string]bool{"p9": true}
	f.classifier.response = &classifier.ClassificationResponse{}

	w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/classification/run",
		gin.H{"user_id": "user-1", "peak_ids": []string{"p9"}})

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, f.classifier.batches, 1)
	assert.Equal(t, "p9", f.classifier.batches[0][0].ID)
}

func TestRunClassificationFailureMapping(t *testing.T) {
	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCat    string
	}{
		{
			name:           "timeout maps to gateway timeout",
			err:            classifier.ErrTimeout,
			expectedStatus: http.StatusGatewayTimeout,
			expectedCat:    "timeout",
		},
		{
			name:           "empty body maps to bad gateway",
			err:            classifier.ErrEmptyBody,
			expectedStatus: http.StatusBadGateway,
			expectedCat:    "empty_body",
		},
		{
			name:           "decode failure maps to bad gateway",
			err:            &classifier.DecodeError{Err: errors.New("invalid field tag")},
			expectedStatus: http.StatusBadGateway,
			expectedCat:    "decode",
		},
		{
			name:           "transport failure maps to bad gateway",
			err:            errors.New("connection reset"),
			expectedStatus: http.StatusBadGateway,
			expectedCat:    "transport",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(time.Now())
			f.peaks.userRefs = []models.PeakRef{{ID: "p1"}}
			f.attributions.unattributed = map[string]bool{"p1": true}
			f.classifier.err = tt.err

			w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/classification/run", gin.H{"user_id": "user-1"})

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, tt.expectedCat, decodeBody(t, w)["category"])
		})
	}
}

func TestRunClassificationReconcileFailure(t *testing.T) {
	f := newFixture(time.Now())
	f.peaks.userRefs = []models.PeakRef{{ID: "p1"}}
	f.attributions.unattributed = map[string]bool{"p1": true}
	f.attributions.saveErr = errors.New("insert failed")
	f.classifier.response = &classifier.ClassificationResponse{
		Results: []classifier.PeakClassification{
			{PeakID: "p1", Candidates: []classifier.DeviceCandidate{{Label: "fridge", Confidence: 0.95}}},
		},
	}

	w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/classification/run", gin.H{"user_id": "user-1"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestCheckAnomaly(t *testing.T) {
	f := newFixture(time.Date(2026, 3, 14, 14, 10, 0, 0, time.UTC))
	readings := make([]models.SensorReading, 10)
	for i := range readings {
		readings[i] = models.SensorReading{ID: "r", EnergyValue: decimal.NewFromInt(10)}
	}
	readings[9].EnergyValue = decimal.NewFromInt(100)
	f.userReadings.readings = readings

	w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/alerts/anomaly", gin.H{"user_id": "user-1"})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["notified"])
	assert.Len(t, f.sender.sent, 1)
}

func TestCheckAnomalyStoreFailure(t *testing.T) {
	f := newFixture(time.Now())
	f.userReadings.err = errors.New("connection refused")

	w := performJSON(newPeakRouter(f.handler), http.MethodPost, "/alerts/anomaly", gin.H{"user_id": "user-1"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListPeaks(t *testing.T) {
	f := newFixture(time.Now())
	f.peaks.peaks = []models.Peak{
		{
			ID:       "p1",
			SensorID: "sensor-1",
			Marked:   true,
			Attributions: []models.DeviceAttribution{
				{PeakID: "p1", DeviceName: "Kühlschrank", Confidence: 0.95},
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/peaks", nil)
	w := httptest.NewRecorder()
	newPeakRouter(f.handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, float64(1), body["count"])
	assert.Contains(t, w.Body.String(), "Kühlschrank")
}

func TestListPeaksStoreFailure(t *testing.T) {
	f := newFixture(time.Now())
	f.peaks.listErr = errors.New("query failed")

	req := httptest.NewRequest(http.MethodGet, "/peaks", nil)
	w := httptest.NewRecorder()
	newPeakRouter(f.handler).ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
