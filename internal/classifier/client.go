package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/enersight/peakline/internal/config"
	"github.com/enersight/peakline/internal/models"
)

// ContentType is the binary content type of the classification protocol.
const ContentType = "application/x-peakline-batch"

var (
	// ErrEmptyBatch is returned when Classify is called with no peaks.
	// The service contract does not tolerate empty batches.
	ErrEmptyBatch = errors.New("classification batch is empty")

	// ErrEmptyBody is returned when the service answered without a body.
	// An empty body is a failure, never a zero-result success.
	ErrEmptyBody = errors.New("classification service returned an empty response body")

	// ErrTimeout is returned when the call exceeded its deadline.
	ErrTimeout = errors.New("classification service call timed out")
)

// DecodeError marks a malformed binary payload, so callers can distinguish
// "service unreachable" from "service returned garbage".
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode classification response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Client is the HTTP bridge to the external ML classification service.
// It is a pure request/response adapter: no persistence, no retries, no
// confidence filtering.
type Client struct {
	HTTPClient *http.Client
	baseURL    string
	apiKey     string
	timeout    time.Duration
}

// NewClient creates a new classification client instance.
//
// Parameters:
//
//	cfg: Classifier configuration.
//
// Returns:
//
//	*Client: Initialized client.
func NewClient(cfg *config.ClassifierConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Client{
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimSuffix(cfg.ServiceURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
	}
}

// Classify submits a batch of unattributed peaks and returns the decoded
// per-peak device candidates. The call is synchronous; the chunked response
// body is accumulated fully before decoding.
//
// Parameters:
//
//	ctx: Context; its deadline bounds the call.
//	batch: Peaks needing classification.
//
// Returns:
//
//	*ClassificationResponse: Ranked candidates per submitted peak.
//	error: ErrEmptyBatch, ErrTimeout, ErrEmptyBody, *DecodeError, or a
//	wrapped transport error.
func (c *Client) Classify(ctx context.Context, batch []models.PeakRef) (*ClassificationResponse, error) {
	if len(batch) == 0 {
		return nil, ErrEmptyBatch
	}

	samples := make([]PeakSample, len(batch))
	for i, ref := range batch {
		samples[i] = PeakSample{
			PeakID:    ref.ID,
			Timestamp: ref.Timestamp,
			Power:     ref.EnergyValue.InexactFloat64(),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/classify", bytes.NewReader(EncodeBatch(samples)))
	if err != nil {
		return nil, fmt.Errorf("failed to create classification request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	req.Header.Set("Accept", ContentType)
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("User-Agent", "Peakline/1.0")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("classification request after %s: %w", c.timeout, ErrTimeout)
		}
		return nil, fmt.Errorf("classification request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("classification response read after %s: %w", c.timeout, ErrTimeout)
		}
		return nil, fmt.Errorf("failed to read classification response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("classification service error (%d): %s", resp.StatusCode, truncate(body, 256))
	}

	if len(body) == 0 {
		return nil, ErrEmptyBody
	}

	response, err := DecodeResponse(body)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	return response, nil
}

// readAll drains the body chunk by chunk. The transport may deliver the
// response in arbitrary pieces; they are concatenated before decoding.
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err == io.EOF {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

// BaseURL returns the base URL of the classification service.
func (c *Client) BaseURL() string {
	return c.baseURL
}
