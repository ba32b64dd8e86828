package classifier

import "time"

// PeakSample is one peak's reading context as submitted to the
// classification service.
type PeakSample struct {
	PeakID    string    `json:"peak_id"`
	Timestamp time.Time `json:"timestamp"`
	Power     float64   `json:"power"`
}

// DeviceCandidate is one ranked device guess for a peak.
type DeviceCandidate struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// PeakClassification holds the ranked candidates the service returned for
// one submitted peak.
type PeakClassification struct {
	PeakID     string            `json:"peak_id"`
	Candidates []DeviceCandidate `json:"candidates"`
}

// ClassificationResponse is the decoded response for a whole batch.
type ClassificationResponse struct {
	Results []PeakClassification `json:"results"`
}
