package models

import "time"

// Approach names one of the two ingestion pipelines under test
type Approach string

const (
	ApproachObjectStorage Approach = "object-storage"
	ApproachDirectInline  Approach = "direct-inline"
)

// Approaches lists every pipeline in reporting order
var Approaches = []Approach{ApproachObjectStorage, ApproachDirectInline}

// UnknownEmailID is reported when a notification does not carry a message ID
const UnknownEmailID = "unknown"

// IngestionResult is the normalized outcome of one pipeline run
type IngestionResult struct {
	Approach  Approach `json:"approach"`
	EmailID   string   `json:"emailId"`
	SizeBytes int      `json:"sizeBytes"`
	LatencyMs int64    `json:"latencyMs"`
}

// WebhookResponse is what the webhook endpoints return for a delivery.
// Latency is the wall-clock time spent in the handler.
type WebhookResponse struct {
	IngestionResult
	Latency int64 `json:"latency"`
}

// StatusResponse is returned for handshakes and health checks
type StatusResponse struct {
	Status    string     `json:"status"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// ApproachStats summarizes the latency samples of one approach
type ApproachStats struct {
	Count   int     `json:"count"`
	Mean    float64 `json:"mean"`
	Samples []int64 `json:"samples"`
}

// MetricsSnapshot holds the stats of every approach keyed by approach name
type MetricsSnapshot map[Approach]ApproachStats

// ObjectInfo describes an object listed from the store
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"lastModified"`
	ETag         string    `json:"etag"`
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	Error string `json:"error"`
}
