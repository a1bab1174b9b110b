package api

import (
	"encoding/json"
	"time"

	"ivg/internal/jobs"
	"ivg/internal/lanes"
	"ivg/internal/logging"
	"ivg/internal/preflight"
	"ivg/internal/store"
)

const (
	// OwnerHeader names the request header carrying the owner scope.
	OwnerHeader = "X-IVG-Owner"
	// DefaultOwner is used when OwnerHeader is absent.
	DefaultOwner = "anonymous"
	// RequestIDHeader carries the request correlation id.
	RequestIDHeader = "X-Request-ID"
)

// HealthResponse is returned by /api/health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse aggregates daemon runtime information.
type StatusResponse struct {
	PID          int                `json:"pid"`
	StartedAt    time.Time          `json:"started_at"`
	Mode         jobs.Mode          `json:"mode"`
	Provider     string             `json:"provider"`
	BreakerState string             `json:"breaker_state"`
	Lanes        []lanes.Stats      `json:"lanes"`
	Jobs         map[jobs.State]int `json:"jobs"`
	Storage      string             `json:"storage"`
	Checks       []preflight.Result `json:"checks,omitempty"`
}

// SubmitRequest is the body of POST /api/jobs.
type SubmitRequest struct {
	Kind     string `json:"kind"`
	AssetID  string `json:"asset_id,omitempty"`
	StyleID  string `json:"style_id,omitempty"`
	Prompt   string `json:"prompt,omitempty"`
	FastMode bool   `json:"fast_mode,omitempty"`
}

// UploadResponse describes a stored upload.
type UploadResponse struct {
	AssetID     string `json:"asset_id"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// StyleCreateRequest is the body of POST /api/styles.
type StyleCreateRequest struct {
	ID          string          `json:"id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Rules       string          `json:"rules"`
	Reference   string          `json:"reference_base64"`
	Profile     json.RawMessage `json:"profile,omitempty"`
}

// StyleListResponse wraps the style catalog.
type StyleListResponse struct {
	Styles []store.Style `json:"styles"`
}

// HistoryResponse wraps an owner's history.
type HistoryResponse struct {
	Entries []store.HistoryEntry `json:"entries"`
}

// LogStreamResponse wraps log events and the cursor for the next fetch.
type LogStreamResponse struct {
	Events []logging.LogEvent `json:"events"`
	Next   uint64             `json:"next"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
