package client

import (
	"errors"
	"fmt"
	"time"
)

// Renderer is one renderer process as seen by a scan. State is the
// one-letter kernel state, "T" when paused.
type Renderer struct {
	PID   int    `json:"pid"`
	State string `json:"state"`
}

// RendererList is the response of GET /renderers.
type RendererList struct {
	Renderers []Renderer `json:"renderers"`
	Summary   string     `json:"summary"`
}

// SignalResult reports which pids received the signal.
type SignalResult struct {
	Action    string         `json:"action"`
	Signalled []int          `json:"signalled"`
	Failed    map[int]string `json:"failed,omitempty"`
}

// Hog is a renderer at or above the usage threshold.
type Hog struct {
	PID      int     `json:"pid"`
	Fraction float64 `json:"usage_fraction"`
}

// HogReport is the response of the hog endpoints.
type HogReport struct {
	WindowSeconds float64       `json:"window_seconds"`
	Threshold     float64       `json:"threshold"`
	Hogs          []Hog         `json:"hogs"`
	Paused        *SignalResult `json:"paused,omitempty"`
}

// Event is one journal entry.
type Event struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	Usage      float64   `json:"usage_fraction,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// WatchResult is the latest round of the server's watcher.
type WatchResult struct {
	At     time.Time `json:"at"`
	Hogs   []Hog     `json:"hogs"`
	Paused []int     `json:"paused,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Token is returned by Login.
type Token struct {
	Type      string    `json:"type"`
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
	PIDs  []int  `json:"pids,omitempty"`
}

// ErrPartialFailure is returned with a SignalResult when some pids failed (HTTP 207).
var ErrPartialFailure = errors.New("some signals could not be delivered")

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	PIDs       []int // unknown targets, on 422
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}
