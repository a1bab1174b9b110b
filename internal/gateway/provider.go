package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StyleContext carries the style guidance attached to an edit request.
type StyleContext struct {
	Rules      string
	Reference  []byte
	LayoutHint string
}

// Request is one image-edit call. Prompt is the fully rendered instruction.
type Request struct {
	Image  []byte
	Prompt string
	Style  *StyleContext
	// FastMode lets providers pick a cheaper model.
	FastMode bool
}

// Provider is one image-edit backend. Implementations must honour ctx and
// return PNG bytes on success.
type Provider interface {
	Name() string
	Edit(ctx context.Context, req Request) ([]byte, error)
}

// ErrEmptyResult is returned when a provider answers without an image.
var ErrEmptyResult = errors.New("provider returned no image")

// StatusError reports an HTTP-level failure from a provider so the gateway can
// classify it without knowing the vendor SDK.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("provider status %d (%s): %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("provider status %d: %s", e.StatusCode, e.Message)
}
