package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ivg/internal/faults"
)

var transientTokens = []string{
	"resource_exhausted",
	"rate limit",
	"quota",
	"unavailable",
	"overloaded",
}

var timeoutTokens = []string{
	"deadline",
	"timeout",
	"timed out",
}

// classify maps a raw provider error to a failure kind and an optional
// server-provided retry delay.
func classify(err error) (faults.Kind, time.Duration) {
	if err == nil {
		return "", 0
	}

	var classified *faults.Error
	if errors.As(err, &classified) {
		return classified.Kind, 0
	}
	if errors.Is(err, ErrEmptyResult) {
		return faults.KindProviderPermanent, 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return faults.KindProviderTimeout, 0
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch code := statusErr.StatusCode; {
		case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
			return faults.KindProviderTimeout, statusErr.RetryAfter
		case code == http.StatusTooManyRequests, code >= http.StatusInternalServerError:
			return faults.KindProviderTransient, statusErr.RetryAfter
		default:
			return faults.KindProviderPermanent, 0
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return faults.KindProviderTimeout, 0
		}
		return faults.KindProviderTransient, 0
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return faults.KindProviderTimeout, 0
		}
		return faults.KindProviderTransient, 0
	}

	message := strings.ToLower(err.Error())
	for _, token := range timeoutTokens {
		if strings.Contains(message, token) {
			return faults.KindProviderTimeout, 0
		}
	}
	for _, token := range transientTokens {
		if strings.Contains(message, token) {
			return faults.KindProviderTransient, 0
		}
	}
	return faults.KindProviderPermanent, 0
}
