package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a job failure.
type Kind string

const (
	KindInput             Kind = "input"
	KindStyleNotFound     Kind = "style_not_found"
	KindProviderTimeout   Kind = "provider_timeout"
	KindProviderTransient Kind = "provider_transient"
	KindProviderPermanent Kind = "provider_permanent"
	KindBreakerOpen       Kind = "breaker_open"
	KindStorage           Kind = "storage"
	KindInterrupted       Kind = "interrupted"
	KindInternal          Kind = "internal"
)

// Retryable reports whether the gateway may retry a failure of this kind.
func (k Kind) Retryable() bool {
	return k == KindProviderTimeout || k == KindProviderTransient
}

// Classifier is implemented by errors that declare their own kind.
type Classifier interface {
	ErrorKind() string
}

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) ErrorKind() string { return string(e.Kind) }

// New builds a classified error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Input(message string, err error) *Error { return New(KindInput, message, err) }

func StyleNotFound(styleID string) *Error {
	return New(KindStyleNotFound, fmt.Sprintf("style %q not found", styleID), nil)
}

func ProviderTimeout(message string, err error) *Error {
	return New(KindProviderTimeout, message, err)
}

func ProviderTransient(message string, err error) *Error {
	return New(KindProviderTransient, message, err)
}

func ProviderPermanent(message string, err error) *Error {
	return New(KindProviderPermanent, message, err)
}

func BreakerOpen(provider string) *Error {
	return New(KindBreakerOpen, fmt.Sprintf("provider %s circuit breaker open", provider), nil)
}

func Storage(message string, err error) *Error { return New(KindStorage, message, err) }

// KindOf returns the classification of err. Unclassified errors are internal;
// context cancellation without a classification is reported as interrupted.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	var classifier Classifier
	if errors.As(err, &classifier) {
		if kind := Kind(strings.TrimSpace(classifier.ErrorKind())); kind != "" {
			return kind
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindInterrupted
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Detail is the structured error recorded on a failed job.
type Detail struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// DetailOf converts err into the detail persisted on a failed job.
func DetailOf(err error) Detail {
	if err == nil {
		return Detail{}
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "unknown failure"
	}
	return Detail{Kind: KindOf(err), Message: msg}
}
