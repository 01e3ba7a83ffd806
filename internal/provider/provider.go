// Package provider defines the external data-provider abstraction the
// orchestrator fetches through, plus the error taxonomy for fetch failures.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"

	"epipanel/internal/dataset"
)

// ErrorKind classifies a fetch failure.
type ErrorKind string

const (
	// KindUnavailable indicates the provider could not be reached or
	// answered with an unusable response.
	KindUnavailable ErrorKind = "provider_unavailable"
	// KindTimeout indicates the fetch exceeded its deadline.
	KindTimeout ErrorKind = "provider_timeout"
	// KindEmpty indicates the provider answered but returned no records.
	KindEmpty ErrorKind = "empty_result"
)

// Error is the typed failure returned by fetchers. Per-key failures are
// recorded in the run summary and never abort a refresh run.
type Error struct {
	Kind         ErrorKind
	System       dataset.System
	Municipality string
	Year         int
	Err          error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s %s/%d", e.Kind, e.System, e.Municipality, e.Year)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements the error unwrapping interface.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewUnavailableError creates a provider-unreachable error.
func NewUnavailableError(system dataset.System, municipality string, year int, err error) *Error {
	return &Error{Kind: KindUnavailable, System: system, Municipality: municipality, Year: year, Err: err}
}

// NewTimeoutError creates a fetch-deadline error.
func NewTimeoutError(system dataset.System, municipality string, year int, err error) *Error {
	return &Error{Kind: KindTimeout, System: system, Municipality: municipality, Year: year, Err: err}
}

// NewEmptyError creates an empty-result error.
func NewEmptyError(system dataset.System, municipality string, year int) *Error {
	return &Error{Kind: KindEmpty, System: system, Municipality: municipality, Year: year}
}

// Classify maps a transport error to a provider error, distinguishing
// deadline expiry from other transport failures.
func Classify(system dataset.System, municipality string, year int, err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(system, municipality, year, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(system, municipality, year, err)
	}
	return NewUnavailableError(system, municipality, year, err)
}

// Fetcher retrieves one (system, municipality, year) partition of health
// data. Implementations must honor the context deadline.
type Fetcher interface {
	FetchDataset(ctx context.Context, system dataset.System, municipality string, year int) (*dataset.Table, error)
}

// Source reports which dataset.Source a fetcher's tables carry, so the
// cache metadata can record data provenance.
type Source interface {
	Source() dataset.Source
}
