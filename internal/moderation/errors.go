package moderation

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed classifier call.
type ErrorKind string

const (
	KindNetwork         ErrorKind = "network"
	KindTimeout         ErrorKind = "timeout"
	KindServer          ErrorKind = "server"
	KindDecoding        ErrorKind = "decoding"
	KindInvalidResponse ErrorKind = "invalid_response"
)

// Retryable reports whether a user-initiated retry can reasonably succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer:
		return true
	}
	return false
}

var (
	// ErrLoad is returned when the deny-list table cannot be read. It is
	// never fatal: the store degrades to always-miss.
	ErrLoad = errors.New("moderation: deny list unavailable")

	ErrNetwork         = errors.New("moderation: classifier unreachable")
	ErrTimeout         = errors.New("moderation: classifier timed out")
	ErrServer          = errors.New("moderation: classifier server error")
	ErrDecoding        = errors.New("moderation: classifier response malformed")
	ErrInvalidResponse = errors.New("moderation: classifier reported failure")

	// ErrCheckFailed marks a pipeline check whose remote stage failed.
	ErrCheckFailed = errors.New("moderation: check failed")
)

var kindSentinels = map[ErrorKind]error{
	KindNetwork:         ErrNetwork,
	KindTimeout:         ErrTimeout,
	KindServer:          ErrServer,
	KindDecoding:        ErrDecoding,
	KindInvalidResponse: ErrInvalidResponse,
}

// ClassifyError is returned by Client for every failed classifier call.
type ClassifyError struct {
	Kind       ErrorKind
	StatusCode int    // set for KindServer
	Status     string // envelope status, set for KindInvalidResponse
	Cause      error
}

func (e *ClassifyError) Error() string {
	switch e.Kind {
	case KindServer:
		return fmt.Sprintf("moderation: classifier returned HTTP %d", e.StatusCode)
	case KindInvalidResponse:
		return fmt.Sprintf("moderation: classifier status %q", e.Status)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", kindSentinels[e.Kind], e.Cause)
	}
	return kindSentinels[e.Kind].Error()
}

func (e *ClassifyError) Unwrap() error { return e.Cause }

// Is lets errors.Is match the sentinel for the error's kind.
func (e *ClassifyError) Is(target error) bool {
	return kindSentinels[e.Kind] == target
}

// CheckFailedError is returned by Pipeline.CheckContent when the remote
// stage fails after a deny-list miss.
type CheckFailedError struct {
	Err error
}

func (e *CheckFailedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrCheckFailed, e.Err)
}

func (e *CheckFailedError) Unwrap() error { return e.Err }

func (e *CheckFailedError) Is(target error) bool { return target == ErrCheckFailed }

// KindOf extracts the ErrorKind from err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var ce *ClassifyError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// StatusCodeOf returns the HTTP status of a server error, or 0.
func StatusCodeOf(err error) int {
	var ce *ClassifyError
	if errors.As(err, &ce) {
		return ce.StatusCode
	}
	return 0
}
