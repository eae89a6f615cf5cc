// Package errs provides the classified error taxonomy shared by the video
// art engine. Every failure that reaches a job status carries one of the
// kinds defined here so callers can tell "can't read" from "can't write".
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for status reporting
type Kind string

const (
	KindValidation              Kind = "validation"
	KindDecode                  Kind = "decode"
	KindEncode                  Kind = "encode"
	KindNoAvailableEncoder      Kind = "no_available_encoder"
	KindTimeout                 Kind = "timeout"
	KindResourceExhausted       Kind = "resource_exhausted"
	KindCancelled               Kind = "cancelled"
	KindUnsupportedFrameFormat  Kind = "unsupported_frame_format"
	KindIncompatibleFrameFormat Kind = "incompatible_frame_format"
	KindJobNotFound             Kind = "job_not_found"
	KindJobNotTerminal          Kind = "job_not_terminal"
	KindInternal                Kind = "internal"
)

// Sentinel errors, one per kind
var (
	ErrValidation              = errors.New("invalid effect spec")
	ErrDecode                  = errors.New("decode failed")
	ErrEncode                  = errors.New("encode failed")
	ErrNoAvailableEncoder      = errors.New("no available encoder")
	ErrTimeout                 = errors.New("operation timed out")
	ErrResourceExhausted       = errors.New("resource exhausted")
	ErrCancelled               = errors.New("job cancelled")
	ErrUnsupportedFrameFormat  = errors.New("unsupported frame format")
	ErrIncompatibleFrameFormat = errors.New("incompatible frame format")
	ErrJobNotFound             = errors.New("job not found")
	ErrJobNotTerminal          = errors.New("job not terminal")
	ErrInternal                = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindValidation:              ErrValidation,
	KindDecode:                  ErrDecode,
	KindEncode:                  ErrEncode,
	KindNoAvailableEncoder:      ErrNoAvailableEncoder,
	KindTimeout:                 ErrTimeout,
	KindResourceExhausted:       ErrResourceExhausted,
	KindCancelled:               ErrCancelled,
	KindUnsupportedFrameFormat:  ErrUnsupportedFrameFormat,
	KindIncompatibleFrameFormat: ErrIncompatibleFrameFormat,
	KindJobNotFound:             ErrJobNotFound,
	KindJobNotTerminal:          ErrJobNotTerminal,
	KindInternal:                ErrInternal,
}

// Error provides structured error information with context
type Error struct {
	Kind    Kind                   // Error classification
	Op      string                 // Operation that failed (e.g. "decode_chunk")
	JobID   string                 // Related job if applicable
	Err     error                  // Underlying error
	Details map[string]interface{} // Additional context (frame range, resource, ...)
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s error in %s for job %s: %v", e.Kind, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches both the wrapped error and the sentinel of the error's kind
func (e *Error) Is(target error) bool {
	if s, ok := sentinels[e.Kind]; ok && s == target {
		return true
	}
	return errors.Is(e.Err, target)
}

// New creates a new classified error
func New(kind Kind, op string, err error) *Error {
	if err == nil {
		err = sentinels[kind]
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithJob adds job context to the error
func (e *Error) WithJob(jobID string) *Error {
	e.JobID = jobID
	return e
}

// WithDetail adds a key-value detail to the error
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

func Validation(op string, err error) *Error { return New(KindValidation, op, err) }
func Decode(op string, err error) *Error     { return New(KindDecode, op, err) }
func Encode(op string, err error) *Error     { return New(KindEncode, op, err) }
func Timeout(op string, err error) *Error    { return New(KindTimeout, op, err) }
func Internal(op string, err error) *Error   { return New(KindInternal, op, err) }

// Validationf creates a validation error from a format string
func Validationf(op, format string, args ...interface{}) *Error {
	return New(KindValidation, op, fmt.Errorf(format, args...))
}

// ResourceExhausted creates an error naming the exhausted resource
func ResourceExhausted(op, resource string, err error) *Error {
	if err == nil {
		err = fmt.Errorf("%s exhausted", resource)
	} else {
		err = fmt.Errorf("%s: %w", resource, err)
	}
	return New(KindResourceExhausted, op, err).WithDetail("resource", resource)
}

// KindOf extracts the classification of an error. Context deadline and
// cancellation errors are mapped onto Timeout and Cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for kind, s := range sentinels {
		if errors.Is(err, s) {
			return kind
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCancelled
	}
	return KindInternal
}

// Op extracts the failing operation from an error
func Op(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Detail returns a detail value attached to a classified error
func Detail(err error, key string) (interface{}, bool) {
	var e *Error
	if errors.As(err, &e) {
		v, ok := e.Details[key]
		return v, ok
	}
	return nil, false
}

// Is reports whether err is classified as kind
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Wrap classifies err unless it already carries a classification
func Wrap(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return New(kind, op, err)
}
