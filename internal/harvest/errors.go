package harvest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// InvalidRangeError reports an unusable campaign range. It is fatal: the
// campaign cannot start.
type InvalidRangeError struct {
	Start    time.Time
	End      time.Time
	SpanDays int
	Reason   string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range %s..%s (span %d days): %s",
		e.Start.Format(DateLayout), e.End.Format(DateLayout), e.SpanDays, e.Reason)
}

// GateError reports a failure to pass a window's CAPTCHA gate. It is
// window-scoped and transient: the window's attempt count increments and the
// window is retried on a later pass.
type GateError struct {
	WindowID string
	Err      error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("gate failed for window %s: %v", e.WindowID, e.Err)
}

func (e *GateError) Unwrap() error { return e.Err }

// TransientError marks a stage failure worth retrying with backoff.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable stage failure.
func Transient(op string, err error) error {
	return &TransientError{Op: op, Err: err}
}

// PermanentError marks a stage failure that retrying cannot fix. The task
// goes Failed immediately.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as a non-retryable stage failure.
func Permanent(op string, err error) error {
	return &PermanentError{Op: op, Err: err}
}

// IsPermanent reports whether err (or anything it wraps) is permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsTransient classifies err for the stage retry loop. Timeouts and network
// failures count as transient; cancellation and permanent errors do not.
// Unclassified errors default to transient so the attempt cap, not the
// classifier, decides when a task is abandoned.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	return true
}
