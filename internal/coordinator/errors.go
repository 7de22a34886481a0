package coordinator

import (
	"errors"
	"fmt"
)

// DrainError is an error raised while draining the queue.
type DrainError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// OpID identifies the affected operation, if any.
	OpID string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes drain errors.
type ErrorCode string

const (
	// ErrCodeStorageFault indicates the queue store failed. Aborts the pass.
	ErrCodeStorageFault ErrorCode = "STORAGE_FAULT"

	// ErrCodeDeliveryFault indicates a single delivery attempt failed.
	ErrCodeDeliveryFault ErrorCode = "DELIVERY_FAULT"

	// ErrCodeExhausted indicates an operation used every attempt of a pass.
	ErrCodeExhausted ErrorCode = "EXHAUSTED"

	// ErrCodeNotifyFault indicates the failure notifier itself failed.
	ErrCodeNotifyFault ErrorCode = "NOTIFY_FAULT"
)

func (e *DrainError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.OpID != "" {
		msg = fmt.Sprintf("%s (op=%s)", msg, e.OpID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DrainError) Unwrap() error {
	return e.Err
}

// IsStorageFault reports whether err is a storage fault.
func IsStorageFault(err error) bool {
	return hasCode(err, ErrCodeStorageFault)
}

// IsExhausted reports whether err marks an operation that ran out of attempts.
func IsExhausted(err error) bool {
	return hasCode(err, ErrCodeExhausted)
}

func hasCode(err error, code ErrorCode) bool {
	var de *DrainError
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

func newStorageFault(message, opID string, err error) *DrainError {
	return &DrainError{Code: ErrCodeStorageFault, Message: message, OpID: opID, Err: err}
}

func newDeliveryError(opID string, attempt int, err error) *DrainError {
	return &DrainError{
		Code:    ErrCodeDeliveryFault,
		Message: fmt.Sprintf("attempt %d failed", attempt),
		OpID:    opID,
		Err:     err,
	}
}

func newExhaustedError(opID string, attempts int, last error) *DrainError {
	return &DrainError{
		Code:    ErrCodeExhausted,
		Message: fmt.Sprintf("delivery failed after %d attempts", attempts),
		OpID:    opID,
		Err:     last,
	}
}
