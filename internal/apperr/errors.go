// Package apperr holds the error taxonomy shared by the generation tracking
// components. User-blocking errors propagate to callers; background paths log
// them and retry on the next cycle.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrQuotaExceeded is returned when an anonymous identity has used all free generations.
	ErrQuotaExceeded = errors.New("free generation limit reached")

	// ErrPersistence marks Record Store and local storage failures.
	ErrPersistence = errors.New("persistence failure")

	// ErrIdentityResolution marks identity provider failures.
	ErrIdentityResolution = errors.New("identity resolution failed")

	// ErrInvalidRequest marks input rejected before any vendor call.
	ErrInvalidRequest = errors.New("invalid request")

	ErrJobNotFound       = errors.New("job not found")
	ErrPartitionMismatch = errors.New("identity does not match storage partition")
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// VendorRequestError is a failed generation-start call.
type VendorRequestError struct {
	Code    int
	Message string
}

func (e *VendorRequestError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("vendor request failed: %s", e.Message)
	}
	return fmt.Sprintf("vendor request failed (code %d): %s", e.Code, e.Message)
}

// VendorJobFailedError is a job the Record Store reports as failed.
type VendorJobFailedError struct {
	TaskID  string
	Message string
}

func (e *VendorJobFailedError) Error() string {
	if e.Message == "" {
		return "music generation failed"
	}
	return e.Message
}

// PersistenceError wraps a storage failure with the operation that caused it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error {
	return []error{ErrPersistence, e.Err}
}

// Persistence wraps err as a PersistenceError. A nil err stays nil.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsQuotaExceeded reports whether err is a quota rejection.
func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
