package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("device not found")
	ErrPermissionDenied = errors.New("location permission denied")
	ErrFixTimeout       = errors.New("position fix timed out")
	ErrSessionBound     = errors.New("tracking session is bound to another device")
)

type StoreOp string

const (
	OpRead  StoreOp = "read"
	OpWrite StoreOp = "write"
)

// StoreError wraps a failure reported by the sample store.
type StoreError struct {
	Op  StoreOp
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func ReadError(err error) error {
	return &StoreError{Op: OpRead, Err: err}
}

func WriteError(err error) error {
	return &StoreError{Op: OpWrite, Err: err}
}

// LoadError reports a failed resolution step.
type LoadError struct {
	Stage string
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Category maps err to the cause category shown to users.
func Category(err error) string {
	var storeErr *StoreError
	var loadErr *LoadError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrFixTimeout):
		return "fix_timeout"
	case errors.As(err, &loadErr):
		return "load_error"
	case errors.As(err, &storeErr) && storeErr.Op == OpWrite:
		return "store_write"
	case errors.As(err, &storeErr):
		return "store_read"
	default:
		return "internal"
	}
}
