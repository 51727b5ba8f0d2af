package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrInvalidInterval   = errors.New("appointment interval is invalid: duration must be between 1 and 1440 minutes")
	ErrInvalidKind       = errors.New("appointment kind must be self-pay, or insurance with a plan")
	ErrInvalidFilter     = errors.New("listing requires a doctor, patient or clinic")
	ErrSlotConflict      = errors.New("doctor already has an appointment in this interval")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyTerminal   = errors.New("appointment is in a terminal status")
	ErrContention        = errors.New("appointment is being modified concurrently, please retry")
	ErrStorageFailure    = errors.New("appointment storage failure")

	// ErrVersionMismatch is returned by repositories when a conditional
	// update loses the race. The store retries it and never surfaces it.
	ErrVersionMismatch = errors.New("appointment version mismatch")
)

// TransitionError carries the rejected edge of the status graph.
type TransitionError struct {
	From Status
	To   Status
	Err  error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s -> %s: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// StorageError wraps a downstream failure so callers can match ErrStorageFailure
// while the cause stays available for logs.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageFailure }

// storageErr passes domain sentinels through and wraps everything else.
func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrVersionMismatch),
		errors.Is(err, ErrSlotConflict),
		errors.Is(err, ErrStorageFailure):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
