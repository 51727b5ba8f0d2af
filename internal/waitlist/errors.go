package waitlist

import (
	"errors"
	"fmt"
)

var (
	ErrEntryNotFound    = errors.New("waitlist entry not found")
	ErrInvalidRange     = errors.New("preferred date range is invalid: end before start or start in the past")
	ErrInvalidSpecialty = errors.New("specialty is required")
	ErrInvalidResponse  = errors.New("response must be accept or decline")
	ErrOfferExpired     = errors.New("waitlist offer has expired")
	ErrNotOffered       = errors.New("waitlist entry holds no live offer")
	ErrNotRemovable     = errors.New("only waiting entries can be removed")
	ErrAlreadyOffered   = errors.New("appointment is already offered to another entry")
	ErrContention       = errors.New("waitlist entry is being modified concurrently, please retry")
	ErrStorageFailure   = errors.New("waitlist storage failure")

	// ErrVersionMismatch is internal to the queue's retry loop.
	ErrVersionMismatch = errors.New("waitlist entry version mismatch")
)

type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorageFailure }

func storageErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEntryNotFound),
		errors.Is(err, ErrVersionMismatch),
		errors.Is(err, ErrAlreadyOffered),
		errors.Is(err, ErrStorageFailure):
		return err
	}
	return &StorageError{Op: op, Err: err}
}
