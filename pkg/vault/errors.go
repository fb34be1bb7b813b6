package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a credential does not exist.
	ErrNotFound = errors.New("credential not found")

	// ErrAlreadyExists is returned when creating a credential whose ID is taken.
	ErrAlreadyExists = errors.New("credential already exists")

	// ErrReservationNotFound is returned when a reservation does not exist or
	// was already consumed.
	ErrReservationNotFound = errors.New("reservation not found")
)

// StoreError wraps an infrastructure failure of a Store backend.
type StoreError struct {
	// Op names the store operation that failed.
	Op string

	// Backend names the store implementation.
	Backend string

	// Err is the underlying driver error.
	Err error

	transient bool
}

// NewStoreError builds a StoreError. transient marks failures worth retrying.
func NewStoreError(backend, op string, err error, transient bool) *StoreError {
	return &StoreError{Op: op, Backend: backend, Err: err, transient: transient}
}

func (e *StoreError) Error() string {
	kind := "store"
	if e.transient {
		kind = "transient store"
	}
	return fmt.Sprintf("%s %s error in %s: %v", e.Backend, kind, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Transient reports whether the operation may succeed if retried.
func (e *StoreError) Transient() bool {
	return e.transient
}

// IsTransient reports whether err is a transient *StoreError.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Transient()
}

// SealError reports that stored material for a credential could not be opened.
type SealError struct {
	CredentialID string
	Err          error
}

func (e *SealError) Error() string {
	return fmt.Sprintf("unseal material of credential %s: %v", e.CredentialID, e.Err)
}

func (e *SealError) Unwrap() error {
	return e.Err
}
