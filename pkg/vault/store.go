package vault

import (
	"context"
	"time"

	"campuscore/keygate/pkg/tier"
)

// Store persists credentials and reservations.
// Implementations must be safe for concurrent use by many processes.
type Store interface {
	// Create inserts a new credential with Version 1.
	// Returns ErrAlreadyExists if the ID is taken.
	Create(ctx context.Context, c *Credential) error

	// Get returns the credential with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Credential, error)

	// List returns every credential ordered by ID.
	List(ctx context.Context) ([]*Credential, error)

	// ListByTier returns the credentials of one tier ordered by ID.
	ListByTier(ctx context.Context, t tier.Tier) ([]*Credential, error)

	// CompareAndSwap replaces the stored credential with next if the stored
	// Version equals expectedVersion. On success next.Version is set to
	// expectedVersion+1 and true is returned. A version mismatch returns
	// false with a nil error. A missing credential returns ErrNotFound.
	CompareAndSwap(ctx context.Context, next *Credential, expectedVersion int64) (bool, error)

	// PutReservation stores a reservation.
	PutReservation(ctx context.Context, r *Reservation) error

	// TakeReservation removes and returns a reservation. Exactly one caller
	// can take a given reservation; all others get ErrReservationNotFound.
	TakeReservation(ctx context.Context, id string) (*Reservation, error)

	// ExpiredReservations lists reservations admitted before the cutoff.
	// Listing does not consume them.
	ExpiredReservations(ctx context.Context, before time.Time) ([]*Reservation, error)

	// Close releases backend resources.
	Close() error
}
