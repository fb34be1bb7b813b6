package usage

import "errors"

var (
	// ErrUnknownReservation is returned when a reservation does not exist or
	// was already settled by another completion, abandonment or sweep.
	ErrUnknownReservation = errors.New("unknown reservation")

	// ErrInvalidTokens is returned for a negative actual token count.
	ErrInvalidTokens = errors.New("invalid actual token count")
)
