package storage

import (
	"fmt"

	"campuscore/keygate/pkg/vault"
)

func validateCredential(c *vault.Credential) error {
	if c == nil {
		return fmt.Errorf("credential cannot be nil")
	}
	if c.ID == "" {
		return fmt.Errorf("credential id cannot be empty")
	}
	if !c.Tier.Valid() {
		return fmt.Errorf("credential %s: invalid tier %q", c.ID, c.Tier)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("credential %s: invalid status %q", c.ID, c.Status)
	}
	return nil
}

func validateReservation(r *vault.Reservation) error {
	if r == nil {
		return fmt.Errorf("reservation cannot be nil")
	}
	if r.ID == "" {
		return fmt.Errorf("reservation id cannot be empty")
	}
	if r.CredentialID == "" {
		return fmt.Errorf("reservation %s: credential id cannot be empty", r.ID)
	}
	return nil
}
