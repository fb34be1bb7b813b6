package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"campuscore/keygate/pkg/tier"
	"campuscore/keygate/pkg/vault"
)

// MemoryStore implements vault.Store with in-process maps.
type MemoryStore struct {
	mu           sync.RWMutex
	credentials  map[string]*vault.Credential
	reservations map[string]*vault.Reservation
}

var _ vault.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials:  make(map[string]*vault.Credential),
		reservations: make(map[string]*vault.Reservation),
	}
}

// Create inserts a credential.
func (m *MemoryStore) Create(ctx context.Context, c *vault.Credential) error {
	if err := validateCredential(c); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.credentials[c.ID]; exists {
		return vault.ErrAlreadyExists
	}
	c.Version = 1
	m.credentials[c.ID] = c.Clone()
	return nil
}

// Get returns a copy of the credential.
func (m *MemoryStore) Get(ctx context.Context, id string) (*vault.Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.credentials[id]
	if !ok {
		return nil, vault.ErrNotFound
	}
	return c.Clone(), nil
}

// List returns copies of all credentials.
func (m *MemoryStore) List(ctx context.Context) ([]*vault.Credential, error) {
	return m.filter(func(*vault.Credential) bool { return true }), nil
}

// ListByTier returns copies of the credentials of t.
func (m *MemoryStore) ListByTier(ctx context.Context, t tier.Tier) ([]*vault.Credential, error) {
	return m.filter(func(c *vault.Credential) bool { return c.Tier == t }), nil
}

func (m *MemoryStore) filter(keep func(*vault.Credential) bool) []*vault.Credential {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*vault.Credential, 0, len(m.credentials))
	for _, c := range m.credentials {
		if keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CompareAndSwap replaces the credential if its version matches.
func (m *MemoryStore) CompareAndSwap(ctx context.Context, next *vault.Credential, expectedVersion int64) (bool, error) {
	if err := validateCredential(next); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.credentials[next.ID]
	if !ok {
		return false, vault.ErrNotFound
	}
	if current.Version != expectedVersion {
		return false, nil
	}
	next.Version = expectedVersion + 1
	m.credentials[next.ID] = next.Clone()
	return true, nil
}

// PutReservation stores a reservation.
func (m *MemoryStore) PutReservation(ctx context.Context, r *vault.Reservation) error {
	if err := validateReservation(r); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.reservations[r.ID] = r.Clone()
	return nil
}

// TakeReservation removes and returns a reservation.
func (m *MemoryStore) TakeReservation(ctx context.Context, id string) (*vault.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, vault.ErrReservationNotFound
	}
	delete(m.reservations, id)
	return r, nil
}

// ExpiredReservations lists reservations admitted before the cutoff.
func (m *MemoryStore) ExpiredReservations(ctx context.Context, before time.Time) ([]*vault.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*vault.Reservation
	for _, r := range m.reservations {
		if r.AdmittedAt.Before(before) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AdmittedAt.Before(out[j].AdmittedAt) })
	return out, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}
