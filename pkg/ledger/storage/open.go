package storage

import (
	"fmt"

	"campuscore/keygate/pkg/ledger"
)

// Open returns the storage backend named by backend ("memory" or "sqlite").
func Open(backend, path string) (ledger.Storage, error) {
	switch backend {
	case "memory":
		return NewMemoryStorage(), nil
	case "sqlite", "":
		return NewSQLiteStorage(&SQLiteConfig{Path: path})
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}
