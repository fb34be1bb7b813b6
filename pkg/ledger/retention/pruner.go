// Package retention enforces the ledger retention period.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"campuscore/keygate/pkg/ledger"
)

// Pruner deletes ledger events older than the retention period.
type Pruner struct {
	storage       ledger.Storage
	retentionDays int
	now           func() time.Time
	logger        *slog.Logger
}

// NewPruner creates a pruner. A retentionDays of zero or less keeps events
// forever and makes Prune a no-op.
func NewPruner(storage ledger.Storage, retentionDays int) *Pruner {
	return &Pruner{
		storage:       storage,
		retentionDays: retentionDays,
		now:           time.Now,
		logger:        slog.Default().With("component", "ledger.retention"),
	}
}

// RetentionDays returns the configured retention period.
func (p *Pruner) RetentionDays() int {
	return p.retentionDays
}

// Cutoff returns the newest event time that Prune would delete.
func (p *Pruner) Cutoff() time.Time {
	return p.now().Add(-time.Duration(p.retentionDays) * 24 * time.Hour)
}

// Prune deletes events older than the retention period and returns how many
// were deleted.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.retentionDays <= 0 {
		return 0, nil
	}

	cutoff := p.Cutoff()
	deleted, err := p.storage.Delete(ctx, &ledger.Query{EndTime: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("prune ledger events older than %d days: %w", p.retentionDays, err)
	}

	if deleted > 0 {
		p.logger.Info("pruned ledger events",
			"deleted_count", deleted,
			"retention_days", p.retentionDays,
			"cutoff", cutoff,
		)
	} else {
		p.logger.Debug("no ledger events pruned", "retention_days", p.retentionDays)
	}
	return deleted, nil
}
