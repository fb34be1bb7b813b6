package export

import (
	"context"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"campuscore/keygate/pkg/ledger"
)

// CSVExporter exports events to CSV.
type CSVExporter struct {
	// IncludeHeader includes a header row with column names.
	IncludeHeader bool
}

var header = []string{
	"id", "kind", "time",
	"request_id", "requested_tier", "tier", "credential_id", "reservation_id",
	"estimated_tokens", "actual_tokens", "fallback_count", "retry_after_ms", "succeeded",
	"detail",
}

// Export writes events to w in CSV format.
func (e *CSVExporter) Export(ctx context.Context, events []*ledger.Event, w io.Writer) error {
	writer := csv.NewWriter(w)

	if e.IncludeHeader {
		if err := writer.Write(header); err != nil {
			return ledger.NewExportError("csv", len(events), err)
		}
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := writer.Write(row(ev)); err != nil {
			return ledger.NewExportError("csv", len(events), err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return ledger.NewExportError("csv", len(events), err)
	}
	return nil
}

func row(ev *ledger.Event) []string {
	return []string{
		ev.ID,
		string(ev.Kind),
		ev.Time.UTC().Format(time.RFC3339Nano),
		ev.RequestID,
		ev.RequestedTier,
		ev.Tier,
		ev.CredentialID,
		ev.ReservationID,
		strconv.FormatInt(ev.EstimatedTokens, 10),
		strconv.FormatInt(ev.ActualTokens, 10),
		strconv.Itoa(ev.FallbackCount),
		strconv.FormatInt(ev.RetryAfter.Milliseconds(), 10),
		strconv.FormatBool(ev.Succeeded),
		ev.Detail,
	}
}
