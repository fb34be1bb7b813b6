// Package export writes ledger events as JSON or CSV.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"campuscore/keygate/pkg/ledger"
)

// JSONExporter exports events as a JSON array, or one object per line when
// Lines is set.
type JSONExporter struct {
	// Pretty enables indentation. Ignored when Lines is set.
	Pretty bool

	// Lines writes newline-delimited JSON.
	Lines bool
}

// Export writes events to w.
func (e *JSONExporter) Export(ctx context.Context, events []*ledger.Event, w io.Writer) error {
	if e.Lines {
		enc := json.NewEncoder(w)
		for _, ev := range events {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := enc.Encode(ev); err != nil {
				return ledger.NewExportError("json", len(events), err)
			}
		}
		return nil
	}

	if events == nil {
		events = []*ledger.Event{}
	}

	var data []byte
	var err error
	if e.Pretty {
		data, err = json.MarshalIndent(events, "", "  ")
	} else {
		data, err = json.Marshal(events)
	}
	if err != nil {
		return ledger.NewExportError("json", len(events), err)
	}

	if _, err := w.Write(append(data, '\n')); err != nil {
		return ledger.NewExportError("json", len(events), err)
	}
	return nil
}

// ForFormat returns the exporter for "json", "jsonl" or "csv".
func ForFormat(format string) (ledger.Exporter, error) {
	switch format {
	case "json", "":
		return &JSONExporter{Pretty: true}, nil
	case "jsonl", "ndjson":
		return &JSONExporter{Lines: true}, nil
	case "csv":
		return &CSVExporter{IncludeHeader: true}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}
}
