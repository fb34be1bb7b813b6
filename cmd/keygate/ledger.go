package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"campuscore/keygate/pkg/cli"
	"campuscore/keygate/pkg/ledger"
	"campuscore/keygate/pkg/ledger/export"
	"campuscore/keygate/pkg/ledger/retention"
	ledgerstorage "campuscore/keygate/pkg/ledger/storage"
)

var ledgerFlags struct {
	kind         string
	tier         string
	credentialID string
	reservation  string
	since        time.Duration
	start        string
	end          string
	limit        int
	offset       int
	order        string
	format       string
	output       string
	count        bool
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Query and prune the usage ledger",
	Long: `Query and prune the append-only usage ledger.

Every admission, fallback, rejection, completion and credential lifecycle
change is recorded as a ledger event when the ledger is enabled.

Examples:
  # Rejections of the last hour
  keygate ledger query --kind exhausted --since 1h

  # Everything a credential served, as CSV
  keygate ledger query --credential fast-1 --format csv --output fast-1.csv

  # Count completions in a time range
  keygate ledger query --kind completed --start 2026-01-01T00:00:00Z --end 2026-01-02T00:00:00Z --count

  # Apply the retention policy now
  keygate ledger prune`,
}

var ledgerQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Export ledger events",
	Args:  cobra.NoArgs,
	RunE:  runLedgerQuery,
}

var ledgerPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete events older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runLedgerPrune,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerQueryCmd, ledgerPruneCmd)

	f := ledgerQueryCmd.Flags()
	f.StringVar(&ledgerFlags.kind, "kind", "", "event kind (admitted, fallback, exhausted, completed, abandoned, reconciled, credential_disabled, credential_rotated)")
	f.StringVar(&ledgerFlags.tier, "tier", "", "serving tier")
	f.StringVar(&ledgerFlags.credentialID, "credential", "", "credential id")
	f.StringVar(&ledgerFlags.reservation, "reservation", "", "reservation id")
	f.DurationVar(&ledgerFlags.since, "since", 0, "only events newer than this duration (e.g. 24h)")
	f.StringVar(&ledgerFlags.start, "start", "", "inclusive start time (RFC3339)")
	f.StringVar(&ledgerFlags.end, "end", "", "inclusive end time (RFC3339)")
	f.IntVar(&ledgerFlags.limit, "limit", 0, "maximum events (0 uses the configured default)")
	f.IntVar(&ledgerFlags.offset, "offset", 0, "events to skip")
	f.StringVar(&ledgerFlags.order, "order", "desc", "sort order by time (asc, desc)")
	f.StringVarP(&ledgerFlags.format, "format", "f", "json", "output format (json, jsonl, csv)")
	f.StringVarP(&ledgerFlags.output, "output", "o", "", "write to file instead of stdout")
	f.BoolVar(&ledgerFlags.count, "count", false, "print the number of matching events only")
}

// buildLedgerQuery turns the query flags into a ledger query.
func buildLedgerQuery(now time.Time) (*ledger.Query, error) {
	q := &ledger.Query{
		Kind:          ledger.EventKind(ledgerFlags.kind),
		Tier:          ledgerFlags.tier,
		CredentialID:  ledgerFlags.credentialID,
		ReservationID: ledgerFlags.reservation,
		Limit:         ledgerFlags.limit,
		Offset:        ledgerFlags.offset,
		SortOrder:     ledgerFlags.order,
	}

	if ledgerFlags.since > 0 && ledgerFlags.start != "" {
		return nil, fmt.Errorf("--since and --start are mutually exclusive")
	}
	if ledgerFlags.since > 0 {
		start := now.Add(-ledgerFlags.since)
		q.StartTime = &start
	}
	bounds := []struct {
		value string
		dst   **time.Time
	}{
		{ledgerFlags.start, &q.StartTime},
		{ledgerFlags.end, &q.EndTime},
	}
	for _, b := range bounds {
		if b.value == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, b.value)
		if err != nil {
			return nil, fmt.Errorf("invalid time %q: must be RFC3339", b.value)
		}
		*b.dst = &ts
	}
	return q, nil
}

func runLedgerQuery(cmd *cobra.Command, args []string) error {
	q, err := buildLedgerQuery(time.Now())
	if err != nil {
		return err
	}
	exporter, err := export.ForFormat(ledgerFlags.format)
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	limits := ledger.Limits{Default: cfg.Ledger.QueryDefaultLimit, Max: cfg.Ledger.QueryMaxLimit}
	ledger.ApplyDefaults(q, limits)
	if err := ledger.Validate(q, limits); err != nil {
		return err
	}

	st, err := ledgerstorage.Open(cfg.Ledger.Backend, cfg.Ledger.SQLitePath)
	if err != nil {
		return cli.NewCommandError("ledger query", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ledgerFlags.count {
		n, err := st.Count(ctx, q)
		if err != nil {
			return cli.NewCommandError("ledger query", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), n)
		return nil
	}

	events, err := st.Query(ctx, q)
	if err != nil {
		return cli.NewCommandError("ledger query", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if ledgerFlags.output != "" {
		f, err := os.Create(ledgerFlags.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if err := exporter.Export(ctx, events, w); err != nil {
		return cli.NewCommandError("ledger query", err)
	}
	if ledgerFlags.output != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d events to %s\n", len(events), ledgerFlags.output)
	}
	return nil
}

func runLedgerPrune(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	st, err := ledgerstorage.Open(cfg.Ledger.Backend, cfg.Ledger.SQLitePath)
	if err != nil {
		return cli.NewCommandError("ledger prune", err)
	}
	defer st.Close()

	pruner := retention.NewPruner(st, cfg.Ledger.RetentionDays)
	deleted, err := pruner.Prune(cmd.Context())
	if err != nil {
		return cli.NewCommandError("ledger prune", err)
	}

	if pruner.RetentionDays() <= 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Retention is unlimited, nothing pruned")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d events older than %s\n", deleted, pruner.Cutoff().Format(time.RFC3339))
	return nil
}
