package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"campuscore/keygate/pkg/cli"
	"campuscore/keygate/pkg/usage"
)

var sweepFlags struct {
	format string
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reclamation sweep",
	Long: `Run one reclamation sweep against the configured vault.

The sweep resets stale minute and day windows, reconciles reservations whose
completion never arrived and prints the recomputed tier summaries. It is the
same job the service runs on its schedule.

Examples:
  keygate sweep
  keygate sweep --format json`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().StringVarP(&sweepFlags.format, "format", "f", "text", "output format (text, json, csv)")
}

func runSweep(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(sweepFlags.format))
	if err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{ledger: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withOptionalTimeout(ctx, cfg.Sweep.Timeout)
	defer cancel()

	report, err := a.sweeper.RunScheduledSweep(ctx)
	if err != nil {
		return cli.NewCommandError("sweep", err)
	}

	out := cmd.OutOrStdout()
	if sweepFlags.format == string(cli.FormatJSON) {
		return formatter.FormatTo(out, report)
	}

	if sweepFlags.format != string(cli.FormatCSV) {
		fmt.Fprintf(out, "Swept %d credentials in %s: %d windows reclaimed, %d reservations reconciled, %d failures\n\n",
			report.Credentials, report.Duration, report.Reclaimed, report.Reconciled, len(report.Failed))
		for _, f := range report.Failed {
			fmt.Fprintf(out, "✗ %s%s: %s\n", f.CredentialID, f.ReservationID, f.Error)
		}
	}
	return formatter.FormatTo(out, summaryTable(report.Summaries))
}

func summaryTable(summaries []usage.TierSummary) *cli.Table {
	table := &cli.Table{Columns: []string{
		"tier", "active", "disabled", "rotated",
		"rpm_used", "rpd_used", "tpm_used", "total_requests", "total_tokens",
	}}
	for _, s := range summaries {
		table.Append(
			string(s.Tier),
			strconv.Itoa(s.Active),
			strconv.Itoa(s.Disabled),
			strconv.Itoa(s.Rotated),
			strconv.FormatInt(s.RPMUsed, 10),
			strconv.FormatInt(s.RPDUsed, 10),
			strconv.FormatInt(s.TPMUsed, 10),
			strconv.FormatInt(s.TotalRequests, 10),
			strconv.FormatInt(s.TotalTokens, 10),
		)
	}
	return table
}
