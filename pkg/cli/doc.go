/*
Package cli provides helpers shared by the keygate command.

Output Formatting:

Command results are rendered as aligned text, JSON, or CSV. Tabular results
implement Tabular so every format can render them:

	formatter, err := cli.NewFormatter(cli.FormatText)
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, table)

Progress Reporting:

Bulk operations such as credential import report progress on stderr:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(int64(len(items)))
	for i := range items {
		progress.Update(int64(i + 1))
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli
