/*
Package cli provides helpers shared by the conduit commands.

Command output goes through a Formatter selected by the --output flag:

	format, err := cli.ParseOutputFormat(flagValue)
	if err != nil {
		return err
	}
	table := &cli.Table{Headers: []string{"KEY", "EVENTS"}}
	return cli.NewFormatter(format).FormatTo(os.Stdout, table)

Errors are mapped to exit codes with ExitCode. Configuration failures
exit with 2 so scripts can tell them apart from runtime failures.

SetupSignalHandler returns a context cancelled on SIGINT or SIGTERM for
graceful shutdown.
*/
package cli
