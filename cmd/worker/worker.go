package worker

import "github.com/spf13/cobra"

// NewWorkerCmd returns the parent "worker" command.
func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run offline notifier jobs",
	}
	// attach subcommands
	cmd.AddCommand(replayCmd)

	return cmd
}
