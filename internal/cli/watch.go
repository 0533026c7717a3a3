package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-ingestor/internal/client"
	"github.com/tendant/simple-ingestor/internal/status"
)

var watchCmd = &cobra.Command{
	Use:   "watch <job-id>",
	Short: "Follow a job's progress until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchJob(cmd, newClient(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watchJob(cmd *cobra.Command, c *client.Client, jobID string) error {
	out := cmd.OutOrStdout()
	err := c.Watch(cmd.Context(), jobID, func(evt status.Event) error {
		printEvent(out, evt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("watch %s: %w", jobID, err)
	}

	// The stream only carries counters; fetch the final record for the
	// per-file outcome.
	job, err := c.Job(cmd.Context(), jobID)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	if job != nil {
		fmt.Fprintln(out)
		printJob(out, job)
	}
	return nil
}

func printEvent(out io.Writer, evt status.Event) {
	switch {
	case evt.Job != nil:
		j := evt.Job
		fmt.Fprintf(out, "[%s] %d/%d processed, %d ok, %d failed\n", j.Status, j.ProcessedFiles, j.TotalFiles, j.SuccessCount, j.ErrorCount)
	case evt.Progress != nil:
		p := evt.Progress
		fmt.Fprintf(out, "[%s] %d/%d processed, %d ok, %d failed\n", p.Status, p.ProcessedFiles, p.TotalFiles, p.SuccessCount, p.ErrorCount)
	}
}
