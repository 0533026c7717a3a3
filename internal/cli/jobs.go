package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-ingestor/internal/process"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List jobs or inspect one",
	Long: `List your jobs, newest first, or show a single job with its files.

Examples:
  ingestctl jobs
  ingestctl jobs 6f1c0e9a-...`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <job-id>",
	Short: "Delete a job and its staged files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().Delete(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(deleteCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	c := newClient()
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		job, err := c.Job(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		if job == nil {
			return fmt.Errorf("job not found: %s", args[0])
		}
		printJob(out, job)
		return nil
	}

	jobs, err := c.Jobs(cmd.Context())
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-11s %-9s %-5s %-5s %s\n", "ID", "STATUS", "PROGRESS", "OK", "ERR", "CREATED")
	for _, job := range jobs {
		fmt.Fprintf(out, "%-36s %-11s %-9s %-5d %-5d %s\n",
			job.ID, job.Status,
			fmt.Sprintf("%d/%d", job.ProcessedFiles, job.TotalFiles),
			job.SuccessCount, job.ErrorCount,
			job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

func printJob(out io.Writer, job *process.Job) {
	fmt.Fprintf(out, "Job: %s\n", job.ID)
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	fmt.Fprintf(out, "  Subject: %s\n", job.SubjectID)
	if job.TopicID != "" {
		fmt.Fprintf(out, "  Topic: %s\n", job.TopicID)
	}
	fmt.Fprintf(out, "  Progress: %d/%d (%d ok, %d failed)\n", job.ProcessedFiles, job.TotalFiles, job.SuccessCount, job.ErrorCount)
	fmt.Fprintf(out, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "  Duration: %s\n", job.CompletedAt.Sub(job.CreatedAt).Round(time.Second))
	}

	if len(job.Files) > 0 {
		fmt.Fprintln(out, "\nFiles:")
		for _, f := range job.Files {
			line := fmt.Sprintf("  %-10s %s", f.Status, f.FileName)
			switch {
			case f.RecordID != "":
				line += " -> " + f.RecordID
			case f.Error != "":
				line += ": " + f.Error
			}
			fmt.Fprintln(out, line)
		}
	}

	if len(job.Errors) > 0 {
		fmt.Fprintf(out, "\nErrors (%d):\n", len(job.Errors))
		for _, e := range job.Errors {
			fmt.Fprintf(out, "  - %s\n", e)
		}
	}
}
