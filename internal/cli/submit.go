package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-ingestor/internal/client"
)

var (
	submitSubject  string
	submitTopic    string
	submitPriority int
	submitWatch    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>...",
	Short: "Upload files as one ingestion job",
	Long: `Upload one or more page images or PDFs as a single job. The job is
processed in the background; pass --watch to follow it until it finishes.

Examples:
  ingestctl submit --subject math --topic algebra page1.jpg page2.jpg
  ingestctl submit --subject bio --priority 5 --watch scan.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVarP(&submitSubject, "subject", "s", "", "subject id (required)")
	submitCmd.Flags().StringVarP(&submitTopic, "topic", "t", "", "topic id")
	submitCmd.Flags().IntVarP(&submitPriority, "priority", "p", 0, "queue priority, higher runs first")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "follow progress until the job finishes")
	_ = submitCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, args []string) error {
	c := newClient()
	job, err := c.Submit(cmd.Context(), client.SubmitParams{
		SubjectID: submitSubject,
		TopicID:   submitTopic,
		Priority:  submitPriority,
		Paths:     args,
	})
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%d files)\n", job.ID, job.TotalFiles)
	if !submitWatch {
		return nil
	}
	return watchJob(cmd, c, job.ID)
}
