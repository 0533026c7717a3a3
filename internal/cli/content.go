package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-ingestor/internal/bus"
	"github.com/tendant/simple-ingestor/pkg/schema"
)

var (
	contentNATSURL  string
	contentSubject  string
	contentSubjID   string
	contentTopic    string
	contentPriority int
	contentTimeout  time.Duration
)

var submitContentCmd = &cobra.Command{
	Use:   "submit-content <content-id>...",
	Short: "Queue content already stored in simple-content, over NATS",
	Long: `Ask any ingestd instance listening on NATS to create a job whose files
are existing simple-content objects. The reply carries the new job id.

Examples:
  ingestctl submit-content --owner u1 --subject math 3f2c...`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmitContent,
}

func init() {
	submitContentCmd.Flags().StringVar(&contentNATSURL, "nats-url", envOr("NATS_URL", "nats://127.0.0.1:4222"), "NATS server URL")
	submitContentCmd.Flags().StringVar(&contentSubject, "nats-subject", envOr("SUBMIT_SUBJECT", "ingest.jobs.submit"), "submission subject")
	submitContentCmd.Flags().StringVarP(&contentSubjID, "subject", "s", "", "subject id (required)")
	submitContentCmd.Flags().StringVarP(&contentTopic, "topic", "t", "", "topic id")
	submitContentCmd.Flags().IntVarP(&contentPriority, "priority", "p", 0, "queue priority, higher runs first")
	submitContentCmd.Flags().DurationVar(&contentTimeout, "timeout", 10*time.Second, "reply timeout")
	_ = submitContentCmd.MarkFlagRequired("subject")

	rootCmd.AddCommand(submitContentCmd)
}

func runSubmitContent(cmd *cobra.Command, args []string) error {
	nc, err := bus.Connect(contentNATSURL, "ingestctl")
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), contentTimeout)
	defer cancel()

	req := schema.SubmitContent{
		ContentIDs: args,
		SubjectID:  contentSubjID,
		TopicID:    contentTopic,
		OwnerID:    ownerID,
		Priority:   contentPriority,
		HappenedAt: time.Now().UnixMilli(),
	}
	var reply schema.JobAccepted
	if err := nc.RequestJSON(ctx, contentSubject, req, &reply); err != nil {
		return fmt.Errorf("submit content: %w", err)
	}
	if reply.Error != "" {
		return errors.New(reply.Error)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%d files)\n", reply.JobID, reply.TotalFiles)
	return nil
}
