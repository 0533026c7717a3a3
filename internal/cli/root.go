// Package cli provides the ingestctl command-line interface.
package cli

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-ingestor/internal/client"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	serverURL string
	ownerID   string
)

var rootCmd = &cobra.Command{
	Use:   "ingestctl",
	Short: "Submit and follow batch image ingestion jobs",
	Long: `ingestctl talks to an ingestd server: it uploads batches of page images,
lists and inspects jobs, and follows their progress live.

The server address and acting user default to INGEST_SERVER and INGEST_USER.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Ctrl-C cancels the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("INGEST_SERVER", "http://localhost:8080"), "ingestd base URL")
	rootCmd.PersistentFlags().StringVar(&ownerID, "owner", os.Getenv("INGEST_USER"), "user id sent as X-User-ID")
}

func newClient() *client.Client {
	return client.New(serverURL, ownerID)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
