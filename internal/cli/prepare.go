package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-ingestor/internal/img"
)

var (
	prepareOutput  string
	prepareMaxDim  int
	prepareDPI     int
	prepareTimeout time.Duration
)

var prepareCmd = &cobra.Command{
	Use:   "prepare <file>",
	Short: "Run image preparation locally and write the result",
	Long: `Decode, orient and downscale a file exactly as the server does before
extraction, without contacting the server. Useful to check what the model
will see.

Examples:
  ingestctl prepare scan.pdf
  ingestctl prepare photo.jpg --max-dim 1024 -o small.jpg`,
	Args: cobra.ExactArgs(1),
	RunE: runPrepare,
}

func init() {
	prepareCmd.Flags().StringVarP(&prepareOutput, "output", "o", "", "output path (default: <input>_prepared.<ext>)")
	prepareCmd.Flags().IntVar(&prepareMaxDim, "max-dim", img.DefaultMaxDim, "longest side in pixels")
	prepareCmd.Flags().IntVar(&prepareDPI, "dpi", 0, "PDF rasterization DPI (0 = default)")
	prepareCmd.Flags().DurationVar(&prepareTimeout, "timeout", 30*time.Second, "preparation timeout")

	rootCmd.AddCommand(prepareCmd)
}

func runPrepare(cmd *cobra.Command, args []string) error {
	input := args[0]
	data, err := os.ReadFile(input)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	mimeType := img.ResolveMime("", data)
	router := img.NewRouter(img.Options{MaxDim: prepareMaxDim, DPI: prepareDPI})
	p, err := router.Get(mimeType)
	if err != nil {
		return fmt.Errorf("%w\n\nSupported formats:\n  %s", err, strings.Join(img.SupportedMimeTypes(), "\n  "))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), prepareTimeout)
	defer cancel()

	start := time.Now()
	prepared, err := p.Prepare(ctx, data, mimeType)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	elapsed := time.Since(start)

	output := prepareOutput
	if output == "" {
		output = defaultPreparedPath(input, prepared.MimeType)
	}
	if err := os.WriteFile(output, prepared.Data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Input:  %s (%s, %s, %dx%d)\n", input, mimeType, formatBytes(int64(len(data))), prepared.SourceWidth, prepared.SourceHeight)
	fmt.Fprintf(out, "Output: %s (%s, %s, %dx%d)\n", output, prepared.MimeType, formatBytes(int64(len(prepared.Data))), prepared.Width, prepared.Height)
	fmt.Fprintf(out, "Preparer: %s, took %v\n", p.Name(), elapsed.Round(time.Millisecond))
	return nil
}

func defaultPreparedPath(input, mimeType string) string {
	ext := ".jpg"
	if mimeType == "image/png" {
		ext = ".png"
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + "_prepared" + ext
}

// formatBytes formats bytes into human-readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
