package img

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// PDFPreparer renders the first page of a PDF with Poppler's pdftoppm.
type PDFPreparer struct {
	maxDim int
	dpi    int
}

func NewPDFPreparer(maxDim, dpi int) *PDFPreparer {
	if dpi <= 0 {
		dpi = 150
	}
	return &PDFPreparer{maxDim: maxDim, dpi: dpi}
}

func (p *PDFPreparer) Prepare(ctx context.Context, data []byte, _ string) (*Prepared, error) {
	if _, err := exec.LookPath("pdftoppm"); err != nil {
		return nil, fmt.Errorf("pdftoppm not found in PATH: %w (install poppler-utils)", err)
	}

	dir, err := os.MkdirTemp("", "ingest-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("tempdir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	outputBase := filepath.Join(dir, "page")

	// -singlefile with -f 1 -l 1 renders page one without a page suffix.
	args := []string{
		"-png",
		"-singlefile",
		"-f", "1",
		"-l", "1",
		"-r", strconv.Itoa(p.dpi),
	}
	if p.maxDim > 0 {
		args = append(args, "-scale-to", strconv.Itoa(p.maxDim))
	}
	args = append(args, input, outputBase)

	cmd := exec.CommandContext(ctx, "pdftoppm", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w\nOutput: %s", err, strings.TrimSpace(string(out)))
	}

	png, err := os.ReadFile(outputBase + ".png")
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(png))
	if err != nil {
		return nil, fmt.Errorf("rendered page: %w", err)
	}

	return &Prepared{
		Data:     png,
		MimeType: "image/png",
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

func (p *PDFPreparer) Supports(mimeType string) bool {
	return strings.ToLower(mimeType) == "application/pdf"
}

func (p *PDFPreparer) Name() string {
	return "pdf"
}
