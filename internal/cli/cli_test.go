package cli

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tendant/simple-ingestor/internal/orchestrator"
	"github.com/tendant/simple-ingestor/internal/process"
	"github.com/tendant/simple-ingestor/internal/queue"
	"github.com/tendant/simple-ingestor/internal/server"
	"github.com/tendant/simple-ingestor/internal/source"
	"github.com/tendant/simple-ingestor/internal/status"
	"github.com/tendant/simple-ingestor/internal/store"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func startServer(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := status.NewHub(8, logger)
	js := store.NewJobStore(store.NewMemoryKV(), store.Options{Notifier: hub, Logger: logger})
	spool, err := source.NewSpool(t.TempDir())
	if err != nil {
		t.Fatalf("spool: %v", err)
	}
	svc := orchestrator.NewService(js, queue.NewMemory(), spool, logger)
	srv := httptest.NewServer(server.NewHandler(svc, hub, logger))
	t.Cleanup(srv.Close)
	return srv.URL
}

func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	m := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	path := filepath.Join(dir, "page.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, m); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return path
}

func TestSubmitListShowDelete(t *testing.T) {
	url := startServer(t)
	path := writePNG(t, t.TempDir(), 8, 8)

	out, err := run(t, "submit", "--server", url, "--owner", "alice", "--subject", "math", "--topic", "algebra", path)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !strings.HasPrefix(out, "Submitted job ") || !strings.Contains(out, "(1 files)") {
		t.Fatalf("unexpected submit output: %q", out)
	}
	jobID := strings.Fields(out)[2]

	out, err = run(t, "jobs", "--server", url, "--owner", "alice")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out, jobID) || !strings.Contains(out, "pending") || !strings.Contains(out, "0/1") {
		t.Fatalf("job missing from list: %q", out)
	}

	out, err = run(t, "jobs", jobID, "--server", url, "--owner", "alice")
	if err != nil {
		t.Fatalf("jobs <id>: %v", err)
	}
	if !strings.Contains(out, "Job: "+jobID) || !strings.Contains(out, "page.png") || !strings.Contains(out, "Topic: algebra") {
		t.Fatalf("unexpected job detail: %q", out)
	}

	if _, err := run(t, "jobs", jobID, "--server", url, "--owner", "bob"); err == nil || !strings.Contains(err.Error(), "job not found") {
		t.Fatalf("other owners should not see the job, got %v", err)
	}

	if _, err := run(t, "delete", jobID, "--server", url, "--owner", "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	out, err = run(t, "jobs", "--server", url, "--owner", "alice")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	if !strings.Contains(out, "No jobs found") {
		t.Fatalf("expected empty list after delete: %q", out)
	}
}

func TestSubmitRequiresSubject(t *testing.T) {
	submitSubject = ""
	if _, err := run(t, "submit", "--server", "http://127.0.0.1:1", "x.png"); err == nil {
		t.Fatal("expected missing --subject to fail")
	}
}

func TestPrepareWritesDownscaledImage(t *testing.T) {
	dir := t.TempDir()
	input := writePNG(t, dir, 64, 32)
	output := filepath.Join(dir, "out.png")

	out, err := run(t, "prepare", input, "--max-dim", "16", "-o", output)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !strings.Contains(out, "16x8") || !strings.Contains(out, "64x32") {
		t.Fatalf("unexpected prepare output: %q", out)
	}

	f, err := os.Open(output)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "png" || cfg.Width != 16 || cfg.Height != 8 {
		t.Fatalf("unexpected output %s %dx%d", format, cfg.Width, cfg.Height)
	}
}

func TestPrepareRejectsUnsupported(t *testing.T) {
	input := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(input, []byte("plain text, not an image"), 0o644); err != nil {
		t.Fatal(err)
	}
	prepareOutput = ""
	_, err := run(t, "prepare", input)
	if err == nil || !strings.Contains(err.Error(), "Supported formats") {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestSubCategoriesImportAndList(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "records.db")
	seed := filepath.Join(dir, "subcategories.json")
	body := `[{"topic_id": "algebra", "id": "sc-eq", "name": "Equations"},
		{"topic_id": "algebra", "id": "sc-fn", "name": "Functions"}]`
	if err := os.WriteFile(seed, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "subcategories", "import", seed, "--db", db)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !strings.Contains(out, "Imported 2 sub-categories") {
		t.Fatalf("unexpected import output: %q", out)
	}

	out, err = run(t, "subcategories", "list", "algebra", "--db", db)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "sc-eq") || !strings.Contains(out, "Functions") {
		t.Fatalf("unexpected list output: %q", out)
	}

	out, err = run(t, "subcategories", "list", "grammar", "--db", db)
	if err != nil {
		t.Fatalf("list empty: %v", err)
	}
	if !strings.Contains(out, "No sub-categories for topic grammar") {
		t.Fatalf("unexpected empty output: %q", out)
	}
}

func TestDefaultPreparedPath(t *testing.T) {
	if got := defaultPreparedPath("/tmp/scan.pdf", "image/png"); got != "/tmp/scan_prepared.png" {
		t.Fatalf("unexpected path %s", got)
	}
	if got := defaultPreparedPath("photo.heic", "image/jpeg"); got != "photo_prepared.jpg" {
		t.Fatalf("unexpected path %s", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 << 20, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Fatalf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPrintJob(t *testing.T) {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	done := created.Add(90 * time.Second)
	job := &process.Job{
		ID:             "j1",
		Status:         process.StatusCompleted,
		SubjectID:      "bio",
		TotalFiles:     2,
		ProcessedFiles: 2,
		SuccessCount:   1,
		ErrorCount:     1,
		CreatedAt:      created,
		CompletedAt:    &done,
		Errors:         []string{"b.jpg: validation failed: title is required"},
		Files: []process.FileStatus{
			{FileName: "a.jpg", Status: process.StatusCompleted, RecordID: "rec-1"},
			{FileName: "b.jpg", Status: process.StatusFailed, Error: "validation failed: title is required"},
		},
	}

	var buf bytes.Buffer
	printJob(&buf, job)
	out := buf.String()
	for _, want := range []string{
		"Progress: 2/2 (1 ok, 1 failed)",
		"Duration: 1m30s",
		"a.jpg -> rec-1",
		"b.jpg: validation failed",
		"Errors (1):",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
