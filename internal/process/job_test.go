package process

import (
	"errors"
	"testing"
	"time"
)

func newTestJob(names ...string) *Job {
	files := make([]FileInput, len(names))
	for i, n := range names {
		files[i] = FileInput{ID: n, FileName: n}
	}
	return NewJob("job-1", "subject-1", "", "user-1", files)
}

func TestNewJobStartsPending(t *testing.T) {
	job := newTestJob("a.png", "b.png")

	if job.Status != StatusPending {
		t.Fatalf("job status = %s, want pending", job.Status)
	}
	if job.TotalFiles != 2 || len(job.Files) != 2 {
		t.Fatalf("unexpected file counts: total=%d len=%d", job.TotalFiles, len(job.Files))
	}
	for _, f := range job.Files {
		if f.Status != StatusPending {
			t.Fatalf("file %s status = %s, want pending", f.ID, f.Status)
		}
	}
	if job.CompletedAt != nil {
		t.Fatal("completed_at set on new job")
	}
	if err := CheckInvariants(job); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestNewJobGeneratesIDs(t *testing.T) {
	job := NewJob("", "s", "", "u", []FileInput{{FileName: "x.png"}})
	if job.ID == "" || job.Files[0].ID == "" {
		t.Fatalf("expected generated ids, got job=%q file=%q", job.ID, job.Files[0].ID)
	}
}

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusCompleted, true},
		{StatusProcessing, StatusProcessing, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusFailed, StatusProcessing, false},
		{StatusPending, Status("bogus"), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Fatalf("CanTransition = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyFileUpdateCounters(t *testing.T) {
	job := newTestJob("file1.png", "file2.png", "file3.png")
	now := time.Now()

	steps := []struct {
		id  string
		upd FileUpdate
	}{
		{"file1.png", FileUpdate{Status: StatusProcessing}},
		{"file1.png", FileUpdate{Status: StatusCompleted, RecordID: "r1"}},
		{"file2.png", FileUpdate{Status: StatusProcessing}},
		{"file2.png", FileUpdate{Status: StatusFailed, Error: "unsupported format"}},
		{"file3.png", FileUpdate{Status: StatusProcessing}},
		{"file3.png", FileUpdate{Status: StatusCompleted, RecordID: "r3"}},
	}
	for _, s := range steps {
		if err := job.ApplyFileUpdate(s.id, s.upd, now); err != nil {
			t.Fatalf("ApplyFileUpdate(%s, %s): %v", s.id, s.upd.Status, err)
		}
		if err := CheckInvariants(job); err != nil {
			t.Fatalf("invariants after %s %s: %v", s.id, s.upd.Status, err)
		}
	}

	if job.ProcessedFiles != 3 || job.SuccessCount != 2 || job.ErrorCount != 1 {
		t.Fatalf("unexpected counters: %+v", job)
	}
	if len(job.Errors) != 1 || job.Errors[0] != "file2.png: unsupported format" {
		t.Fatalf("unexpected errors: %#v", job.Errors)
	}
	if job.Files[0].RecordID != "r1" || job.Files[1].Error == "" || job.Files[1].RecordID != "" {
		t.Fatalf("unexpected file states: %+v", job.Files)
	}
	if job.Files[1].ProcessedAt == nil {
		t.Fatal("processed_at not set on failed file")
	}
}

func TestApplyFileUpdateRejectsRegression(t *testing.T) {
	job := newTestJob("a.png")
	now := time.Now()
	if err := job.ApplyFileUpdate("a.png", FileUpdate{Status: StatusCompleted, RecordID: "r"}, now); err != nil {
		t.Fatalf("complete: %v", err)
	}

	err := job.ApplyFileUpdate("a.png", FileUpdate{Status: StatusFailed, Error: "late"}, now)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if job.ProcessedFiles != 1 || job.ErrorCount != 0 {
		t.Fatalf("counters moved on rejected update: %+v", job)
	}
}

func TestApplyFileUpdateUnknownFile(t *testing.T) {
	job := newTestJob("a.png")
	err := job.ApplyFileUpdate("missing", FileUpdate{Status: StatusProcessing}, time.Now())
	if !errors.Is(err, ErrUnknownFile) {
		t.Fatalf("expected ErrUnknownFile, got %v", err)
	}
}

func TestFinalize(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []Status
		want     Status
	}{
		{"zero files", nil, StatusCompleted},
		{"all succeed", []Status{StatusCompleted, StatusCompleted}, StatusCompleted},
		{"one fails", []Status{StatusCompleted, StatusFailed, StatusCompleted}, StatusCompleted},
		{"all fail", []Status{StatusFailed, StatusFailed}, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			names := make([]string, len(tt.outcomes))
			for i := range tt.outcomes {
				names[i] = string(rune('a'+i)) + ".png"
			}
			job := newTestJob(names...)
			if err := MarkProcessing(job); err != nil {
				t.Fatalf("MarkProcessing: %v", err)
			}
			for i, st := range tt.outcomes {
				upd := FileUpdate{Status: st, RecordID: "r", Error: "boom"}
				if st == StatusFailed {
					upd.RecordID = ""
				}
				if err := job.ApplyFileUpdate(names[i], upd, time.Now()); err != nil {
					t.Fatalf("ApplyFileUpdate: %v", err)
				}
			}
			if err := Finalize(job, time.Now()); err != nil {
				t.Fatalf("Finalize: %v", err)
			}
			if job.Status != tt.want {
				t.Fatalf("status = %s, want %s", job.Status, tt.want)
			}
			if job.CompletedAt == nil {
				t.Fatal("completed_at not set")
			}
			if len(job.Errors) != job.ErrorCount {
				t.Fatalf("errors %d != error_count %d", len(job.Errors), job.ErrorCount)
			}
			if err := Finalize(job, time.Now()); !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("second Finalize should fail, got %v", err)
			}
		})
	}
}

func TestMarkFailedAppendsSyntheticError(t *testing.T) {
	job := newTestJob("a.png")
	MarkFailed(job, errors.New("store unavailable"), time.Now())

	if job.Status != StatusFailed || job.CompletedAt == nil {
		t.Fatalf("unexpected job state: %+v", job)
	}
	if len(job.Errors) != 1 || job.Errors[0] != "Job failed: store unavailable" {
		t.Fatalf("unexpected errors: %#v", job.Errors)
	}

	first := *job.CompletedAt
	MarkFailed(job, errors.New("again"), time.Now().Add(time.Hour))
	if !job.CompletedAt.Equal(first) || len(job.Errors) != 1 {
		t.Fatal("MarkFailed on a terminal job must not change it")
	}
}

func TestCloneIsDeep(t *testing.T) {
	job := newTestJob("a.png")
	cp := job.Clone()
	cp.Files[0].Status = StatusFailed
	cp.Errors = append(cp.Errors, "x")
	if job.Files[0].Status != StatusPending || len(job.Errors) != 0 {
		t.Fatal("clone shares state with original")
	}
}
