// Package process holds the batch job state model: a Job and the FileStatus
// entries it tracks, plus the transitions the orchestrator is allowed to make.
package process

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a job or of one of its files.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownFile       = errors.New("unknown file")
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next keeps the status
// monotonic. Re-asserting processing is allowed so an interrupted item can be
// picked up again.
func (s Status) CanTransition(next Status) bool {
	if s.Terminal() || next.rank() < 0 || s.rank() < 0 {
		return false
	}
	if s == StatusProcessing && next == StatusProcessing {
		return true
	}
	return next.rank() > s.rank()
}

// FileStatus tracks one input file of a job.
type FileStatus struct {
	ID          string     `json:"id"`
	FileName    string     `json:"file_name"`
	MimeType    string     `json:"mime_type,omitempty"`
	Size        int64      `json:"size,omitempty"`
	Source      string     `json:"source,omitempty"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	RecordID    string     `json:"record_id,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Job is one batch upload spanning one or more files.
type Job struct {
	ID             string       `json:"id"`
	Status         Status       `json:"status"`
	TotalFiles     int          `json:"total_files"`
	ProcessedFiles int          `json:"processed_files"`
	SuccessCount   int          `json:"success_count"`
	ErrorCount     int          `json:"error_count"`
	Errors         []string     `json:"errors"`
	Files          []FileStatus `json:"files"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	SubjectID      string       `json:"subject_id"`
	TopicID        string       `json:"topic_id,omitempty"`
	UserID         string       `json:"user_id"`
	Priority       int          `json:"priority,omitempty"`
	LastUpdated    time.Time    `json:"last_updated"`
}

// FileInput describes a file at job creation time.
type FileInput struct {
	ID       string
	FileName string
	MimeType string
	Size     int64
	Source   string
}

// NewJob creates a pending job with one pending FileStatus per input.
// Inputs without an ID get a generated one.
func NewJob(id, subjectID, topicID, userID string, files []FileInput) *Job {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	statuses := make([]FileStatus, len(files))
	for i, f := range files {
		fileID := f.ID
		if fileID == "" {
			fileID = uuid.NewString()
		}
		statuses[i] = FileStatus{
			ID:       fileID,
			FileName: f.FileName,
			MimeType: f.MimeType,
			Size:     f.Size,
			Source:   f.Source,
			Status:   StatusPending,
		}
	}
	return &Job{
		ID:          id,
		Status:      StatusPending,
		TotalFiles:  len(statuses),
		Errors:      []string{},
		Files:       statuses,
		CreatedAt:   now,
		SubjectID:   subjectID,
		TopicID:     topicID,
		UserID:      userID,
		LastUpdated: now,
	}
}

// MarkProcessing moves a pending job to processing. Calling it on a job that
// is already processing is a no-op.
func MarkProcessing(j *Job) error {
	if j.Status == StatusProcessing {
		return nil
	}
	if !j.Status.CanTransition(StatusProcessing) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, j.ID, j.Status, StatusProcessing)
	}
	j.Status = StatusProcessing
	return nil
}

// Finalize sets the terminal status from the counters and stamps CompletedAt.
// A job fails only when every declared file failed; a job with no files
// completes.
func Finalize(j *Job, now time.Time) error {
	if j.Status.Terminal() {
		return fmt.Errorf("%w: job %s already %s", ErrInvalidTransition, j.ID, j.Status)
	}
	if j.TotalFiles > 0 && j.ErrorCount >= j.TotalFiles {
		j.Status = StatusFailed
	} else {
		j.Status = StatusCompleted
	}
	j.CompletedAt = &now
	return nil
}

// MarkFailed aborts the job with a synthetic error entry. It is used for
// job-level failures only; per-file failures are recorded through
// ApplyFileUpdate.
func MarkFailed(j *Job, err error, now time.Time) {
	if j.Status.Terminal() {
		return
	}
	j.Status = StatusFailed
	if err != nil {
		j.Errors = append(j.Errors, "Job failed: "+err.Error())
	}
	j.CompletedAt = &now
}

// FileUpdate is a partial update applied to one FileStatus.
type FileUpdate struct {
	Status   Status
	Error    string
	RecordID string
}

// FileIndex returns the position of the file with the given id, or -1.
func (j *Job) FileIndex(fileID string) int {
	for i := range j.Files {
		if j.Files[i].ID == fileID {
			return i
		}
	}
	return -1
}

// ApplyFileUpdate applies upd to the named file. When the file enters a
// terminal state the job counters move with it: success_count on completed,
// error_count plus an errors entry on failed, and processed_files either way.
func (j *Job) ApplyFileUpdate(fileID string, upd FileUpdate, now time.Time) error {
	idx := j.FileIndex(fileID)
	if idx < 0 {
		return fmt.Errorf("%w: %s in job %s", ErrUnknownFile, fileID, j.ID)
	}
	f := &j.Files[idx]
	if upd.Status == "" {
		upd.Status = f.Status
	}
	if upd.Status != f.Status && !f.Status.CanTransition(upd.Status) {
		return fmt.Errorf("%w: file %s %s -> %s", ErrInvalidTransition, fileID, f.Status, upd.Status)
	}
	if upd.Status == f.Status && f.Status.Terminal() {
		return fmt.Errorf("%w: file %s already %s", ErrInvalidTransition, fileID, f.Status)
	}
	if j.ProcessedFiles >= j.TotalFiles && upd.Status.Terminal() {
		return fmt.Errorf("%w: job %s has no unprocessed files", ErrInvalidTransition, j.ID)
	}

	f.Status = upd.Status
	switch upd.Status {
	case StatusCompleted:
		f.RecordID = upd.RecordID
		f.Error = ""
		f.ProcessedAt = &now
		j.SuccessCount++
		j.ProcessedFiles++
	case StatusFailed:
		msg := upd.Error
		if msg == "" {
			msg = "unknown error"
		}
		f.Error = msg
		f.RecordID = ""
		f.ProcessedAt = &now
		j.ErrorCount++
		j.ProcessedFiles++
		j.Errors = append(j.Errors, fmt.Sprintf("%s: %s", f.FileName, msg))
	}
	return nil
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Errors = append([]string(nil), j.Errors...)
	cp.Files = make([]FileStatus, len(j.Files))
	for i, f := range j.Files {
		if f.ProcessedAt != nil {
			t := *f.ProcessedAt
			f.ProcessedAt = &t
		}
		cp.Files[i] = f
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// CheckInvariants verifies the counter and lifecycle invariants of a job.
func CheckInvariants(j *Job) error {
	switch {
	case j.ProcessedFiles != j.SuccessCount+j.ErrorCount:
		return fmt.Errorf("processed_files %d != success %d + errors %d", j.ProcessedFiles, j.SuccessCount, j.ErrorCount)
	case j.ProcessedFiles > j.TotalFiles:
		return fmt.Errorf("processed_files %d > total_files %d", j.ProcessedFiles, j.TotalFiles)
	case len(j.Files) != j.TotalFiles:
		return fmt.Errorf("len(files) %d != total_files %d", len(j.Files), j.TotalFiles)
	case j.Status.Terminal() != (j.CompletedAt != nil):
		return fmt.Errorf("completed_at set=%t with status %s", j.CompletedAt != nil, j.Status)
	}
	for _, f := range j.Files {
		if f.RecordID != "" && f.Status != StatusCompleted {
			return fmt.Errorf("file %s has record_id with status %s", f.ID, f.Status)
		}
		if f.Error != "" && f.Status != StatusFailed {
			return fmt.Errorf("file %s has error with status %s", f.ID, f.Status)
		}
	}
	return nil
}
