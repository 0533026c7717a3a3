package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/tendant/simple-ingestor/internal/process"
	"github.com/tendant/simple-ingestor/internal/queue"
	"github.com/tendant/simple-ingestor/internal/source"
	"github.com/tendant/simple-ingestor/internal/store"
	"github.com/tendant/simple-ingestor/pkg/schema"
)

var ErrInvalidRequest = errors.New("invalid request")

// Stager writes uploaded bytes somewhere the orchestrator can fetch them.
type Stager interface {
	Put(jobID, fileID string, r io.Reader) (ref string, size int64, err error)
	RemoveJob(jobID string) error
}

// Waker is told when new work is queued.
type Waker interface {
	Notify()
}

// Upload is one file of a submission.
type Upload struct {
	FileName string
	MimeType string
	Reader   io.Reader
}

type SubmitRequest struct {
	OwnerID   string
	SubjectID string
	TopicID   string
	Priority  int
	Files     []Upload
}

func (r SubmitRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.OwnerID) == "" {
		problems = append(problems, "owner is required")
	}
	if strings.TrimSpace(r.SubjectID) == "" {
		problems = append(problems, "subject_id is required")
	}
	if err := queue.CheckPriority(r.Priority); err != nil {
		problems = append(problems, err.Error())
	}
	for i, f := range r.Files {
		if f.Reader == nil {
			problems = append(problems, fmt.Sprintf("file %d has no content", i))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(problems, "; "))
	}
	return nil
}

type Service struct {
	store  *store.JobStore
	queue  queue.Queue
	stager Stager
	waker  Waker
	logger *slog.Logger
}

// NewService wires the submission surface. stager may be nil when only
// content references are accepted; SetWaker attaches the worker pool.
func NewService(s *store.JobStore, q queue.Queue, stager Stager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, queue: q, stager: stager, logger: logger}
}

func (s *Service) SetWaker(w Waker) { s.waker = w }

// Submit stages the files, stores a pending job and queues it. The returned
// job is the pending snapshot; processing continues asynchronously.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*process.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Files) > 0 && s.stager == nil {
		return nil, errors.New("file uploads are not enabled")
	}

	jobID := uuid.NewString()
	inputs := make([]process.FileInput, 0, len(req.Files))
	for _, f := range req.Files {
		fileID := uuid.NewString()
		ref, size, err := s.stager.Put(jobID, fileID, f.Reader)
		if err != nil {
			_ = s.stager.RemoveJob(jobID)
			return nil, fmt.Errorf("stage %s: %w", f.FileName, err)
		}
		inputs = append(inputs, process.FileInput{
			ID:       fileID,
			FileName: f.FileName,
			MimeType: f.MimeType,
			Size:     size,
			Source:   ref,
		})
	}

	job, err := s.create(ctx, jobID, req.SubjectID, req.TopicID, req.OwnerID, req.Priority, inputs)
	if err != nil && s.stager != nil {
		_ = s.stager.RemoveJob(jobID)
	}
	return job, err
}

// SubmitContent queues a job whose files are objects in the content service.
func (s *Service) SubmitContent(ctx context.Context, req schema.SubmitContent) (*process.Job, error) {
	check := SubmitRequest{OwnerID: req.OwnerID, SubjectID: req.SubjectID, Priority: req.Priority}
	if err := check.Validate(); err != nil {
		return nil, err
	}
	inputs := make([]process.FileInput, 0, len(req.ContentIDs))
	for _, raw := range req.ContentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: content id %q", ErrInvalidRequest, raw)
		}
		inputs = append(inputs, process.FileInput{FileName: id.String(), Source: source.ContentRef(id)})
	}
	return s.create(ctx, "", req.SubjectID, req.TopicID, req.OwnerID, req.Priority, inputs)
}

func (s *Service) create(ctx context.Context, jobID, subjectID, topicID, ownerID string, priority int, inputs []process.FileInput) (*process.Job, error) {
	job := process.NewJob(jobID, subjectID, topicID, ownerID, inputs)
	job.Priority = priority
	if err := s.store.Set(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	snapshot := job.Clone()

	// A job that could not be queued stays pending and is picked up by Recover.
	if err := s.queue.EnqueueAt(ctx, job.ID, priority, job.CreatedAt); err != nil {
		s.logger.Error("enqueue job failed", "job_id", job.ID, "err", err)
		return snapshot, nil
	}
	s.logger.Info("job submitted", "job_id", job.ID, "user_id", ownerID, "files", job.TotalFiles, "priority", priority)
	if s.waker != nil {
		s.waker.Notify()
	}
	return snapshot, nil
}

// GetJob returns nil when the job does not exist or belongs to someone else.
// An empty owner skips the ownership check.
func (s *Service) GetJob(ctx context.Context, jobID, owner string) (*process.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil || job == nil {
		return nil, err
	}
	if owner != "" && job.UserID != owner {
		return nil, nil
	}
	return job, nil
}

// ListJobs returns the owner's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, owner string) ([]*process.Job, error) {
	return s.store.GetUserJobs(ctx, owner)
}

// DeleteJob removes the job and its staged files. Unknown ids and jobs of
// other owners are left alone without error.
func (s *Service) DeleteJob(ctx context.Context, jobID, owner string) error {
	job, err := s.GetJob(ctx, jobID, owner)
	if err != nil || job == nil {
		return err
	}
	if err := s.store.Delete(ctx, jobID); err != nil {
		return err
	}
	if s.stager != nil {
		if err := s.stager.RemoveJob(jobID); err != nil {
			s.logger.Warn("remove staged files failed", "job_id", jobID, "err", err)
		}
	}
	s.logger.Info("job deleted", "job_id", jobID)
	return nil
}

// Recover re-queues every job that has not reached a terminal state at its
// submission time, so jobs still waiting keep their place. Jobs a live worker
// is still running are skipped by the lease at dequeue time.
func (s *Service) Recover(ctx context.Context) (int, error) {
	jobs, err := s.store.Scan(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, job := range jobs {
		if job.Status.Terminal() {
			continue
		}
		if err := s.queue.EnqueueAt(ctx, job.ID, job.Priority, job.CreatedAt); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.logger.Info("re-queued unfinished jobs", "count", n)
		if s.waker != nil {
			s.waker.Notify()
		}
	}
	return n, nil
}
