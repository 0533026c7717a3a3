package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/tendant/simple-ingestor/internal/process"
	"github.com/tendant/simple-ingestor/pkg/schema"
)

const (
	DefaultPrefix = "ingest"
	DefaultTTL    = 24 * time.Hour
)

// Notifier receives a progress delta after every successful job write.
type Notifier interface {
	Publish(ctx context.Context, evt schema.JobProgress) error
}

// Options configures a JobStore.
type Options struct {
	Prefix   string
	TTL      time.Duration
	Notifier Notifier
	Logger   *slog.Logger
}

// JobStore keeps job records and the owner index in a KV backend. Writes are
// whole-value replacements; each write renews the expiry of both the job and
// its owner's index set.
type JobStore struct {
	kv       KV
	prefix   string
	ttl      time.Duration
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewJobStore builds a JobStore on kv.
func NewJobStore(kv KV, opts Options) *JobStore {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &JobStore{
		kv:       kv,
		prefix:   opts.Prefix,
		ttl:      opts.TTL,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// TTL returns the lifetime applied on every write.
func (s *JobStore) TTL() time.Duration { return s.ttl }

func (s *JobStore) jobKey(id string) string { return s.prefix + ":job:" + id }
func (s *JobStore) userKey(owner string) string { return s.prefix + ":user:" + owner + ":jobs" }
func (s *JobStore) leaseKey(id string) string { return s.prefix + ":lease:" + id }

// JobPattern matches every job key.
func (s *JobStore) JobPattern() string { return s.prefix + ":job:*" }

// IndexPattern matches every owner index key.
func (s *JobStore) IndexPattern() string { return s.prefix + ":user:*:jobs" }

// JobIDFromKey strips the job key prefix.
func (s *JobStore) JobIDFromKey(key string) string {
	return strings.TrimPrefix(key, s.prefix+":job:")
}

// Set stamps LastUpdated, stores the job with a fresh TTL, indexes it under
// its owner and publishes a progress delta. Publish failures are logged only.
func (s *JobStore) Set(ctx context.Context, job *process.Job) error {
	job.LastUpdated = s.now().UTC()
	b, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := s.kv.Set(ctx, s.jobKey(job.ID), b, s.ttl); err != nil {
		return fmt.Errorf("store job %s: %w", job.ID, err)
	}
	if job.UserID != "" {
		if err := s.kv.SAdd(ctx, s.userKey(job.UserID), job.ID, s.ttl); err != nil {
			return fmt.Errorf("index job %s: %w", job.ID, err)
		}
	}
	s.publish(ctx, job)
	return nil
}

func (s *JobStore) publish(ctx context.Context, job *process.Job) {
	if s.notifier == nil {
		return
	}
	evt := Progress(job)
	if err := s.notifier.Publish(ctx, evt); err != nil {
		s.logger.Warn("publish job progress failed", "job_id", job.ID, "status", job.Status, "err", err)
	}
}

// Progress builds the delta broadcast for job.
func Progress(job *process.Job) schema.JobProgress {
	return schema.JobProgress{
		JobID:          job.ID,
		Status:         string(job.Status),
		ProcessedFiles: job.ProcessedFiles,
		TotalFiles:     job.TotalFiles,
		SuccessCount:   job.SuccessCount,
		ErrorCount:     job.ErrorCount,
		Timestamp:      job.LastUpdated.UnixMilli(),
	}
}

// Get returns the job or nil when it does not exist or has expired.
func (s *JobStore) Get(ctx context.Context, id string) (*process.Job, error) {
	b, err := s.kv.Get(ctx, s.jobKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job process.Job
	if err := json.Unmarshal(b, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

// GetUserJobs returns the owner's surviving jobs, newest first. Index entries
// whose job has already expired are removed.
func (s *JobStore) GetUserJobs(ctx context.Context, owner string) ([]*process.Job, error) {
	ids, err := s.kv.SMembers(ctx, s.userKey(owner))
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", owner, err)
	}

	jobs := make([]*process.Job, 0, len(ids))
	var stale []string
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			stale = append(stale, id)
			continue
		}
		jobs = append(jobs, job)
	}

	if len(stale) > 0 {
		if err := s.kv.SRem(ctx, s.userKey(owner), stale...); err != nil {
			s.logger.Warn("prune expired index entries failed", "user_id", owner, "count", len(stale), "err", err)
		} else {
			s.logger.Debug("pruned expired index entries", "user_id", owner, "count", len(stale))
		}
	}

	slices.SortFunc(jobs, func(a, b *process.Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return jobs, nil
}

// Delete removes the job and its index entry. Deleting an unknown job is a
// no-op.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.kv.Delete(ctx, s.jobKey(id)); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	if job != nil && job.UserID != "" {
		if err := s.kv.SRem(ctx, s.userKey(job.UserID), id); err != nil {
			return fmt.Errorf("unindex job %s: %w", id, err)
		}
	}
	return nil
}

// UpdateFileStatus reads the job, applies upd to one file, and writes the
// whole job back. It returns nil when the job does not exist. The
// read-modify-write is only safe for the single writer holding the job lease.
func (s *JobStore) UpdateFileStatus(ctx context.Context, jobID, fileID string, upd process.FileUpdate) (*process.Job, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil || job == nil {
		return nil, err
	}
	if err := job.ApplyFileUpdate(fileID, upd, s.now().UTC()); err != nil {
		return nil, err
	}
	if err := s.Set(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Scan returns every live job. Used to rebuild the processing queue.
func (s *JobStore) Scan(ctx context.Context) ([]*process.Job, error) {
	keys, err := s.kv.Scan(ctx, s.JobPattern())
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	jobs := make([]*process.Job, 0, len(keys))
	for _, key := range keys {
		job, err := s.Get(ctx, s.JobIDFromKey(key))
		if err != nil {
			return nil, err
		}
		if job != nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}
