// Package orchestrator drives jobs from pending to a terminal state, one file
// at a time, and exposes the submission surface used by the HTTP and NATS
// front ends.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tendant/simple-ingestor/internal/extract"
	"github.com/tendant/simple-ingestor/internal/img"
	"github.com/tendant/simple-ingestor/internal/process"
	"github.com/tendant/simple-ingestor/internal/source"
	"github.com/tendant/simple-ingestor/internal/store"
)

const DefaultFileTimeout = 2 * time.Minute

// Preparer normalizes raw file bytes before extraction.
type Preparer interface {
	Prepare(ctx context.Context, data []byte, mimeType string) (*img.Prepared, error)
}

// Persister stores an extracted record and returns its id.
type Persister interface {
	Persist(ctx context.Context, rec extract.Record, ownerID string) (string, error)
}

// ContextLoader resolves the sub-categories a topic allows.
type ContextLoader interface {
	LoadContext(ctx context.Context, topicID string) ([]extract.SubCategory, error)
}

// Cleaner drops staged files once a job no longer needs them.
type Cleaner interface {
	RemoveJob(jobID string) error
}

// Deps are the collaborators of an Orchestrator. Preparer, Loader and
// Cleaner are optional.
type Deps struct {
	Store     *store.JobStore
	Source    source.Source
	Preparer  Preparer
	Extractor extract.Extractor
	Persister Persister
	Loader    ContextLoader
	Cleaner   Cleaner
	Logger    *slog.Logger
}

type Orchestrator struct {
	store       *store.JobStore
	source      source.Source
	preparer    Preparer
	extractor   extract.Extractor
	persister   Persister
	loader      ContextLoader
	cleaner     Cleaner
	logger      *slog.Logger
	fileTimeout time.Duration
	now         func() time.Time
}

func New(deps Deps, fileTimeout time.Duration) *Orchestrator {
	if fileTimeout <= 0 {
		fileTimeout = DefaultFileTimeout
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Orchestrator{
		store:       deps.Store,
		source:      deps.Source,
		preparer:    deps.Preparer,
		extractor:   deps.Extractor,
		persister:   deps.Persister,
		loader:      deps.Loader,
		cleaner:     deps.Cleaner,
		logger:      deps.Logger,
		fileTimeout: fileTimeout,
		now:         time.Now,
	}
}

// Run processes every unfinished file of jobID in order and finalizes the
// job. File failures are recorded on the job. A returned error means the job
// was marked failed, or ctx ended and the job was left processing for a
// later run to resume.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	logger := o.logger.With("job_id", jobID)

	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		// Nothing readable to mark failed; the queue will see it again on recovery.
		return fmt.Errorf("load job: %w", err)
	}
	if job == nil {
		logger.Info("job gone before processing")
		return nil
	}
	if job.Status.Terminal() {
		o.cleanup(logger, jobID)
		return nil
	}

	if err := process.MarkProcessing(job); err != nil {
		return o.fail(ctx, logger, job, err)
	}
	if err := o.store.Set(ctx, job); err != nil {
		return o.fail(ctx, logger, job, err)
	}
	logger.Info("processing job", "files", job.TotalFiles, "user_id", job.UserID)

	ec := o.loadContext(ctx, logger, job)

	for _, f := range job.Files {
		if f.Status.Terminal() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		updated, err := o.store.UpdateFileStatus(ctx, job.ID, f.ID, process.FileUpdate{Status: process.StatusProcessing})
		if err != nil {
			return o.fail(ctx, logger, job, err)
		}
		if updated == nil {
			logger.Info("job deleted during processing")
			return nil
		}
		job = updated

		recordID, ferr := o.processFile(ctx, job, f, ec)
		if ferr != nil && ctx.Err() != nil {
			// Shutdown, not a file failure: the file stays processing.
			return ctx.Err()
		}

		upd := process.FileUpdate{Status: process.StatusCompleted, RecordID: recordID}
		if ferr != nil {
			upd = process.FileUpdate{Status: process.StatusFailed, Error: ferr.Error()}
			logger.Warn("file failed", "file_id", f.ID, "file", f.FileName, "err", ferr)
		} else {
			logger.Debug("file completed", "file_id", f.ID, "file", f.FileName, "record_id", recordID)
		}

		updated, err = o.store.UpdateFileStatus(ctx, job.ID, f.ID, upd)
		if err != nil {
			return o.fail(ctx, logger, job, err)
		}
		if updated == nil {
			logger.Info("job deleted during processing")
			return nil
		}
		job = updated
	}

	if err := process.Finalize(job, o.now().UTC()); err != nil {
		return o.fail(ctx, logger, job, err)
	}
	if err := o.store.Set(ctx, job); err != nil {
		return o.fail(ctx, logger, job, err)
	}
	logger.Info("job finished", "status", job.Status, "success", job.SuccessCount, "errors", job.ErrorCount)
	o.cleanup(logger, job.ID)
	return nil
}

func (o *Orchestrator) loadContext(ctx context.Context, logger *slog.Logger, job *process.Job) extract.Context {
	ec := extract.Context{SubjectID: job.SubjectID, TopicID: job.TopicID}
	if o.loader == nil || job.TopicID == "" {
		return ec
	}
	allowed, err := o.loader.LoadContext(ctx, job.TopicID)
	if err != nil {
		logger.Warn("load context failed, continuing without sub-categories", "topic_id", job.TopicID, "err", err)
		return ec
	}
	ec.AllowedSubCategories = allowed
	return ec
}

// processFile runs fetch, prepare, extract, validate and persist for one
// file under the per-file timeout. Panics become errors.
func (o *Orchestrator) processFile(ctx context.Context, job *process.Job, f process.FileStatus, ec extract.Context) (recordID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	fctx, cancel := context.WithTimeout(ctx, o.fileTimeout)
	defer cancel()

	recordID, err = o.extractAndPersist(fctx, job, f, ec)
	if err != nil && errors.Is(fctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return "", fmt.Errorf("timed out after %s", o.fileTimeout)
	}
	return recordID, err
}

func (o *Orchestrator) extractAndPersist(ctx context.Context, job *process.Job, f process.FileStatus, ec extract.Context) (string, error) {
	blob, err := o.source.Fetch(ctx, f.Source)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	data, mimeType := blob.Data, f.MimeType
	if mimeType == "" {
		mimeType = blob.MimeType
	}
	if o.preparer != nil {
		prepared, err := o.preparer.Prepare(ctx, data, mimeType)
		if err != nil {
			return "", fmt.Errorf("prepare image: %w", err)
		}
		data, mimeType = prepared.Data, prepared.MimeType
	}

	res, err := o.extractor.Extract(ctx, data, mimeType, ec)
	if err != nil {
		return "", fmt.Errorf("extraction error: %w", err)
	}
	if !res.Success {
		msg := res.Message
		if msg == "" {
			msg = "extraction failed"
		}
		return "", errors.New(msg)
	}
	if res.Record == nil {
		return "", errors.New("extraction returned no record")
	}
	rec := *res.Record
	rec.Normalize(ec)
	if err := rec.Validate(ec.AllowedSubCategories); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}

	id, err := o.persister.Persist(ctx, rec, job.UserID)
	if err != nil {
		return "", fmt.Errorf("persistence failed: %w", err)
	}
	return id, nil
}

// fail marks the job failed with a "Job failed:" entry. The write uses a
// context detached from cancellation so a shutdown still records it. When
// ctx has already ended the store error is most likely that cancellation, or
// the lease is gone, so the job is left for a later run instead.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, job *process.Job, cause error) error {
	if err := ctx.Err(); err != nil {
		logger.Warn("job interrupted", "err", cause)
		return err
	}
	logger.Error("job failed", "err", cause)
	process.MarkFailed(job, cause, o.now().UTC())

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.store.Set(wctx, job); err != nil {
		logger.Error("persist failed job", "err", err)
	} else {
		o.cleanup(logger, job.ID)
	}
	return fmt.Errorf("job %s failed: %w", job.ID, cause)
}

func (o *Orchestrator) cleanup(logger *slog.Logger, jobID string) {
	if o.cleaner == nil {
		return
	}
	if err := o.cleaner.RemoveJob(jobID); err != nil {
		logger.Warn("remove staged files failed", "err", err)
	}
}
