package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/tendant/simple-ingestor/internal/orchestrator"
	"github.com/tendant/simple-ingestor/internal/process"
	"github.com/tendant/simple-ingestor/pkg/schema"
)

// DefaultMaxUpload caps the multipart body of one submission.
const DefaultMaxUpload = 64 << 20

// OwnerHeader carries the caller's identity. Authentication happens upstream.
const OwnerHeader = "X-User-ID"

// JobService is the submission surface the handlers call.
type JobService interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (*process.Job, error)
	GetJob(ctx context.Context, jobID, owner string) (*process.Job, error)
	ListJobs(ctx context.Context, owner string) ([]*process.Job, error)
	DeleteJob(ctx context.Context, jobID, owner string) error
}

// Subscriber hands out progress streams for a job.
type Subscriber interface {
	Subscribe(jobID string) (<-chan schema.JobProgress, func())
}

type handler struct {
	jobs      JobService
	sub       Subscriber
	maxUpload int64
	logger    *slog.Logger
}

// owner reads the caller id from the header, or from the user_id query
// parameter for browser WebSocket clients that cannot set headers.
func owner(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(OwnerHeader)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

func (h *handler) requireOwner(w http.ResponseWriter, r *http.Request) (string, bool) {
	o := owner(r)
	if o == "" {
		writeError(w, http.StatusUnauthorized, OwnerHeader+" header is required")
		return "", false
	}
	return o, true
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) submitJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req := orchestrator.SubmitRequest{
		OwnerID:   ownerID,
		SubjectID: r.FormValue("subject_id"),
		TopicID:   r.FormValue("topic_id"),
	}
	if v := r.FormValue("priority"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "priority must be an integer")
			return
		}
		req.Priority = p
	}

	headers := r.MultipartForm.File["files"]
	files := make([]io.Closer, 0, len(headers))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "read upload "+fh.Filename)
			return
		}
		files = append(files, f)
		req.Files = append(req.Files, orchestrator.Upload{
			FileName: fh.Filename,
			MimeType: uploadMime(fh),
			Reader:   f,
		})
	}

	job, err := h.jobs.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("submit job", "user_id", ownerID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func uploadMime(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	jobs, err := h.jobs.ListJobs(r.Context(), ownerID)
	if err != nil {
		h.logger.Error("list jobs", "user_id", ownerID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*process.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	job, err := h.jobs.GetJob(r.Context(), id, ownerID)
	if err != nil {
		h.logger.Error("get job", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handler) deleteJob(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := h.jobs.DeleteJob(r.Context(), id, ownerID); err != nil {
		h.logger.Error("delete job", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
