package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tendant/simple-ingestor/internal/process"
	"github.com/tendant/simple-ingestor/pkg/schema"
)

type contentSubmitter interface {
	SubmitContent(ctx context.Context, req schema.SubmitContent) (*process.Job, error)
}

// submitHandler turns a NATS SubmitContent request into a job and answers
// with JobAccepted.
func submitHandler(svc contentSubmitter, logger *slog.Logger) func(ctx context.Context, data []byte) any {
	return func(ctx context.Context, data []byte) any {
		now := time.Now().UnixMilli()

		var req schema.SubmitContent
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("bad submission payload", "err", err)
			return schema.JobAccepted{Error: "invalid payload: " + err.Error(), HappenedAt: now}
		}

		job, err := svc.SubmitContent(ctx, req)
		if err != nil {
			logger.Warn("content submission rejected", "user_id", req.OwnerID, "err", err)
			return schema.JobAccepted{Error: err.Error(), HappenedAt: now}
		}
		logger.Info("content submission accepted", "job_id", job.ID, "user_id", req.OwnerID, "files", job.TotalFiles)
		return schema.JobAccepted{JobID: job.ID, TotalFiles: job.TotalFiles, HappenedAt: now}
	}
}
