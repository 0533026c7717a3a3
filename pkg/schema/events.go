// pkg/schema/events.go
package schema

// JobProgress is the compact delta broadcast whenever a job record is written.
type JobProgress struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	ProcessedFiles int    `json:"processed_files"`
	TotalFiles     int    `json:"total_files"`
	SuccessCount   int    `json:"success_count"`
	ErrorCount     int    `json:"error_count"`
	Timestamp      int64  `json:"timestamp"`
}

// SubmitContent asks a worker to create a job from content that already
// lives in the content service.
type SubmitContent struct {
	ContentIDs []string `json:"content_ids"`
	SubjectID  string   `json:"subject_id"`
	TopicID    string   `json:"topic_id,omitempty"`
	OwnerID    string   `json:"owner_id"`
	Priority   int      `json:"priority,omitempty"`
	HappenedAt int64    `json:"happened_at"`
}

// JobAccepted is the reply to a SubmitContent request.
type JobAccepted struct {
	JobID      string `json:"job_id,omitempty"`
	TotalFiles int    `json:"total_files"`
	Error      string `json:"error,omitempty"`
	HappenedAt int64  `json:"happened_at"`
}
