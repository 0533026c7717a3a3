package status

import (
	"github.com/tendant/simple-ingestor/internal/process"
	"github.com/tendant/simple-ingestor/pkg/schema"
)

// Event types sent over a job's status stream.
const (
	EventSnapshot = "snapshot"
	EventProgress = "progress"
)

// Event is one message on a status stream. The first message of a stream is
// a snapshot of the full job; later messages carry progress deltas.
type Event struct {
	Type     string              `json:"type"`
	Job      *process.Job        `json:"job,omitempty"`
	Progress *schema.JobProgress `json:"progress,omitempty"`
}

// Final reports whether no further events will follow.
func (e Event) Final() bool {
	switch {
	case e.Job != nil:
		return e.Job.Status.Terminal()
	case e.Progress != nil:
		return process.Status(e.Progress.Status).Terminal()
	}
	return false
}
