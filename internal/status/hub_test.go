package status

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-ingestor/internal/process"
	"github.com/tendant/simple-ingestor/pkg/schema"
)

func quietHub(buffer int) *Hub {
	return NewHub(buffer, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_DeliversOnlyToSubscribedJob(t *testing.T) {
	h := quietHub(4)
	a, cancelA := h.Subscribe("job-a")
	defer cancelA()
	b, cancelB := h.Subscribe("job-b")
	defer cancelB()

	require.NoError(t, h.Publish(context.Background(), schema.JobProgress{JobID: "job-a", ProcessedFiles: 1}))

	select {
	case evt := <-a:
		assert.Equal(t, 1, evt.ProcessedFiles)
	default:
		t.Fatal("expected event for job-a")
	}
	select {
	case evt := <-b:
		t.Fatalf("unexpected event for job-b: %+v", evt)
	default:
	}
}

func TestHub_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	h := quietHub(1)
	ch, cancel := h.Subscribe("job")
	defer cancel()

	for i := 1; i <= 3; i++ {
		require.NoError(t, h.Publish(context.Background(), schema.JobProgress{JobID: "job", ProcessedFiles: i}))
	}
	evt := <-ch
	assert.Equal(t, 1, evt.ProcessedFiles)
	select {
	case extra := <-ch:
		t.Fatalf("buffer should have held one event, got extra %+v", extra)
	default:
	}
}

func TestHub_CancelClosesAndUnregisters(t *testing.T) {
	h := quietHub(1)
	ch, cancel := h.Subscribe("job")
	assert.Equal(t, 1, h.Subscribers("job"))

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, h.Subscribers("job"))
	assert.NoError(t, h.Publish(context.Background(), schema.JobProgress{JobID: "job"}))
}

func TestEvent_Final(t *testing.T) {
	running := &process.Job{Status: process.StatusProcessing}
	done := &process.Job{Status: process.StatusFailed}

	assert.False(t, Event{Type: EventSnapshot, Job: running}.Final())
	assert.True(t, Event{Type: EventSnapshot, Job: done}.Final())
	assert.False(t, Event{Type: EventProgress, Progress: &schema.JobProgress{Status: "processing"}}.Final())
	assert.True(t, Event{Type: EventProgress, Progress: &schema.JobProgress{Status: "completed"}}.Final())
	assert.False(t, Event{}.Final())
}
