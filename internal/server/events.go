package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tendant/simple-ingestor/internal/status"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxClientMessage = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Identity comes from X-User-ID rather than cookies, so cross-origin
	// pages gain nothing by connecting.
	CheckOrigin: func(*http.Request) bool { return true },
}

// jobEvents streams a snapshot of the job followed by progress deltas until
// the job finishes, the client goes away or the server shuts down.
func (h *handler) jobEvents(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.requireOwner(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")

	// Subscribe before reading the snapshot so no delta falls in between.
	events, cancel := h.sub.Subscribe(id)
	defer cancel()

	job, err := h.jobs.GetJob(r.Context(), id, ownerID)
	if err != nil {
		h.logger.Error("load job for events", "job_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "job_id", id, "err", err)
		return
	}
	defer conn.Close()

	snapshot := status.Event{Type: status.EventSnapshot, Job: job}
	if err := writeEvent(conn, snapshot); err != nil {
		return
	}
	if snapshot.Final() {
		closeStream(conn, "job finished")
		return
	}
	since := job.LastUpdated.UnixMilli()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(maxClientMessage)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			closeStream(conn, "server shutting down")
			return
		case <-gone:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case p, ok := <-events:
			if !ok {
				closeStream(conn, "")
				return
			}
			if p.Timestamp < since {
				continue
			}
			evt := status.Event{Type: status.EventProgress, Progress: &p}
			if err := writeEvent(conn, evt); err != nil {
				h.logger.Debug("websocket write failed", "job_id", id, "err", err)
				return
			}
			if evt.Final() {
				closeStream(conn, "job finished")
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, evt status.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(evt)
}

func closeStream(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

var _ Subscriber = (*status.Hub)(nil)
