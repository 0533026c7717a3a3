// internal/bus/nats.go
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tendant/simple-ingestor/pkg/schema"
)

const handlerTimeout = 30 * time.Second

type Client struct{ nc *nats.Conn }

func Connect(url string, name string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) Conn() *nats.Conn { return c.nc }

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.nc.Publish(subject, b)
}

func (c *Client) SubscribeJSON(subject string, handler func(ctx context.Context, data []byte)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		handler(ctx, msg.Data)
	})
}

// QueueSubscribeJSON is SubscribeJSON with load balancing across every
// subscriber sharing queue. A handler may answer by returning a non-nil
// reply, which is sent when the message carries a reply subject.
func (c *Client) QueueSubscribeJSON(subject, queue string, handler func(ctx context.Context, data []byte) any) (*nats.Subscription, error) {
	return c.nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		reply := handler(ctx, msg.Data)
		if reply == nil || msg.Reply == "" {
			return
		}
		b, err := json.Marshal(reply)
		if err != nil {
			return
		}
		_ = msg.Respond(b)
	})
}

// RequestJSON sends v and decodes the reply into out.
func (c *Client) RequestJSON(ctx context.Context, subject string, v, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	msg, err := c.nc.RequestWithContext(ctx, subject, b)
	if err != nil {
		return err
	}
	return json.Unmarshal(msg.Data, out)
}

// ProgressSubject is the subject a job's progress deltas are published on.
func ProgressSubject(prefix, jobID string) string {
	return prefix + "." + jobID
}

// JobIDFromSubject reverses ProgressSubject.
func JobIDFromSubject(prefix, subject string) (string, bool) {
	id, ok := strings.CutPrefix(subject, prefix+".")
	if !ok || id == "" || strings.Contains(id, ".") {
		return "", false
	}
	return id, true
}

// ProgressPublisher sends every job write to NATS so other instances can
// forward it to their own WebSocket subscribers.
type ProgressPublisher struct {
	client *Client
	prefix string
}

func NewProgressPublisher(c *Client, prefix string) *ProgressPublisher {
	return &ProgressPublisher{client: c, prefix: prefix}
}

func (p *ProgressPublisher) Publish(_ context.Context, evt schema.JobProgress) error {
	if evt.JobID == "" {
		return errors.New("progress event without job id")
	}
	if err := p.client.PublishJSON(ProgressSubject(p.prefix, evt.JobID), evt); err != nil {
		return fmt.Errorf("publish progress %s: %w", evt.JobID, err)
	}
	return nil
}

// Sink receives relayed progress events.
type Sink interface {
	Publish(ctx context.Context, evt schema.JobProgress) error
}

// RelayProgress subscribes to every job's progress subject and hands each
// event to sink.
func (c *Client) RelayProgress(prefix string, sink Sink, logger *slog.Logger) (*nats.Subscription, error) {
	return c.SubscribeJSON(prefix+".>", func(ctx context.Context, data []byte) {
		var evt schema.JobProgress
		if err := json.Unmarshal(data, &evt); err != nil {
			logger.Warn("bad progress payload", "err", err)
			return
		}
		if err := sink.Publish(ctx, evt); err != nil {
			logger.Warn("relay progress failed", "job_id", evt.JobID, "err", err)
		}
	})
}
