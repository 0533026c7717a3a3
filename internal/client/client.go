// Package client talks to the ingestd HTTP API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tendant/simple-ingestor/internal/process"
	"github.com/tendant/simple-ingestor/internal/status"
)

const ownerHeader = "X-User-ID"

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

type envelope[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type Client struct {
	baseURL string
	owner   string
	http    *http.Client
}

// New creates a client acting as owner against the server at baseURL.
func New(baseURL, owner string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		owner:   owner,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// SubmitParams describes a batch of local files to upload.
type SubmitParams struct {
	SubjectID string
	TopicID   string
	Priority  int
	Paths     []string
}

// Submit streams the files as one multipart request and returns the pending
// job.
func (c *Client) Submit(ctx context.Context, p SubmitParams) (*process.Job, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(mw, p))
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/jobs", pr)
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var job *process.Job
	if err := c.do(req, &job); err != nil {
		return nil, err
	}
	return job, nil
}

func writeForm(mw *multipart.Writer, p SubmitParams) error {
	fields := map[string]string{"subject_id": p.SubjectID, "topic_id": p.TopicID}
	if p.Priority != 0 {
		fields["priority"] = strconv.Itoa(p.Priority)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	for _, path := range p.Paths {
		if err := writeFile(mw, path); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	name := filepath.Base(path)
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name)))
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

// Job returns the job, or nil when the server does not know it.
func (c *Client) Job(ctx context.Context, id string) (*process.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var job *process.Job
	err = c.do(req, &job)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	return job, err
}

// Jobs lists the owner's jobs, newest first.
func (c *Client) Jobs(ctx context.Context) ([]*process.Job, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/jobs", nil)
	if err != nil {
		return nil, err
	}
	var jobs []*process.Job
	if err := c.do(req, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Watch calls fn for every event on the job's status stream and returns nil
// once the server closes the stream normally.
func (c *Client) Watch(ctx context.Context, id string, fn func(status.Event) error) error {
	u, err := url.Parse(c.baseURL + "/api/v1/jobs/" + url.PathEscape(id) + "/events")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	header := http.Header{}
	header.Set(ownerHeader, c.owner)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var evt status.Event
		if err := conn.ReadJSON(&evt); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read event: %w", err)
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(ownerHeader, c.owner)
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	env := envelope[any]{Data: out}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var env envelope[string]
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		msg = env.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}
