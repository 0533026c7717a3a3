// internal/source/content.go
package source

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	simplecontent "github.com/tendant/simple-content/pkg/simplecontent"
)

const ContentScheme = "content"

// ContentStore is the part of a content service the ingestor reads from.
type ContentStore interface {
	Download(ctx context.Context, id uuid.UUID) (io.ReadCloser, error)
	Metadata(ctx context.Context, id uuid.UUID) (fileName, mimeType string, err error)
}

// SimpleContent adapts a simple-content service to ContentStore.
type SimpleContent struct {
	svc simplecontent.Service
}

func NewSimpleContent(svc simplecontent.Service) *SimpleContent {
	return &SimpleContent{svc: svc}
}

func (c *SimpleContent) Download(ctx context.Context, id uuid.UUID) (io.ReadCloser, error) {
	return c.svc.DownloadContent(ctx, id)
}

func (c *SimpleContent) Metadata(ctx context.Context, id uuid.UUID) (string, string, error) {
	meta, err := c.svc.GetContentMetadata(ctx, id)
	if err != nil {
		return "", "", err
	}
	return meta.FileName, meta.MimeType, nil
}

// ContentSource fetches "content:<uuid>" references.
type ContentSource struct {
	store   ContentStore
	maxSize int64
}

// NewContentSource reads at most maxSize bytes per object; zero means no limit.
func NewContentSource(store ContentStore, maxSize int64) *ContentSource {
	return &ContentSource{store: store, maxSize: maxSize}
}

// ContentRef builds the reference for a content id.
func ContentRef(id uuid.UUID) string {
	return ContentScheme + ":" + id.String()
}

func (c *ContentSource) Fetch(ctx context.Context, ref string) (*Blob, error) {
	scheme, rest, ok := SplitRef(ref)
	if !ok || scheme != ContentScheme {
		return nil, fmt.Errorf("not a content reference: %q", ref)
	}
	id, err := uuid.Parse(rest)
	if err != nil {
		return nil, fmt.Errorf("content id: %w", err)
	}

	reader, err := c.store.Download(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("download content: %w", err)
	}
	defer reader.Close()

	var r io.Reader = reader
	if c.maxSize > 0 {
		r = io.LimitReader(reader, c.maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	if c.maxSize > 0 && int64(len(data)) > c.maxSize {
		return nil, fmt.Errorf("content %s exceeds %d bytes", id, c.maxSize)
	}

	blob := &Blob{Data: data, FileName: "downloaded"}
	if name, mimeType, err := c.store.Metadata(ctx, id); err == nil {
		if name != "" {
			blob.FileName = name
		}
		blob.MimeType = mimeType
	}
	return blob, nil
}
