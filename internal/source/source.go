// Package source stages uploaded bytes and fetches them back by reference so
// job records only ever carry a short reference string per file.
package source

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("source not found")
	ErrUnknownScheme = errors.New("unknown source scheme")
)

// Blob is the fetched content of one file. FileName and MimeType are empty
// when the source has no metadata of its own.
type Blob struct {
	Data     []byte
	FileName string
	MimeType string
}

// Source fetches file content by reference.
type Source interface {
	Fetch(ctx context.Context, ref string) (*Blob, error)
}

// SplitRef splits "scheme:rest".
func SplitRef(ref string) (scheme, rest string, ok bool) {
	scheme, rest, ok = strings.Cut(ref, ":")
	if !ok || scheme == "" || rest == "" {
		return "", "", false
	}
	return scheme, rest, true
}

// Resolver dispatches a reference to the source registered for its scheme.
type Resolver struct {
	sources map[string]Source
}

func NewResolver() *Resolver {
	return &Resolver{sources: make(map[string]Source)}
}

// Register binds scheme to src. A nil src is ignored.
func (r *Resolver) Register(scheme string, src Source) *Resolver {
	if src != nil {
		r.sources[scheme] = src
	}
	return r
}

func (r *Resolver) Fetch(ctx context.Context, ref string) (*Blob, error) {
	scheme, _, ok := SplitRef(ref)
	if !ok {
		return nil, fmt.Errorf("malformed source reference %q", ref)
	}
	src, ok := r.sources[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScheme, scheme)
	}
	return src.Fetch(ctx, ref)
}
