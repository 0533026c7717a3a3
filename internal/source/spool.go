package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const SpoolScheme = "spool"

// Spool keeps uploaded files on local disk under dir/<jobID>/<fileID>.
type Spool struct {
	dir string
}

func NewSpool(dir string) (*Spool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir spool: %w", err)
	}
	return &Spool{dir: dir}, nil
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\:`)
}

// Put stores r and returns its reference and size.
func (s *Spool) Put(jobID, fileID string, r io.Reader) (string, int64, error) {
	if !validID(jobID) || !validID(fileID) {
		return "", 0, fmt.Errorf("invalid spool key %q/%q", jobID, fileID)
	}
	dir := filepath.Join(s.dir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+fileID+"-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("copy to spool: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, fileID)); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("rename: %w", err)
	}
	return SpoolScheme + ":" + jobID + "/" + fileID, n, nil
}

func (s *Spool) Fetch(ctx context.Context, ref string) (*Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scheme, rest, ok := SplitRef(ref)
	if !ok || scheme != SpoolScheme {
		return nil, fmt.Errorf("not a spool reference: %q", ref)
	}
	jobID, fileID, ok := strings.Cut(rest, "/")
	if !ok || !validID(jobID) || !validID(fileID) {
		return nil, fmt.Errorf("malformed spool reference %q", ref)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, jobID, fileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return nil, fmt.Errorf("read spool: %w", err)
	}
	return &Blob{Data: data}, nil
}

// RemoveJob deletes every staged file of jobID. Unknown jobs are a no-op.
func (s *Spool) RemoveJob(jobID string) error {
	if !validID(jobID) {
		return nil
	}
	if err := os.RemoveAll(filepath.Join(s.dir, jobID)); err != nil {
		return fmt.Errorf("remove spool %s: %w", jobID, err)
	}
	return nil
}
