package img

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultMaxDim bounds the longer edge of an image handed to extraction.
const DefaultMaxDim = 2048

var ErrUnsupported = errors.New("unsupported file type")

// Prepared is an image ready for extraction.
type Prepared struct {
	Data         []byte
	MimeType     string
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

// Preparer turns uploaded bytes of one family of MIME types into an image
// the extractor can consume.
type Preparer interface {
	Prepare(ctx context.Context, data []byte, mimeType string) (*Prepared, error)

	// Supports returns true if this preparer can handle the given MIME type
	Supports(mimeType string) bool

	// Name returns the preparer name for logging
	Name() string
}

// Options configures the preparers returned by Router.
type Options struct {
	MaxDim int
	DPI    int
}

// Router picks a preparer by MIME type:
//   - Images: imaging library
//   - PDFs: first page through Poppler
type Router struct {
	image *ImagePreparer
	pdf   *PDFPreparer
}

func NewRouter(opts Options) *Router {
	if opts.MaxDim <= 0 {
		opts.MaxDim = DefaultMaxDim
	}
	return &Router{
		image: NewImagePreparer(opts.MaxDim),
		pdf:   NewPDFPreparer(opts.MaxDim, opts.DPI),
	}
}

// Get returns the preparer for mimeType.
func (r *Router) Get(mimeType string) (Preparer, error) {
	mimeType = strings.ToLower(mimeType)

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return r.image, nil
	case mimeType == "application/pdf":
		return r.pdf, nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: image/*, application/pdf)", ErrUnsupported, mimeType)
	}
}

// Prepare routes data to the matching preparer. An empty or generic declared
// type is replaced by the sniffed one.
func (r *Router) Prepare(ctx context.Context, data []byte, mimeType string) (*Prepared, error) {
	mimeType = ResolveMime(mimeType, data)
	p, err := r.Get(mimeType)
	if err != nil {
		return nil, err
	}
	return p.Prepare(ctx, data, mimeType)
}

// SupportedMimeTypes returns a list of all MIME types that can be prepared
func SupportedMimeTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/bmp",
		"image/tiff",
		"application/pdf",
	}
}

// DetectMime sniffs the content type of data.
func DetectMime(data []byte) string {
	// http.DetectContentType doesn't detect PDFs well, check magic bytes
	if len(data) >= 4 && string(data[:4]) == "%PDF" {
		return "application/pdf"
	}
	ct := http.DetectContentType(data)
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return ct
}

// ResolveMime keeps a specific declared type and sniffs otherwise.
func ResolveMime(declared string, data []byte) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if i := strings.IndexByte(declared, ';'); i >= 0 {
		declared = strings.TrimSpace(declared[:i])
	}
	if declared == "" || declared == "application/octet-stream" {
		return DetectMime(data)
	}
	return declared
}
