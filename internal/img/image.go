// internal/img/image.go
package img

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/disintegration/imaging"
)

// ImagePreparer decodes an image, applies EXIF orientation and shrinks it to
// fit within MaxDim on both axes. It never upscales.
type ImagePreparer struct {
	MaxDim  int
	Quality int
}

func NewImagePreparer(maxDim int) *ImagePreparer {
	return &ImagePreparer{MaxDim: maxDim, Quality: 90}
}

func (p *ImagePreparer) Prepare(ctx context.Context, data []byte, mimeType string) (*Prepared, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	srcBounds := src.Bounds()
	out := src
	if p.MaxDim > 0 && (srcBounds.Dx() > p.MaxDim || srcBounds.Dy() > p.MaxDim) {
		out = imaging.Fit(src, p.MaxDim, p.MaxDim, imaging.Lanczos)
	}

	format, outMime := imaging.JPEG, "image/jpeg"
	if strings.EqualFold(mimeType, "image/png") {
		format, outMime = imaging.PNG, "image/png"
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, format, imaging.JPEGQuality(p.Quality)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	b := out.Bounds()
	return &Prepared{
		Data:         buf.Bytes(),
		MimeType:     outMime,
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceWidth:  srcBounds.Dx(),
		SourceHeight: srcBounds.Dy(),
	}, nil
}

func (p *ImagePreparer) Supports(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}

func (p *ImagePreparer) Name() string {
	return "image"
}
