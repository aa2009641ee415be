// Package thumbnail turns full-resolution photos into small square JPEG
// thumbnails.
package thumbnail

import (
	"bytes"
	"context"
	"image"

	"github.com/cockroachdb/errors"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultSize is the edge length of generated thumbnails in pixels.
	DefaultSize = 300
	// DefaultQuality is the JPEG quality of generated thumbnails.
	DefaultQuality = 80
)

// ErrUnsupported is returned for source bytes in no known image format.
var ErrUnsupported = errors.New("thumbnail: unsupported image format")

// JPEGGenerator crops the centre square of a photo, scales it to Size×Size
// and encodes it as JPEG.
type JPEGGenerator struct {
	size    int
	quality int
	filter  imaging.ResampleFilter
}

type Option func(*JPEGGenerator)

// WithSize sets the thumbnail edge length. Defaults to DefaultSize.
func WithSize(size int) Option {
	return func(g *JPEGGenerator) { g.size = size }
}

// WithQuality sets the JPEG quality in the range 1-100. Defaults to DefaultQuality.
func WithQuality(quality int) Option {
	return func(g *JPEGGenerator) { g.quality = quality }
}

// WithFilter sets the resampling filter. Defaults to Lanczos.
func WithFilter(filter imaging.ResampleFilter) Option {
	return func(g *JPEGGenerator) { g.filter = filter }
}

// NewJPEGGenerator returns a generator for DefaultSize thumbnails at DefaultQuality.
func NewJPEGGenerator(opts ...Option) *JPEGGenerator {
	g := &JPEGGenerator{size: DefaultSize, quality: DefaultQuality, filter: imaging.Lanczos}
	for _, opt := range opts {
		opt(g)
	}
	if g.size <= 0 {
		g.size = DefaultSize
	}
	if g.quality < 1 || g.quality > 100 {
		g.quality = DefaultQuality
	}
	return g
}

// Size returns the edge length of generated thumbnails.
func (g *JPEGGenerator) Size() int {
	return g.size
}

// Generate decodes source, honouring its EXIF orientation, and returns the
// encoded thumbnail.
func (g *JPEGGenerator) Generate(ctx context.Context, source []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := Decode(source)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	thumb := imaging.Fill(img, g.size, g.size, imaging.Center, g.filter)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(g.quality)); err != nil {
		return nil, errors.Wrap(err, "encode thumbnail")
	}
	return buf.Bytes(), nil
}

// Decode decodes JPEG, PNG, GIF, BMP, TIFF or WebP data, applying the EXIF
// orientation of JPEG sources.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(ErrUnsupported, "empty input")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, ErrUnsupported
		}
		return nil, errors.Wrap(err, "decode image")
	}
	return img, nil
}
