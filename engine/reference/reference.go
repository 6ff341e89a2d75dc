// Package reference implements the engine operation surface in pure Go.
//
// It stands in for the prebuilt module in tests and on hosts without one.
// It decodes any format the standard and x/image decoders know, downscales
// with Lanczos only when the source exceeds the target box, and encodes JPEG
// at a fixed quality.
package reference

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sync/atomic"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/wippyai/imager/engine"
	"github.com/wippyai/imager/opt"
	"github.com/wippyai/imager/platform"
)

// Version is reported by the reference engine.
const Version = "reference-1"

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 82

// Loader yields a reference Backend for any platform.
type Loader struct {
	Quality int
}

// Load implements engine.Loader.
func (l Loader) Load(_ context.Context, m platform.Module) (engine.Backend, error) {
	engine.Logger().Debug("using reference engine", zap.String("platform", m.Platform.String()))
	return New(l.Quality), nil
}

// Backend is a pure Go engine.
type Backend struct {
	quality int
	closed  atomic.Bool
}

// New creates a Backend encoding at quality (1-100).
func New(quality int) *Backend {
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	return &Backend{quality: quality}
}

type blob struct {
	data []byte
}

func (b *blob) Len() int { return len(b.data) }
func (b *blob) Drop()    { b.data = nil }

func (b *Backend) check() error {
	if b.closed.Load() {
		return fmt.Errorf("reference engine closed")
	}
	return nil
}

func unwrap(v engine.Blob) (*blob, error) {
	rb, ok := v.(*blob)
	if !ok {
		return nil, fmt.Errorf("blob %T was not produced by the reference engine", v)
	}
	return rb, nil
}

func (b *Backend) Version(context.Context) (string, error) {
	return Version, b.check()
}

func (b *Backend) Open(_ context.Context, path string) (engine.Blob, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := decodable(data); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &blob{data: data}, nil
}

func (b *Backend) FromBuffer(_ context.Context, data []byte) (engine.Blob, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	if err := decodable(data); err != nil {
		return nil, err
	}
	return &blob{data: append([]byte(nil), data...)}, nil
}

// decodable checks the header only; pixels are decoded by Optimize.
func decodable(data []byte) error {
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (b *Backend) ToBuffer(_ context.Context, v engine.Blob) ([]byte, error) {
	rb, err := unwrap(v)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), rb.data...), nil
}

func (b *Backend) Save(_ context.Context, v engine.Blob, path string) error {
	rb, err := unwrap(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, rb.data, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func (b *Backend) Optimize(_ context.Context, v engine.Blob, p opt.Params) (engine.Blob, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	rb, err := unwrap(v)
	if err != nil {
		return nil, err
	}
	out, err := Optimize(rb.data, p, b.quality)
	if err != nil {
		return nil, err
	}
	return &blob{data: out}, nil
}

func (b *Backend) Close(context.Context) error {
	b.closed.Store(true)
	return nil
}

// Optimize decodes src, fits it into the requested box and re-encodes it
// as JPEG. Full keeps the source resolution.
func Optimize(src []byte, p opt.Params, quality int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	box, resize, err := opt.ParseResolution(p.Size)
	if err != nil {
		return nil, err
	}
	if resize && (box.Width == 0 || box.Height == 0) {
		return nil, fmt.Errorf("resolution %s: empty box", box)
	}
	if resize && exceeds(img.Bounds(), box) {
		img = imaging.Fit(img, box.Width, box.Height, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}

	// an untouched JPEG is never made larger
	if !resize && format == "jpeg" && buf.Len() >= len(src) {
		return append([]byte(nil), src...), nil
	}
	return buf.Bytes(), nil
}

func exceeds(b image.Rectangle, box opt.Resolution) bool {
	return b.Dx() > box.Width || b.Dy() > box.Height
}
