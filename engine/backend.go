package engine

import (
	"context"
	"sync/atomic"

	"github.com/wippyai/imager/opt"
	"github.com/wippyai/imager/platform"
)

// Blob is an engine-owned byte vector holding encoded image data.
type Blob interface {
	Len() int
	Drop()
}

// Backend is the operation surface of one loaded engine module.
// Blobs passed in must have been produced by the same Backend.
type Backend interface {
	Version(ctx context.Context) (string, error)
	Open(ctx context.Context, path string) (Blob, error)
	FromBuffer(ctx context.Context, data []byte) (Blob, error)
	ToBuffer(ctx context.Context, b Blob) ([]byte, error)
	Save(ctx context.Context, b Blob, path string) error
	Optimize(ctx context.Context, b Blob, p opt.Params) (Blob, error)
	Close(ctx context.Context) error
}

// Loader loads the engine module for a resolved platform.
type Loader interface {
	Load(ctx context.Context, m platform.Module) (Backend, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, m platform.Module) (Backend, error)

func (f LoaderFunc) Load(ctx context.Context, m platform.Module) (Backend, error) {
	return f(ctx, m)
}

// HostBuffer is exchange-form image bytes held in Go memory.
type HostBuffer struct {
	data    []byte
	dropped atomic.Bool
}

// NewHostBuffer takes ownership of data.
func NewHostBuffer(data []byte) *HostBuffer {
	return &HostBuffer{data: data}
}

// Bytes returns the buffer contents. The slice must not be modified.
func (h *HostBuffer) Bytes() []byte { return h.data }

func (h *HostBuffer) Len() int { return len(h.data) }

func (h *HostBuffer) Drop() {
	if h.dropped.CompareAndSwap(false, true) {
		h.data = nil
	}
}
