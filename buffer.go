package imager

import (
	"context"

	"github.com/wippyai/imager/async"
	"github.com/wippyai/imager/resource"
)

// ImageBuffer wraps exactly one engine resource. It is immutable; Opt
// returns a new ImageBuffer and retires the receiver.
type ImageBuffer struct {
	owner *Imager
	res   resource.Resource
}

// Kind reports whether the buffer is raw or portable.
func (b *ImageBuffer) Kind() resource.Kind { return b.res.Kind() }

// Resource returns the wrapped handle.
func (b *ImageBuffer) Resource() resource.Resource { return b.res }

// Save writes the buffer to path, creating or overwriting the file.
func (b *ImageBuffer) Save(ctx context.Context, path string) *async.Future[struct{}] {
	return b.owner.client.Save(ctx, b.res, path)
}

// ToBuffer copies the encoded bytes out of the engine.
func (b *ImageBuffer) ToBuffer(ctx context.Context) *async.Future[[]byte] {
	return b.owner.client.ToBuffer(ctx, b.res)
}

// Opt optimizes the buffer. A nil args, an empty Size or Options without
// Size keep the original resolution. The receiver is consumed.
func (b *ImageBuffer) Opt(ctx context.Context, args Args) *async.Future[*ImageBuffer] {
	return async.Map(ctx, b.owner.client.Optimize(ctx, b.res, args), func(r resource.Resource) (*ImageBuffer, error) {
		return b.owner.wrap(r), nil
	})
}

// Release drops the buffer's engine memory.
func (b *ImageBuffer) Release() error {
	return b.owner.client.Release(b.res)
}
