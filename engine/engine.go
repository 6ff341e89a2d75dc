package engine

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wippyai/imager/errors"
	"github.com/wippyai/imager/opt"
)

// Engine is the full operation table over one loaded Backend.
//
// Raw blobs live in the backend. Portable blobs are HostBuffers; they are
// imported into the backend on demand and exported back after optimizing.
type Engine struct {
	backend Backend
	cache   *Cache
	log     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache memoizes optimize results for up to entries inputs.
func WithCache(entries int) Option {
	return func(e *Engine) {
		if entries > 0 {
			e.cache = NewCache(entries)
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// New wraps a loaded backend.
func New(b Backend, opts ...Option) *Engine {
	e := &Engine{backend: b, log: Logger()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Backend returns the wrapped backend.
func (e *Engine) Backend() Backend { return e.backend }

// Cache returns the optimize cache, or nil when disabled.
func (e *Engine) Cache() *Cache { return e.cache }

func (e *Engine) Version(ctx context.Context) (string, error) {
	v, err := e.backend.Version(ctx)
	if err != nil {
		return "", errors.Native("version", err)
	}
	return v, nil
}

// OpenRaw reads the file at path into the engine.
func (e *Engine) OpenRaw(ctx context.Context, path string) (Blob, error) {
	b, err := e.backend.Open(ctx, path)
	if err != nil {
		return nil, errors.Native("open", err)
	}
	return b, nil
}

// OpenPortable reads the file at path into exchange form. The bytes are
// handed to the backend once so that input the engine rejects fails here,
// as it does for OpenRaw.
func (e *Engine) OpenPortable(ctx context.Context, path string) (Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.PhaseIO, errors.KindNotFound).
			Op("open_portable").
			Value(path).
			Cause(err).
			Build()
	}
	check, err := e.backend.FromBuffer(ctx, data)
	if err != nil {
		return nil, errors.Native("open_portable", err)
	}
	check.Drop()
	return NewHostBuffer(data), nil
}

// FromBuffer copies data into a new raw blob.
func (e *Engine) FromBuffer(ctx context.Context, data []byte) (Blob, error) {
	b, err := e.backend.FromBuffer(ctx, data)
	if err != nil {
		return nil, errors.Native("from_buffer", err)
	}
	return b, nil
}

// ToBuffer copies the bytes of b into a fresh caller-owned slice.
func (e *Engine) ToBuffer(ctx context.Context, b Blob) ([]byte, error) {
	if hb, ok := b.(*HostBuffer); ok {
		return append([]byte(nil), hb.Bytes()...), nil
	}
	out, err := e.backend.ToBuffer(ctx, b)
	if err != nil {
		return nil, errors.Native("to_buffer", err)
	}
	return out, nil
}

// Save writes the bytes of b to path.
func (e *Engine) Save(ctx context.Context, b Blob, path string) error {
	if hb, ok := b.(*HostBuffer); ok {
		if err := os.WriteFile(path, hb.Bytes(), 0o644); err != nil {
			return errors.New(errors.PhaseIO, errors.KindEngineFailure).
				Op("save").
				Value(path).
				Cause(err).
				Build()
		}
		return nil
	}
	if err := e.backend.Save(ctx, b, path); err != nil {
		return errors.Native("save", err)
	}
	return nil
}

// Optimize produces a new blob of the same form as b. b is left intact;
// the caller decides when to drop it.
func (e *Engine) Optimize(ctx context.Context, b Blob, p opt.Params) (Blob, error) {
	if hb, ok := b.(*HostBuffer); ok {
		out, err := e.optimizeBytes(ctx, hb.Bytes(), p)
		if err != nil {
			return nil, err
		}
		return NewHostBuffer(out), nil
	}

	if e.cache == nil {
		out, err := e.backend.Optimize(ctx, b, p)
		if err != nil {
			return nil, errors.Native("optimize", err)
		}
		return out, nil
	}

	in, err := e.backend.ToBuffer(ctx, b)
	if err != nil {
		return nil, errors.Native("optimize", err)
	}
	key := CacheKey(in, p)
	if cached, ok := e.cache.Get(key); ok {
		e.log.Debug("optimize cache hit", zap.Uint64("key", key), zap.String("params", p.String()))
		out, err := e.backend.FromBuffer(ctx, cached)
		if err != nil {
			return nil, errors.Native("optimize", err)
		}
		return out, nil
	}

	out, err := e.backend.Optimize(ctx, b, p)
	if err != nil {
		return nil, errors.Native("optimize", err)
	}
	if data, err := e.backend.ToBuffer(ctx, out); err == nil {
		e.cache.Put(key, data)
	}
	return out, nil
}

// optimizeBytes runs one optimize over host bytes through the backend.
func (e *Engine) optimizeBytes(ctx context.Context, data []byte, p opt.Params) ([]byte, error) {
	var key uint64
	if e.cache != nil {
		key = CacheKey(data, p)
		if cached, ok := e.cache.Get(key); ok {
			e.log.Debug("optimize cache hit", zap.Uint64("key", key), zap.String("params", p.String()))
			return append([]byte(nil), cached...), nil
		}
	}

	in, err := e.backend.FromBuffer(ctx, data)
	if err != nil {
		return nil, errors.Native("optimize", fmt.Errorf("import portable: %w", err))
	}
	defer in.Drop()

	out, err := e.backend.Optimize(ctx, in, p)
	if err != nil {
		return nil, errors.Native("optimize", err)
	}
	defer out.Drop()

	result, err := e.backend.ToBuffer(ctx, out)
	if err != nil {
		return nil, errors.Native("optimize", fmt.Errorf("export portable: %w", err))
	}
	if e.cache != nil {
		e.cache.Put(key, result)
	}
	return result, nil
}

// Close releases the backend.
func (e *Engine) Close(ctx context.Context) error {
	return e.backend.Close(ctx)
}
