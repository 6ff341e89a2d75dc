package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/imager/errors"
	"github.com/wippyai/imager/platform"
)

// Handle is the process-wide reference to the engine module.
// It resolves the platform and loads the module on first use, exactly once.
// A failed load is sticky: every later call returns the same error.
type Handle struct {
	loader  Loader
	resolve func() (platform.Module, error)
	eng     *Engine
	err     error
	opts    []Option
	once    sync.Once
	mu      sync.Mutex
	loaded  bool
	closed  bool
}

// HandleOption configures a Handle.
type HandleOption func(*Handle)

// WithEngineOptions passes options to the Engine built after loading.
func WithEngineOptions(opts ...Option) HandleOption {
	return func(h *Handle) {
		h.opts = append(h.opts, opts...)
	}
}

// NewHandle creates an unloaded handle backed by loader.
func NewHandle(loader Loader, opts ...HandleOption) *Handle {
	h := &Handle{
		loader:  loader,
		resolve: platform.Current,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Engine returns the loaded engine, loading it on first call.
func (h *Handle) Engine(ctx context.Context) (*Engine, error) {
	h.once.Do(func() {
		h.eng, h.err = h.load(ctx)
		h.mu.Lock()
		h.loaded = h.err == nil
		closed := h.closed
		h.mu.Unlock()
		if closed && h.eng != nil {
			_ = h.eng.Close(ctx)
		}
	})
	if h.err != nil {
		return nil, h.err
	}

	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, errors.NotInitialized(errors.PhaseLoad, "engine (closed)")
	}
	return h.eng, nil
}

func (h *Handle) load(ctx context.Context) (*Engine, error) {
	m, err := h.resolve()
	if err != nil {
		Logger().Error("engine platform resolution failed", zap.Error(err))
		return nil, err
	}
	if h.loader == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "engine loader")
	}

	Logger().Debug("loading engine module",
		zap.String("platform", m.Platform.String()),
		zap.String("module", m.Path))

	b, err := h.loader.Load(ctx, m)
	if err != nil {
		Logger().Error("engine module load failed", zap.String("module", m.Path), zap.Error(err))
		return nil, err
	}
	return New(b, h.opts...), nil
}

// Loaded reports whether a load has completed successfully.
func (h *Handle) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded && !h.closed
}

// Close releases the loaded engine, if any.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed || !h.loaded {
		h.closed = true
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.eng.Close(ctx)
}
