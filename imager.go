package imager

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/wippyai/imager/async"
	"github.com/wippyai/imager/config"
	"github.com/wippyai/imager/engine"
	"github.com/wippyai/imager/engine/reference"
	"github.com/wippyai/imager/opt"
	"github.com/wippyai/imager/resource"
	"github.com/wippyai/imager/sys"
)

// Optimization argument forms.
type (
	Args    = opt.Args
	Size    = opt.Size
	Options = opt.Options
	Format  = opt.Format
)

const (
	// Full keeps the source resolution.
	Full = opt.Full
	// JPEG is the only output format.
	JPEG = opt.JPEG
)

// Imager owns one engine handle and the forwarder over it.
type Imager struct {
	client *sys.Client
	cfg    *config.Config
	log    *zap.Logger
}

type options struct {
	loader engine.Loader
	log    *zap.Logger
	cfg    *config.Config
}

// Option configures New.
type Option func(*options)

// WithLoader overrides the loader chosen from configuration.
func WithLoader(l engine.Loader) Option {
	return func(o *options) { o.loader = l }
}

// WithLogger sets the logger used by every layer.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithConfig replaces the default configuration.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) { o.cfg = cfg }
}

// New creates an Imager. The engine is not loaded until the first operation.
func New(opts ...Option) (*Imager, error) {
	o := options{}
	for _, fn := range opts {
		fn(&o)
	}
	if o.cfg == nil {
		d := config.Defaults()
		o.cfg = &d
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.log == nil {
		o.log = engine.Logger()
	}
	if o.loader == nil {
		o.loader = LoaderFor(o.cfg)
	}

	handle := engine.NewHandle(o.loader, engine.WithEngineOptions(
		engine.WithCache(o.cfg.Engine.CacheEntries),
		engine.WithLogger(o.log),
	))
	client := sys.New(handle,
		sys.WithLogger(o.log),
		sys.WithWorkers(o.cfg.Engine.Workers),
		sys.WithCallTimeout(o.cfg.Engine.CallTimeout),
	)

	return &Imager{client: client, cfg: o.cfg, log: o.log}, nil
}

// LoaderFor returns the loader selected by cfg.Engine.Runtime.
func LoaderFor(cfg *config.Config) engine.Loader {
	switch cfg.Engine.Runtime {
	case config.RuntimeWASM:
		path := cfg.Engine.WASMModule
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Engine.Root, path)
		}
		return engine.WASMLoader{Path: path, MemoryLimitPages: cfg.Engine.MemoryLimitPages}
	case config.RuntimeReference:
		return reference.Loader{Quality: cfg.Reference.Quality}
	default:
		return engine.NativeLoader{Root: cfg.Engine.Root}
	}
}

// Client returns the low-level forwarder.
func (m *Imager) Client() *sys.Client { return m.client }

func (m *Imager) wrap(r resource.Resource) *ImageBuffer {
	return &ImageBuffer{owner: m, res: r}
}

// Open reads the image at path into a raw buffer.
func (m *Imager) Open(ctx context.Context, path string) *async.Future[*ImageBuffer] {
	return async.Map(ctx, m.client.Open(ctx, path), func(r resource.Raw) (*ImageBuffer, error) {
		return m.wrap(r), nil
	})
}

// OpenPortable reads the image at path into a portable buffer.
func (m *Imager) OpenPortable(ctx context.Context, path string) *async.Future[*ImageBuffer] {
	return async.Map(ctx, m.client.OpenPortable(ctx, path), func(r resource.Portable) (*ImageBuffer, error) {
		return m.wrap(r), nil
	})
}

// FromBuffer copies data into a new buffer.
func (m *Imager) FromBuffer(ctx context.Context, data []byte) *async.Future[*ImageBuffer] {
	return async.Map(ctx, m.client.FromBuffer(ctx, data), func(r resource.Raw) (*ImageBuffer, error) {
		return m.wrap(r), nil
	})
}

// Version reports the engine version, loading the engine if needed.
func (m *Imager) Version(ctx context.Context) *async.Future[string] {
	return m.client.Version(ctx)
}

// Optimize runs open, opt and save over one file. The intermediate
// buffers are released whether or not the save succeeds.
func (m *Imager) Optimize(ctx context.Context, src, dst string, args Args) *async.Future[struct{}] {
	opened := m.Open(ctx, src)
	optimized := async.Then(ctx, opened, func(b *ImageBuffer) *async.Future[*ImageBuffer] {
		return b.Opt(ctx, args)
	})
	return async.Then(ctx, optimized, func(b *ImageBuffer) *async.Future[struct{}] {
		saved := b.Save(ctx, dst)
		return async.Go(func() (struct{}, error) {
			_, err := saved.Await(ctx)
			if rerr := b.Release(); rerr != nil {
				m.log.Debug("release after save", zap.Error(rerr))
			}
			return struct{}{}, err
		})
	})
}

// Close releases every live buffer and unloads the engine.
func (m *Imager) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}
