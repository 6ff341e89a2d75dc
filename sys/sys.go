// Package sys forwards one asynchronous operation per engine capability.
//
// Every operation validates the handles it receives before anything is
// dispatched. A rejected handle yields an already-failed future and the
// engine is never called. Engine errors are passed through unchanged.
package sys

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/imager/async"
	"github.com/wippyai/imager/engine"
	"github.com/wippyai/imager/errors"
	"github.com/wippyai/imager/opt"
	"github.com/wippyai/imager/resource"
)

// Client is the low-level operation forwarder.
type Client struct {
	handle  *engine.Handle
	table   *resource.Table
	sem     chan struct{}
	log     *zap.Logger
	timeout time.Duration

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithWorkers bounds the number of engine calls in flight.
func WithWorkers(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.sem = make(chan struct{}, n)
		}
	}
}

// WithCallTimeout abandons pending results after d. The engine call itself
// still runs to completion and anything it produces is released.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// New creates a forwarder over h.
func New(h *engine.Handle, opts ...Option) *Client {
	c := &Client{
		handle: h,
		table:  resource.NewTable(),
		sem:    make(chan struct{}, runtime.NumCPU()),
		log:    engine.Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	c.table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
		if e.Type == resource.EventBorrowed || e.Type == resource.EventBorrowReturned {
			return
		}
		c.log.Debug("resource event",
			zap.Uint64("handle", uint64(e.Handle)),
			zap.Stringer("kind", e.Kind),
			zap.Uint8("event", uint8(e.Type)))
	}))
	return c
}

// Table exposes the handle table, mainly for lifecycle observers.
func (c *Client) Table() *resource.Table { return c.table }

// Live returns the number of handles not yet consumed or released.
func (c *Client) Live() int { return c.table.Len() }

type result[T any] struct {
	value T
	err   error
}

// call describes one forwarded engine operation.
type call[T any] struct {
	op string
	fn func(context.Context, *engine.Engine) (T, error)
	// discard releases a value produced after its future was abandoned
	discard func(T)
	// skip undoes validation side effects when fn never runs
	skip func()
}

// dispatch runs req.fn against the loaded engine on a worker slot.
// Close waits for every dispatched fn to return.
func dispatch[T any](c *Client, ctx context.Context, req call[T]) *async.Future[T] {
	op, fn, discard := req.op, req.fn, req.discard

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if req.skip != nil {
			req.skip()
		}
		return async.Failed[T](errors.NotInitialized(errors.PhaseNative, "client (closed)"))
	}
	c.inflight.Add(1)
	c.mu.Unlock()

	log := c.log.With(zap.String("op", op), zap.String("request_id", uuid.NewString()))

	return async.Go(func() (T, error) {
		var zero T
		started := false
		defer func() {
			if !started {
				if req.skip != nil {
					req.skip()
				}
				c.inflight.Done()
			}
		}()

		eng, err := c.handle.Engine(ctx)
		if err != nil {
			log.Error("engine unavailable", zap.Error(err))
			return zero, err
		}

		waitCtx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}

		select {
		case c.sem <- struct{}{}:
		case <-waitCtx.Done():
			log.Warn("request abandoned before dispatch", zap.Error(waitCtx.Err()))
			return zero, async.Abandoned(op, waitCtx.Err())
		}

		started = true
		start := time.Now()
		done := make(chan result[T], 1)
		go func() {
			defer c.inflight.Done()
			defer func() { <-c.sem }()
			v, err := fn(context.WithoutCancel(ctx), eng)
			done <- result[T]{value: v, err: err}
		}()

		select {
		case r := <-done:
			if r.err != nil {
				log.Error("engine call failed", zap.Duration("elapsed", time.Since(start)), zap.Error(r.err))
			} else {
				log.Debug("engine call completed", zap.Duration("elapsed", time.Since(start)))
			}
			return r.value, r.err
		case <-waitCtx.Done():
			log.Warn("request abandoned", zap.Duration("elapsed", time.Since(start)), zap.Error(waitCtx.Err()))
			go func() {
				if r := <-done; r.err == nil && discard != nil {
					discard(r.value)
				}
			}()
			return zero, async.Abandoned(op, waitCtx.Err())
		}
	})
}

// insert registers blob under a new handle, dropping it if the table refuses.
func (c *Client) insert(kind resource.Kind, blob engine.Blob) (resource.Resource, error) {
	r, err := c.table.Insert(kind, blob)
	if err != nil {
		blob.Drop()
		return nil, err
	}
	return r, nil
}

func (c *Client) release(r resource.Resource) {
	if r != nil {
		_ = c.table.Release(r)
	}
}

func (c *Client) releaseRaw(r resource.Raw)           { c.release(r) }
func (c *Client) releasePortable(r resource.Portable) { c.release(r) }

// Open reads the image at path into a raw resource.
func (c *Client) Open(ctx context.Context, path string) *async.Future[resource.Raw] {
	return dispatch(c, ctx, call[resource.Raw]{
		op:      "open",
		discard: c.releaseRaw,
		fn: func(ctx context.Context, e *engine.Engine) (resource.Raw, error) {
			blob, err := e.OpenRaw(ctx, path)
			if err != nil {
				return resource.Raw{}, err
			}
			r, err := c.insert(resource.KindRaw, blob)
			if err != nil {
				return resource.Raw{}, err
			}
			return r.(resource.Raw), nil
		},
	})
}

// OpenPortable reads the image at path into a portable resource.
func (c *Client) OpenPortable(ctx context.Context, path string) *async.Future[resource.Portable] {
	return dispatch(c, ctx, call[resource.Portable]{
		op:      "open_portable",
		discard: c.releasePortable,
		fn: func(ctx context.Context, e *engine.Engine) (resource.Portable, error) {
			blob, err := e.OpenPortable(ctx, path)
			if err != nil {
				return resource.Portable{}, err
			}
			r, err := c.insert(resource.KindPortable, blob)
			if err != nil {
				return resource.Portable{}, err
			}
			return r.(resource.Portable), nil
		},
	})
}

// FromBuffer copies data into a raw resource. The caller may reuse data
// as soon as FromBuffer returns.
func (c *Client) FromBuffer(ctx context.Context, data []byte) *async.Future[resource.Raw] {
	buf := append([]byte(nil), data...)
	return dispatch(c, ctx, call[resource.Raw]{
		op:      "from_buffer",
		discard: c.releaseRaw,
		fn: func(ctx context.Context, e *engine.Engine) (resource.Raw, error) {
			blob, err := e.FromBuffer(ctx, buf)
			if err != nil {
				return resource.Raw{}, err
			}
			r, err := c.insert(resource.KindRaw, blob)
			if err != nil {
				return resource.Raw{}, err
			}
			return r.(resource.Raw), nil
		},
	})
}

// ToBuffer copies the bytes behind r into a caller-owned slice.
// r is borrowed and stays valid.
func (c *Client) ToBuffer(ctx context.Context, r resource.Resource) *async.Future[[]byte] {
	v, err := c.table.Borrow("to_buffer", r, resource.KindRaw, resource.KindPortable)
	if err != nil {
		return async.Failed[[]byte](err)
	}
	blob := v.(engine.Blob)

	return dispatch(c, ctx, call[[]byte]{
		op:   "to_buffer",
		skip: func() { c.table.Return(r) },
		fn: func(ctx context.Context, e *engine.Engine) ([]byte, error) {
			defer c.table.Return(r)
			return e.ToBuffer(ctx, blob)
		},
	})
}

// Save writes the bytes behind r to path. r is borrowed and stays valid.
func (c *Client) Save(ctx context.Context, r resource.Resource, path string) *async.Future[struct{}] {
	v, err := c.table.Borrow("save", r, resource.KindRaw, resource.KindPortable)
	if err != nil {
		return async.Failed[struct{}](err)
	}
	blob := v.(engine.Blob)

	return dispatch(c, ctx, call[struct{}]{
		op:   "save",
		skip: func() { c.table.Return(r) },
		fn: func(ctx context.Context, e *engine.Engine) (struct{}, error) {
			defer c.table.Return(r)
			return struct{}{}, e.Save(ctx, blob, path)
		},
	})
}

// Optimize produces a new resource of the same kind as r. r is consumed:
// any later use of it fails with errors.ErrConsumed.
func (c *Client) Optimize(ctx context.Context, r resource.Resource, args opt.Args) *async.Future[resource.Resource] {
	v, err := c.table.Consume("optimize", r, resource.KindRaw, resource.KindPortable)
	if err != nil {
		return async.Failed[resource.Resource](err)
	}
	blob := v.(engine.Blob)
	kind := r.Kind()
	params := opt.Normalize(args)

	return dispatch(c, ctx, call[resource.Resource]{
		op:      "optimize",
		discard: c.release,
		skip:    blob.Drop,
		fn: func(ctx context.Context, e *engine.Engine) (resource.Resource, error) {
			defer blob.Drop()
			out, err := e.Optimize(ctx, blob, params)
			if err != nil {
				return nil, err
			}
			return c.insert(kind, out)
		},
	})
}

// Version reports the loaded engine's version string.
func (c *Client) Version(ctx context.Context) *async.Future[string] {
	return dispatch(c, ctx, call[string]{
		op: "version",
		fn: func(ctx context.Context, e *engine.Engine) (string, error) {
			return e.Version(ctx)
		},
	})
}

// Release drops r without waiting for any other operation.
// A borrowed resource is dropped once its borrows complete.
func (c *Client) Release(r resource.Resource) error {
	return c.table.Release(r)
}

// Close drops every live resource and unloads the engine once in-flight
// engine calls have returned. Resources they borrowed are dropped as each
// call finishes. If ctx ends first the engine stays loaded and Close
// reports the abandonment.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	if err := c.table.Close(); err != nil {
		return err
	}

	idle := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(idle)
	}()
	select {
	case <-idle:
	case <-ctx.Done():
		c.log.Warn("close abandoned with engine calls in flight", zap.Error(ctx.Err()))
		return async.Abandoned("close", ctx.Err())
	}

	if err := c.handle.Close(ctx); err != nil {
		return errors.Native("close", err)
	}
	return nil
}
