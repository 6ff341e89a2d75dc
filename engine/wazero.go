package engine

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/imager/errors"
	"github.com/wippyai/imager/opt"
	"github.com/wippyai/imager/platform"
)

// Guest exports required from a wasm engine module.
const (
	exportAlloc     = "imager_alloc"
	exportFree      = "imager_free"
	exportOpt       = "imager_opt"
	exportLastError = "imager_last_error"
	exportVersion   = "imager_version"
)

// WASMLoader runs the engine compiled to a WebAssembly module.
// The platform module is ignored; the same wasm file serves every host.
type WASMLoader struct {
	// Path to the .wasm file. Used when Module is nil.
	Path string

	// Module holds the wasm bytes directly.
	Module []byte

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// Load implements Loader.
func (l WASMLoader) Load(ctx context.Context, _ platform.Module) (Backend, error) {
	wasmBytes := l.Module
	if wasmBytes == nil {
		data, err := os.ReadFile(l.Path)
		if err != nil {
			return nil, errors.ModuleNotFound(l.Path, err)
		}
		wasmBytes = data
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if l.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(l.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	w, err := newWASMBackend(ctx, rt, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	Logger().Info("wasm engine loaded", zap.String("module", l.Path), zap.Int("bytes", len(wasmBytes)))
	return w, nil
}

// wasmBlob holds engine bytes on the host side of the sandbox.
type wasmBlob struct {
	data []byte
}

func (b *wasmBlob) Len() int { return len(b.data) }
func (b *wasmBlob) Drop()    { b.data = nil }

// wasmBackend keeps blobs in host memory and copies them through guest
// memory for each optimize. Calls into the single instance are serialized.
type wasmBackend struct {
	runtime  wazero.Runtime
	instance api.Module
	memory   api.Memory

	alloc     api.Function
	free      api.Function
	optimize  api.Function
	lastError api.Function
	version   api.Function

	mu     sync.Mutex
	closed bool
}

func newWASMBackend(ctx context.Context, rt wazero.Runtime, wasmBytes []byte) (*wasmBackend, error) {
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return nil, errors.Load("instantiate WASI", err)
	}

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Load("compile engine module", err)
	}

	modConfig := wazero.NewModuleConfig().
		WithName("imager").
		WithStartFunctions("_initialize").
		WithStderr(os.Stderr)
	instance, err := rt.InstantiateModule(ctx, compiled, modConfig)
	if err != nil {
		return nil, errors.Load("instantiate engine module", err)
	}

	w := &wasmBackend{
		runtime:   rt,
		instance:  instance,
		memory:    instance.Memory(),
		alloc:     instance.ExportedFunction(exportAlloc),
		free:      instance.ExportedFunction(exportFree),
		optimize:  instance.ExportedFunction(exportOpt),
		lastError: instance.ExportedFunction(exportLastError),
		version:   instance.ExportedFunction(exportVersion),
	}

	if w.memory == nil {
		return nil, errors.Load("engine module exports no memory", nil)
	}
	for name, fn := range map[string]api.Function{
		exportAlloc:     w.alloc,
		exportFree:      w.free,
		exportOpt:       w.optimize,
		exportLastError: w.lastError,
	} {
		if fn == nil {
			return nil, errors.Load(fmt.Sprintf("engine module missing %s export", name), nil)
		}
	}
	return w, nil
}

func (w *wasmBackend) checkOpen() error {
	if w.closed {
		return errors.NotInitialized(errors.PhaseNative, "wasm engine")
	}
	return nil
}

// readPacked reads a guest (ptr<<32 | len) string result.
func (w *wasmBackend) readPacked(packed uint64) ([]byte, bool) {
	ptr, n := uint32(packed>>32), uint32(packed)
	if n == 0 {
		return []byte{}, true
	}
	view, ok := w.memory.Read(ptr, n)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), view...), true
}

// write copies data into freshly allocated guest memory.
func (w *wasmBackend) write(ctx context.Context, data []byte) (uint32, error) {
	res, err := w.alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", exportAlloc, err)
	}
	ptr := uint32(res[0])
	if !w.memory.Write(ptr, data) {
		return 0, fmt.Errorf("%s: write %d bytes at %#x out of range", exportAlloc, len(data), ptr)
	}
	return ptr, nil
}

func (w *wasmBackend) release(ctx context.Context, ptr, n uint32) {
	if _, err := w.free.Call(ctx, uint64(ptr), uint64(n)); err != nil {
		Logger().Warn("wasm engine free failed", zap.Error(err))
	}
}

func (w *wasmBackend) guestError(ctx context.Context) error {
	res, err := w.lastError.Call(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", exportLastError, err)
	}
	msg, ok := w.readPacked(res[0])
	if !ok || len(msg) == 0 {
		return fmt.Errorf("unknown engine error")
	}
	return fmt.Errorf("%s", msg)
}

func (w *wasmBackend) Version(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return "", err
	}
	if w.version == nil {
		return "unknown", nil
	}
	res, err := w.version.Call(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", exportVersion, err)
	}
	v, ok := w.readPacked(res[0])
	if !ok {
		return "", fmt.Errorf("%s: result out of range", exportVersion)
	}
	return string(v), nil
}

func (w *wasmBackend) Open(_ context.Context, path string) (Blob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &wasmBlob{data: data}, nil
}

func (w *wasmBackend) FromBuffer(_ context.Context, data []byte) (Blob, error) {
	return &wasmBlob{data: append([]byte(nil), data...)}, nil
}

func (w *wasmBackend) ToBuffer(_ context.Context, b Blob) ([]byte, error) {
	hb, ok := b.(*wasmBlob)
	if !ok {
		return nil, fmt.Errorf("blob %T was not produced by the wasm engine", b)
	}
	return append([]byte(nil), hb.data...), nil
}

func (w *wasmBackend) Save(_ context.Context, b Blob, path string) error {
	hb, ok := b.(*wasmBlob)
	if !ok {
		return fmt.Errorf("blob %T was not produced by the wasm engine", b)
	}
	return os.WriteFile(path, hb.data, 0o644)
}

func (w *wasmBackend) Optimize(ctx context.Context, b Blob, p opt.Params) (Blob, error) {
	hb, ok := b.(*wasmBlob)
	if !ok {
		return nil, fmt.Errorf("blob %T was not produced by the wasm engine", b)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.checkOpen(); err != nil {
		return nil, err
	}

	input := hb.data
	inPtr, err := w.write(ctx, input)
	if err != nil {
		return nil, err
	}
	defer w.release(ctx, inPtr, uint32(len(input)))

	size := []byte(p.Size)
	sizePtr, err := w.write(ctx, size)
	if err != nil {
		return nil, err
	}
	defer w.release(ctx, sizePtr, uint32(len(size)))

	res, err := w.optimize.Call(ctx, uint64(inPtr), uint64(len(input)), uint64(sizePtr), uint64(len(size)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", exportOpt, err)
	}
	if res[0] == 0 {
		return nil, w.guestError(ctx)
	}

	out, ok := w.readPacked(res[0])
	if !ok {
		return nil, fmt.Errorf("%s: result out of range", exportOpt)
	}
	w.release(ctx, uint32(res[0]>>32), uint32(res[0]))
	return &wasmBlob{data: out}, nil
}

func (w *wasmBackend) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.runtime.Close(ctx)
}
