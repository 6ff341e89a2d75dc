package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"

	"github.com/wippyai/imager/errors"
	"github.com/wippyai/imager/opt"
	"github.com/wippyai/imager/platform"
)

// NativeLoader opens the prebuilt shared library for the host platform.
type NativeLoader struct {
	// Root is the directory that holds the native/<os>/ module tree.
	Root string
}

// Load implements Loader.
func (l NativeLoader) Load(_ context.Context, m platform.Module) (Backend, error) {
	path := filepath.Join(l.Root, filepath.FromSlash(m.Path))
	if _, err := os.Stat(path); err != nil {
		return nil, errors.ModuleNotFound(path, err)
	}

	lib, err := openLibrary(path)
	if err != nil {
		return nil, errors.Load(fmt.Sprintf("open %s", path), err)
	}

	n := &nativeBackend{lib: lib, path: path}
	if err := n.register(); err != nil {
		_ = closeLibrary(lib)
		return nil, errors.Load(fmt.Sprintf("bind %s", path), err)
	}

	Logger().Info("native engine loaded", zap.String("module", path))
	return n, nil
}

// nativeBackend forwards to the C ABI exported by the engine library:
//
//	const char *imager_version(void);
//	int32_t     imager_open(const char *path, void **out);
//	int32_t     imager_from_buffer(const uint8_t *data, size_t len, void **out);
//	size_t      imager_len(void *vec);
//	int32_t     imager_copy_to(void *vec, uint8_t *dst, size_t len);
//	int32_t     imager_save(void *vec, const char *path);
//	int32_t     imager_opt(void *vec, const char *size, const char *format, void **out);
//	void        imager_free(void *vec);
//	const char *imager_last_error(void);
//
// Non-zero status means failure; the reason is read from imager_last_error
// on the same OS thread.
type nativeBackend struct {
	fnVersion    func() string
	fnOpen       func(path string, out *uintptr) int32
	fnFromBuffer func(data *byte, n uintptr, out *uintptr) int32
	fnLen        func(vec uintptr) uintptr
	fnCopyTo     func(vec uintptr, dst *byte, n uintptr) int32
	fnSave       func(vec uintptr, path string) int32
	fnOpt        func(vec uintptr, size, format string, out *uintptr) int32
	fnFree       func(vec uintptr)
	fnLastError  func() string

	path   string
	lib    uintptr
	mu     sync.RWMutex
	closed bool
}

func (n *nativeBackend) register() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("missing symbol: %v", r)
		}
	}()

	purego.RegisterLibFunc(&n.fnVersion, n.lib, "imager_version")
	purego.RegisterLibFunc(&n.fnOpen, n.lib, "imager_open")
	purego.RegisterLibFunc(&n.fnFromBuffer, n.lib, "imager_from_buffer")
	purego.RegisterLibFunc(&n.fnLen, n.lib, "imager_len")
	purego.RegisterLibFunc(&n.fnCopyTo, n.lib, "imager_copy_to")
	purego.RegisterLibFunc(&n.fnSave, n.lib, "imager_save")
	purego.RegisterLibFunc(&n.fnOpt, n.lib, "imager_opt")
	purego.RegisterLibFunc(&n.fnFree, n.lib, "imager_free")
	purego.RegisterLibFunc(&n.fnLastError, n.lib, "imager_last_error")
	return nil
}

// nativeBlob is a byte vector allocated by the engine library.
type nativeBlob struct {
	owner *nativeBackend
	vec   uintptr
	n     int
	once  sync.Once
}

func (b *nativeBlob) Len() int { return b.n }

func (b *nativeBlob) Drop() {
	b.once.Do(func() {
		b.owner.free(b.vec)
	})
}

// call runs fn pinned to one OS thread and converts a non-zero status.
func (n *nativeBackend) call(op string, fn func() int32) error {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return errors.NotInitialized(errors.PhaseNative, "native engine")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if status := fn(); status != 0 {
		msg := n.fnLastError()
		if msg == "" {
			msg = "unknown engine error"
		}
		return fmt.Errorf("%s: status %d: %s", op, status, msg)
	}
	return nil
}

func (n *nativeBackend) wrap(vec uintptr) *nativeBlob {
	return &nativeBlob{owner: n, vec: vec, n: int(n.fnLen(vec))}
}

func (n *nativeBackend) blob(b Blob) (*nativeBlob, error) {
	nb, ok := b.(*nativeBlob)
	if !ok || nb.owner != n {
		return nil, fmt.Errorf("blob %T was not produced by %s", b, n.path)
	}
	return nb, nil
}

func (n *nativeBackend) free(vec uintptr) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if !n.closed && vec != 0 {
		n.fnFree(vec)
	}
}

func (n *nativeBackend) Version(context.Context) (string, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return "", errors.NotInitialized(errors.PhaseNative, "native engine")
	}
	return n.fnVersion(), nil
}

func (n *nativeBackend) Open(_ context.Context, path string) (Blob, error) {
	var vec uintptr
	if err := n.call("open", func() int32 { return n.fnOpen(path, &vec) }); err != nil {
		return nil, err
	}
	return n.wrap(vec), nil
}

func (n *nativeBackend) FromBuffer(_ context.Context, data []byte) (Blob, error) {
	var vec uintptr
	var ptr *byte
	if len(data) > 0 {
		ptr = unsafe.SliceData(data)
	}
	err := n.call("from_buffer", func() int32 {
		return n.fnFromBuffer(ptr, uintptr(len(data)), &vec)
	})
	runtime.KeepAlive(data)
	if err != nil {
		return nil, err
	}
	return n.wrap(vec), nil
}

func (n *nativeBackend) ToBuffer(_ context.Context, b Blob) ([]byte, error) {
	nb, err := n.blob(b)
	if err != nil {
		return nil, err
	}
	out := make([]byte, nb.n)
	if nb.n == 0 {
		return out, nil
	}
	err = n.call("to_buffer", func() int32 {
		return n.fnCopyTo(nb.vec, unsafe.SliceData(out), uintptr(len(out)))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (n *nativeBackend) Save(_ context.Context, b Blob, path string) error {
	nb, err := n.blob(b)
	if err != nil {
		return err
	}
	return n.call("save", func() int32 { return n.fnSave(nb.vec, path) })
}

func (n *nativeBackend) Optimize(_ context.Context, b Blob, p opt.Params) (Blob, error) {
	nb, err := n.blob(b)
	if err != nil {
		return nil, err
	}
	var vec uintptr
	err = n.call("opt", func() int32 {
		return n.fnOpt(nb.vec, p.Size, string(p.Format), &vec)
	})
	if err != nil {
		return nil, err
	}
	return n.wrap(vec), nil
}

// Close unloads the library. Blobs still alive become inert.
func (n *nativeBackend) Close(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return closeLibrary(n.lib)
}
