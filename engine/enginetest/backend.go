// Package enginetest provides an in-memory engine backend that records calls.
package enginetest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/wippyai/imager/engine"
	"github.com/wippyai/imager/opt"
	"github.com/wippyai/imager/platform"
)

// Blob is a fake engine vector.
type Blob struct {
	owner   *Backend
	data    []byte
	dropped atomic.Bool
}

func (b *Blob) Len() int { return len(b.data) }

func (b *Blob) Drop() {
	if b.dropped.CompareAndSwap(false, true) {
		b.owner.drops.Add(1)
	}
}

// Dropped reports whether Drop was called.
func (b *Blob) Dropped() bool { return b.dropped.Load() }

// Backend is an engine.Backend over Go memory. Optimize appends
// "|<size>" to its input so results are recognizable.
type Backend struct {
	// Fail maps an operation name to the error it returns.
	Fail map[string]error

	// Gate, when set, blocks Optimize until it is closed.
	Gate chan struct{}

	// SaveGate, when set, blocks Save until it is closed.
	SaveGate chan struct{}

	VersionString string

	calls  []string
	params []opt.Params
	drops  atomic.Int64
	mu     sync.Mutex
	closed bool
}

// New returns a backend with no configured failures.
func New() *Backend {
	return &Backend{Fail: map[string]error{}, VersionString: "enginetest 0.0.0"}
}

// Loader returns an engine.Loader that yields b and counts loads.
func (b *Backend) Loader(loads *atomic.Int32) engine.Loader {
	return engine.LoaderFunc(func(context.Context, platform.Module) (engine.Backend, error) {
		if loads != nil {
			loads.Add(1)
		}
		return b, nil
	})
}

// Calls returns the operations invoked so far, in order.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// Count returns how many times op was invoked.
func (b *Backend) Count(op string) int {
	n := 0
	for _, c := range b.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// Params returns the parameters received by Optimize.
func (b *Backend) Params() []opt.Params {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]opt.Params(nil), b.params...)
}

// Drops returns how many blobs were dropped.
func (b *Backend) Drops() int64 { return b.drops.Load() }

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) record(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, op)
	return b.Fail[op]
}

func (b *Backend) blob(v engine.Blob) (*Blob, error) {
	fb, ok := v.(*Blob)
	if !ok || fb.owner != b {
		return nil, fmt.Errorf("foreign blob %T", v)
	}
	if fb.Dropped() {
		return nil, fmt.Errorf("use of dropped blob")
	}
	return fb, nil
}

func (b *Backend) newBlob(data []byte) *Blob {
	return &Blob{owner: b, data: data}
}

func (b *Backend) Version(context.Context) (string, error) {
	if err := b.record("version"); err != nil {
		return "", err
	}
	return b.VersionString, nil
}

func (b *Backend) Open(_ context.Context, path string) (engine.Blob, error) {
	if err := b.record("open"); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return b.newBlob(data), nil
}

func (b *Backend) FromBuffer(_ context.Context, data []byte) (engine.Blob, error) {
	if err := b.record("from_buffer"); err != nil {
		return nil, err
	}
	return b.newBlob(append([]byte(nil), data...)), nil
}

func (b *Backend) ToBuffer(_ context.Context, v engine.Blob) ([]byte, error) {
	if err := b.record("to_buffer"); err != nil {
		return nil, err
	}
	fb, err := b.blob(v)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), fb.data...), nil
}

func (b *Backend) Save(_ context.Context, v engine.Blob, path string) error {
	if err := b.record("save"); err != nil {
		return err
	}
	if b.SaveGate != nil {
		<-b.SaveGate
	}
	fb, err := b.blob(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, fb.data, 0o644)
}

func (b *Backend) Optimize(ctx context.Context, v engine.Blob, p opt.Params) (engine.Blob, error) {
	if err := b.record("optimize"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.params = append(b.params, p)
	b.mu.Unlock()

	if b.Gate != nil {
		<-b.Gate
	}
	fb, err := b.blob(v)
	if err != nil {
		return nil, err
	}
	out := append(append([]byte(nil), fb.data...), '|')
	return b.newBlob(append(out, p.Size...)), nil
}

func (b *Backend) Close(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
