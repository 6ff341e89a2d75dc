package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	imgerrors "github.com/wippyai/imager/errors"
	"github.com/wippyai/imager/opt"
	"github.com/wippyai/imager/platform"
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		done := (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			return out
		}
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint64(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

func name(s string) []byte {
	return append(uleb(uint64(len(s))), s...)
}

func cat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func body(instrs ...[]byte) []byte {
	content := cat(append([][]byte{{0x00}}, instrs...)...) // no locals
	return append(uleb(uint64(len(content))), content...)
}

const (
	testErrAddr    = 16
	testErrMsg     = "empty input"
	testVerAddr    = 64
	testVerMsg     = "wasm-test 1.0"
	testHeapOffset = 1024
)

// testEngineModule assembles a minimal engine module: a bump allocator, a
// no-op free, an identity imager_opt that fails on empty input, and
// imager_last_error / imager_version returning static strings.
func testEngineModule(withVersion bool) []byte {
	const (
		i32 = 0x7f
		i64 = 0x7e
	)

	types := section(1, vec(
		[]byte{0x60, 1, i32, 1, i32},
		[]byte{0x60, 2, i32, i32, 0},
		[]byte{0x60, 4, i32, i32, i32, i32, 1, i64},
		[]byte{0x60, 0, 1, i64},
	))
	funcs := section(3, vec([]byte{0}, []byte{1}, []byte{2}, []byte{3}, []byte{3}))
	memory := section(5, vec([]byte{0x00, 2}))
	globals := section(6, vec(cat([]byte{i32, 0x01, 0x41}, sleb(testHeapOffset), []byte{0x0b})))

	exports := [][]byte{
		cat(name("memory"), []byte{0x02, 0}),
		cat(name(exportAlloc), []byte{0x00, 0}),
		cat(name(exportFree), []byte{0x00, 1}),
		cat(name(exportOpt), []byte{0x00, 2}),
		cat(name(exportLastError), []byte{0x00, 3}),
	}
	if withVersion {
		exports = append(exports, cat(name(exportVersion), []byte{0x00, 4}))
	}
	exportSec := section(7, vec(exports...))

	code := section(10, vec(
		// alloc: old := heap; heap += n; return old
		body([]byte{0x23, 0, 0x23, 0, 0x20, 0, 0x6a, 0x24, 0, 0x0b}),
		// free: nothing
		body([]byte{0x0b}),
		// opt: len == 0 ? 0 : ptr<<32 | len
		body([]byte{
			0x20, 1, 0x45,
			0x04, i64,
			0x42, 0x00,
			0x05,
			0x20, 0, 0xad, 0x42, 32, 0x86,
			0x20, 1, 0xad, 0x84,
			0x0b,
			0x0b,
		}),
		body(cat([]byte{0x42}, sleb(testErrAddr<<32|int64(len(testErrMsg))), []byte{0x0b})),
		body(cat([]byte{0x42}, sleb(testVerAddr<<32|int64(len(testVerMsg))), []byte{0x0b})),
	))

	data := section(11, vec(
		cat([]byte{0x00, 0x41}, sleb(testErrAddr), []byte{0x0b}, name(testErrMsg)),
		cat([]byte{0x00, 0x41}, sleb(testVerAddr), []byte{0x0b}, name(testVerMsg)),
	))

	header := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	return cat(header, types, funcs, memory, globals, exportSec, code, data)
}

func loadTestWASM(t *testing.T, withVersion bool) Backend {
	t.Helper()
	ctx := context.Background()
	b, err := WASMLoader{Module: testEngineModule(withVersion), MemoryLimitPages: 16}.Load(ctx, platform.Linux.Module())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close(ctx) })
	return b
}

func TestWASMLoader_Version(t *testing.T) {
	ctx := context.Background()

	v, err := loadTestWASM(t, true).Version(ctx)
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if v != testVerMsg {
		t.Errorf("Version = %q, want %q", v, testVerMsg)
	}

	v, err = loadTestWASM(t, false).Version(ctx)
	if err != nil {
		t.Fatalf("Version without export failed: %v", err)
	}
	if v != "unknown" {
		t.Errorf("Version = %q, want unknown", v)
	}
}

func TestWASMLoader_OptimizeRoundTrip(t *testing.T) {
	ctx := context.Background()
	b := loadTestWASM(t, true)

	input := []byte("\xff\xd8\xff not really a jpeg")
	in, err := b.FromBuffer(ctx, input)
	if err != nil {
		t.Fatalf("FromBuffer failed: %v", err)
	}
	input[0] = 0 // the blob holds its own copy

	out, err := b.Optimize(ctx, in, opt.Normalize(opt.Size("900x900")))
	if err != nil {
		t.Fatalf("Optimize failed: %v", err)
	}
	got, err := b.ToBuffer(ctx, out)
	if err != nil {
		t.Fatalf("ToBuffer failed: %v", err)
	}
	if !bytes.Equal(got, []byte("\xff\xd8\xff not really a jpeg")) {
		t.Fatalf("identity engine returned %q", got)
	}

	// a second call allocates fresh guest memory
	if _, err := b.Optimize(ctx, out, opt.Normalize(nil)); err != nil {
		t.Fatalf("second Optimize failed: %v", err)
	}
}

func TestWASMLoader_GuestError(t *testing.T) {
	ctx := context.Background()
	b := loadTestWASM(t, true)

	in, _ := b.FromBuffer(ctx, nil)
	_, err := b.Optimize(ctx, in, opt.Normalize(nil))
	if err == nil {
		t.Fatal("expected error for empty input")
	}
	if !strings.Contains(err.Error(), testErrMsg) {
		t.Errorf("error = %v, want guest message %q", err, testErrMsg)
	}
}

func TestWASMLoader_FileIO(t *testing.T) {
	ctx := context.Background()
	b := loadTestWASM(t, true)
	dir := t.TempDir()

	src := filepath.Join(dir, "in.jpeg")
	if err := os.WriteFile(src, []byte("pixels"), 0o644); err != nil {
		t.Fatal(err)
	}
	blob, err := b.Open(ctx, src)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if blob.Len() != len("pixels") {
		t.Errorf("Len = %d", blob.Len())
	}

	dst := filepath.Join(dir, "out.jpeg")
	if err := b.Save(ctx, blob, dst); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	saved, _ := os.ReadFile(dst)
	if string(saved) != "pixels" {
		t.Errorf("saved %q", saved)
	}

	if _, err := b.Open(ctx, filepath.Join(dir, "missing.jpeg")); err == nil {
		t.Error("Open of missing file should fail")
	}
	if err := b.Save(ctx, NewHostBuffer([]byte("x")), dst); err == nil {
		t.Error("Save of foreign blob should fail")
	}
}

func TestWASMLoader_InvalidModule(t *testing.T) {
	ctx := context.Background()

	_, err := WASMLoader{Module: []byte("not wasm")}.Load(ctx, platform.Linux.Module())
	var ie *imgerrors.Error
	if !errors.As(err, &ie) || ie.Phase != imgerrors.PhaseLoad {
		t.Fatalf("err = %v, want load error", err)
	}

	_, err = WASMLoader{Path: filepath.Join(t.TempDir(), "missing.wasm")}.Load(ctx, platform.Linux.Module())
	if !errors.As(err, &ie) || ie.Kind != imgerrors.KindNotFound {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestWASMLoader_MissingExports(t *testing.T) {
	ctx := context.Background()

	header := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	memOnly := cat(header,
		section(5, vec([]byte{0x00, 1})),
		section(7, vec(cat(name("memory"), []byte{0x02, 0}))),
	)

	_, err := WASMLoader{Module: memOnly}.Load(ctx, platform.Linux.Module())
	if err == nil {
		t.Fatal("expected error for module without engine exports")
	}
	if !strings.Contains(err.Error(), "missing") {
		t.Errorf("error = %v", err)
	}
}

func TestWASMLoader_Closed(t *testing.T) {
	ctx := context.Background()
	b, err := WASMLoader{Module: testEngineModule(true)}.Load(ctx, platform.Linux.Module())
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	in, _ := b.FromBuffer(ctx, []byte("x"))
	if _, err := b.Optimize(ctx, in, opt.Normalize(nil)); err == nil {
		t.Fatal("Optimize after Close should fail")
	}
}
