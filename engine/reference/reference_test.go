package reference

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/imager/opt"
	"github.com/wippyai/imager/platform"
)

func testImage(w, h int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, testImage(w, h), &jpeg.Options{Quality: 100}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func bounds(t *testing.T, data []byte) image.Rectangle {
	t.Helper()
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("output format = %s, want jpeg", format)
	}
	return image.Rect(0, 0, cfg.Width, cfg.Height)
}

func TestOptimize_Downscales(t *testing.T) {
	out, err := Optimize(encodeJPEG(t, 1200, 800), opt.Normalize(opt.Size("900x900")), DefaultQuality)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	b := bounds(t, out)
	if b.Dx() != 900 || b.Dy() != 600 {
		t.Fatalf("output %dx%d, want 900x600", b.Dx(), b.Dy())
	}
}

func TestOptimize_NeverUpscales(t *testing.T) {
	out, err := Optimize(encodeJPEG(t, 200, 100), opt.Normalize(opt.Size("900x900")), DefaultQuality)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	b := bounds(t, out)
	if b.Dx() != 200 || b.Dy() != 100 {
		t.Fatalf("output %dx%d, want 200x100", b.Dx(), b.Dy())
	}
}

func TestOptimize_FullKeepsResolution(t *testing.T) {
	src := encodeJPEG(t, 320, 240)
	out, err := Optimize(src, opt.Normalize(nil), DefaultQuality)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	b := bounds(t, out)
	if b.Dx() != 320 || b.Dy() != 240 {
		t.Fatalf("output %dx%d", b.Dx(), b.Dy())
	}
	if len(out) > len(src) {
		t.Fatalf("full optimize grew jpeg from %d to %d bytes", len(src), len(out))
	}
}

func TestOptimize_ConvertsPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(64, 64)); err != nil {
		t.Fatal(err)
	}
	out, err := Optimize(buf.Bytes(), opt.Normalize(opt.Size("32x32")), DefaultQuality)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if b := bounds(t, out); b.Dx() != 32 || b.Dy() != 32 {
		t.Fatalf("output %v", b)
	}
}

func TestOptimize_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  []byte
		size string
	}{
		{"not an image", []byte("hello"), opt.Full},
		{"bad token", nil, "huge"},
		{"empty box", nil, "0x10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := tt.src
			if src == nil {
				src = encodeJPEG(t, 16, 16)
			}
			if _, err := Optimize(src, opt.Params{Size: tt.size, Format: opt.JPEG}, DefaultQuality); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestBackend_Operations(t *testing.T) {
	ctx := context.Background()
	b, err := Loader{Quality: 90}.Load(ctx, platform.Linux.Module())
	if err != nil {
		t.Fatal(err)
	}

	v, err := b.Version(ctx)
	if err != nil || v != Version {
		t.Fatalf("Version = %q, %v", v, err)
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "1.jpeg")
	if err := os.WriteFile(src, encodeJPEG(t, 1000, 1000), 0o644); err != nil {
		t.Fatal(err)
	}

	in, err := b.Open(ctx, src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	out, err := b.Optimize(ctx, in, opt.Normalize(opt.Size("500x500")))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	dst := filepath.Join(dir, "out.jpeg")
	if err := b.Save(ctx, out, dst); err != nil {
		t.Fatalf("Save: %v", err)
	}
	saved, _ := os.ReadFile(dst)
	if r := bounds(t, saved); r.Dx() != 500 {
		t.Fatalf("saved width %d", r.Dx())
	}

	garbage := filepath.Join(dir, "notes.jpeg")
	if err := os.WriteFile(garbage, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Open(ctx, garbage); err == nil {
		t.Fatal("Open of undecodable file should fail")
	}
	if _, err := b.FromBuffer(ctx, []byte("hello")); err == nil {
		t.Fatal("FromBuffer of undecodable bytes should fail")
	}

	if err := b.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Optimize(ctx, in, opt.Normalize(nil)); err == nil {
		t.Fatal("Optimize after Close should fail")
	}
}

func TestNew_ClampsQuality(t *testing.T) {
	for _, q := range []int{0, -5, 101} {
		if got := New(q).quality; got != DefaultQuality {
			t.Errorf("New(%d).quality = %d", q, got)
		}
	}
}
