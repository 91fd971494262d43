package files

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"strings"
	"testing"
)

// makePNG encodes a solid-color PNG of the given dimensions.
func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 30, B: 30, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestCompressImage(t *testing.T) {
	t.Run("downscales oversized image to max edge 1024", func(t *testing.T) {
		out := CompressImage(makePNG(t, 2048, 100))

		img, format, err := image.Decode(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("decode output: %v", err)
		}
		if format != "jpeg" {
			t.Errorf("format = %q, want %q", format, "jpeg")
		}
		if w := img.Bounds().Dx(); w != 1024 {
			t.Errorf("width = %d, want 1024", w)
		}
		if h := img.Bounds().Dy(); h != 50 {
			t.Errorf("height = %d, want 50", h)
		}
	})

	t.Run("portrait image scales on its tall edge", func(t *testing.T) {
		out := CompressImage(makePNG(t, 100, 2048))

		img, _, err := image.Decode(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("decode output: %v", err)
		}
		if w := img.Bounds().Dx(); w != 50 {
			t.Errorf("width = %d, want 50", w)
		}
		if h := img.Bounds().Dy(); h != 1024 {
			t.Errorf("height = %d, want 1024", h)
		}
	})

	t.Run("small image keeps its dimensions", func(t *testing.T) {
		out := CompressImage(makePNG(t, 10, 10))

		img, format, err := image.Decode(bytes.NewReader(out))
		if err != nil {
			t.Fatalf("decode output: %v", err)
		}
		if format != "jpeg" {
			t.Errorf("format = %q, want %q (re-encoded even when not resized)", format, "jpeg")
		}
		if w, h := img.Bounds().Dx(), img.Bounds().Dy(); w != 10 || h != 10 {
			t.Errorf("dimensions = %dx%d, want 10x10", w, h)
		}
	})

	t.Run("undecodable input passes through unchanged", func(t *testing.T) {
		input := []byte("definitely not an image")
		out := CompressImage(input)

		if !bytes.Equal(out, input) {
			t.Error("undecodable input should come back unchanged")
		}
	})
}

func TestDataURL(t *testing.T) {
	payload := []byte{0xFF, 0xD8, 0xFF, 0xE0}
	got := DataURL(payload)

	const prefix = "data:image/jpeg;base64,"
	if !strings.HasPrefix(got, prefix) {
		t.Fatalf("DataURL() = %q, want %q prefix", got, prefix)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got, prefix))
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !bytes.Equal(decoded, payload) {
		t.Errorf("decoded payload = %v, want %v", decoded, payload)
	}
}
