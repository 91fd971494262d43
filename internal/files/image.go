package files

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// maxImageDim is the longest edge after downscaling. Vision models
	// see no benefit past this, and the data URL stays small.
	maxImageDim = 1024

	jpegQuality = 85
)

// CompressImage downscales an uploaded image so its longest edge is at
// most maxImageDim and re-encodes it as JPEG. Input that cannot be
// decoded comes back unchanged so the vision model still gets a look.
func CompressImage(data []byte) []byte {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w > maxImageDim || h > maxImageDim {
		ratio := math.Min(float64(maxImageDim)/float64(w), float64(maxImageDim)/float64(h))
		dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*ratio), int(float64(h)*ratio)))
		xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return data
	}
	return buf.Bytes()
}

// DataURL wraps JPEG bytes in the data URL form the providers accept
// for inline images.
func DataURL(jpegBytes []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)
}
