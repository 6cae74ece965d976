package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // clipboard and file attachments arrive as JPEG too
	"image/png"

	"golang.org/x/image/draw"
)

// maxDimension bounds the longer edge of any attached image. Provider
// vision endpoints reject or silently crop anything much larger, and
// full 4K/5K screen grabs waste tokens without adding legibility.
const maxDimension = 2048

// Normalize returns data as PNG bytes with both dimensions capped at
// maxDimension. Images already within bounds pass through undecoded
// when they are PNG; JPEG input is re-encoded so every attachment
// carries one media type.
func Normalize(data []byte) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if format == "png" && cfg.Width <= maxDimension && cfg.Height <= maxDimension {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width > maxDimension || cfg.Height > maxDimension {
		src = scaleDown(src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// scaleDown resizes src so its longer edge equals maxDimension,
// preserving aspect ratio.
func scaleDown(src image.Image) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	var targetW, targetH int
	if w >= h {
		targetW = maxDimension
		targetH = h * maxDimension / w
	} else {
		targetH = maxDimension
		targetW = w * maxDimension / h
	}
	if targetW < 1 {
		targetW = 1
	}
	if targetH < 1 {
		targetH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}
