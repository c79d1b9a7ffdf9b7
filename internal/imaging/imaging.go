// Package imaging bounds the encoded size of clipboard images by
// re-encoding them at decreasing JPEG quality.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	// Decoders registered for image.Decode.
	_ "image/gif"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"golang.org/x/image/draw"
)

const (
	// MaxWidth and MaxHeight bound the re-encoded image dimensions.
	MaxWidth  = 800
	MaxHeight = 600

	startQuality = 90
	qualityStep  = 10
	floorQuality = 10
)

// ErrNotImage is returned when a payload is not a decodable image.
var ErrNotImage = errors.New("not an image")

// Normalize re-encodes an image data URL until its estimated size is at most
// maxKB or the quality floor is reached. Each attempt encodes from the
// original decoded image, never from a previous degraded result. Payloads
// already within the bound are returned unchanged. An undecodable payload is
// returned as-is together with an error.
func Normalize(payload string, maxKB int) (string, error) {
	size := SizeKB(payload)
	if maxKB <= 0 || size <= maxKB {
		return payload, nil
	}

	raw, err := decodeDataURL(payload)
	if err != nil {
		return payload, err
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return payload, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	scaled := fit(src, MaxWidth, MaxHeight)

	result := payload
	quality := startQuality
	for size > maxKB && quality > floorQuality {
		quality -= qualityStep
		encoded, err := encodeJPEG(scaled, quality)
		if err != nil {
			return payload, err
		}
		result = encoded
		size = SizeKB(result)
	}
	return result, nil
}

// SizeKB estimates the decoded size of a base64 payload in KB as
// len * 3 / 4 / 1024, rounded. Data URL headers are not counted.
func SizeKB(payload string) int {
	body := payload
	if i := strings.IndexByte(payload, ','); i >= 0 && strings.HasPrefix(payload, "data:") {
		body = payload[i+1:]
	}
	return int(math.Round(float64(len(body)) * 3 / 4 / 1024))
}

// FromBytes converts raw encoded image bytes (PNG, JPEG, GIF, BMP, TIFF or
// WebP) into a data URL. The bytes are kept as-is; only the media type is
// sniffed.
func FromBytes(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNotImage
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// ToBytes returns the raw bytes behind a data URL.
func ToBytes(payload string) ([]byte, error) {
	return decodeDataURL(payload)
}

// ToPNG decodes a data URL and re-encodes it as PNG, the format native
// clipboards accept most widely.
func ToPNG(payload string) ([]byte, error) {
	raw, err := decodeDataURL(payload)
	if err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	if format == "png" {
		return raw, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// IsDataURL reports whether s looks like an image data URL.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:image/")
}

func decodeDataURL(payload string) ([]byte, error) {
	if !IsDataURL(payload) {
		return nil, fmt.Errorf("%w: missing data:image/ prefix", ErrNotImage)
	}
	header, body, ok := strings.Cut(payload, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: data URL is not base64", ErrNotImage)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return raw, nil
}

// fit scales src down to fit within maxW x maxH preserving aspect ratio,
// width first then height.
func fit(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > maxW {
		h = int(math.Round(float64(h) * float64(maxW) / float64(w)))
		w = maxW
	}
	if h > maxH {
		w = int(math.Round(float64(w) * float64(maxH) / float64(h)))
		h = maxH
	}
	w, h = max(w, 1), max(h, 1)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// JPEG has no alpha; composite onto white like a canvas export would.
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image, quality int) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode jpeg q=%d: %w", quality, err)
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
