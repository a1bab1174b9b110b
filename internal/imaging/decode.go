package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/webp"
)

// ErrEmpty is returned when there are no bytes to decode.
var ErrEmpty = errors.New("image data is empty")

// DefaultExtensions lists the upload extensions accepted when none are configured.
var DefaultExtensions = []string{"png", "jpg", "jpeg", "gif", "webp"}

// Decode parses png, jpeg, gif or webp data. The returned format is the
// registered codec name.
func Decode(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", ErrEmpty
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, "", fmt.Errorf("decode image: empty canvas %dx%d", bounds.Dx(), bounds.Dy())
	}
	return img, format, nil
}

// DecodeConfig reads only the header, returning the detected content type.
func DecodeConfig(data []byte) (image.Config, string, error) {
	if len(data) == 0 {
		return image.Config{}, "", ErrEmpty
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, "", fmt.Errorf("decode image header: %w", err)
	}
	return cfg, ContentType(format), nil
}

// ContentType maps a codec name to its MIME type.
func ContentType(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "image/png"
	case "jpeg", "jpg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

// AllowedExtension reports whether filename carries one of the allowed
// extensions. An empty allow list falls back to DefaultExtensions.
func AllowedExtension(filename string, allowed []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if ext == "" {
		return false
	}
	if len(allowed) == 0 {
		allowed = DefaultExtensions
	}
	for _, candidate := range allowed {
		if strings.TrimPrefix(strings.ToLower(strings.TrimSpace(candidate)), ".") == ext {
			return true
		}
	}
	return false
}

// ToNRGBA returns img as a non-premultiplied RGBA image anchored at the origin.
func ToNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Src)
	return out
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	encoder := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := encoder.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// NormalizePNG re-encodes any supported image as PNG. PNG input is returned
// unchanged.
func NormalizePNG(data []byte) ([]byte, error) {
	img, format, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if format == "png" {
		return data, nil
	}
	return EncodePNG(img)
}
