package palette

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"

	"ivg/internal/gateway"
	"ivg/internal/imaging"
)

// Strength is the blend weight of the style tint.
const Strength = 0.4

// Provider is an offline image-edit backend. It tints the source image toward
// the average color of the style reference, or toward a color derived from
// the prompt when there is no reference. Output is deterministic.
type Provider struct{}

// New returns an offline provider.
func New() *Provider { return &Provider{} }

// Name implements gateway.Provider.
func (*Provider) Name() string { return "palette" }

// Edit implements gateway.Provider.
func (p *Provider) Edit(ctx context.Context, req gateway.Request) ([]byte, error) {
	src, _, err := imaging.Decode(req.Image)
	if err != nil {
		return nil, &gateway.StatusError{StatusCode: 400, Message: err.Error()}
	}
	tint := promptTint(req.Prompt)
	if req.Style != nil && len(req.Style.Reference) > 0 {
		if ref, _, err := imaging.Decode(req.Style.Reference); err == nil {
			tint = averageColor(ref)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := Recolor(src, tint, Strength)
	data, err := imaging.EncodePNG(out)
	if err != nil {
		return nil, fmt.Errorf("palette: %w", err)
	}
	return data, nil
}

// Recolor blends every pixel toward tint by strength, keeping alpha.
func Recolor(img image.Image, tint color.NRGBA, strength float64) *image.NRGBA {
	out := imaging.ToNRGBA(img)
	if out == img {
		out = cloneNRGBA(out)
	}
	bounds := out.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			px := out.NRGBAAt(x, y)
			px.R = blend(px.R, tint.R, strength)
			px.G = blend(px.G, tint.G, strength)
			px.B = blend(px.B, tint.B, strength)
			out.SetNRGBA(x, y, px)
		}
	}
	return out
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Rect)
	copy(dst.Pix, src.Pix)
	return dst
}

func blend(base, tint uint8, strength float64) uint8 {
	v := float64(base)*(1-strength) + float64(tint)*strength
	if v > 255 {
		v = 255
	}
	return uint8(v + 0.5)
}

func averageColor(img image.Image) color.NRGBA {
	bounds := img.Bounds()
	var r, g, b, n uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A == 0 {
				continue
			}
			r += uint64(c.R)
			g += uint64(c.G)
			b += uint64(c.B)
			n++
		}
	}
	if n == 0 {
		return color.NRGBA{R: 128, G: 128, B: 128, A: 255}
	}
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: 255}
}

func promptTint(prompt string) color.NRGBA {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	sum := h.Sum32()
	return color.NRGBA{R: uint8(sum >> 16), G: uint8(sum >> 8), B: uint8(sum), A: 255}
}
