package imaging

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// edgeThreshold drops low-contrast edges from the subject bounds.
const edgeThreshold = 20

// LayoutHint describes where the subject sits on the canvas so a provider can
// keep scale and framing. It returns "" when no subject can be located.
func LayoutHint(img image.Image) string {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == 0 || height == 0 {
		return ""
	}

	box, ok := alphaBounds(img)
	if !ok {
		box, ok = edgeBounds(img)
	}
	if !ok {
		return ""
	}

	boxW := max(1, box.Dx())
	boxH := max(1, box.Dy())
	centerX := float64(box.Min.X-bounds.Min.X) + float64(boxW)/2
	centerY := float64(box.Min.Y-bounds.Min.Y) + float64(boxH)/2

	return fmt.Sprintf(
		"Subject bounds approx %.1f%% width, %.1f%% height; center at %.1f%% x, %.1f%% y of canvas. Preserve this scale and framing.",
		float64(boxW)*100/float64(width),
		float64(boxH)*100/float64(height),
		centerX*100/float64(width),
		centerY*100/float64(height),
	)
}

type opaquer interface {
	Opaque() bool
}

// alphaBounds returns the bounds of non-transparent pixels. Fully opaque
// images report false so the edge detector can find the subject instead.
func alphaBounds(img image.Image) (image.Rectangle, bool) {
	if o, ok := img.(opaquer); ok && o.Opaque() {
		return image.Rectangle{}, false
	}
	bounds := img.Bounds()
	box := image.Rectangle{}
	found := false
	full := true
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			_, _, _, a := img.At(x, y).RGBA()
			if a == 0 {
				full = false
				continue
			}
			box = include(box, x, y, found)
			found = true
		}
	}
	if !found || full {
		return image.Rectangle{}, false
	}
	return box, true
}

// edgeBounds runs a 3x3 Laplacian over the luminance and returns the bounds of
// pixels whose response exceeds edgeThreshold.
func edgeBounds(img image.Image) (image.Rectangle, bool) {
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)

	box := image.Rectangle{}
	found := false
	for y := bounds.Min.Y + 1; y < bounds.Max.Y-1; y++ {
		for x := bounds.Min.X + 1; x < bounds.Max.X-1; x++ {
			center := int(gray.GrayAt(x, y).Y) * 8
			sum := 0
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					if dx == 0 && dy == 0 {
						continue
					}
					sum += int(gray.GrayAt(x+dx, y+dy).Y)
				}
			}
			response := center - sum
			if response < 0 {
				response = 0
			}
			if response > edgeThreshold {
				box = include(box, x, y, found)
				found = true
			}
		}
	}
	return box, found
}

func include(box image.Rectangle, x, y int, initialized bool) image.Rectangle {
	if !initialized {
		return image.Rect(x, y, x+1, y+1)
	}
	return box.Union(image.Rect(x, y, x+1, y+1))
}

// Downscale shrinks img so its longest side is at most maxSize, keeping the
// aspect ratio. Images already within bounds are returned unchanged.
func Downscale(img image.Image, maxSize int) image.Image {
	if maxSize <= 0 {
		return img
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if max(width, height) <= maxSize {
		return img
	}
	var w, h int
	if width >= height {
		w = maxSize
		h = max(1, height*maxSize/width)
	} else {
		h = maxSize
		w = max(1, width*maxSize/height)
	}
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(out, out.Bounds(), img, bounds, draw.Src, nil)
	return out
}

// Flatten composites img over an opaque background.
func Flatten(img image.Image, background color.Color) *image.NRGBA {
	bounds := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	draw.Draw(out, out.Bounds(), img, bounds.Min, draw.Over)
	return out
}
