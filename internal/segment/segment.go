package segment

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"

	"ivg/internal/imaging"
)

// ErrNoSubject is returned when every pixel is classified as background.
var ErrNoSubject = errors.New("no foreground subject found")

// Options tunes background removal. Thresholds are on the 0-255 foreground
// score scale.
type Options struct {
	// Tolerance is the RGB distance under which a pixel matches a background
	// sample.
	Tolerance int
	// FGThreshold marks pixels at or above this score as certain foreground.
	FGThreshold int
	// BGThreshold marks pixels at or below this score as certain background.
	BGThreshold int
	// ErodeSize is the radius of the soft edge band around the subject.
	ErodeSize int
}

// DefaultOptions mirrors the matting thresholds used for uploads.
func DefaultOptions() Options {
	return Options{Tolerance: 48, FGThreshold: 240, BGThreshold: 10, ErodeSize: 10}
}

func (o Options) normalized() Options {
	def := DefaultOptions()
	if o.Tolerance <= 0 {
		o.Tolerance = def.Tolerance
	}
	if o.FGThreshold <= 0 || o.FGThreshold > 255 {
		o.FGThreshold = def.FGThreshold
	}
	if o.BGThreshold < 0 || o.BGThreshold >= o.FGThreshold {
		o.BGThreshold = def.BGThreshold
	}
	if o.ErodeSize < 0 {
		o.ErodeSize = 0
	}
	return o
}

// Remove returns a copy of img whose background is transparent. The
// background is whatever connects to the image border and matches one of the
// corner colors; the subject edge gets a soft alpha ramp.
func Remove(ctx context.Context, img image.Image, opts Options) (*image.NRGBA, error) {
	opts = opts.normalized()
	src := imaging.ToNRGBA(img)
	width, height := src.Rect.Dx(), src.Rect.Dy()
	if width == 0 || height == 0 {
		return nil, errors.New("empty image")
	}

	samples := cornerSamples(src, float64(opts.Tolerance))
	scores := make([]uint8, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			scores[y*width+x] = score(src.NRGBAAt(x, y), samples, float64(opts.Tolerance))
		}
	}

	background, err := floodBackground(ctx, width, height, scores, uint8(opts.BGThreshold), src, samples, float64(opts.Tolerance))
	if err != nil {
		return nil, err
	}

	foreground := make([]bool, width*height)
	hasSubject := false
	for i, bg := range background {
		if !bg {
			foreground[i] = true
			hasSubject = true
		}
	}
	if !hasSubject {
		return nil, ErrNoSubject
	}
	core := erode(foreground, width, height, opts.ErodeSize)

	out := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		if y%64 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for x := 0; x < width; x++ {
			i := y*width + x
			px := src.NRGBAAt(x, y)
			alpha := matte(foreground[i], core[i], scores[i], opts)
			px.A = uint8(uint32(px.A) * uint32(alpha) / 255)
			out.SetNRGBA(x, y, px)
		}
	}
	return out, nil
}

// matte assigns the trimap alpha for a pixel.
func matte(fg, core bool, s uint8, opts Options) uint8 {
	switch {
	case !fg:
		return 0
	case core:
		return 255
	case int(s) >= opts.FGThreshold:
		return 255
	case int(s) <= opts.BGThreshold:
		return 0
	default:
		return s
	}
}

// cornerSamples returns the distinct colors found at the four corners.
func cornerSamples(img *image.NRGBA, tolerance float64) []color.NRGBA {
	maxX, maxY := img.Rect.Dx()-1, img.Rect.Dy()-1
	corners := []color.NRGBA{
		img.NRGBAAt(0, 0),
		img.NRGBAAt(maxX, 0),
		img.NRGBAAt(0, maxY),
		img.NRGBAAt(maxX, maxY),
	}
	var samples []color.NRGBA
	for _, c := range corners {
		duplicate := false
		for _, s := range samples {
			if distance(c, s) <= tolerance {
				duplicate = true
				break
			}
		}
		if !duplicate {
			samples = append(samples, c)
		}
	}
	return samples
}

// score maps the distance to the nearest background sample onto 0-255. A
// pixel exactly at the tolerance scores one third of the range.
func score(px color.NRGBA, samples []color.NRGBA, tolerance float64) uint8 {
	if px.A == 0 {
		return 0
	}
	nearest := math.MaxFloat64
	for _, s := range samples {
		if d := distance(px, s); d < nearest {
			nearest = d
		}
	}
	v := nearest * 255 / (tolerance * 3)
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

func distance(a, b color.NRGBA) float64 {
	if a.A == 0 && b.A == 0 {
		return 0
	}
	dr := float64(a.R) - float64(b.R)
	dg := float64(a.G) - float64(b.G)
	db := float64(a.B) - float64(b.B)
	da := float64(a.A) - float64(b.A)
	return math.Sqrt(dr*dr + dg*dg + db*db + da*da)
}

// floodBackground marks every pixel reachable from the border through pixels
// that match a background sample.
func floodBackground(ctx context.Context, width, height int, scores []uint8, bgScore uint8, img *image.NRGBA, samples []color.NRGBA, tolerance float64) ([]bool, error) {
	background := make([]bool, width*height)
	matches := func(i int) bool {
		if scores[i] <= bgScore {
			return true
		}
		px := img.NRGBAAt(i%width, i/width)
		for _, s := range samples {
			if distance(px, s) <= tolerance {
				return true
			}
		}
		return false
	}

	queue := make([]int, 0, 2*(width+height))
	push := func(i int) {
		if !background[i] && matches(i) {
			background[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < width; x++ {
		push(x)
		push((height-1)*width + x)
	}
	for y := 0; y < height; y++ {
		push(y * width)
		push(y*width + width - 1)
	}

	for processed := 0; len(queue) > 0; processed++ {
		if processed%4096 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		i := queue[0]
		queue = queue[1:]
		x, y := i%width, i/width
		if x > 0 {
			push(i - 1)
		}
		if x < width-1 {
			push(i + 1)
		}
		if y > 0 {
			push(i - width)
		}
		if y < height-1 {
			push(i + width)
		}
	}
	return background, nil
}

// erode shrinks mask by radius using a square structuring element, applied
// as two separable passes.
func erode(mask []bool, width, height, radius int) []bool {
	if radius <= 0 {
		return append([]bool(nil), mask...)
	}
	horizontal := make([]bool, len(mask))
	for y := 0; y < height; y++ {
		for x := radius; x < width-radius; x++ {
			keep := true
			for k := x - radius; k <= x+radius; k++ {
				if !mask[y*width+k] {
					keep = false
					break
				}
			}
			horizontal[y*width+x] = keep
		}
	}
	out := make([]bool, len(mask))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			if !horizontal[y*width+x] {
				continue
			}
			lo, hi := y-radius, y+radius
			if lo < 0 || hi >= height {
				continue
			}
			keep := true
			for k := lo; k <= hi; k++ {
				if !horizontal[k*width+x] {
					keep = false
					break
				}
			}
			out[y*width+x] = keep
		}
	}
	return out
}
