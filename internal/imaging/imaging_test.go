package imaging_test

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"ivg/internal/imaging"
)

func filled(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func fillRect(img *image.NRGBA, r image.Rectangle, c color.NRGBA) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
}

func TestDecodeRoundTripAndCorrupt(t *testing.T) {
	data, err := imaging.EncodePNG(filled(4, 3, color.NRGBA{R: 10, A: 255}))
	if err != nil {
		t.Fatalf("EncodePNG: %v", err)
	}
	img, format, err := imaging.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 4 || img.Bounds().Dy() != 3 {
		t.Fatalf("unexpected decode result format=%s bounds=%v", format, img.Bounds())
	}

	if _, _, err := imaging.Decode([]byte("not an image")); err == nil {
		t.Fatal("expected error for corrupt data")
	}
	if _, _, err := imaging.Decode(nil); err != imaging.ErrEmpty {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestLayoutHintUsesAlphaBounds(t *testing.T) {
	img := filled(100, 100, color.NRGBA{})
	fillRect(img, image.Rect(25, 25, 75, 75), color.NRGBA{R: 200, G: 10, B: 10, A: 255})

	hint := imaging.LayoutHint(img)
	want := "Subject bounds approx 50.0% width, 50.0% height; center at 50.0% x, 50.0% y of canvas."
	if !strings.HasPrefix(hint, want) {
		t.Fatalf("hint = %q, want prefix %q", hint, want)
	}
}

func TestLayoutHintFallsBackToEdges(t *testing.T) {
	img := filled(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	fillRect(img, image.Rect(40, 40, 60, 60), color.NRGBA{A: 255})

	hint := imaging.LayoutHint(img)
	if !strings.Contains(hint, "22.0% width") || !strings.Contains(hint, "center at 50.0% x") {
		t.Fatalf("unexpected edge hint %q", hint)
	}
}

func TestLayoutHintBlankCanvas(t *testing.T) {
	if hint := imaging.LayoutHint(filled(10, 10, color.NRGBA{R: 9, A: 255})); hint != "" {
		t.Fatalf("expected no hint for uniform canvas, got %q", hint)
	}
}

func TestDownscale(t *testing.T) {
	out := imaging.Downscale(filled(512, 256, color.NRGBA{A: 255}), 256)
	if out.Bounds().Dx() != 256 || out.Bounds().Dy() != 128 {
		t.Fatalf("bounds = %v, want 256x128", out.Bounds())
	}
	small := filled(10, 10, color.NRGBA{A: 255})
	if imaging.Downscale(small, 256) != image.Image(small) {
		t.Fatal("small image should be returned unchanged")
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := imaging.BuildPrompt("  thick outlines  ", "", "")
	if err != nil {
		t.Fatalf("BuildPrompt: %v", err)
	}
	for _, want := range []string{
		"STYLE RULES:\nthick outlines\n",
		"SOURCE LAYOUT HINTS:\nNone provided.\n",
		"USER REQUEST:\n" + imaging.DefaultRequest,
	} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q", want)
		}
	}
}

func TestTruncateRules(t *testing.T) {
	if got := imaging.TruncateRules("héllo world", 5); got != "héllo" {
		t.Fatalf("TruncateRules = %q", got)
	}
}

func TestAllowedExtension(t *testing.T) {
	cases := map[string]bool{
		"cat.PNG":  true,
		"cat.webp": true,
		"cat.bmp":  false,
		"cat":      false,
	}
	for name, want := range cases {
		if got := imaging.AllowedExtension(name, nil); got != want {
			t.Fatalf("AllowedExtension(%q) = %v, want %v", name, got, want)
		}
	}
	if !imaging.AllowedExtension("a.tiff", []string{".tiff"}) {
		t.Fatal("configured extension rejected")
	}
}
