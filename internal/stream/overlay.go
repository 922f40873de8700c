package stream

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/andresmejia3/vigil/internal/matcher"
)

var (
	KnownColor   = color.RGBA{G: 255, A: 255}
	UnknownColor = color.RGBA{R: 255, A: 255}
	labelColor   = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	borderWidth = 2
	labelHeight = 35
	labelPadX   = 6
	labelPadY   = 6
)

// toRGBA returns img as a mutable RGBA, copying only when needed.
func toRGBA(img image.Image) *image.RGBA {
	if m, ok := img.(*image.RGBA); ok {
		return m
	}
	b := img.Bounds()
	m := image.NewRGBA(b)
	draw.Draw(m, b, img, b.Min, draw.Src)
	return m
}

// Annotate draws a box, a filled label strip along its bottom edge and the
// name for every match.
func Annotate(img *image.RGBA, matches []matcher.Match) {
	for _, m := range matches {
		c := UnknownColor
		if m.Known {
			c = KnownColor
		}
		r := m.Box.Rect()

		fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+borderWidth), c)
		fillRect(img, image.Rect(r.Min.X, r.Max.Y-borderWidth, r.Max.X, r.Max.Y), c)
		fillRect(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+borderWidth, r.Max.Y), c)
		fillRect(img, image.Rect(r.Max.X-borderWidth, r.Min.Y, r.Max.X, r.Max.Y), c)

		fillRect(img, image.Rect(r.Min.X, r.Max.Y-labelHeight, r.Max.X, r.Max.Y), c)
		drawLabel(img, m.Name, r.Min.X+labelPadX, r.Max.Y-labelPadY)
	}
}

func fillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	// Clip rect to image bounds to prevent panics
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	stride := img.Stride
	pix := img.Pix
	minX, minY := img.Rect.Min.X, img.Rect.Min.Y
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := (y-minY)*stride + (rect.Min.X-minX)*4
		for x := 0; x < rect.Dx(); x++ {
			off := rowStart + x*4
			pix[off] = c.R
			pix[off+1] = c.G
			pix[off+2] = c.B
			pix[off+3] = c.A
		}
	}
}

func drawLabel(img *image.RGBA, text string, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(labelColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
