package grid

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/frame"
)

var (
	background = color.RGBA{A: 255}
	failedFill = color.RGBA{R: 96, G: 12, B: 12, A: 255}
	labelBar   = color.RGBA{A: 180}
)

const labelHeight = 18

// effectTile centers the processed frame on a black cell and labels it
func effectTile(cellW, cellH int, f *frame.Frame, kind effects.Kind) image.Image {
	tile := image.NewRGBA(image.Rect(0, 0, cellW, cellH))
	draw.Draw(tile, tile.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)

	img := f.Image()
	if f.Width > cellW || f.Height > cellH {
		img = f.Fit(min(cellW, cellH)).Image()
	}
	b := img.Bounds()
	offset := image.Pt((cellW-b.Dx())/2, (cellH-b.Dy())/2)
	draw.Draw(tile, b.Add(offset), img, b.Min, draw.Over)

	label(tile, kind.String(), color.White)
	return tile
}

// failedTile is a dark red cell with a cross and a FAILED caption
func failedTile(cellW, cellH int, kind effects.Kind) image.Image {
	tile := image.NewRGBA(image.Rect(0, 0, cellW, cellH))
	draw.Draw(tile, tile.Bounds(), image.NewUniform(failedFill), image.Point{}, draw.Src)

	cross := color.RGBA{R: 200, G: 60, B: 60, A: 255}
	steps := max(cellW, cellH)
	for i := 0; i < steps; i++ {
		x := i * cellW / steps
		y := i * cellH / steps
		tile.SetRGBA(x, y, cross)
		tile.SetRGBA(cellW-1-x, y, cross)
	}

	label(tile, "FAILED: "+kind.String(), color.White)
	return tile
}

// label draws text centered on a translucent bar along the bottom edge
func label(dst *image.RGBA, text string, c color.Color) {
	b := dst.Bounds()
	bar := image.Rect(b.Min.X, b.Max.Y-labelHeight, b.Max.X, b.Max.Y)
	draw.Draw(dst, bar, image.NewUniform(labelBar), image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
	}
	width := d.MeasureString(text).Ceil()
	x := b.Min.X + (b.Dx()-width)/2
	if x < b.Min.X+2 {
		x = b.Min.X + 2
	}
	d.Dot = fixed.P(x, b.Max.Y-5)
	d.DrawString(text)
}

// compose lays tiles out row-major on an n×n canvas
func compose(tiles []image.Image, n, cellW, cellH int) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, n*cellW, n*cellH))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
	for i, t := range tiles {
		if t == nil {
			continue
		}
		at := image.Pt((i%n)*cellW, (i/n)*cellH)
		draw.Draw(canvas, t.Bounds().Sub(t.Bounds().Min).Add(at), t, t.Bounds().Min, draw.Src)
	}
	return canvas
}
