// Package frame defines the raw pixel buffer passed between the decoder,
// the effect library and the encoder.
package frame

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/nfnt/resize"

	"github.com/keagan/artcannon/internal/errs"
)

// Supported channel layouts
const (
	Gray = 1
	RGB  = 3
	RGBA = 4
)

// Frame is an interleaved 8-bit pixel buffer, row-major, no padding
type Frame struct {
	Width    int
	Height   int
	Channels int
	BitDepth int
	Pix      []byte
}

// New allocates a zeroed 8-bit frame
func New(width, height, channels int) *Frame {
	return &Frame{
		Width:    width,
		Height:   height,
		Channels: channels,
		BitDepth: 8,
		Pix:      make([]byte, width*height*channels),
	}
}

// Validate rejects layouts the effect library cannot process
func (f *Frame) Validate() error {
	if f == nil {
		return errs.New(errs.KindUnsupportedFrameFormat, "validate_frame", fmt.Errorf("nil frame"))
	}
	if f.BitDepth != 8 {
		return errs.New(errs.KindUnsupportedFrameFormat, "validate_frame",
			fmt.Errorf("bit depth %d not supported", f.BitDepth))
	}
	switch f.Channels {
	case Gray, RGB, RGBA:
	default:
		return errs.New(errs.KindUnsupportedFrameFormat, "validate_frame",
			fmt.Errorf("%d channels not supported", f.Channels))
	}
	if f.Width <= 0 || f.Height <= 0 || len(f.Pix) != f.Width*f.Height*f.Channels {
		return errs.New(errs.KindUnsupportedFrameFormat, "validate_frame",
			fmt.Errorf("buffer of %d bytes does not match %dx%dx%d", len(f.Pix), f.Width, f.Height, f.Channels))
	}
	return nil
}

// Clone returns a deep copy
func (f *Frame) Clone() *Frame {
	out := *f
	out.Pix = make([]byte, len(f.Pix))
	copy(out.Pix, f.Pix)
	return &out
}

// Convert returns the frame in the requested channel layout. Gray is
// derived with Rec.601 luma weights; alpha is dropped or set opaque.
func (f *Frame) Convert(channels int) *Frame {
	if f.Channels == channels {
		return f.Clone()
	}
	out := New(f.Width, f.Height, channels)
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		var r, g, b byte
		src := f.Pix[i*f.Channels:]
		if f.Channels == Gray {
			r, g, b = src[0], src[0], src[0]
		} else {
			r, g, b = src[0], src[1], src[2]
		}
		dst := out.Pix[i*channels:]
		switch channels {
		case Gray:
			dst[0] = Luma(r, g, b)
		case RGB:
			dst[0], dst[1], dst[2] = r, g, b
		case RGBA:
			dst[0], dst[1], dst[2] = r, g, b
			if f.Channels == RGBA {
				dst[3] = src[3]
			} else {
				dst[3] = 255
			}
		}
	}
	return out
}

// ToRGB is shorthand for Convert(RGB)
func (f *Frame) ToRGB() *Frame {
	return f.Convert(RGB)
}

// Luma computes Rec.601 luminance
func Luma(r, g, b byte) byte {
	return byte((299*int(r) + 587*int(g) + 114*int(b) + 500) / 1000)
}

// Crop copies the rectangle (x, y, w, h) into a new frame
func (f *Frame) Crop(x, y, w, h int) (*Frame, error) {
	if x < 0 || y < 0 || w <= 0 || h <= 0 || x+w > f.Width || y+h > f.Height {
		return nil, errs.Validationf("crop_frame", "crop %dx%d+%d+%d outside %dx%d frame", w, h, x, y, f.Width, f.Height)
	}
	out := New(w, h, f.Channels)
	rowBytes := w * f.Channels
	for row := 0; row < h; row++ {
		srcOff := ((y+row)*f.Width + x) * f.Channels
		copy(out.Pix[row*rowBytes:(row+1)*rowBytes], f.Pix[srcOff:srcOff+rowBytes])
	}
	return out, nil
}

// Resize scales the frame with bilinear interpolation
func (f *Frame) Resize(width, height int) *Frame {
	if width == f.Width && height == f.Height {
		return f.Clone()
	}
	scaled := resize.Resize(uint(width), uint(height), f.Image(), resize.Bilinear)
	return FromImage(scaled).Convert(f.Channels)
}

// Fit scales the frame so its longest side is at most maxSide
func (f *Frame) Fit(maxSide int) *Frame {
	long := f.Width
	if f.Height > long {
		long = f.Height
	}
	if long <= maxSide {
		return f
	}
	w := f.Width * maxSide / long
	h := f.Height * maxSide / long
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return f.Resize(w, h)
}

// Image exposes the frame as an image.Image
func (f *Frame) Image() image.Image {
	switch f.Channels {
	case Gray:
		return &image.Gray{Pix: f.Pix, Stride: f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}
	case RGBA:
		return &image.NRGBA{Pix: f.Pix, Stride: f.Width * 4, Rect: image.Rect(0, 0, f.Width, f.Height)}
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	n := f.Width * f.Height
	for i := 0; i < n; i++ {
		img.Pix[i*4] = f.Pix[i*3]
		img.Pix[i*4+1] = f.Pix[i*3+1]
		img.Pix[i*4+2] = f.Pix[i*3+2]
		img.Pix[i*4+3] = 255
	}
	return img
}

// FromImage converts any image into an RGB frame
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || b.Min != (image.Point{}) {
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	out := New(b.Dx(), b.Dy(), RGB)
	n := out.Width * out.Height
	for i := 0; i < n; i++ {
		off := (i/out.Width)*rgba.Stride + (i%out.Width)*4
		out.Pix[i*3] = rgba.Pix[off]
		out.Pix[i*3+1] = rgba.Pix[off+1]
		out.Pix[i*3+2] = rgba.Pix[off+2]
	}
	return out
}

// Solid returns an RGB frame filled with one color
func Solid(width, height int, c color.RGBA) *Frame {
	out := New(width, height, RGB)
	for i := 0; i < width*height; i++ {
		out.Pix[i*3] = c.R
		out.Pix[i*3+1] = c.G
		out.Pix[i*3+2] = c.B
	}
	return out
}
