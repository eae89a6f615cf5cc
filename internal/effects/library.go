// Package effects implements the per-frame artistic transforms. Every
// function here is pure: the same frame and spec always give the same
// output, and nothing touches disk or shared state.
package effects

import (
	"fmt"

	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/frame"
)

// Library applies effect specs to frames. The zero value is ready to use.
type Library struct{}

// Apply runs crop, then resize, then the effect recipe, and blends the
// result with the geometrically transformed input by spec.Intensity.
// The output keeps the input's channel layout.
func (Library) Apply(f *frame.Frame, spec Spec) (*frame.Frame, error) {
	return Apply(f, spec)
}

// Apply is the package-level form of Library.Apply
func Apply(f *frame.Frame, spec Spec) (*frame.Frame, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	params, err := Resolve(spec.Kind, spec.Intensity)
	if err != nil {
		return nil, err
	}

	base := f
	if c := spec.Crop; c != nil {
		if base, err = base.Crop(c.X, c.Y, c.Width, c.Height); err != nil {
			return nil, err
		}
	}
	if r := spec.Resize; r != nil {
		base = base.Resize(r.Width, r.Height)
	}

	rgb := base.ToRGB()
	effected, err := Render(rgb, params)
	if err != nil {
		return nil, err
	}
	out := blend(rgb, effected, spec.Intensity)

	switch base.Channels {
	case frame.Gray:
		return out.Convert(frame.Gray), nil
	case frame.RGBA:
		withAlpha := out.Convert(frame.RGBA)
		for i := 3; i < len(withAlpha.Pix); i += 4 {
			withAlpha.Pix[i] = base.Pix[i]
		}
		return withAlpha, nil
	}
	return out, nil
}

// Render runs a recipe on an RGB frame at full strength
func Render(rgb *frame.Frame, params Params) (*frame.Frame, error) {
	if rgb.Channels != frame.RGB {
		return nil, errs.New(errs.KindUnsupportedFrameFormat, "render",
			fmt.Errorf("recipes need 3 channels, got %d", rgb.Channels))
	}

	switch p := params.(type) {
	case PencilParams:
		return pencil(rgb, p), nil
	case CartoonParams:
		return cartoon(rgb, p), nil
	case OilParams:
		return oilPainting(rgb, p), nil
	case WatercolorParams:
		return watercolor(rgb, p), nil
	case AnimeParams:
		return anime(rgb, p), nil
	case VintageParams:
		return vintageFilm(rgb, p), nil
	}
	return nil, errs.Internal("render", fmt.Errorf("unhandled params %T", params))
}
