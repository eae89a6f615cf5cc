package effects

import (
	"math"

	"github.com/keagan/artcannon/internal/errs"
)

// Params is the closed set of per-kind parameter structs. Only this
// package can implement it.
type Params interface {
	Kind() Kind
	params()
}

// PencilParams drives the dodge-blend sketch
type PencilParams struct {
	BlurRadius  float64 // 2..8, fractional radii blend the neighbouring blurs
	WorkingMax  int     // long side of the blur working copy
	EdgeOverlay bool    // darken Sobel edges on top of the sketch
}

// CartoonParams drives smoothing, quantization and stroke compositing
type CartoonParams struct {
	SmoothRadius  int
	SmoothPasses  int
	Colors        int
	EdgeThreshold int
}

// OilParams drives the Kuwahara pass and the brush histogram
type OilParams struct {
	BrushRadius int
	Levels      int
}

// WatercolorParams drives the flood smoothing and the paper wash
type WatercolorParams struct {
	SmoothRadius int
	SmoothPasses int
	EdgeWash     float64
	PaperTone    float64
}

// AnimeParams drives flat-color quantization and bold outlines
type AnimeParams struct {
	SmoothRadius  int
	Colors        int
	EdgeThreshold int
	Contrast      float64
	Brightness    float64
}

// VintageParams drives the sepia grade, grain and vignette
type VintageParams struct {
	Grain       int
	Vignette    float64
	VignetteMin float64
}

func (PencilParams) Kind() Kind     { return Pencil }
func (CartoonParams) Kind() Kind    { return Cartoon }
func (OilParams) Kind() Kind        { return OilPainting }
func (WatercolorParams) Kind() Kind { return Watercolor }
func (AnimeParams) Kind() Kind      { return Anime }
func (VintageParams) Kind() Kind    { return VintageFilm }

func (PencilParams) params()     {}
func (CartoonParams) params()    {}
func (OilParams) params()        {}
func (WatercolorParams) params() {}
func (AnimeParams) params()      {}
func (VintageParams) params()    {}

// Resolve maps a kind and intensity onto its parameter struct. Integer
// parameters such as palette size and brush radius are fixed per kind;
// everything intensity drives is continuous so neighbouring intensities
// render neighbouring frames.
func Resolve(kind Kind, intensity float64) (Params, error) {
	if math.IsNaN(intensity) || intensity < 0 || intensity > 1 {
		return nil, errs.Validationf("resolve_params", "intensity %v outside [0, 1]", intensity)
	}

	switch kind {
	case Pencil:
		return PencilParams{BlurRadius: 2 + 6*intensity, WorkingMax: 720, EdgeOverlay: true}, nil
	case Cartoon:
		return CartoonParams{SmoothRadius: 2, SmoothPasses: 2, Colors: 8, EdgeThreshold: 90}, nil
	case OilPainting:
		return OilParams{BrushRadius: 5, Levels: 20}, nil
	case Watercolor:
		return WatercolorParams{SmoothRadius: 3, SmoothPasses: 3, EdgeWash: 0.15 + 0.3*intensity, PaperTone: 0.06 + 0.12*intensity}, nil
	case Anime:
		return AnimeParams{SmoothRadius: 3, Colors: 7, EdgeThreshold: 70, Contrast: 1 + 0.2*intensity, Brightness: 10 * intensity}, nil
	case VintageFilm:
		return VintageParams{Grain: 50, Vignette: 0.15 + 0.3*intensity, VignetteMin: 0.4}, nil
	}
	return nil, errs.Validationf("resolve_params", "unknown effect kind %q", kind)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
