package effects

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/media"
)

// Kind identifies an artistic effect
type Kind string

const (
	Pencil      Kind = "pencil"
	Cartoon     Kind = "cartoon"
	OilPainting Kind = "oil_painting"
	Watercolor  Kind = "watercolor"
	Anime       Kind = "anime"
	VintageFilm Kind = "vintage_film"
)

// Kinds lists every supported effect in display order
func Kinds() []Kind {
	return []Kind{Pencil, Cartoon, OilPainting, Watercolor, Anime, VintageFilm}
}

// ParseKind accepts the canonical names plus a few aliases ("oil", "vintage")
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	switch k {
	case "oil":
		return OilPainting, nil
	case "vintage":
		return VintageFilm, nil
	}
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", errs.Validationf("parse_kind", "unknown effect kind %q", s)
}

func (k Kind) String() string { return string(k) }

// Rect is a crop rectangle in absolute source pixels
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Trim is a [Start, End) window in seconds
type Trim struct {
	Start float64 `json:"start" yaml:"start"`
	End   float64 `json:"end" yaml:"end"`
}

// Size is a resize target
type Size struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Spec describes what to do to every frame of a job
type Spec struct {
	Kind      Kind    `json:"kind" yaml:"kind"`
	Intensity float64 `json:"intensity" yaml:"intensity"`
	Crop      *Rect   `json:"crop,omitempty" yaml:"crop,omitempty"`
	Trim      *Trim   `json:"trim,omitempty" yaml:"trim,omitempty"`
	Resize    *Size   `json:"resize,omitempty" yaml:"resize,omitempty"`
}

// Validate checks the spec against the probed source. Out-of-range
// values are rejected, never clamped.
func (s Spec) Validate(src media.Source) error {
	if _, err := Resolve(s.Kind, s.Intensity); err != nil {
		return err
	}

	if c := s.Crop; c != nil {
		if c.X < 0 || c.Y < 0 || c.Width <= 0 || c.Height <= 0 {
			return errs.Validationf("validate_spec", "crop %dx%d+%d+%d must have non-negative origin and positive size",
				c.Width, c.Height, c.X, c.Y)
		}
		if c.X+c.Width > src.Width || c.Y+c.Height > src.Height {
			return errs.Validationf("validate_spec", "crop %dx%d+%d+%d exceeds source bounds %dx%d",
				c.Width, c.Height, c.X, c.Y, src.Width, src.Height)
		}
	}

	if t := s.Trim; t != nil {
		duration := src.Duration.Seconds()
		if math.IsNaN(t.Start) || math.IsNaN(t.End) || t.Start < 0 || t.Start >= t.End || t.End > duration+1e-6 {
			return errs.Validationf("validate_spec", "trim [%.3f, %.3f) must satisfy 0 <= start < end <= %.3f",
				t.Start, t.End, duration)
		}
	}

	if r := s.Resize; r != nil {
		if r.Width <= 0 || r.Height <= 0 || r.Width%2 != 0 || r.Height%2 != 0 {
			return errs.Validationf("validate_spec", "resize %dx%d must be positive and even", r.Width, r.Height)
		}
	}

	return nil
}

// OutputSize returns the frame dimensions the spec produces for src
func (s Spec) OutputSize(src media.Source) (int, int) {
	switch {
	case s.Resize != nil:
		return s.Resize.Width, s.Resize.Height
	case s.Crop != nil:
		return s.Crop.Width, s.Crop.Height
	}
	return src.Width, src.Height
}

// FrameRange returns the [start, end) source frame window selected by the trim
func (s Spec) FrameRange(src media.Source) (int, int) {
	if s.Trim == nil {
		return 0, src.FrameCount
	}
	start := src.FrameAt(seconds(s.Trim.Start))
	end := src.FrameAt(seconds(s.Trim.End))
	if start > end {
		start = end
	}
	return start, end
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (s Spec) String() string {
	return fmt.Sprintf("%s@%.2f", s.Kind, s.Intensity)
}
