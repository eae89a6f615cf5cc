// Package analyzer samples a handful of frames from a source and recommends
// effects from simple image statistics. It is a heuristic, not a model: the
// mapping from metrics to effects is the rule table in rules.go.
package analyzer

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/ffmpeg"
	"github.com/keagan/artcannon/internal/frame"
	"github.com/keagan/artcannon/internal/media"
)

const (
	DefaultSamples = 8
	// Samples are decoded at most this wide; statistics do not need more
	DefaultSampleWidth = 160
)

// Decoder yields raw frames for a frame range of a source
type Decoder interface {
	DecodeRange(ctx context.Context, src media.Source, start, count int, opts ffmpeg.DecodeOptions) ([]*frame.Frame, error)
}

// Metrics are the statistics the rule table looks at
type Metrics struct {
	// Brightness is mean luminance in [0, 255]
	Brightness float64 `json:"brightness"`
	// Motion is mean absolute luminance change between consecutive
	// samples, normalized to [0, 1]
	Motion float64 `json:"motion"`
	// Diversity is the mean count of distinct 3-bit-per-channel color
	// buckets per sample, out of 512
	Diversity float64 `json:"diversity"`
	Samples   int     `json:"samples"`
}

// Result is an ordered recommendation, best first
type Result struct {
	Metrics         Metrics          `json:"metrics"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Top returns the highest-confidence recommendation
func (r Result) Top() (Recommendation, bool) {
	if len(r.Recommendations) == 0 {
		return Recommendation{}, false
	}
	return r.Recommendations[0], true
}

// Analyzer computes Metrics from sampled frames
type Analyzer struct {
	logger      zerolog.Logger
	decoder     Decoder
	samples     int
	sampleWidth int
	rules       []Rule
}

// Option configures an Analyzer
type Option func(*Analyzer)

// WithSamples sets how many frames are sampled
func WithSamples(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.samples = n
		}
	}
}

// WithSampleWidth caps the decoded sample width; 0 decodes at source size
func WithSampleWidth(w int) Option {
	return func(a *Analyzer) { a.sampleWidth = w }
}

// WithRules replaces the default rule table
func WithRules(rules []Rule) Option {
	return func(a *Analyzer) { a.rules = rules }
}

// New creates an analyzer over the given decoder
func New(logger zerolog.Logger, decoder Decoder, opts ...Option) *Analyzer {
	a := &Analyzer{
		logger:      logger.With().Str("component", "analyzer").Logger(),
		decoder:     decoder,
		samples:     DefaultSamples,
		sampleWidth: DefaultSampleWidth,
		rules:       DefaultRules(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze samples the source and returns ranked recommendations. Only the
// sampled frames are decoded. Samples that fail to decode are skipped; the
// call fails only when none decode.
func (a *Analyzer) Analyze(ctx context.Context, src media.Source) (Result, error) {
	if err := src.Validate(); err != nil {
		return Result{}, errs.Validation("analyze", err)
	}

	opts := a.decodeOptions(src)
	var lumas [][]byte
	var brightness, diversity float64

	for _, idx := range src.SampleFrames(a.samples) {
		if err := ctx.Err(); err != nil {
			return Result{}, errs.Wrap(err, errs.KindCancelled, "analyze")
		}
		frames, err := a.decoder.DecodeRange(ctx, src, idx, 1, opts)
		if err != nil || len(frames) == 0 {
			a.logger.Warn().Err(err).Int("frame", idx).Msg("sample decode failed, skipping")
			continue
		}
		f := frames[0].ToRGB()

		luma := lumaPlane(f)
		brightness += mean(luma)
		diversity += float64(colorBuckets(f))
		lumas = append(lumas, luma)
	}

	if len(lumas) == 0 {
		return Result{}, errs.Decode("analyze", fmt.Errorf("no sample frames could be decoded from %s", src.Path))
	}

	m := Metrics{
		Brightness: brightness / float64(len(lumas)),
		Motion:     motion(lumas),
		Diversity:  diversity / float64(len(lumas)),
		Samples:    len(lumas),
	}

	recs := Recommend(m, a.rules)
	a.logger.Debug().
		Str("source", src.ID).
		Float64("brightness", m.Brightness).
		Float64("motion", m.Motion).
		Float64("diversity", m.Diversity).
		Int("samples", m.Samples).
		Int("recommendations", len(recs)).
		Msg("content analysis complete")

	return Result{Metrics: m, Recommendations: recs}, nil
}

func (a *Analyzer) decodeOptions(src media.Source) ffmpeg.DecodeOptions {
	if a.sampleWidth <= 0 || src.Width <= a.sampleWidth {
		return ffmpeg.DecodeOptions{}
	}
	h := int(math.Round(float64(src.Height) * float64(a.sampleWidth) / float64(src.Width)))
	if h < 2 {
		h = 2
	}
	return ffmpeg.DecodeOptions{Width: a.sampleWidth &^ 1, Height: h &^ 1}
}

func lumaPlane(f *frame.Frame) []byte {
	out := make([]byte, f.Width*f.Height)
	for i := range out {
		out[i] = frame.Luma(f.Pix[i*3], f.Pix[i*3+1], f.Pix[i*3+2])
	}
	return out
}

func mean(plane []byte) float64 {
	if len(plane) == 0 {
		return 0
	}
	var sum int
	for _, v := range plane {
		sum += int(v)
	}
	return float64(sum) / float64(len(plane))
}

// colorBuckets counts distinct colors after keeping the top 3 bits of each
// channel
func colorBuckets(f *frame.Frame) int {
	var seen [512]bool
	n := 0
	for i := 0; i+2 < len(f.Pix); i += 3 {
		b := int(f.Pix[i]>>5)<<6 | int(f.Pix[i+1]>>5)<<3 | int(f.Pix[i+2]>>5)
		if !seen[b] {
			seen[b] = true
			n++
		}
	}
	return n
}

// motion averages the normalized mean absolute difference of consecutive
// luma planes. Planes of different sizes are skipped.
func motion(lumas [][]byte) float64 {
	var total float64
	pairs := 0
	for i := 1; i < len(lumas); i++ {
		prev, cur := lumas[i-1], lumas[i]
		if len(prev) != len(cur) || len(cur) == 0 {
			continue
		}
		var diff int
		for j := range cur {
			d := int(cur[j]) - int(prev[j])
			if d < 0 {
				d = -d
			}
			diff += d
		}
		total += float64(diff) / float64(len(cur)) / 255
		pairs++
	}
	if pairs == 0 {
		return 0
	}
	return total / float64(pairs)
}
