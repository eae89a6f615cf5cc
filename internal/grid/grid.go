// Package grid renders a side-by-side comparison of several effects on one
// representative frame of a source.
package grid

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/ffmpeg"
	"github.com/keagan/artcannon/internal/frame"
	"github.com/keagan/artcannon/internal/media"
	"github.com/keagan/artcannon/internal/metrics"
)

// Decoder yields raw frames for a frame range of a source
type Decoder interface {
	DecodeRange(ctx context.Context, src media.Source, start, count int, opts ffmpeg.DecodeOptions) ([]*frame.Frame, error)
}

// Applier transforms one frame
type Applier interface {
	Apply(f *frame.Frame, spec effects.Spec) (*frame.Frame, error)
}

// Config controls cell geometry and scheduling
type Config struct {
	CellWidth   int           `yaml:"cell_width" env:"CELL_WIDTH"`
	CellHeight  int           `yaml:"cell_height" env:"CELL_HEIGHT"`
	Intensity   float64       `yaml:"intensity" env:"INTENSITY"`
	CellTimeout time.Duration `yaml:"cell_timeout" env:"CELL_TIMEOUT"`
	// Workers bounds concurrent cells; 0 means one per cell
	Workers int `yaml:"workers" env:"WORKERS"`
}

// DefaultConfig returns 320x240 cells at full intensity
func DefaultConfig() Config {
	return Config{
		CellWidth:   320,
		CellHeight:  240,
		Intensity:   1.0,
		CellTimeout: 2 * time.Minute,
	}
}

// Cell reports the outcome of one effect
type Cell struct {
	Kind    effects.Kind  `json:"kind"`
	OK      bool          `json:"ok"`
	Error   string        `json:"error,omitempty"`
	Reason  errs.Kind     `json:"reason,omitempty"`
	Elapsed time.Duration `json:"elapsed"`
}

// Report describes a built grid
type Report struct {
	Path  string `json:"path"`
	Cols  int    `json:"cols"`
	Rows  int    `json:"rows"`
	Cells []Cell `json:"cells"`
}

// Failed returns the cells that did not render
func (r Report) Failed() []Cell {
	var out []Cell
	for _, c := range r.Cells {
		if !c.OK {
			out = append(out, c)
		}
	}
	return out
}

// Builder composites comparison grids
type Builder struct {
	logger  zerolog.Logger
	config  Config
	decoder Decoder
	applier Applier
}

// NewBuilder creates a grid builder
func NewBuilder(logger zerolog.Logger, cfg Config, decoder Decoder, applier Applier) *Builder {
	defaults := DefaultConfig()
	if cfg.CellWidth <= 0 || cfg.CellHeight <= 0 {
		cfg.CellWidth, cfg.CellHeight = defaults.CellWidth, defaults.CellHeight
	}
	if cfg.CellTimeout <= 0 {
		cfg.CellTimeout = defaults.CellTimeout
	}
	return &Builder{
		logger:  logger.With().Str("component", "grid").Logger(),
		config:  cfg,
		decoder: decoder,
		applier: applier,
	}
}

// Build renders one cell per kind into an N×N PNG at outPath, where
// N = ceil(sqrt(len(kinds))). Cells run in parallel, each under its own
// timeout. A failed cell becomes a marked tile; Build only returns an
// error when every cell failed or the caller cancelled.
func (b *Builder) Build(ctx context.Context, src media.Source, kinds []effects.Kind, outPath string) (Report, error) {
	if len(kinds) == 0 {
		return Report{}, errs.Validationf("build_grid", "at least one effect is required")
	}
	for _, k := range kinds {
		if _, err := effects.Resolve(k, b.config.Intensity); err != nil {
			return Report{}, err
		}
	}
	if err := src.Validate(); err != nil {
		return Report{}, errs.Validation("build_grid", err)
	}

	n := int(math.Ceil(math.Sqrt(float64(len(kinds)))))
	report := Report{Path: outPath, Cols: n, Rows: n, Cells: make([]Cell, len(kinds))}
	tiles := make([]image.Image, len(kinds))

	logger := b.logger.With().Str("source", src.ID).Int("cells", len(kinds)).Logger()
	logger.Info().Msg("building comparison grid")

	var g errgroup.Group
	if b.config.Workers > 0 {
		g.SetLimit(b.config.Workers)
	}
	for i, kind := range kinds {
		i, kind := i, kind
		g.Go(func() error {
			started := time.Now()
			tile, err := b.renderCell(ctx, src, kind)
			cell := Cell{Kind: kind, OK: err == nil, Elapsed: time.Since(started)}
			if err != nil {
				cell.Error = err.Error()
				cell.Reason = errs.KindOf(err)
				tile = failedTile(b.config.CellWidth, b.config.CellHeight, kind)
				metrics.GridCellsTotal.WithLabelValues("failed").Inc()
				logger.Warn().Err(err).Str("kind", kind.String()).Msg("grid cell failed")
			} else {
				metrics.GridCellsTotal.WithLabelValues("ok").Inc()
			}
			report.Cells[i] = cell
			tiles[i] = tile
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, errs.Wrap(err, errs.KindCancelled, "build_grid")
	}
	if failed := report.Failed(); len(failed) == len(kinds) {
		return report, errs.New(failed[0].Reason, "build_grid",
			fmt.Errorf("all %d cells failed, first: %s", len(kinds), failed[0].Error))
	}

	canvas := compose(tiles, n, b.config.CellWidth, b.config.CellHeight)
	if err := writePNG(outPath, canvas); err != nil {
		return report, err
	}

	logger.Info().Str("path", outPath).Int("failed", len(report.Failed())).Msg("comparison grid written")
	return report, nil
}

// renderCell decodes the representative frame at cell resolution, applies
// the effect and labels the result
func (b *Builder) renderCell(ctx context.Context, src media.Source, kind effects.Kind) (image.Image, error) {
	cellCtx, cancel := context.WithTimeout(ctx, b.config.CellTimeout)
	defer cancel()

	type result struct {
		img image.Image
		err error
	}
	done := make(chan result, 1)
	go func() {
		var res result
		defer func() {
			if r := recover(); r != nil {
				b.logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("grid cell panicked")
				res = result{err: errs.Internal("render_cell", fmt.Errorf("panic: %v", r))}
			}
			done <- res
		}()
		res.img, res.err = b.render(cellCtx, src, kind)
	}()

	select {
	case res := <-done:
		return res.img, res.err
	case <-cellCtx.Done():
		if ctx.Err() != nil {
			return nil, errs.Wrap(ctx.Err(), errs.KindCancelled, "render_cell")
		}
		return nil, errs.Timeout("render_cell", fmt.Errorf("%s cell exceeded %s", kind, b.config.CellTimeout))
	}
}

func (b *Builder) render(ctx context.Context, src media.Source, kind effects.Kind) (image.Image, error) {
	w, h := fitInside(src.Width, src.Height, b.config.CellWidth, b.config.CellHeight)
	idx := src.SampleFrames(1)[0]

	frames, err := b.decoder.DecodeRange(ctx, src, idx, 1, ffmpeg.DecodeOptions{Width: w, Height: h})
	if err != nil {
		return nil, errs.Wrap(err, errs.KindDecode, "render_cell")
	}
	if len(frames) == 0 {
		return nil, errs.Decode("render_cell", fmt.Errorf("frame %d not decodable", idx))
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	out, err := b.applier.Apply(frames[0], effects.Spec{Kind: kind, Intensity: b.config.Intensity})
	if err != nil {
		return nil, errs.Wrap(err, errs.KindInternal, "render_cell")
	}
	return effectTile(b.config.CellWidth, b.config.CellHeight, out, kind), nil
}

// fitInside scales w×h to fit a cell, preserving aspect, with even sides
func fitInside(w, h, cellW, cellH int) (int, int) {
	scale := math.Min(float64(cellW)/float64(w), float64(cellH)/float64(h))
	fw := int(float64(w)*scale) &^ 1
	fh := int(float64(h)*scale) &^ 1
	if fw < 2 {
		fw = 2
	}
	if fh < 2 {
		fh = 2
	}
	return fw, fh
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create grid file: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode grid: %w", err)
	}
	return f.Close()
}
