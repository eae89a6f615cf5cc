package grid

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/ffmpeg"
	"github.com/keagan/artcannon/internal/frame"
	"github.com/keagan/artcannon/internal/media"
)

type solidDecoder struct{}

func (solidDecoder) DecodeRange(ctx context.Context, src media.Source, start, count int, opts ffmpeg.DecodeOptions) ([]*frame.Frame, error) {
	return []*frame.Frame{frame.Solid(opts.Width, opts.Height, color.RGBA{R: 180, G: 140, B: 90, A: 255})}, nil
}

// selectiveApplier fails or stalls for chosen kinds and runs the real
// library otherwise
type selectiveApplier struct {
	fail  map[effects.Kind]bool
	stall map[effects.Kind]bool
}

func (a selectiveApplier) Apply(f *frame.Frame, spec effects.Spec) (*frame.Frame, error) {
	if a.fail[spec.Kind] {
		return nil, errors.New("recipe exploded")
	}
	if a.stall[spec.Kind] {
		time.Sleep(time.Second)
	}
	return effects.Apply(f, spec)
}

func testSource() media.Source {
	return media.Source{
		ID:         "src",
		Path:       "/videos/clip.mp4",
		Width:      640,
		Height:     360,
		FrameRate:  24,
		FrameCount: 72,
		Duration:   3 * time.Second,
	}
}

func readPNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return img
}

func rgbaAt(img image.Image, x, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestBuildWithOneFailingCell(t *testing.T) {
	out := filepath.Join(t.TempDir(), "grid.png")
	applier := selectiveApplier{fail: map[effects.Kind]bool{effects.Watercolor: true}}
	b := NewBuilder(zerolog.Nop(), DefaultConfig(), solidDecoder{}, applier)

	kinds := []effects.Kind{effects.Pencil, effects.Cartoon, effects.VintageFilm, effects.Watercolor}
	report, err := b.Build(context.Background(), testSource(), kinds, out)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Cols)
	assert.Equal(t, 2, report.Rows)
	require.Len(t, report.Cells, 4)
	for i, cell := range report.Cells {
		assert.Equal(t, kinds[i], cell.Kind)
	}
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, effects.Watercolor, failed[0].Kind)
	assert.Equal(t, errs.KindInternal, failed[0].Reason)
	assert.Contains(t, failed[0].Error, "recipe exploded")

	img := readPNG(t, out)
	assert.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds())

	// Letterbox above the 320x180 frame in the first cell
	assert.Equal(t, color.RGBA{A: 255}, rgbaAt(img, 5, 5))
	// Failed tile in the bottom-right cell
	assert.Equal(t, failedFill, rgbaAt(img, 320+160, 240+10))
}

func TestBuildLayout(t *testing.T) {
	b := NewBuilder(zerolog.Nop(), DefaultConfig(), solidDecoder{}, effects.Library{})

	out := filepath.Join(t.TempDir(), "grid.png")
	report, err := b.Build(context.Background(), testSource(), []effects.Kind{effects.Pencil, effects.Cartoon, effects.Anime}, out)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Cols)
	assert.Empty(t, report.Failed())

	out = filepath.Join(t.TempDir(), "single.png")
	report, err = b.Build(context.Background(), testSource(), []effects.Kind{effects.VintageFilm}, out)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Cols)
	assert.Equal(t, image.Rect(0, 0, 320, 240), readPNG(t, out).Bounds())
}

func TestBuildAllCellsFailed(t *testing.T) {
	out := filepath.Join(t.TempDir(), "grid.png")
	applier := selectiveApplier{fail: map[effects.Kind]bool{effects.Pencil: true, effects.Cartoon: true}}
	b := NewBuilder(zerolog.Nop(), DefaultConfig(), solidDecoder{}, applier)

	report, err := b.Build(context.Background(), testSource(), []effects.Kind{effects.Pencil, effects.Cartoon}, out)
	require.Error(t, err)
	assert.Len(t, report.Failed(), 2)
	assert.NoFileExists(t, out)
}

func TestCellTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CellTimeout = 50 * time.Millisecond
	cfg.Workers = 1
	applier := selectiveApplier{stall: map[effects.Kind]bool{effects.Anime: true}}
	b := NewBuilder(zerolog.Nop(), cfg, solidDecoder{}, applier)

	out := filepath.Join(t.TempDir(), "grid.png")
	report, err := b.Build(context.Background(), testSource(), []effects.Kind{effects.Anime, effects.VintageFilm}, out)
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, effects.Anime, failed[0].Kind)
	assert.Equal(t, errs.KindTimeout, failed[0].Reason)
}

func TestBuildValidation(t *testing.T) {
	b := NewBuilder(zerolog.Nop(), DefaultConfig(), solidDecoder{}, effects.Library{})
	out := filepath.Join(t.TempDir(), "grid.png")

	_, err := b.Build(context.Background(), testSource(), nil, out)
	assert.True(t, errs.Is(err, errs.KindValidation))

	_, err = b.Build(context.Background(), testSource(), []effects.Kind{"glitter"}, out)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestBuildCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(zerolog.Nop(), DefaultConfig(), solidDecoder{}, effects.Library{})
	_, err := b.Build(ctx, testSource(), []effects.Kind{effects.Pencil}, filepath.Join(t.TempDir(), "grid.png"))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindCancelled))
}

func TestFitInside(t *testing.T) {
	w, h := fitInside(640, 360, 320, 240)
	assert.Equal(t, 320, w)
	assert.Equal(t, 180, h)

	w, h = fitInside(1080, 1920, 320, 240)
	assert.Equal(t, 134, w)
	assert.Equal(t, 240, h)
}
