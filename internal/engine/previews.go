package engine

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/ffmpeg"
	"github.com/keagan/artcannon/internal/media"
	"github.com/keagan/artcannon/pkg/util"
)

// Previews writes n evenly spaced thumbnails of the source as JPEG files
// under <output>/previews and returns their paths. Frames that fail to
// decode are skipped; the call fails only when none could be written.
func (e *Engine) Previews(ctx context.Context, src media.Source, n int) ([]string, error) {
	if err := src.Validate(); err != nil {
		return nil, errs.Validation("previews", err)
	}
	if n <= 0 {
		n = e.config.PreviewCount
	}
	if n <= 0 {
		n = DefaultConfig().PreviewCount
	}
	w, h := e.config.PreviewWidth, e.config.PreviewHeight
	if w <= 0 || h <= 0 {
		w, h = DefaultConfig().PreviewWidth, DefaultConfig().PreviewHeight
	}
	quality := e.config.PreviewQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}

	dir := filepath.Join(e.config.OutputDir, "previews")
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create preview dir: %w", err)
	}

	logger := e.logger.With().Str("source", src.ID).Logger()
	var paths []string
	for i, idx := range src.SampleFrames(n) {
		if err := ctx.Err(); err != nil {
			return paths, errs.Wrap(err, errs.KindCancelled, "previews")
		}
		frames, err := e.decoder.DecodeRange(ctx, src, idx, 1, ffmpeg.DecodeOptions{Width: w, Height: h})
		if err != nil || len(frames) == 0 {
			logger.Warn().Err(err).Int("frame", idx).Msg("preview frame not decodable, skipping")
			continue
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_preview_%d.jpg", src.ID, i+1))
		if err := writeJPEG(path, frames[0].Image(), quality); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to write preview")
			continue
		}
		paths = append(paths, path)
	}

	if len(paths) == 0 {
		return nil, errs.Decode("previews", fmt.Errorf("no preview frames could be extracted from %s", src.Path))
	}
	logger.Debug().Int("count", len(paths)).Msg("previews written")
	return paths, nil
}

func writeJPEG(path string, img image.Image, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		util.CleanupFiles(path)
		return err
	}
	return f.Close()
}
