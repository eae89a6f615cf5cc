package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/keagan/artcannon/internal/frame"
	"github.com/keagan/artcannon/internal/media"
	"github.com/keagan/artcannon/pkg/util"
)

// DecodeRange decodes count frames starting at frame index start. Seeking
// is by timestamp, so the first frame returned is the one presented at
// start/fps. Fewer frames than requested means the stream ended early.
func (e *Executor) DecodeRange(ctx context.Context, src media.Source, start, count int, opts DecodeOptions) ([]*frame.Frame, error) {
	if count <= 0 {
		return nil, nil
	}
	if src.FrameRate <= 0 {
		return nil, fmt.Errorf("source %s has no frame rate", src.Path)
	}

	width, height := src.Width, src.Height
	fb := NewFilterBuilder()
	if opts.Width > 0 && opts.Height > 0 {
		width, height = opts.Width, opts.Height
		fb.Scale(width, height)
	}

	args := e.baseArgs("error")
	if start > 0 {
		args = append(args, "-ss", seekPoint(src, start))
	}
	args = append(args, "-i", src.Path, "-frames:v", fmt.Sprintf("%d", count), "-an")
	args = append(args, fb.Args()...)
	args = append(args, "-f", "rawvideo", "-pix_fmt", RawPixFmt, "pipe:1")

	e.logger.Debug().
		Str("input", src.Path).
		Int("start", start).
		Int("count", count).
		Msg("decoding frame range")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)
	stderr := newTail(maxStderrLines)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	frameSize := width * height * RawBytesPerPixel
	frames := make([]*frame.Frame, 0, count)
	var readErr error
	for len(frames) < count {
		f := frame.New(width, height, frame.RGB)
		if _, err := io.ReadFull(stdout, f.Pix); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				readErr = err
			}
			break
		}
		frames = append(frames, f)
	}
	// Drain so ffmpeg is not blocked on a full pipe before Wait
	_, _ = io.Copy(io.Discard, stdout)

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read frames: %w", readErr)
	}
	if waitErr != nil {
		return nil, &ExitError{Err: waitErr, Stderr: stderr.String()}
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames decoded at %d (frame size %d bytes)", start, frameSize)
	}
	return frames, nil
}

// seekPoint is the -ss value that makes frame start the first one kept.
// Accurate seeking drops every frame presented before the seek point, so
// it sits half a frame early to survive timestamp rounding.
func seekPoint(src media.Source, start int) string {
	return util.FormatDuration(src.SeekTime(start))
}
