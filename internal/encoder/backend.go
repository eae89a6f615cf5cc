package encoder

import (
	"context"
	"sync"

	"github.com/keagan/artcannon/internal/ffmpeg"
)

// Sink receives packed rgb24 frames for one output file
type Sink interface {
	WriteFrame(pix []byte) error
	// Close finishes the container; it must give up when ctx ends
	Close(ctx context.Context) error
	Abort()
}

// Backend probes and opens encoder candidates
type Backend interface {
	Probe(ctx context.Context, c Candidate) error
	Open(ctx context.Context, c Candidate, path string, width, height int, fps float64) (Sink, error)
}

// FFmpegBackend encodes through an ffmpeg subprocess per output
type FFmpegBackend struct {
	exec *ffmpeg.Executor

	mu     sync.Mutex
	probed map[string]error
}

// NewFFmpegBackend wraps an executor. Probe results are cached for the
// lifetime of the backend.
func NewFFmpegBackend(exec *ffmpeg.Executor) *FFmpegBackend {
	return &FFmpegBackend{exec: exec, probed: make(map[string]error)}
}

// Probe runs a one-frame trial encode for the candidate
func (b *FFmpegBackend) Probe(ctx context.Context, c Candidate) error {
	b.mu.Lock()
	if err, ok := b.probed[c.Name]; ok {
		b.mu.Unlock()
		return err
	}
	b.mu.Unlock()

	err := b.exec.ProbeEncoder(ctx, c.Codec, c.PixFmt, c.Ext, c.Args)
	if ctx.Err() != nil {
		// Don't cache a verdict reached under cancellation
		return err
	}

	b.mu.Lock()
	b.probed[c.Name] = err
	b.mu.Unlock()
	return err
}

// Open starts an encoder process writing to path
func (b *FFmpegBackend) Open(ctx context.Context, c Candidate, path string, width, height int, fps float64) (Sink, error) {
	return b.exec.StartEncode(ctx, ffmpeg.EncodeOptions{
		Output:    path,
		Width:     width,
		Height:    height,
		FPS:       fps,
		Codec:     c.Codec,
		PixFmt:    c.PixFmt,
		ExtraArgs: c.Args,
	})
}
