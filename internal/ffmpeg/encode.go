package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
)

// EncodeSession streams raw RGB frames into an ffmpeg encoder process
type EncodeSession struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tail
	cancel context.CancelFunc
	output string

	frameSize int
	closed    atomic.Bool
}

// StartEncode launches ffmpeg reading rgb24 frames from stdin. The session
// outlives ctx only until Close or Abort is called.
func (e *Executor) StartEncode(ctx context.Context, opts EncodeOptions) (*EncodeSession, error) {
	if opts.Output == "" {
		return nil, fmt.Errorf("output path is required")
	}
	if opts.Width <= 0 || opts.Height <= 0 || opts.FPS <= 0 {
		return nil, fmt.Errorf("invalid encode geometry %dx%d@%.3f", opts.Width, opts.Height, opts.FPS)
	}

	args := append(e.baseArgs("error"), e.encodeArgs(opts)...)

	e.logger.Debug().
		Str("codec", opts.Codec).
		Str("output", opts.Output).
		Strs("args", args).
		Msg("starting encoder")

	// The encoder must survive per-chunk timeouts, so it gets its own lifetime
	encCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cmd := exec.CommandContext(encCtx, e.ffmpegPath, args...)
	stderr := newTail(maxStderrLines)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &EncodeSession{
		cmd:       cmd,
		stdin:     stdin,
		stderr:    stderr,
		cancel:    cancel,
		output:    opts.Output,
		frameSize: opts.Width * opts.Height * RawBytesPerPixel,
	}, nil
}

func (e *Executor) encodeArgs(opts EncodeOptions) []string {
	args := []string{
		"-f", "rawvideo",
		"-pix_fmt", RawPixFmt,
		"-s", fmt.Sprintf("%dx%d", opts.Width, opts.Height),
		"-r", fmt.Sprintf("%.6f", opts.FPS),
		"-i", "pipe:0",
		"-an",
	}
	args = append(args, NewFilterBuilder().PadEven(opts.Width, opts.Height).Args()...)
	if opts.Codec != "" {
		args = append(args, "-c:v", opts.Codec)
	}
	if opts.PixFmt != "" {
		args = append(args, "-pix_fmt", opts.PixFmt)
	}
	args = append(args, opts.ExtraArgs...)
	return append(args, opts.Output)
}

// WriteFrame writes one packed rgb24 frame. It may race with Abort, in
// which case the write fails with a closed-pipe error.
func (s *EncodeSession) WriteFrame(pix []byte) error {
	if len(pix) != s.frameSize {
		return fmt.Errorf("frame is %d bytes, encoder expects %d", len(pix), s.frameSize)
	}
	if s.closed.Load() {
		return fmt.Errorf("encoder already closed")
	}
	if _, err := s.stdin.Write(pix); err != nil {
		return &ExitError{Err: err, Stderr: s.stderr.String()}
	}
	return nil
}

// Close flushes the encoder and waits for ffmpeg to finish the container.
// If ctx ends first ffmpeg is killed, the partial file removed and the
// context error returned.
func (s *EncodeSession) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	defer s.cancel()
	closeErr := s.stdin.Close()

	waited := make(chan error, 1)
	go func() { waited <- s.cmd.Wait() }()

	var err error
	select {
	case err = <-waited:
	case <-ctx.Done():
		s.cancel()
		<-waited
		_ = os.Remove(s.output)
		return ctx.Err()
	}
	if err != nil {
		return &ExitError{Err: err, Stderr: s.stderr.String()}
	}
	if closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
		return fmt.Errorf("failed to close encoder input: %w", closeErr)
	}
	return nil
}

// Abort kills the encoder and removes whatever it wrote
func (s *EncodeSession) Abort() {
	if s.closed.CompareAndSwap(false, true) {
		s.cancel()
		_ = s.stdin.Close()
		_ = s.cmd.Wait()
	}
	_ = os.Remove(s.output)
}
