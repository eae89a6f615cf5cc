package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/frame"
	"github.com/keagan/artcannon/internal/metrics"
)

// ResourceChecker reports disk or memory exhaustion before an encoder is
// opened
type ResourceChecker interface {
	CheckDisk(ctx context.Context, path string, minFree uint64) error
	CheckMemory(ctx context.Context, minAvailable uint64) error
}

// Options tunes writer safety checks
type Options struct {
	// MinFreeDisk refuses to open when the output filesystem has less free space
	MinFreeDisk uint64
	// MinFreeMemory refuses to open when less memory is available
	MinFreeMemory uint64
	// MinOutputBytes fails Finalize when the finished file is smaller
	MinOutputBytes int64
	// Verify, when set, must accept the finished file
	Verify func(ctx context.Context, path string) error
}

type writerState int

const (
	stateIdle writerState = iota
	stateOpen
	stateDone
)

// Writer is a single-use frame writer with codec fallback. Frames come
// from one goroutine; Abort may be called from any other.
type Writer struct {
	logger     zerolog.Logger
	backend    Backend
	candidates []Candidate
	resources  ResourceChecker
	opts       Options

	mu        sync.Mutex
	state     writerState
	sink      Sink
	candidate Candidate
	path      string
	width     int
	height    int
	frames    int
}

// NewWriter creates a writer over the ranked candidates. resources may be nil.
func NewWriter(logger zerolog.Logger, backend Backend, candidates []Candidate, resources ResourceChecker, opts Options) *Writer {
	if len(candidates) == 0 {
		candidates = DefaultCandidates()
	}
	return &Writer{
		logger:     logger.With().Str("component", "encoder").Logger(),
		backend:    backend,
		candidates: candidates,
		resources:  resources,
		opts:       opts,
	}
}

// Open negotiates the first usable candidate. Any file already sitting at
// path, or at path with a candidate's extension, is removed first.
func (w *Writer) Open(ctx context.Context, path string, width, height int, fps float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != stateIdle {
		return errs.Internal("open_writer", fmt.Errorf("writer already opened"))
	}
	if width <= 0 || height <= 0 || fps <= 0 {
		return errs.Validationf("open_writer", "invalid output geometry %dx%d@%.3f", width, height, fps)
	}

	w.removeStale(path)

	if w.resources != nil {
		if err := w.resources.CheckDisk(ctx, filepath.Dir(path), w.opts.MinFreeDisk); err != nil {
			return err
		}
		if err := w.resources.CheckMemory(ctx, w.opts.MinFreeMemory); err != nil {
			return err
		}
	}

	var tried []string
	var lastErr error
	for _, c := range w.candidates {
		if err := ctx.Err(); err != nil {
			return errs.Wrap(err, errs.KindCancelled, "open_writer")
		}

		out := c.OutputPath(path)
		if err := w.backend.Probe(ctx, c); err != nil {
			w.reject(c, "probe", err)
			tried, lastErr = append(tried, c.Name), err
			continue
		}
		sink, err := w.backend.Open(ctx, c, out, width, height, fps)
		if err != nil {
			w.reject(c, "open", err)
			tried, lastErr = append(tried, c.Name), err
			_ = os.Remove(out)
			continue
		}

		w.state = stateOpen
		w.sink = sink
		w.candidate = c
		w.path = out
		w.width, w.height = width, height

		w.logger.Info().
			Str("candidate", c.Name).
			Str("output", out).
			Int("width", width).
			Int("height", height).
			Float64("fps", fps).
			Msg("encoder opened")
		return nil
	}

	return errs.New(errs.KindNoAvailableEncoder, "open_writer",
		fmt.Errorf("tried %s: %w", strings.Join(tried, ", "), lastErr))
}

func (w *Writer) reject(c Candidate, stage string, err error) {
	metrics.EncoderFallbacksTotal.WithLabelValues(c.Name).Inc()
	w.logger.Warn().
		Err(err).
		Str("candidate", c.Name).
		Str("stage", stage).
		Msg("encoder candidate unavailable, falling back")
}

func (w *Writer) removeStale(path string) {
	seen := map[string]bool{}
	for _, p := range append([]string{path}, candidatePaths(path, w.candidates)...) {
		if seen[p] {
			continue
		}
		seen[p] = true
		if err := os.Remove(p); err == nil {
			w.logger.Debug().Str("path", p).Msg("removed stale output")
		}
	}
}

func candidatePaths(path string, candidates []Candidate) []string {
	paths := make([]string, 0, len(candidates))
	for _, c := range candidates {
		paths = append(paths, c.OutputPath(path))
	}
	return paths
}

// Write appends one frame. Gray and RGBA frames are converted to RGB;
// anything else, or a frame of the wrong size, is rejected.
func (w *Writer) Write(f *frame.Frame) error {
	w.mu.Lock()
	sink, open := w.sink, w.state == stateOpen
	w.mu.Unlock()
	if !open {
		return errs.Internal("write_frame", fmt.Errorf("writer not open"))
	}
	if f == nil || f.BitDepth != 8 {
		return errs.New(errs.KindIncompatibleFrameFormat, "write_frame", fmt.Errorf("only 8-bit frames can be encoded"))
	}
	if f.Width != w.width || f.Height != w.height {
		return errs.New(errs.KindIncompatibleFrameFormat, "write_frame",
			fmt.Errorf("frame is %dx%d, encoder negotiated %dx%d", f.Width, f.Height, w.width, w.height))
	}

	switch f.Channels {
	case frame.RGB:
	case frame.Gray, frame.RGBA:
		f = f.ToRGB()
	default:
		return errs.New(errs.KindIncompatibleFrameFormat, "write_frame",
			fmt.Errorf("%d-channel frames cannot be encoded", f.Channels))
	}
	if len(f.Pix) != w.width*w.height*frame.RGB {
		return errs.New(errs.KindIncompatibleFrameFormat, "write_frame", fmt.Errorf("short frame buffer"))
	}

	if err := sink.WriteFrame(f.Pix); err != nil {
		return classify("write_frame", err)
	}
	w.mu.Lock()
	w.frames++
	w.mu.Unlock()
	return nil
}

// Finalize flushes and closes the encoder and returns the output path
func (w *Writer) Finalize(ctx context.Context) (string, error) {
	w.mu.Lock()
	if w.state != stateOpen {
		w.mu.Unlock()
		return "", errs.Internal("finalize", fmt.Errorf("writer not open"))
	}
	w.state = stateDone
	w.mu.Unlock()

	if err := w.sink.Close(ctx); err != nil {
		_ = os.Remove(w.path)
		if ctx.Err() != nil {
			return "", errs.Timeout("finalize", fmt.Errorf("encoder did not finish: %w", err))
		}
		return "", classify("finalize", err)
	}

	stat, err := os.Stat(w.path)
	if err != nil {
		return "", errs.Encode("finalize", fmt.Errorf("output missing after close: %w", err))
	}
	if stat.Size() < w.opts.MinOutputBytes {
		_ = os.Remove(w.path)
		return "", errs.Encode("finalize",
			fmt.Errorf("output is %d bytes, below minimum %d", stat.Size(), w.opts.MinOutputBytes))
	}
	if w.opts.Verify != nil {
		if err := w.opts.Verify(ctx, w.path); err != nil {
			_ = os.Remove(w.path)
			return "", errs.Encode("verify_output", err)
		}
	}

	w.logger.Info().
		Str("candidate", w.candidate.Name).
		Str("output", w.path).
		Int("frames", w.frames).
		Int64("bytes", stat.Size()).
		Msg("encoder finalized")
	return w.path, nil
}

// Abort kills the encoder and removes the partial output. Safe to call in
// any state.
func (w *Writer) Abort() {
	w.mu.Lock()
	wasOpen := w.state == stateOpen
	w.state = stateDone
	frames := w.frames
	w.mu.Unlock()

	if wasOpen {
		w.sink.Abort()
		_ = os.Remove(w.path)
		w.logger.Info().Str("output", w.path).Int("frames", frames).Msg("encoder aborted")
	}
}

// Candidate returns the negotiated candidate
func (w *Writer) Candidate() Candidate { return w.candidate }

// Path returns the negotiated output path
func (w *Writer) Path() string { return w.path }

// Frames returns the number of frames written so far
func (w *Writer) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// classify maps an encoder failure onto the error taxonomy
func classify(op string, err error) error {
	var classified *errs.Error
	if errors.As(err, &classified) {
		return err
	}
	if strings.Contains(strings.ToLower(err.Error()), "no space left on device") {
		return errs.ResourceExhausted(op, "disk", err)
	}
	return errs.Encode(op, err)
}
