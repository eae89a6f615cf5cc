package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"

	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/ffmpeg"
	"github.com/keagan/artcannon/internal/frame"
	"github.com/keagan/artcannon/internal/metrics"
)

// Pipeline runs decode -> transform -> encode over bounded chunks
type Pipeline struct {
	logger    zerolog.Logger
	config    Config
	decoder   Decoder
	applier   Applier
	newWriter WriterFactory
	tracker   Tracker
}

// New creates a new pipeline instance
func New(logger zerolog.Logger, cfg Config, decoder Decoder, applier Applier, newWriter WriterFactory, tracker Tracker) *Pipeline {
	defaults := DefaultConfig()
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = defaults.MinChunk
	}
	if cfg.MaxChunk <= 0 {
		cfg.MaxChunk = defaults.MaxChunk
	}
	if cfg.ChunkDivisor <= 0 {
		cfg.ChunkDivisor = defaults.ChunkDivisor
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = defaults.ChunkTimeout
	}
	if cfg.DecodeRetries < 0 {
		cfg.DecodeRetries = 0
	}

	return &Pipeline{
		logger:    logger.With().Str("component", "pipeline").Logger(),
		config:    cfg,
		decoder:   decoder,
		applier:   applier,
		newWriter: newWriter,
		tracker:   tracker,
	}
}

// Run processes one job to a terminal state. Every failure, including a
// panic in effect code, is recorded on the tracker and returned classified.
func (p *Pipeline) Run(ctx context.Context, req Request) (outputPath string, err error) {
	logger := p.logger.With().Str("job_id", req.JobID).Logger()

	if err := p.tracker.Start(req.JobID); err != nil {
		// Cancelled or evicted while queued
		logger.Debug().Err(err).Msg("job not startable, skipping")
		return "", err
	}

	writer := p.newWriter()
	defer func() {
		if r := recover(); r != nil {
			writer.Abort()
			logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
			err = errs.Internal("run", fmt.Errorf("panic: %v", r)).WithJob(req.JobID)
			p.fail(logger, req.JobID, err)
		}
	}()

	outputPath, err = p.run(ctx, logger, writer, req)
	if err != nil {
		writer.Abort()
		if errs.Is(err, errs.KindCancelled) {
			if cerr := p.tracker.Cancel(req.JobID, err.Error()); cerr != nil {
				logger.Warn().Err(cerr).Msg("failed to record cancellation")
			}
			logger.Info().Msg("job cancelled")
			return "", err
		}
		p.fail(logger, req.JobID, err)
		return "", err
	}

	if err := p.tracker.Complete(req.JobID, outputPath); err != nil {
		logger.Warn().Err(err).Msg("failed to record completion")
	}
	logger.Info().Str("output", outputPath).Msg("job completed")
	return outputPath, nil
}

func (p *Pipeline) fail(logger zerolog.Logger, jobID string, err error) {
	kind := errs.KindOf(err)
	logger.Error().Err(err).Str("reason", string(kind)).Str("op", errs.Op(err)).Msg("job failed")
	if ferr := p.tracker.Fail(jobID, kind, err.Error()); ferr != nil {
		logger.Warn().Err(ferr).Msg("failed to record failure")
	}
}

func (p *Pipeline) run(ctx context.Context, logger zerolog.Logger, writer FrameWriter, req Request) (string, error) {
	src, spec := req.Source, req.Spec

	startFrame, endFrame := spec.FrameRange(src)
	total := endFrame - startFrame
	if total <= 0 {
		return "", errs.Validationf("plan_chunks", "trim selects no frames").WithJob(req.JobID)
	}

	outW, outH := spec.OutputSize(src)
	size := p.config.ChunkSize(total, src.Width, src.Height)
	chunks := PlanChunks(startFrame, endFrame, size)

	logger.Info().
		Str("spec", spec.String()).
		Int("start", startFrame).
		Int("end", endFrame).
		Int("chunk_size", size).
		Int("chunks", len(chunks)).
		Msg("starting pipeline")

	err := p.bounded(ctx, logger, writer, req, "open_writer", func(ctx context.Context) error {
		return writer.Open(ctx, req.OutputPath, outW, outH, src.FrameRate)
	})
	if err != nil {
		return "", err
	}

	written := 0
	for _, c := range chunks {
		if err := p.checkCancelled(ctx, req, written, total); err != nil {
			return "", err
		}

		n, err := p.runChunk(ctx, logger, writer, req, c)
		if err != nil {
			return "", err
		}
		written += n

		progress := float64(written) / float64(total) * 100
		msg := fmt.Sprintf("processed chunk %d/%d", c.Index+1, len(chunks))
		if err := p.tracker.Update(req.JobID, progress, msg); err != nil {
			logger.Warn().Err(err).Msg("failed to record progress")
		}
	}

	if written == 0 {
		return "", errs.Decode("run", fmt.Errorf("source yielded no frames")).WithJob(req.JobID)
	}

	// A cancel that landed during the last chunk still wins
	if err := p.checkCancelled(ctx, req, written, total); err != nil {
		return "", err
	}

	var path string
	err = p.bounded(ctx, logger, writer, req, "finalize", func(ctx context.Context) error {
		var ferr error
		path, ferr = writer.Finalize(ctx)
		return ferr
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

func (p *Pipeline) checkCancelled(ctx context.Context, req Request, written, total int) error {
	if req.Cancelled != nil && req.Cancelled() {
		return errs.New(errs.KindCancelled, "run", fmt.Errorf("cancelled after %d of %d frames", written, total)).WithJob(req.JobID)
	}
	if ctx.Err() != nil {
		return errs.New(errs.KindCancelled, "run", ctx.Err()).WithJob(req.JobID)
	}
	return nil
}

// bounded runs a writer step other than a chunk under the same timeout.
// On expiry the writer is aborted and the step abandoned.
func (p *Pipeline) bounded(ctx context.Context, logger zerolog.Logger, writer FrameWriter, req Request, op string, step func(context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, p.config.ChunkTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Str("op", op).Msg("writer panicked")
				done <- errs.Internal(op, fmt.Errorf("panic: %v", r)).WithJob(req.JobID)
			}
		}()
		done <- step(stepCtx)
	}()

	expired := func() error {
		return errs.Timeout(op, fmt.Errorf("%s exceeded %s", op, p.config.ChunkTimeout)).WithJob(req.JobID)
	}

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errs.New(errs.KindCancelled, op, ctx.Err()).WithJob(req.JobID)
		}
		if stepCtx.Err() == context.DeadlineExceeded {
			return expired()
		}
		return err
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return errs.New(errs.KindCancelled, op, ctx.Err()).WithJob(req.JobID)
		}
		writer.Abort()
		logger.Warn().Str("op", op).Dur("timeout", p.config.ChunkTimeout).Msg("writer step timed out")
		return expired()
	}
}

type chunkResult struct {
	frames int
	err    error
}

// runChunk processes one chunk under its own timeout. On expiry the writer
// is aborted so a stalled encoder cannot keep the worker.
func (p *Pipeline) runChunk(ctx context.Context, logger zerolog.Logger, writer FrameWriter, req Request, c Chunk) (int, error) {
	chunkCtx, cancel := context.WithTimeout(ctx, p.config.ChunkTimeout)
	defer cancel()

	logger = logger.With().Int("chunk", c.Index).Int("start", c.Start).Int("end", c.End).Logger()
	started := time.Now()

	done := make(chan chunkResult, 1)
	go func() {
		var res chunkResult
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("chunk panicked")
				res = chunkResult{err: errs.Internal("process_chunk", fmt.Errorf("panic: %v", r))}
			}
			done <- res
		}()
		res.frames, res.err = p.processChunk(chunkCtx, logger, writer, req, c)
	}()

	select {
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return 0, errs.New(errs.KindCancelled, "process_chunk", ctx.Err()).WithJob(req.JobID)
			}
			if chunkCtx.Err() == context.DeadlineExceeded {
				return 0, p.timeout(req, c)
			}
			return 0, errs.Wrap(res.err, errs.KindInternal, "process_chunk")
		}
		logger.Debug().Int("frames", res.frames).Dur("elapsed", time.Since(started)).Msg("chunk done")
		return res.frames, nil
	case <-chunkCtx.Done():
		if ctx.Err() != nil {
			return 0, errs.New(errs.KindCancelled, "process_chunk", ctx.Err()).WithJob(req.JobID)
		}
		writer.Abort()
		logger.Warn().Dur("timeout", p.config.ChunkTimeout).Msg("chunk timed out")
		return 0, p.timeout(req, c)
	}
}

func (p *Pipeline) timeout(req Request, c Chunk) error {
	return errs.Timeout("process_chunk", fmt.Errorf("chunk %d exceeded %s", c.Index, p.config.ChunkTimeout)).
		WithJob(req.JobID).
		WithDetail("start", c.Start).
		WithDetail("end", c.End)
}

// processChunk decodes, transforms and writes one chunk. Raw frames are
// dropped as soon as they are transformed.
func (p *Pipeline) processChunk(ctx context.Context, logger zerolog.Logger, writer FrameWriter, req Request, c Chunk) (int, error) {
	decodeStart := time.Now()
	frames, err := p.decodeWithRetry(ctx, logger, req, c)
	if err != nil {
		return 0, err
	}
	metrics.ChunkDuration.WithLabelValues("decode").Observe(time.Since(decodeStart).Seconds())

	var transformTime, encodeTime time.Duration
	for i, f := range frames {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		t0 := time.Now()
		out, err := p.applier.Apply(f, req.Spec)
		if err != nil {
			return 0, errs.Wrap(err, errs.KindInternal, "apply_effect")
		}
		frames[i] = nil

		t1 := time.Now()
		if err := writer.Write(out); err != nil {
			return 0, err
		}
		transformTime += t1.Sub(t0)
		encodeTime += time.Since(t1)
	}

	metrics.ChunkDuration.WithLabelValues("transform").Observe(transformTime.Seconds())
	metrics.ChunkDuration.WithLabelValues("encode").Observe(encodeTime.Seconds())
	metrics.FramesProcessedTotal.Add(float64(len(frames)))
	return len(frames), nil
}

// decodeWithRetry retries a failed decode DecodeRetries times before
// giving up with a Decode error naming the frame range
func (p *Pipeline) decodeWithRetry(ctx context.Context, logger zerolog.Logger, req Request, c Chunk) ([]*frame.Frame, error) {
	var lastErr error
	for attempt := 0; attempt <= p.config.DecodeRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		frames, err := p.decoder.DecodeRange(ctx, req.Source, c.Start, c.Len(), ffmpeg.DecodeOptions{})
		if err == nil {
			if len(frames) < c.Len() {
				logger.Warn().Int("want", c.Len()).Int("got", len(frames)).Msg("short decode")
			}
			return frames, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("decode failed")
	}
	return nil, errs.Decode("decode_chunk", lastErr).
		WithJob(req.JobID).
		WithDetail("start", c.Start).
		WithDetail("end", c.End)
}
