// Package engine is the entry point for callers: it validates requests,
// queues jobs onto a bounded worker pool and exposes the read-only side
// paths (recommendation, comparison grid, previews).
package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keagan/artcannon/internal/analyzer"
	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/encoder"
	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/ffmpeg"
	"github.com/keagan/artcannon/internal/grid"
	"github.com/keagan/artcannon/internal/jobs"
	"github.com/keagan/artcannon/internal/media"
	"github.com/keagan/artcannon/internal/metrics"
	"github.com/keagan/artcannon/internal/pipeline"
	"github.com/keagan/artcannon/internal/system"
	"github.com/keagan/artcannon/pkg/util"
)

// DefaultComparison is the effect set used when none is requested
var DefaultComparison = []effects.Kind{effects.Pencil, effects.Cartoon, effects.OilPainting, effects.Watercolor}

type task struct {
	req pipeline.Request
}

// Engine owns the job registry and the worker pool
type Engine struct {
	root    zerolog.Logger
	logger  zerolog.Logger
	config  Config
	exec    *ffmpeg.Executor
	monitor *system.Monitor

	decoder    pipeline.Decoder
	backend    encoder.Backend
	candidates []encoder.Candidate
	verify     func(ctx context.Context, path string) error
	notifier   jobs.Notifier

	registry *jobs.Registry
	pipeline *pipeline.Pipeline
	analyzer *analyzer.Analyzer
	grid     *grid.Builder

	workers int
	queue   chan task

	mu      sync.Mutex
	flags   map[string]*atomic.Bool
	started bool
	closed  bool
	stop    context.CancelFunc
	workWG  sync.WaitGroup
	sweepWG sync.WaitGroup
}

// Option overrides a collaborator, mostly for tests
type Option func(*Engine)

// WithDecoder replaces the ffmpeg frame decoder
func WithDecoder(d pipeline.Decoder) Option {
	return func(e *Engine) { e.decoder = d }
}

// WithBackend replaces the ffmpeg encoder backend
func WithBackend(b encoder.Backend) Option {
	return func(e *Engine) { e.backend = b }
}

// WithVerifier replaces the finished-output check
func WithVerifier(fn func(ctx context.Context, path string) error) Option {
	return func(e *Engine) { e.verify = fn }
}

// WithNotifier forwards terminal job transitions to a persistence collaborator
func WithNotifier(n jobs.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// New builds an engine. exec may be nil only when both a decoder and a
// backend are supplied as options.
func New(logger zerolog.Logger, cfg Config, exec *ffmpeg.Executor, opts ...Option) (*Engine, error) {
	e := &Engine{
		root:    logger,
		logger:  logger.With().Str("component", "engine").Logger(),
		config:  cfg,
		exec:    exec,
		monitor: system.NewMonitor(logger),
		flags:   make(map[string]*atomic.Bool),
	}
	if exec != nil {
		e.decoder = exec
		e.backend = encoder.NewFFmpegBackend(exec)
		if cfg.VerifyOutput {
			e.verify = exec.VerifyDecodable
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.decoder == nil || e.backend == nil {
		return nil, fmt.Errorf("engine needs an ffmpeg executor or explicit decoder and backend")
	}

	candidates, err := encoder.SelectCandidates(cfg.Encoders)
	if err != nil {
		return nil, errs.Validation("new_engine", err)
	}
	e.candidates = candidates

	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultConfig().OutputDir
		e.config.OutputDir = cfg.OutputDir
	}
	if err := util.EnsureDir(cfg.OutputDir); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	regOpts := []jobs.Option{}
	if e.notifier != nil {
		regOpts = append(regOpts, jobs.WithNotifier(e.notifier))
	}
	e.registry = jobs.NewRegistry(logger, cfg.Retention, regOpts...)

	e.workers = e.monitor.WorkerCount(context.Background(), cfg.Workers)
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultConfig().QueueSize
	}
	e.queue = make(chan task, queueSize)

	e.pipeline = pipeline.New(logger, cfg.Pipeline, e.decoder, effects.Library{}, e.newWriter, e.registry)
	e.analyzer = analyzer.New(logger, e.decoder,
		analyzer.WithSamples(cfg.AnalyzerSamples),
		analyzer.WithSampleWidth(cfg.AnalyzerSampleWidth))

	gridCfg := cfg.Grid
	if gridCfg.Workers <= 0 {
		gridCfg.Workers = e.workers
	}
	e.grid = grid.NewBuilder(logger, gridCfg, e.decoder, effects.Library{})

	return e, nil
}

func (e *Engine) newWriter() pipeline.FrameWriter {
	return encoder.NewWriter(e.root, e.backend, e.candidates, e.monitor, encoder.Options{
		MinFreeDisk:    e.config.MinFreeDisk,
		MinFreeMemory:  e.config.MinFreeMemory,
		MinOutputBytes: e.config.MinOutputBytes,
		Verify:         e.verify,
	})
}

// Start launches the worker pool and the registry sweeper. Jobs submitted
// before Start wait in the queue.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.closed {
		return
	}
	e.started = true

	ctx, e.stop = context.WithCancel(ctx)

	e.sweepWG.Add(1)
	go func() {
		defer e.sweepWG.Done()
		e.registry.Run(ctx)
	}()

	for i := 0; i < e.workers; i++ {
		e.workWG.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info().Int("workers", e.workers).Int("queue", cap(e.queue)).Msg("engine started")
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.workWG.Done()
	logger := e.logger.With().Int("worker", id).Logger()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-e.queue:
			if !ok {
				return
			}
			metrics.ActiveWorkers.Inc()
			logger.Debug().Str("job_id", t.req.JobID).Msg("picked up job")
			// Errors are already recorded on the job
			_, _ = e.pipeline.Run(ctx, t.req)
			metrics.ActiveWorkers.Dec()
			e.dropFlag(t.req.JobID)
		}
	}
}

// Close stops accepting jobs and waits for the workers to drain the
// queue. In-flight jobs are only interrupted if the context passed to
// Start is cancelled.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	started := e.started
	e.mu.Unlock()

	if !started {
		return
	}
	e.workWG.Wait()
	e.stop()
	e.sweepWG.Wait()
	e.logger.Info().Msg("engine stopped")
}

// Submit validates the request and queues a job. Nothing is allocated for
// an invalid request.
func (e *Engine) Submit(ctx context.Context, src media.Source, spec effects.Spec) (string, error) {
	if err := src.Validate(); err != nil {
		return "", errs.Validation("submit", err)
	}
	if err := spec.Validate(src); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", errs.Wrap(err, errs.KindCancelled, "submit")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return "", errs.Internal("submit", errors.New("engine is closed"))
	}

	job := e.registry.Create(src, spec)
	flag := &atomic.Bool{}
	e.flags[job.ID] = flag

	req := pipeline.Request{
		JobID:      job.ID,
		Source:     src,
		Spec:       spec,
		OutputPath: filepath.Join(e.config.OutputDir, fmt.Sprintf("%s_%s_output.mp4", job.ID, spec.Kind)),
		Cancelled:  flag.Load,
	}

	select {
	case e.queue <- task{req: req}:
	default:
		delete(e.flags, job.ID)
		err := errs.ResourceExhausted("submit", "queue", fmt.Errorf("%d jobs already queued", cap(e.queue)))
		_ = e.registry.Fail(job.ID, errs.KindResourceExhausted, err.Error())
		return "", err
	}

	e.logger.Info().Str("job_id", job.ID).Str("spec", spec.String()).Str("source", src.Path).Msg("job submitted")
	return job.ID, nil
}

// Status returns a snapshot of the job without blocking on its work
func (e *Engine) Status(id string) (jobs.Job, error) {
	return e.registry.Get(id)
}

// Jobs lists every live job record
func (e *Engine) Jobs() []jobs.Job {
	return e.registry.List()
}

// OutputPath returns the finished file of a Completed job. Failed and
// Cancelled jobs return their classified failure.
func (e *Engine) OutputPath(id string) (string, error) {
	job, err := e.registry.Get(id)
	if err != nil {
		return "", err
	}
	if !job.State.Terminal() {
		return "", errs.New(errs.KindJobNotTerminal, "output_path",
			fmt.Errorf("job is %s at %.0f%%", job.State, job.Progress)).WithJob(id)
	}
	if ferr := job.Failure(); ferr != nil {
		return "", ferr
	}
	return job.OutputPath, nil
}

// Cancel asks a job to stop. A queued job is cancelled immediately; a
// running job stops after its current chunk. Cancelling a finished job
// is a no-op.
func (e *Engine) Cancel(id string) error {
	job, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return nil
	}

	e.mu.Lock()
	if flag, ok := e.flags[id]; ok {
		flag.Store(true)
	}
	e.mu.Unlock()

	if job.State == jobs.StateQueued {
		var te *jobs.TransitionError
		// A worker may have started it since; the flag then stops it
		if err := e.registry.CancelQueued(id, "cancelled before start"); err != nil && !errors.As(err, &te) {
			return err
		}
	}
	e.logger.Info().Str("job_id", id).Msg("cancellation requested")
	return nil
}

// Wait polls until the job is terminal or ctx ends
func (e *Engine) Wait(ctx context.Context, id string) (jobs.Job, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := e.registry.Get(id)
		if err != nil {
			return jobs.Job{}, err
		}
		if job.State.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, errs.Wrap(ctx.Err(), errs.KindCancelled, "wait")
		case <-ticker.C:
		}
	}
}

func (e *Engine) dropFlag(id string) {
	e.mu.Lock()
	delete(e.flags, id)
	e.mu.Unlock()
}

// Probe reads a file's metadata into a Source with a fresh id
func (e *Engine) Probe(ctx context.Context, path string) (media.Source, error) {
	if e.exec == nil {
		return media.Source{}, errs.Internal("probe", errors.New("no ffmpeg executor configured"))
	}
	if !util.FileExists(path) {
		return media.Source{}, errs.Validationf("probe", "input %s does not exist", path)
	}
	info, err := e.exec.ProbeVideo(ctx, path)
	if err != nil {
		return media.Source{}, errs.Decode("probe", err)
	}
	src := info.Source(uuid.New().String())
	if err := src.Validate(); err != nil {
		return media.Source{}, errs.Decode("probe", err)
	}
	return src, nil
}

// Recommend ranks effects for the source from sampled frame statistics
func (e *Engine) Recommend(ctx context.Context, src media.Source) (analyzer.Result, error) {
	return e.analyzer.Analyze(ctx, src)
}

// BuildComparison renders a grid of kinds (DefaultComparison when empty)
// into the output directory
func (e *Engine) BuildComparison(ctx context.Context, src media.Source, kinds []effects.Kind) (grid.Report, error) {
	if len(kinds) == 0 {
		kinds = DefaultComparison
	}
	out := filepath.Join(e.config.OutputDir, fmt.Sprintf("%s_comparison.png", uuid.New().String()))
	return e.grid.Build(ctx, src, kinds, out)
}

// Health summarizes host headroom and pool state
type Health struct {
	FFmpeg     bool            `json:"ffmpeg"`
	Workers    int             `json:"workers"`
	ActiveJobs int             `json:"active_jobs"`
	Queued     int             `json:"queued"`
	System     system.Snapshot `json:"system"`
}

// Health reports ffmpeg availability, active jobs and free disk
func (e *Engine) Health(ctx context.Context) Health {
	return Health{
		FFmpeg:     e.exec != nil && ffmpeg.Available(),
		Workers:    e.workers,
		ActiveJobs: e.registry.Active(),
		Queued:     len(e.queue),
		System:     e.monitor.Snapshot(ctx, e.config.OutputDir),
	}
}

// Workers returns the pool size
func (e *Engine) Workers() int { return e.workers }
