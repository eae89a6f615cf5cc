package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/media"
	"github.com/keagan/artcannon/internal/metrics"
)

// DefaultRetention is how long a record survives after its last update
const DefaultRetention = time.Hour

// Notifier receives every terminal transition. It is called outside the
// registry lock, once per job.
type Notifier interface {
	JobFinished(job Job)
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(job Job)

func (f NotifierFunc) JobFinished(job Job) { f(job) }

// LogNotifier logs terminal transitions; it stands in for a persistence
// collaborator
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) JobFinished(job Job) {
	evt := n.Logger.Info()
	if job.State == StateFailed {
		evt = n.Logger.Warn().Str("reason", string(job.Reason))
	}
	evt.Str("job_id", job.ID).
		Str("state", string(job.State)).
		Str("output", job.OutputPath).
		Str("message", job.Message).
		Msg("job finished")
}

// Registry is a lock-guarded map of job records with time-based eviction
type Registry struct {
	logger    zerolog.Logger
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	notifier  Notifier

	mu   sync.Mutex
	jobs map[string]*Job
}

// Option configures a Registry
type Option func(*Registry)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithNotifier sets the terminal-transition notifier
func WithNotifier(n Notifier) Option {
	return func(r *Registry) { r.notifier = n }
}

// WithSweepInterval sets how often Run evicts stale records
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) { r.interval = d }
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger, retention time.Duration, opts ...Option) *Registry {
	if retention <= 0 {
		retention = DefaultRetention
	}
	r := &Registry{
		logger:    logger.With().Str("component", "jobs").Logger(),
		retention: retention,
		interval:  retention / 4,
		now:       time.Now,
		jobs:      make(map[string]*Job),
	}
	r.notifier = LogNotifier{Logger: r.logger}
	for _, opt := range opts {
		opt(r)
	}
	if r.interval < time.Second {
		r.interval = time.Second
	}
	return r
}

// Create registers a new Queued job
func (r *Registry) Create(src media.Source, spec effects.Spec) Job {
	now := r.now()
	job := &Job{
		ID:         uuid.New().String(),
		SourceID:   src.ID,
		SourcePath: src.Path,
		Spec:       spec,
		State:      StateQueued,
		Message:    "queued",
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	r.mu.Lock()
	r.jobs[job.ID] = job
	r.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(string(StateQueued)).Inc()
	r.logger.Debug().Str("job_id", job.ID).Str("spec", spec.String()).Msg("job created")
	return *job
}

// Start moves a Queued job to Running with progress 0
func (r *Registry) Start(id string) error {
	_, err := r.transition(id, StateQueued, StateRunning, func(j *Job) {
		j.Progress = 0
		j.Message = "processing started"
	})
	return err
}

// Update records chunk progress. Progress never decreases and stays
// below 100 until Complete.
func (r *Registry) Update(id string, progress float64, message string) error {
	_, err := r.transition(id, StateRunning, StateRunning, func(j *Job) {
		if progress > 99 {
			progress = 99
		}
		if progress > j.Progress {
			j.Progress = progress
		}
		if message != "" {
			j.Message = message
		}
	})
	return err
}

// Complete records the output path and sets progress to 100
func (r *Registry) Complete(id, outputPath string) error {
	return r.finish(id, "", StateCompleted, func(j *Job) {
		j.Progress = 100
		j.OutputPath = outputPath
		j.Message = "completed"
	})
}

// Fail records a classified failure
func (r *Registry) Fail(id string, reason errs.Kind, message string) error {
	if reason == "" {
		reason = errs.KindInternal
	}
	return r.finish(id, "", StateFailed, func(j *Job) {
		j.Reason = reason
		j.Message = message
	})
}

// Cancel records that a Running job stopped on its cancel flag. Only the
// worker running the job calls it, after its writer is aborted.
func (r *Registry) Cancel(id, message string) error {
	return r.cancel(id, StateRunning, message)
}

// CancelQueued cancels a job no worker has picked up yet. A job that has
// already started returns a TransitionError and is left to its worker.
func (r *Registry) CancelQueued(id, message string) error {
	return r.cancel(id, StateQueued, message)
}

func (r *Registry) cancel(id string, from State, message string) error {
	if message == "" {
		message = "cancelled"
	}
	return r.finish(id, from, StateCancelled, func(j *Job) {
		j.Reason = errs.KindCancelled
		j.Message = message
	})
}

func (r *Registry) finish(id string, from, to State, mutate func(*Job)) error {
	job, err := r.transition(id, from, to, mutate)
	if err != nil {
		return err
	}
	metrics.JobsTotal.WithLabelValues(string(to)).Inc()
	if r.notifier != nil {
		r.notifier.JobFinished(job)
	}
	return nil
}

// transition applies mutate under the lock if the move is legal and
// returns a copy of the updated record. A non-empty from pins the
// required current state.
func (r *Registry) transition(id string, from, to State, mutate func(*Job)) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.lookup(id)
	if !ok {
		return Job{}, errs.New(errs.KindJobNotFound, "transition", fmt.Errorf("job %s", id)).WithJob(id)
	}
	if (from != "" && job.State != from) || !canTransition(job.State, to) {
		return Job{}, &TransitionError{JobID: id, From: job.State, To: to}
	}

	from = job.State
	job.State = to
	mutate(job)
	job.UpdatedAt = r.now()

	if from != to {
		r.logger.Debug().
			Str("job_id", id).
			Str("from", string(from)).
			Str("to", string(to)).
			Msg("job state changed")
	}
	return *job, nil
}

// lookup treats stale records as absent even before the sweep removes them.
// Callers hold r.mu.
func (r *Registry) lookup(id string) (*Job, bool) {
	job, ok := r.jobs[id]
	if !ok || r.now().Sub(job.UpdatedAt) > r.retention {
		return nil, false
	}
	return job, true
}

// Get returns a copy of the job
func (r *Registry) Get(id string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.lookup(id)
	if !ok {
		return Job{}, errs.New(errs.KindJobNotFound, "get_job", fmt.Errorf("job %s", id)).WithJob(id)
	}
	return *job, nil
}

// List returns copies of all live jobs, oldest first
func (r *Registry) List() []Job {
	r.mu.Lock()
	out := make([]Job, 0, len(r.jobs))
	for id := range r.jobs {
		if job, ok := r.lookup(id); ok {
			out = append(out, *job)
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Active counts Queued and Running jobs
func (r *Registry) Active() int {
	n := 0
	for _, job := range r.List() {
		if !job.State.Terminal() {
			n++
		}
	}
	return n
}

// Sweep evicts records whose last update is older than the retention
// window, whatever their state, and returns how many were removed
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.retention)
	removed := 0
	for id, job := range r.jobs {
		if job.UpdatedAt.Before(cutoff) {
			delete(r.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		r.logger.Info().Int("evicted", removed).Int("remaining", len(r.jobs)).Msg("evicted stale jobs")
	}
	return removed
}

// Run sweeps on a ticker until ctx is done
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Debug().Dur("interval", r.interval).Dur("retention", r.retention).Msg("job sweeper started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("job sweeper stopped")
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
