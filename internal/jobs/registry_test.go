package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/media"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	jobs []Job
}

func (n *recordingNotifier) JobFinished(job Job) {
	n.mu.Lock()
	n.jobs = append(n.jobs, job)
	n.mu.Unlock()
}

var testSource = media.Source{ID: "src-1", Path: "in.mp4", Width: 640, Height: 360, FrameRate: 24, FrameCount: 240}

func newTestRegistry(retention time.Duration) (*Registry, *fakeClock, *recordingNotifier) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	r := NewRegistry(zerolog.Nop(), retention, WithClock(clock.Now), WithNotifier(notifier))
	return r, clock, notifier
}

func TestLifecycle(t *testing.T) {
	r, _, notifier := newTestRegistry(time.Hour)

	job := r.Create(testSource, effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	assert.Equal(t, StateQueued, job.State)
	assert.Len(t, job.ID, 36)

	require.NoError(t, r.Start(job.ID))
	require.NoError(t, r.Update(job.ID, 40, "chunk 1/3"))
	require.NoError(t, r.Update(job.ID, 20, "late update"))

	got, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, got.State)
	assert.Equal(t, 40.0, got.Progress, "progress must never decrease")

	require.NoError(t, r.Update(job.ID, 100, "last chunk"))
	got, _ = r.Get(job.ID)
	assert.Equal(t, 99.0, got.Progress, "100 is reserved for completion")

	require.NoError(t, r.Complete(job.ID, "/out/x.mp4"))
	got, _ = r.Get(job.ID)
	assert.Equal(t, StateCompleted, got.State)
	assert.Equal(t, 100.0, got.Progress)
	assert.Equal(t, "/out/x.mp4", got.OutputPath)

	require.Len(t, notifier.jobs, 1)
	assert.Equal(t, StateCompleted, notifier.jobs[0].State)
}

func TestTerminalStatesAreFrozen(t *testing.T) {
	r, _, _ := newTestRegistry(time.Hour)
	job := r.Create(testSource, effects.Spec{Kind: effects.Anime, Intensity: 1})
	require.NoError(t, r.Start(job.ID))
	require.NoError(t, r.Fail(job.ID, errs.KindDecode, "corrupt frames 50-99"))

	var transitionErr *TransitionError
	assert.ErrorAs(t, r.Update(job.ID, 50, ""), &transitionErr)
	assert.ErrorAs(t, r.Complete(job.ID, "x"), &transitionErr)
	assert.ErrorAs(t, r.Cancel(job.ID, ""), &transitionErr)

	got, err := r.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, errs.KindDecode, got.Reason)
	assert.True(t, errs.Is(got.Failure(), errs.KindDecode))
}

func TestUpdateRequiresRunning(t *testing.T) {
	r, _, _ := newTestRegistry(time.Hour)
	job := r.Create(testSource, effects.Spec{Kind: effects.Anime, Intensity: 1})

	var transitionErr *TransitionError
	assert.ErrorAs(t, r.Update(job.ID, 10, ""), &transitionErr)

	require.NoError(t, r.Start(job.ID))
	assert.ErrorAs(t, r.Start(job.ID), &transitionErr, "restart would reset progress")
}

func TestCancelQueued(t *testing.T) {
	r, _, notifier := newTestRegistry(time.Hour)
	job := r.Create(testSource, effects.Spec{Kind: effects.Cartoon, Intensity: 1})

	var transitionErr *TransitionError
	assert.ErrorAs(t, r.Cancel(job.ID, ""), &transitionErr, "only a running job stops on its flag")

	require.NoError(t, r.CancelQueued(job.ID, "user request"))
	got, _ := r.Get(job.ID)
	assert.Equal(t, StateCancelled, got.State)
	assert.True(t, errs.Is(got.Failure(), errs.KindCancelled))
	assert.Len(t, notifier.jobs, 1)
}

func TestCancelQueuedLeavesStartedJobToWorker(t *testing.T) {
	r, _, notifier := newTestRegistry(time.Hour)
	job := r.Create(testSource, effects.Spec{Kind: effects.Cartoon, Intensity: 1})
	require.NoError(t, r.Start(job.ID))

	var transitionErr *TransitionError
	require.ErrorAs(t, r.CancelQueued(job.ID, "user request"), &transitionErr)
	assert.Equal(t, StateRunning, transitionErr.From)

	got, _ := r.Get(job.ID)
	assert.Equal(t, StateRunning, got.State)
	assert.Empty(t, notifier.jobs)

	require.NoError(t, r.Cancel(job.ID, "cancelled after 24 of 48 frames"))
	got, _ = r.Get(job.ID)
	assert.Equal(t, StateCancelled, got.State)
}

func TestEviction(t *testing.T) {
	r, clock, _ := newTestRegistry(time.Hour)

	finished := r.Create(testSource, effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	require.NoError(t, r.Start(finished.ID))
	require.NoError(t, r.Complete(finished.ID, "/out/a.mp4"))

	clock.Advance(45 * time.Minute)
	running := r.Create(testSource, effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	require.NoError(t, r.Start(running.ID))

	clock.Advance(30 * time.Minute)

	// Stale before the sweep runs
	_, err := r.Get(finished.ID)
	assert.True(t, errs.Is(err, errs.KindJobNotFound))

	assert.Equal(t, 1, r.Sweep())
	_, err = r.Get(finished.ID)
	assert.True(t, errs.Is(err, errs.KindJobNotFound))

	_, err = r.Get(running.ID)
	assert.NoError(t, err)

	// Running jobs are evicted too once they stop updating
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, r.Sweep())
	assert.Empty(t, r.List())
}

func TestGetUnknown(t *testing.T) {
	r, _, _ := newTestRegistry(time.Hour)
	_, err := r.Get("nope")
	assert.ErrorIs(t, err, errs.ErrJobNotFound)
}

func TestListAndActive(t *testing.T) {
	r, clock, _ := newTestRegistry(time.Hour)
	a := r.Create(testSource, effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	clock.Advance(time.Second)
	b := r.Create(testSource, effects.Spec{Kind: effects.Anime, Intensity: 0.5})
	require.NoError(t, r.CancelQueued(a.ID, ""))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Equal(t, b.ID, list[1].ID)
	assert.Equal(t, 1, r.Active())
}

func TestRunStopsOnCancel(t *testing.T) {
	r := NewRegistry(zerolog.Nop(), time.Hour, WithSweepInterval(time.Second))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestConcurrentUpdates(t *testing.T) {
	r, _, _ := newTestRegistry(time.Hour)
	job := r.Create(testSource, effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	require.NoError(t, r.Start(job.ID))

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			_ = r.Update(job.ID, float64(p), "")
			_, _ = r.Get(job.ID)
		}(i)
	}
	wg.Wait()

	got, _ := r.Get(job.ID)
	assert.Equal(t, 50.0, got.Progress)
}
