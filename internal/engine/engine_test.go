package engine

import (
	"context"
	"errors"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/encoder"
	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/ffmpeg"
	"github.com/keagan/artcannon/internal/frame"
	"github.com/keagan/artcannon/internal/jobs"
	"github.com/keagan/artcannon/internal/media"
)

type solidDecoder struct{}

func (solidDecoder) DecodeRange(ctx context.Context, src media.Source, start, count int, opts ffmpeg.DecodeOptions) ([]*frame.Frame, error) {
	w, h := src.Width, src.Height
	if opts.Width > 0 && opts.Height > 0 {
		w, h = opts.Width, opts.Height
	}
	if start+count > src.FrameCount {
		count = src.FrameCount - start
	}
	out := make([]*frame.Frame, count)
	for i := range out {
		out[i] = frame.Solid(w, h, color.RGBA{R: 128, G: 128, B: 128, A: 255})
	}
	return out, nil
}

// gatedDecoder holds the first decode until release is closed
type gatedDecoder struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedDecoder() *gatedDecoder {
	return &gatedDecoder{entered: make(chan struct{}), release: make(chan struct{})}
}

func (d *gatedDecoder) DecodeRange(ctx context.Context, src media.Source, start, count int, opts ffmpeg.DecodeOptions) ([]*frame.Frame, error) {
	d.once.Do(func() { close(d.entered) })
	select {
	case <-d.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return solidDecoder{}.DecodeRange(ctx, src, start, count, opts)
}

// fileBackend writes raw frames straight to the output file
type fileBackend struct {
	unavailable bool
}

func (b fileBackend) Probe(ctx context.Context, c encoder.Candidate) error {
	if b.unavailable {
		return errors.New("encoder missing")
	}
	return nil
}

func (b fileBackend) Open(ctx context.Context, c encoder.Candidate, path string, width, height int, fps float64) (encoder.Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &fileSink{f: f}, nil
}

type fileSink struct {
	mu sync.Mutex
	f  *os.File
}

func (s *fileSink) WriteFrame(pix []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.f.Write(pix)
	return err
}

func (s *fileSink) Close(ctx context.Context) error { return s.f.Close() }

func (s *fileSink) Abort() {
	s.f.Close()
	os.Remove(s.f.Name())
}

type recordingNotifier struct {
	mu   sync.Mutex
	done []jobs.Job
}

func (n *recordingNotifier) JobFinished(job jobs.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.done = append(n.done, job)
}

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()
	cfg.Workers = 2
	cfg.MinFreeDisk = 0
	cfg.MinFreeMemory = 0
	cfg.VerifyOutput = false
	return cfg
}

func newFakeEngine(t *testing.T, cfg Config, backend encoder.Backend, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithDecoder(solidDecoder{}), WithBackend(backend)}, opts...)
	e, err := New(zerolog.Nop(), cfg, nil, opts...)
	require.NoError(t, err)
	return e
}

func smallSource() media.Source {
	return media.Source{
		ID:         "small",
		Path:       "/videos/small.mp4",
		Width:      64,
		Height:     36,
		FrameRate:  24,
		FrameCount: 48,
		Duration:   2 * time.Second,
	}
}

func TestSubmitRejectsOutOfBoundsCrop(t *testing.T) {
	e := newFakeEngine(t, testConfig(t), fileBackend{})
	defer e.Close()

	src := smallSource()
	src.Width, src.Height = 640, 360
	spec := effects.Spec{Kind: effects.Pencil, Intensity: 0.5, Crop: &effects.Rect{Width: 10000, Height: 10000}}

	_, err := e.Submit(context.Background(), src, spec)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Empty(t, e.Jobs())
}

func TestSubmitRejectsBadIntensity(t *testing.T) {
	e := newFakeEngine(t, testConfig(t), fileBackend{})
	defer e.Close()

	_, err := e.Submit(context.Background(), smallSource(), effects.Spec{Kind: effects.Cartoon, Intensity: 1.5})
	assert.True(t, errs.Is(err, errs.KindValidation))
	assert.Empty(t, e.Jobs())
}

func TestJobRunsToCompletion(t *testing.T) {
	notifier := &recordingNotifier{}
	e := newFakeEngine(t, testConfig(t), fileBackend{}, WithNotifier(notifier))
	e.Start(context.Background())
	defer e.Close()

	id, err := e.Submit(context.Background(), smallSource(), effects.Spec{Kind: effects.VintageFilm, Intensity: 0.7})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job, err := e.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, jobs.StateCompleted, job.State)
	assert.Equal(t, 100.0, job.Progress)

	path, err := e.OutputPath(id)
	require.NoError(t, err)
	assert.Equal(t, id+"_vintage_film_output.mp4", filepath.Base(path))
	assert.FileExists(t, path)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.done, 1)
	assert.Equal(t, id, notifier.done[0].ID)
}

func TestFailedJobReportsClassifiedReason(t *testing.T) {
	e := newFakeEngine(t, testConfig(t), fileBackend{unavailable: true})
	e.Start(context.Background())
	defer e.Close()

	id, err := e.Submit(context.Background(), smallSource(), effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job, err := e.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, job.State)
	assert.Equal(t, errs.KindNoAvailableEncoder, job.Reason)

	_, err = e.OutputPath(id)
	assert.True(t, errs.Is(err, errs.KindNoAvailableEncoder))
}

func TestOutputPathStates(t *testing.T) {
	e := newFakeEngine(t, testConfig(t), fileBackend{})
	defer e.Close()

	_, err := e.OutputPath("missing")
	assert.True(t, errs.Is(err, errs.KindJobNotFound))

	// Not started, so the job stays queued
	id, err := e.Submit(context.Background(), smallSource(), effects.Spec{Kind: effects.Anime, Intensity: 0.5})
	require.NoError(t, err)

	_, err = e.OutputPath(id)
	assert.True(t, errs.Is(err, errs.KindJobNotTerminal))

	require.NoError(t, e.Cancel(id))
	job, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateCancelled, job.State)

	_, err = e.OutputPath(id)
	assert.True(t, errs.Is(err, errs.KindCancelled))

	// Cancelling again is a no-op
	assert.NoError(t, e.Cancel(id))
	assert.True(t, errs.Is(e.Cancel("missing"), errs.KindJobNotFound))
}

func TestCancelDuringLastChunk(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers = 1
	dec := newGatedDecoder()
	notifier := &recordingNotifier{}
	e := newFakeEngine(t, cfg, fileBackend{}, WithDecoder(dec), WithNotifier(notifier))
	e.Start(context.Background())
	defer e.Close()

	// 48 frames fit in a single chunk, so the cancel lands in the last one
	id, err := e.Submit(context.Background(), smallSource(), effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	require.NoError(t, err)

	select {
	case <-dec.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("job never started decoding")
	}

	require.NoError(t, e.Cancel(id))
	job, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateRunning, job.State, "a started job is only cancelled by its worker")

	close(dec.release)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	job, err = e.Wait(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, jobs.StateCancelled, job.State)
	assert.Empty(t, job.OutputPath)
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, id+"_pencil_output.mp4"))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.done, 1)
	assert.Equal(t, jobs.StateCancelled, notifier.done[0].State)
}

func TestCancelledQueuedJobIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	e := newFakeEngine(t, cfg, fileBackend{})

	id, err := e.Submit(context.Background(), smallSource(), effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	require.NoError(t, err)
	require.NoError(t, e.Cancel(id))

	e.Start(context.Background())
	e.Close()

	job, err := e.Status(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateCancelled, job.State)
	assert.NoFileExists(t, filepath.Join(cfg.OutputDir, id+"_pencil_output.mp4"))
}

func TestQueueFull(t *testing.T) {
	cfg := testConfig(t)
	cfg.QueueSize = 1
	e := newFakeEngine(t, cfg, fileBackend{})
	defer e.Close()

	spec := effects.Spec{Kind: effects.Pencil, Intensity: 0.5}
	_, err := e.Submit(context.Background(), smallSource(), spec)
	require.NoError(t, err)

	_, err = e.Submit(context.Background(), smallSource(), spec)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindResourceExhausted))
	resource, _ := errs.Detail(err, "resource")
	assert.Equal(t, "queue", resource)
}

func TestSubmitAfterClose(t *testing.T) {
	e := newFakeEngine(t, testConfig(t), fileBackend{})
	e.Close()

	_, err := e.Submit(context.Background(), smallSource(), effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	assert.Error(t, err)
}

func TestRecommendAndCompare(t *testing.T) {
	e := newFakeEngine(t, testConfig(t), fileBackend{})
	defer e.Close()

	res, err := e.Recommend(context.Background(), smallSource())
	require.NoError(t, err)
	top, ok := res.Top()
	require.True(t, ok)
	assert.Equal(t, effects.Pencil, top.Kind)

	report, err := e.BuildComparison(context.Background(), smallSource(), nil)
	require.NoError(t, err)
	assert.Len(t, report.Cells, len(DefaultComparison))
	assert.Empty(t, report.Failed())
	assert.FileExists(t, report.Path)
	assert.True(t, strings.HasSuffix(report.Path, "_comparison.png"))
}

func TestPreviews(t *testing.T) {
	e := newFakeEngine(t, testConfig(t), fileBackend{})
	defer e.Close()

	paths, err := e.Previews(context.Background(), smallSource(), 0)
	require.NoError(t, err)
	require.Len(t, paths, 5)
	for _, p := range paths {
		assert.FileExists(t, p)
		assert.Equal(t, ".jpg", filepath.Ext(p))
	}
}

func TestHealth(t *testing.T) {
	e := newFakeEngine(t, testConfig(t), fileBackend{})
	defer e.Close()

	h := e.Health(context.Background())
	assert.False(t, h.FFmpeg)
	assert.Equal(t, 2, h.Workers)
	assert.Equal(t, 0, h.ActiveJobs)
}

func TestNewRequiresMediaBackend(t *testing.T) {
	_, err := New(zerolog.Nop(), testConfig(t), nil)
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Encoders = []string{"av1-mkv"}
	_, err = New(zerolog.Nop(), cfg, nil, WithDecoder(solidDecoder{}), WithBackend(fileBackend{}))
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if !ffmpeg.Available() {
		t.Skip("ffmpeg not available")
	}
}

func TestPencilScenarioWithFFmpeg(t *testing.T) {
	skipIfNoFFmpeg(t)
	if testing.Short() {
		t.Skip("skipping full encode in short mode")
	}

	dir := t.TempDir()
	input := filepath.Join(dir, "input.mp4")
	cmd := exec.Command("ffmpeg", "-y", "-f", "lavfi", "-i", "testsrc=duration=10:size=640x360:rate=24",
		"-pix_fmt", "yuv420p", input)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))

	ffexec, err := ffmpeg.New(zerolog.Nop(), 0)
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.VerifyOutput = true
	e, err := New(zerolog.Nop(), cfg, ffexec)
	require.NoError(t, err)
	e.Start(context.Background())
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	src, err := e.Probe(ctx, input)
	require.NoError(t, err)
	assert.Equal(t, 640, src.Width)
	assert.Equal(t, 360, src.Height)
	assert.InDelta(t, 240, src.FrameCount, 1)

	id, err := e.Submit(ctx, src, effects.Spec{Kind: effects.Pencil, Intensity: 0.5})
	require.NoError(t, err)

	var last float64
	for {
		job, err := e.Status(id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, job.Progress, last)
		last = job.Progress
		if job.State.Terminal() {
			require.Equal(t, jobs.StateCompleted, job.State, job.Message)
			break
		}
		require.NoError(t, ctx.Err())
		time.Sleep(100 * time.Millisecond)
	}

	path, err := e.OutputPath(id)
	require.NoError(t, err)

	info, err := ffexec.ProbeVideo(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 360, info.Height)
	assert.InDelta(t, 10, info.Duration.Seconds(), 0.5)
}
