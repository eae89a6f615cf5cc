package encoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/frame"
)

// fakeBackend simulates encoders; candidates named in unavailable fail
// their probe, those in failOpen fail to open
type fakeBackend struct {
	mu          sync.Mutex
	unavailable map[string]bool
	failOpen    map[string]bool
	writeErr    error
	stallClose  bool
	probed      []string
	sinks       []*fakeSink
}

func (b *fakeBackend) Probe(ctx context.Context, c Candidate) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probed = append(b.probed, c.Name)
	if b.unavailable[c.Name] {
		return errors.New("encoder not compiled in")
	}
	return nil
}

func (b *fakeBackend) Open(ctx context.Context, c Candidate, path string, width, height int, fps float64) (Sink, error) {
	if b.failOpen[c.Name] {
		return nil, errors.New("could not open output")
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	s := &fakeSink{file: f, path: path, writeErr: b.writeErr, stallClose: b.stallClose}
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
	return s, nil
}

type fakeSink struct {
	file       *os.File
	path       string
	frames     int
	writeErr   error
	stallClose bool
	aborted    bool
}

func (s *fakeSink) WriteFrame(pix []byte) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.frames++
	_, err := s.file.Write(pix)
	return err
}

// Close hangs like an encoder stuck flushing when stallClose is set
func (s *fakeSink) Close(ctx context.Context) error {
	if s.stallClose {
		<-ctx.Done()
		s.file.Close()
		return ctx.Err()
	}
	return s.file.Close()
}

func (s *fakeSink) Abort() {
	s.aborted = true
	s.file.Close()
}

type fakeResources struct{ disk, memory error }

func (r fakeResources) CheckDisk(ctx context.Context, path string, minFree uint64) error {
	return r.disk
}

func (r fakeResources) CheckMemory(ctx context.Context, minAvailable uint64) error {
	return r.memory
}

func newTestWriter(b Backend, opts Options) *Writer {
	return NewWriter(zerolog.Nop(), b, DefaultCandidates(), nil, opts)
}

func TestFallbackWhenPrimaryUnavailable(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{unavailable: map[string]bool{"h264-mp4": true}}
	w := newTestWriter(backend, Options{})

	require.NoError(t, w.Open(context.Background(), filepath.Join(dir, "job_pencil_output.mp4"), 16, 8, 24))
	assert.Equal(t, "mpeg4-mp4", w.Candidate().Name)
	assert.Equal(t, filepath.Join(dir, "job_pencil_output.mp4"), w.Path())

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Write(frame.New(16, 8, frame.RGB)))
	}
	path, err := w.Finalize(context.Background())
	require.NoError(t, err)

	stat, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5*16*8*3), stat.Size())
	assert.Equal(t, []string{"h264-mp4", "mpeg4-mp4"}, backend.probed)
}

func TestFallbackSwapsExtension(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{
		unavailable: map[string]bool{"h264-mp4": true},
		failOpen:    map[string]bool{"mpeg4-mp4": true},
	}
	w := newTestWriter(backend, Options{})

	require.NoError(t, w.Open(context.Background(), filepath.Join(dir, "out.mp4"), 16, 8, 24))
	assert.Equal(t, "mjpeg-avi", w.Candidate().Name)
	assert.Equal(t, filepath.Join(dir, "out.avi"), w.Path())

	_, err := os.Stat(filepath.Join(dir, "out.mp4"))
	assert.True(t, os.IsNotExist(err), "failed candidate must not leave a file")
}

func TestNoAvailableEncoder(t *testing.T) {
	backend := &fakeBackend{unavailable: map[string]bool{"h264-mp4": true, "mpeg4-mp4": true, "mjpeg-avi": true}}
	w := newTestWriter(backend, Options{})

	err := w.Open(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 16, 8, 24)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindNoAvailableEncoder))
	assert.Contains(t, err.Error(), "mjpeg-avi")
}

func TestOpenRemovesStaleOutputs(t *testing.T) {
	dir := t.TempDir()
	mp4 := filepath.Join(dir, "out.mp4")
	avi := filepath.Join(dir, "out.avi")
	require.NoError(t, os.WriteFile(mp4, []byte("stale"), 0644))
	require.NoError(t, os.WriteFile(avi, []byte("stale"), 0644))

	w := newTestWriter(&fakeBackend{}, Options{})
	require.NoError(t, w.Open(context.Background(), mp4, 4, 4, 10))

	_, err := os.Stat(avi)
	assert.True(t, os.IsNotExist(err))

	stat, err := os.Stat(mp4)
	require.NoError(t, err)
	assert.Zero(t, stat.Size(), "fresh output must not contain stale bytes")
}

func TestWriteConvertsAndRejects(t *testing.T) {
	w := newTestWriter(&fakeBackend{}, Options{})
	require.NoError(t, w.Open(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 4, 4, 10))

	assert.NoError(t, w.Write(frame.New(4, 4, frame.Gray)))
	assert.NoError(t, w.Write(frame.New(4, 4, frame.RGBA)))
	assert.Equal(t, 2, w.Frames())

	err := w.Write(&frame.Frame{Width: 4, Height: 4, Channels: 2, BitDepth: 8, Pix: make([]byte, 32)})
	assert.True(t, errs.Is(err, errs.KindIncompatibleFrameFormat))

	err = w.Write(frame.New(8, 4, frame.RGB))
	assert.True(t, errs.Is(err, errs.KindIncompatibleFrameFormat))

	err = w.Write(&frame.Frame{Width: 4, Height: 4, Channels: 3, BitDepth: 16, Pix: make([]byte, 96)})
	assert.True(t, errs.Is(err, errs.KindIncompatibleFrameFormat))
}

func TestAbortRemovesPartialFile(t *testing.T) {
	backend := &fakeBackend{}
	w := newTestWriter(backend, Options{})
	require.NoError(t, w.Open(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 4, 4, 10))
	require.NoError(t, w.Write(frame.New(4, 4, frame.RGB)))

	path := w.Path()
	w.Abort()
	w.Abort()

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	require.Len(t, backend.sinks, 1)
	assert.True(t, backend.sinks[0].aborted)

	_, err = w.Finalize(context.Background())
	assert.Error(t, err)
}

func TestFinalizeEnforcesMinimumSize(t *testing.T) {
	w := newTestWriter(&fakeBackend{}, Options{MinOutputBytes: 1024})
	require.NoError(t, w.Open(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 4, 4, 10))
	require.NoError(t, w.Write(frame.New(4, 4, frame.RGB)))

	_, err := w.Finalize(context.Background())
	assert.True(t, errs.Is(err, errs.KindEncode))
	_, statErr := os.Stat(w.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestFinalizeRunsVerifier(t *testing.T) {
	verifyErr := errors.New("moov atom not found")
	w := newTestWriter(&fakeBackend{}, Options{Verify: func(ctx context.Context, path string) error { return verifyErr }})
	require.NoError(t, w.Open(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 4, 4, 10))

	_, err := w.Finalize(context.Background())
	assert.True(t, errs.Is(err, errs.KindEncode))
	assert.ErrorIs(t, err, verifyErr)
}

func TestDiskExhaustion(t *testing.T) {
	diskErr := errs.ResourceExhausted("check_disk", "disk", errors.New("5MB free"))
	w := NewWriter(zerolog.Nop(), &fakeBackend{}, nil, fakeResources{disk: diskErr}, Options{MinFreeDisk: 1 << 30})

	err := w.Open(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 4, 4, 10)
	assert.True(t, errs.Is(err, errs.KindResourceExhausted))

	backend := &fakeBackend{writeErr: errors.New("av_interleaved_write_frame(): No space left on device")}
	w = newTestWriter(backend, Options{})
	require.NoError(t, w.Open(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 4, 4, 10))
	err = w.Write(frame.New(4, 4, frame.RGB))
	assert.True(t, errs.Is(err, errs.KindResourceExhausted))
	resource, _ := errs.Detail(err, "resource")
	assert.Equal(t, "disk", resource)
}

func TestMemoryExhaustion(t *testing.T) {
	memErr := errs.ResourceExhausted("check_memory", "memory", errors.New("64MB available"))
	backend := &fakeBackend{}
	w := NewWriter(zerolog.Nop(), backend, nil, fakeResources{memory: memErr}, Options{MinFreeMemory: 1 << 30})

	err := w.Open(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 4, 4, 10)
	assert.True(t, errs.Is(err, errs.KindResourceExhausted))
	resource, _ := errs.Detail(err, "resource")
	assert.Equal(t, "memory", resource)
	assert.Empty(t, backend.probed, "no candidate is tried without headroom")
}

func TestFinalizeGivesUpOnStalledEncoder(t *testing.T) {
	w := newTestWriter(&fakeBackend{stallClose: true}, Options{})
	require.NoError(t, w.Open(context.Background(), filepath.Join(t.TempDir(), "out.mp4"), 4, 4, 10))
	require.NoError(t, w.Write(frame.New(4, 4, frame.RGB)))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := w.Finalize(ctx)
	assert.True(t, errs.Is(err, errs.KindTimeout), "got %v", err)
	_, statErr := os.Stat(w.Path())
	assert.True(t, os.IsNotExist(statErr))
}

func TestCandidateOutputPath(t *testing.T) {
	c := Candidate{Ext: ".avi"}
	assert.Equal(t, "/out/a.avi", c.OutputPath("/out/a.mp4"))
	assert.Equal(t, "/out/a.mp4", Candidate{}.OutputPath("/out/a.mp4"))
}

func TestSelectCandidates(t *testing.T) {
	all, err := SelectCandidates(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	picked, err := SelectCandidates([]string{"mjpeg-avi", "h264-mp4"})
	require.NoError(t, err)
	require.Len(t, picked, 2)
	assert.Equal(t, "mjpeg-avi", picked[0].Name)
	assert.Equal(t, ".avi", picked[0].Ext)

	_, err = SelectCandidates([]string{"vp9-webm"})
	assert.Error(t, err)
}
