package pipeline

import (
	"context"
	"time"

	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/internal/errs"
	"github.com/keagan/artcannon/internal/ffmpeg"
	"github.com/keagan/artcannon/internal/frame"
	"github.com/keagan/artcannon/internal/media"
)

// Config holds pipeline-specific configuration
type Config struct {
	MinChunk      int           `yaml:"min_chunk" env:"MIN_CHUNK"`
	MaxChunk      int           `yaml:"max_chunk" env:"MAX_CHUNK"`
	ChunkDivisor  int           `yaml:"chunk_divisor" env:"CHUNK_DIVISOR"`
	HighResPixels int           `yaml:"high_res_pixels" env:"HIGH_RES_PIXELS"`
	ChunkTimeout  time.Duration `yaml:"chunk_timeout" env:"CHUNK_TIMEOUT"`
	DecodeRetries int           `yaml:"decode_retries" env:"DECODE_RETRIES"`
}

// DefaultConfig returns the stock chunking thresholds
func DefaultConfig() Config {
	return Config{
		MinChunk:      50,
		MaxChunk:      300,
		ChunkDivisor:  10,
		HighResPixels: 1920 * 1080,
		ChunkTimeout:  5 * time.Minute,
		DecodeRetries: 1,
	}
}

// Decoder yields raw frames for a frame range of a source
type Decoder interface {
	DecodeRange(ctx context.Context, src media.Source, start, count int, opts ffmpeg.DecodeOptions) ([]*frame.Frame, error)
}

// Applier transforms one frame
type Applier interface {
	Apply(f *frame.Frame, spec effects.Spec) (*frame.Frame, error)
}

// FrameWriter encodes transformed frames to a file
type FrameWriter interface {
	Open(ctx context.Context, path string, width, height int, fps float64) error
	Write(f *frame.Frame) error
	Finalize(ctx context.Context) (string, error)
	Abort()
}

// WriterFactory returns a fresh single-use writer per job
type WriterFactory func() FrameWriter

// Tracker receives job state transitions; *jobs.Registry satisfies it
type Tracker interface {
	Start(id string) error
	Update(id string, progress float64, message string) error
	Complete(id, outputPath string) error
	Fail(id string, reason errs.Kind, message string) error
	Cancel(id, message string) error
}

// Request is one job's worth of work
type Request struct {
	JobID      string
	Source     media.Source
	Spec       effects.Spec
	OutputPath string
	// Cancelled is polled between chunks
	Cancelled func() bool
}

// Chunk is a [Start, End) frame range
type Chunk struct {
	Index int
	Start int
	End   int
}

// Len returns the number of frames in the chunk
func (c Chunk) Len() int { return c.End - c.Start }
