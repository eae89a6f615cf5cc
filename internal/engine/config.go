package engine

import (
	"time"

	"github.com/keagan/artcannon/internal/grid"
	"github.com/keagan/artcannon/internal/pipeline"
)

// Config wires the engine's components
type Config struct {
	OutputDir string
	// Workers is the number of concurrent jobs; 0 means one per logical CPU
	Workers   int
	QueueSize int
	Retention time.Duration

	Pipeline pipeline.Config
	Grid     grid.Config

	// Encoders names the candidates to try, in order; empty means all
	Encoders       []string
	MinFreeDisk    uint64
	MinFreeMemory  uint64
	MinOutputBytes int64
	VerifyOutput   bool

	AnalyzerSamples     int
	AnalyzerSampleWidth int

	PreviewCount   int
	PreviewWidth   int
	PreviewHeight  int
	PreviewQuality int
}

// DefaultConfig returns the stock engine settings
func DefaultConfig() Config {
	return Config{
		OutputDir:           "./output",
		QueueSize:           64,
		Retention:           time.Hour,
		Pipeline:            pipeline.DefaultConfig(),
		Grid:                grid.DefaultConfig(),
		MinFreeDisk:         100 << 20,
		MinFreeMemory:       128 << 20,
		MinOutputBytes:      1024,
		VerifyOutput:        true,
		AnalyzerSamples:     8,
		AnalyzerSampleWidth: 160,
		PreviewCount:        5,
		PreviewWidth:        320,
		PreviewHeight:       240,
		PreviewQuality:      85,
	}
}
