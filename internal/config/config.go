package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/keagan/artcannon/internal/engine"
	"github.com/keagan/artcannon/internal/grid"
	"github.com/keagan/artcannon/internal/pipeline"
)

type contextKey string

const configKey contextKey = "config"

// EnvPrefix namespaces environment overrides, e.g. ARTCANNON_PIPELINE_MAX_CHUNK
const EnvPrefix = "ARTCANNON_"

// Config holds all application configuration
type Config struct {
	// Core settings
	OutputDir string        `yaml:"output_dir" env:"OUTPUT_DIR"`
	Workers   int           `yaml:"workers" env:"WORKERS"`
	QueueSize int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	Retention time.Duration `yaml:"retention" env:"RETENTION"`

	FFmpeg   FFmpegConfig    `yaml:"ffmpeg" envPrefix:"FFMPEG_"`
	Pipeline pipeline.Config `yaml:"pipeline" envPrefix:"PIPELINE_"`
	Encoder  EncoderConfig   `yaml:"encoder" envPrefix:"ENCODER_"`
	Grid     grid.Config     `yaml:"grid" envPrefix:"GRID_"`
	Analyzer AnalyzerConfig  `yaml:"analyzer" envPrefix:"ANALYZER_"`
	Previews PreviewConfig   `yaml:"previews" envPrefix:"PREVIEWS_"`
	Metrics  MetricsConfig   `yaml:"metrics" envPrefix:"METRICS_"`
}

type FFmpegConfig struct {
	Threads int `yaml:"threads" env:"THREADS"`
}

type EncoderConfig struct {
	// Candidates names encoder candidates in fallback order
	Candidates     []string `yaml:"candidates" env:"CANDIDATES" envSeparator:","`
	MinFreeDisk    uint64   `yaml:"min_free_disk" env:"MIN_FREE_DISK"`
	MinFreeMemory  uint64   `yaml:"min_free_memory" env:"MIN_FREE_MEMORY"`
	MinOutputBytes int64    `yaml:"min_output_bytes" env:"MIN_OUTPUT_BYTES"`
	Verify         bool     `yaml:"verify" env:"VERIFY"`
}

type AnalyzerConfig struct {
	Samples     int `yaml:"samples" env:"SAMPLES"`
	SampleWidth int `yaml:"sample_width" env:"SAMPLE_WIDTH"`
}

type PreviewConfig struct {
	Count   int `yaml:"count" env:"COUNT"`
	Width   int `yaml:"width" env:"WIDTH"`
	Height  int `yaml:"height" env:"HEIGHT"`
	Quality int `yaml:"quality" env:"QUALITY"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090"
	Addr string `yaml:"addr" env:"ADDR"`
}

// Load reads configuration from file, falling back to defaults, then
// applies ARTCANNON_* environment overrides
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = findConfigFile()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings no component can run with
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir is required")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Pipeline.MinChunk <= 0 || c.Pipeline.MaxChunk < c.Pipeline.MinChunk {
		return fmt.Errorf("pipeline chunk bounds invalid: min %d, max %d", c.Pipeline.MinChunk, c.Pipeline.MaxChunk)
	}
	if c.Pipeline.ChunkTimeout <= 0 {
		return fmt.Errorf("pipeline.chunk_timeout must be positive")
	}
	if c.Grid.Intensity < 0 || c.Grid.Intensity > 1 {
		return fmt.Errorf("grid.intensity must be within [0, 1], got %v", c.Grid.Intensity)
	}
	if c.Previews.Quality < 1 || c.Previews.Quality > 100 {
		return fmt.Errorf("previews.quality must be within [1, 100], got %d", c.Previews.Quality)
	}
	return nil
}

// Save writes configuration to file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Engine maps the file layout onto engine settings
func (c *Config) Engine() engine.Config {
	return engine.Config{
		OutputDir:           c.OutputDir,
		Workers:             c.Workers,
		QueueSize:           c.QueueSize,
		Retention:           c.Retention,
		Pipeline:            c.Pipeline,
		Grid:                c.Grid,
		Encoders:            c.Encoder.Candidates,
		MinFreeDisk:         c.Encoder.MinFreeDisk,
		MinFreeMemory:       c.Encoder.MinFreeMemory,
		MinOutputBytes:      c.Encoder.MinOutputBytes,
		VerifyOutput:        c.Encoder.Verify,
		AnalyzerSamples:     c.Analyzer.Samples,
		AnalyzerSampleWidth: c.Analyzer.SampleWidth,
		PreviewCount:        c.Previews.Count,
		PreviewWidth:        c.Previews.Width,
		PreviewHeight:       c.Previews.Height,
		PreviewQuality:      c.Previews.Quality,
	}
}

func defaultConfig() *Config {
	e := engine.DefaultConfig()
	return &Config{
		OutputDir: e.OutputDir,
		Workers:   e.Workers,
		QueueSize: e.QueueSize,
		Retention: e.Retention,
		Pipeline:  e.Pipeline,
		Grid:      e.Grid,
		Encoder: EncoderConfig{
			MinFreeDisk:    e.MinFreeDisk,
			MinFreeMemory:  e.MinFreeMemory,
			MinOutputBytes: e.MinOutputBytes,
			Verify:         e.VerifyOutput,
		},
		Analyzer: AnalyzerConfig{
			Samples:     e.AnalyzerSamples,
			SampleWidth: e.AnalyzerSampleWidth,
		},
		Previews: PreviewConfig{
			Count:   e.PreviewCount,
			Width:   e.PreviewWidth,
			Height:  e.PreviewHeight,
			Quality: e.PreviewQuality,
		},
	}
}

func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		"./config.yml",
		filepath.Join(os.Getenv("HOME"), ".artcannon", "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// WithConfig stores config in context
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey, cfg)
}

// FromContext retrieves config from context
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(configKey).(*Config); ok {
		return cfg
	}
	return defaultConfig()
}
