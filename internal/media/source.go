// Package media holds the probed description of a source video. A Source is
// produced once at ingestion and only read by the processing core.
package media

import (
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"
)

// Source describes a decodable video with its probed metadata
type Source struct {
	ID         string        `json:"id" yaml:"id"`
	Path       string        `json:"path" yaml:"path"`
	Width      int           `json:"width" yaml:"width"`
	Height     int           `json:"height" yaml:"height"`
	FrameRate  float64       `json:"frame_rate" yaml:"frame_rate"`
	FrameCount int           `json:"frame_count" yaml:"frame_count"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// Validate checks that the metadata needed for processing is present
func (s Source) Validate() error {
	if s.Path == "" {
		return fmt.Errorf("source path is required")
	}
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("source dimensions must be positive, got %dx%d", s.Width, s.Height)
	}
	if s.FrameRate <= 0 {
		return fmt.Errorf("source frame rate must be positive, got %f", s.FrameRate)
	}
	if s.FrameCount <= 0 {
		return fmt.Errorf("source frame count must be positive, got %d", s.FrameCount)
	}
	return nil
}

// FrameAt returns the index of the first frame whose timestamp is >= t
func (s Source) FrameAt(t time.Duration) int {
	// Tolerate float noise so 2.0s at 24fps lands on frame 48, not 49
	idx := int(math.Ceil(t.Seconds()*s.FrameRate - 1e-6))
	if idx < 0 {
		return 0
	}
	if idx > s.FrameCount {
		return s.FrameCount
	}
	return idx
}

// FrameTime returns the presentation time of a frame index
func (s Source) FrameTime(idx int) time.Duration {
	if s.FrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(idx) / s.FrameRate * float64(time.Second))
}

// SeekTime is half a frame before FrameTime(idx), never negative. Any
// point in that half frame selects idx as the first frame at or after it.
func (s Source) SeekTime(idx int) time.Duration {
	if s.FrameRate <= 0 || idx <= 0 {
		return 0
	}
	half := time.Duration(0.5 / s.FrameRate * float64(time.Second))
	return s.FrameTime(idx) - half
}

// SampleFrames returns n evenly spaced frame indices spanning the whole
// source, or every index when the source has n frames or fewer
func (s Source) SampleFrames(n int) []int {
	if n <= 0 || s.FrameCount <= 0 {
		return nil
	}
	if n >= s.FrameCount {
		out := make([]int, s.FrameCount)
		for i := range out {
			out[i] = i
		}
		return out
	}
	if n == 1 {
		return []int{s.FrameCount / 2}
	}
	out := make([]int, n)
	for i := range out {
		out[i] = i * (s.FrameCount - 1) / (n - 1)
	}
	return out
}

// SafeOutputName builds a download-friendly file name for a processed
// source. Spaces become underscores; anything else that is not
// alphanumeric, a dot or a dash is dropped.
func SafeOutputName(sourcePath, style, ext string) string {
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	if style == "" {
		style = "processed"
	}
	name := fmt.Sprintf("%s_%s%s", base, style, ext)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	return b.String()
}
