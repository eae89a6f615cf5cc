// Package encoder turns a stream of frames into a playable video file,
// walking a ranked list of codec/container candidates until one opens.
package encoder

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Candidate is one codec/container combination to try
type Candidate struct {
	Name   string   `yaml:"name" json:"name"`
	Codec  string   `yaml:"codec" json:"codec"`
	PixFmt string   `yaml:"pix_fmt" json:"pix_fmt"`
	Ext    string   `yaml:"ext" json:"ext"`
	Args   []string `yaml:"args,omitempty" json:"args,omitempty"`
}

// DefaultCandidates is H.264/MP4, then MPEG-4 Part 2/MP4, then MJPEG/AVI
func DefaultCandidates() []Candidate {
	return []Candidate{
		{
			Name:   "h264-mp4",
			Codec:  "libx264",
			PixFmt: "yuv420p",
			Ext:    ".mp4",
			Args:   []string{"-preset", "fast", "-crf", "23", "-movflags", "+faststart"},
		},
		{
			Name:   "mpeg4-mp4",
			Codec:  "mpeg4",
			PixFmt: "yuv420p",
			Ext:    ".mp4",
			Args:   []string{"-q:v", "5"},
		},
		{
			Name:   "mjpeg-avi",
			Codec:  "mjpeg",
			PixFmt: "yuvj420p",
			Ext:    ".avi",
			Args:   []string{"-q:v", "3"},
		},
	}
}

// OutputPath swaps the extension of path for the candidate's container
func (c Candidate) OutputPath(path string) string {
	if c.Ext == "" {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + c.Ext
}

// SelectCandidates picks default candidates by name, in the given order.
// An empty list selects all defaults.
func SelectCandidates(names []string) ([]Candidate, error) {
	all := DefaultCandidates()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]Candidate, len(all))
	for _, c := range all {
		byName[c.Name] = c
	}
	out := make([]Candidate, 0, len(names))
	for _, name := range names {
		c, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown encoder candidate %q", name)
		}
		out = append(out, c)
	}
	return out, nil
}
