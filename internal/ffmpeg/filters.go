package ffmpeg

import (
	"fmt"
	"strings"
)

// FilterBuilder helps construct ffmpeg -vf chains
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0),
	}
}

// Scale adds a scale filter
func (fb *FilterBuilder) Scale(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("scale=%d:%d", width, height))
	return fb
}

// PadEven pads odd dimensions up to the next even size; chroma-subsampled
// pixel formats reject odd widths and heights
func (fb *FilterBuilder) PadEven(width, height int) *FilterBuilder {
	if width%2 == 0 && height%2 == 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("pad=%d:%d:0:0", width+width%2, height+height%2))
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	if len(fb.filters) == 0 {
		return ""
	}
	return strings.Join(fb.filters, ",")
}

// Args returns ["-vf", chain] or nothing when the chain is empty
func (fb *FilterBuilder) Args() []string {
	if len(fb.filters) == 0 {
		return nil
	}
	return []string{"-vf", fb.Build()}
}
