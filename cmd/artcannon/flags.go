package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/keagan/artcannon/internal/effects"
	"github.com/keagan/artcannon/pkg/util"
)

// parseCrop reads "x,y,width,height"
func parseCrop(s string) (*effects.Rect, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parseInts(s, ",", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid --crop %q: %w", s, err)
	}
	return &effects.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// parseTrim reads "start,end" where each side is seconds or a
// [HH:]MM:SS timestamp
func parseTrim(s string) (*effects.Trim, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid --trim %q: want start,end", s)
	}
	start, err := util.ParseTimestamp(parts[0])
	if err != nil {
		return nil, fmt.Errorf("invalid --trim start: %w", err)
	}
	end, err := util.ParseTimestamp(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid --trim end: %w", err)
	}
	return &effects.Trim{Start: start.Seconds(), End: end.Seconds()}, nil
}

// parseSize reads "WIDTHxHEIGHT"
func parseSize(s string) (*effects.Size, error) {
	if s == "" {
		return nil, nil
	}
	v, err := parseInts(strings.ToLower(s), "x", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid --resize %q: %w", s, err)
	}
	return &effects.Size{Width: v[0], Height: v[1]}, nil
}

func parseInts(s, sep string, n int) ([]int, error) {
	parts := strings.Split(s, sep)
	if len(parts) != n {
		return nil, fmt.Errorf("want %d values separated by %q", n, sep)
	}
	out := make([]int, n)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}
