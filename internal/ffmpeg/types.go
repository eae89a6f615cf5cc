package ffmpeg

import "time"

// VideoInfo contains metadata about a video file
type VideoInfo struct {
	FilePath   string
	Duration   time.Duration
	Width      int
	Height     int
	FPS        float64
	FrameCount int
	Bitrate    int64
	VideoCodec string
	PixFmt     string
	HasAudio   bool
}

// Progress represents ffmpeg progress data
type Progress struct {
	Frame int
	FPS   float64
	Time  string
	Speed string
}

// RunOptions configures ffmpeg execution
type RunOptions struct {
	Args            []string
	ProgressHandler func(*Progress)
	LogHandler      func(line string)
}

// DecodeOptions configures raw frame extraction
type DecodeOptions struct {
	// Width and Height rescale frames during decode when both are positive
	Width  int
	Height int
}

// EncodeOptions configures a raw-frame encode session
type EncodeOptions struct {
	Output    string
	Width     int
	Height    int
	FPS       float64
	Codec     string
	PixFmt    string
	ExtraArgs []string
}

// Raw frames always travel as packed 8-bit RGB
const (
	RawPixFmt        = "rgb24"
	RawBytesPerPixel = 3
)
