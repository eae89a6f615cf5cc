package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/keagan/artcannon/pkg/util"
)

// ListEncoders returns the video encoder names compiled into ffmpeg
func (e *Executor) ListEncoders(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, e.ffmpegPath, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list encoders: %w", err)
	}
	return parseEncoders(out), nil
}

// parseEncoders reads lines like " V....D libx264  libx264 H.264 ..."
// after the "------" separator and keeps the video entries
func parseEncoders(out []byte) []string {
	var names []string
	started := false
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !started {
			started = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		names = append(names, fields[1])
	}
	return names
}

// ProbeEncoder runs a one-frame trial encode so a codec that is listed
// but unusable (missing license, bad pixel format) is caught early
func (e *Executor) ProbeEncoder(ctx context.Context, codec, pixFmt, ext string, extraArgs []string) error {
	probe, err := util.TempFile("", "artcannon-probe-", ext)
	if err != nil {
		return fmt.Errorf("failed to create probe file: %w", err)
	}
	probePath := probe.Name()
	probe.Close()
	defer util.CleanupFiles(probePath)

	args := []string{"-f", "lavfi", "-i", "color=c=black:s=64x64:r=1:d=1", "-frames:v", "1", "-c:v", codec}
	if pixFmt != "" {
		args = append(args, "-pix_fmt", pixFmt)
	}
	args = append(args, extraArgs...)
	args = append(args, probePath)

	if err := e.Run(ctx, RunOptions{Args: args}); err != nil {
		return fmt.Errorf("encoder %s unusable: %w", codec, err)
	}
	if stat, err := os.Stat(probePath); err != nil || stat.Size() == 0 {
		return fmt.Errorf("encoder %s produced no output", codec)
	}
	return nil
}

// VerifyDecodable decodes the whole file to the null muxer and fails on
// any decode error
func (e *Executor) VerifyDecodable(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, e.ffmpegPath, "-v", "error", "-nostdin", "-i", path, "-f", "null", "-")
	stderr := newTail(maxStderrLines)
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return &ExitError{Err: err, Stderr: stderr.String()}
	}
	if msg := stderr.String(); msg != "" {
		return fmt.Errorf("%s is not cleanly decodable: %s", filepath.Base(path), msg)
	}
	return nil
}
