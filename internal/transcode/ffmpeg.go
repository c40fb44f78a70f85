package transcode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultFFmpegPath is where the Lambda layer installs ffmpeg.
const DefaultFFmpegPath = "/opt/bin/ffmpeg"

// Encoder turns the file at in into an MP4 at out.
type Encoder interface {
	Encode(ctx context.Context, in, out string, p Params) error
}

// EncodeError is a non-zero encoder exit.
type EncodeError struct {
	ExitCode int
	Output   string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("ffmpeg exited with code %d: %s", e.ExitCode, e.Output)
}

// Code is the value recorded as the failure detail.
func (e *EncodeError) Code() string {
	return "exit_" + strconv.Itoa(e.ExitCode)
}

// FFmpeg runs the ffmpeg binary.
type FFmpeg struct {
	Path string
}

// NewFFmpeg resolves the binary: path if it exists, else ffmpeg on PATH.
func NewFFmpeg(path string) (*FFmpeg, error) {
	if path == "" {
		path = DefaultFFmpegPath
	}
	if _, err := os.Stat(path); err == nil {
		return &FFmpeg{Path: path}, nil
	}
	found, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found at %s or in PATH", path)
	}
	return &FFmpeg{Path: found}, nil
}

// BuildArgs returns the ffmpeg argument list. The filter never upscales,
// keeps the aspect ratio and pads to even dimensions, which libx264 with
// yuv420p requires.
func BuildArgs(in, out string, p Params) []string {
	vf := fmt.Sprintf("scale='min(%d,iw)':'min(%d,ih)':force_original_aspect_ratio=decrease,"+
		"pad=ceil(iw/2)*2:ceil(ih/2)*2:(ow-iw)/2:(oh-ih)/2", p.Width, p.Height)
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-i", in,
		"-vf", vf,
		"-r", strconv.Itoa(p.FPS),
		"-c:v", "libx264",
		"-profile:v", "high", "-level", "4.1",
		"-pix_fmt", "yuv420p",
		"-b:v", p.VideoBitrate, "-maxrate", p.VideoBitrate, "-bufsize", "10M",
		"-g", strconv.Itoa(max(1, p.FPS*2)),
		"-c:a", "aac", "-b:a", p.AudioBitrate, "-ar", strconv.Itoa(p.AudioSampleRate),
		"-movflags", "+faststart",
		out,
	}
}

// Encode runs ffmpeg and verifies it produced a non-empty file.
func (f *FFmpeg) Encode(ctx context.Context, in, out string, p Params) error {
	args := BuildArgs(in, out, p)
	log.Debug().Strs("args", args).Msg("Running ffmpeg")

	start := time.Now()
	output, err := exec.CommandContext(ctx, f.Path, args...).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &EncodeError{ExitCode: exitErr.ExitCode(), Output: tail(string(output), 2048)}
		}
		return fmt.Errorf("run ffmpeg: %w", err)
	}
	st, err := os.Stat(out)
	if err != nil || st.Size() == 0 {
		return &EncodeError{ExitCode: 0, Output: "no output produced"}
	}
	log.Debug().Dur("elapsed", time.Since(start)).Int64("bytes", st.Size()).Msg("ffmpeg finished")
	return nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
