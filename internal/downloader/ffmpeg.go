package downloader

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const progressTimePrefix = "out_time_us="

// BuildFFmpegArgs returns the arguments that transcode input to an MP3 at
// bitrate, reporting progress as key=value lines on stdout.
func BuildFFmpegArgs(input, output, bitrate string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-i", input,
		"-vn",
		"-codec:a", "libmp3lame",
		"-b:a", bitrate,
		"-progress", "pipe:1",
		output,
	}
}

// transcode runs ffmpeg and reports the completed fraction of duration.
// A zero duration disables intermediate reports.
func transcode(ctx context.Context, ffmpeg, input, output, bitrate string, duration time.Duration, onProgress func(float64)) error {
	cmd := exec.CommandContext(ctx, ffmpeg, BuildFFmpegArgs(input, output, bitrate)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	monitorProgress(stdout, duration, onProgress)

	if err := cmd.Wait(); err != nil {
		os.Remove(output)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return fmt.Errorf("ffmpeg: %s", detail)
	}
	if info, err := os.Stat(output); err != nil || info.Size() == 0 {
		os.Remove(output)
		return fmt.Errorf("ffmpeg: generated file is empty")
	}
	return nil
}

func monitorProgress(r io.Reader, duration time.Duration, onProgress func(float64)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, progressTimePrefix) || duration <= 0 || onProgress == nil {
			continue
		}
		us, err := strconv.ParseInt(strings.TrimPrefix(line, progressTimePrefix), 10, 64)
		if err != nil || us < 0 {
			continue
		}
		frac := float64(time.Duration(us)*time.Microsecond) / float64(duration)
		if frac > 1 {
			frac = 1
		}
		onProgress(frac)
	}
	// Drain whatever is left so ffmpeg never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}
