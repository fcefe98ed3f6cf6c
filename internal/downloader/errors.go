package downloader

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"ytdl-stream/internal/provider"
)

// ErrFFmpegMissing is returned for audio jobs on hosts without ffmpeg.
var ErrFFmpegMissing = errors.New("ffmpeg not installed")

type friendlyError struct {
	msg string
	err error
}

func (e *friendlyError) Error() string { return e.msg }
func (e *friendlyError) Unwrap() error { return e.err }

// sentinelMessages are matched with errors.Is before any text rewrite.
var sentinelMessages = []struct {
	err error
	msg string
}{
	{ErrFFmpegMissing, "FFmpeg is not installed on the server; audio downloads are unavailable"},
	{provider.ErrNoFormats, "No suitable video format found"},
	{errNoPlayableSource, "No playable source found for the requested quality"},
	{context.Canceled, "Download cancelled"},
	{context.DeadlineExceeded, "Timed out waiting for the media host"},
}

var forbiddenPattern = regexp.MustCompile(`\b(http error 403|status code:? 403|403 forbidden)\b`)

// rewrites run against the lowercased error text, first match wins.
var rewrites = []struct {
	needles []string
	pattern *regexp.Regexp
	msg     string
}{
	{needles: []string{"no space left"}, msg: "Disk space exhausted. Cannot complete download."},
	{needles: []string{"permission denied"}, msg: "Storage permission denied. Please contact system administrator."},
	{needles: []string{"sign in to confirm", "age-restricted", "age restricted", "login required"}, msg: "This video requires sign-in or is age restricted."},
	{needles: []string{"private video"}, msg: "This video is private."},
	{needles: []string{"format is not available"}, msg: "The requested format is not available for this video."},
	{needles: []string{"video unavailable", "video is unavailable", "video is not available"}, msg: "This video is unavailable."},
	{needles: []string{"cipher", "signature"}, msg: "YouTube restricted access to this video (Cipher/Signature error)."},
	{pattern: forbiddenPattern, msg: "Access forbidden. The media host might be throttling the server IP."},
	{needles: []string{"ffmpeg"}, msg: "Media processing error (FFmpeg failed). Please try again."},
}

// FriendlyError rewrites known provider and tool failures into text meant for
// end users. Anything unrecognised passes through unchanged.
func FriendlyError(err error) error {
	if err == nil {
		return nil
	}
	var fe *friendlyError
	if errors.As(err, &fe) {
		return err
	}
	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return &friendlyError{msg: s.msg, err: err}
		}
	}

	lower := strings.ToLower(err.Error())
	for _, rw := range rewrites {
		if rw.pattern != nil && rw.pattern.MatchString(lower) {
			return &friendlyError{msg: rw.msg, err: err}
		}
		for _, needle := range rw.needles {
			if strings.Contains(lower, needle) {
				return &friendlyError{msg: rw.msg, err: err}
			}
		}
	}
	return err
}
