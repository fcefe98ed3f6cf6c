package provider

import (
	"fmt"
	"mime"
	"slices"
	"strings"
)

// HasVideo reports whether the format carries a video track.
func (f MediaFormat) HasVideo() bool {
	return f.VCodec != "" && f.VCodec != "none"
}

// HasAudio reports whether the format carries an audio track.
func (f MediaFormat) HasAudio() bool {
	return f.ACodec != "" && f.ACodec != "none"
}

// Combined reports whether the format muxes audio and video.
func (f MediaFormat) Combined() bool {
	return f.HasVideo() && f.HasAudio()
}

// IsHLS reports whether the format is an HLS playlist.
func (f MediaFormat) IsHLS() bool {
	return strings.HasPrefix(f.Protocol, "m3u8")
}

// SelectFormat picks the rendition to play: combined mp4 at the highest
// height, then any combined, then the best video-only, then the first format
// with a URL. maxHeight > 0 applies a ceiling; when nothing fits under it the
// ceiling is dropped.
func SelectFormat(formats []MediaFormat, maxHeight int) (MediaFormat, bool) {
	if maxHeight > 0 {
		var capped []MediaFormat
		for _, f := range formats {
			if f.Height > 0 && f.Height <= maxHeight {
				capped = append(capped, f)
			}
		}
		if f, ok := selectFrom(capped); ok {
			return f, true
		}
	}
	return selectFrom(formats)
}

func selectFrom(formats []MediaFormat) (MediaFormat, bool) {
	tiers := []func(MediaFormat) bool{
		func(f MediaFormat) bool { return f.Combined() && f.Ext == "mp4" },
		MediaFormat.Combined,
		MediaFormat.HasVideo,
	}
	for _, match := range tiers {
		best, found := MediaFormat{}, false
		for _, f := range formats {
			if f.URL == "" || !match(f) {
				continue
			}
			if !found || f.Height > best.Height {
				best, found = f, true
			}
		}
		if found {
			return best, true
		}
	}
	for _, f := range formats {
		if f.URL != "" {
			return f, true
		}
	}
	return MediaFormat{}, false
}

// SelectAudio picks the best audio-only rendition, preferring m4a and then
// higher bitrate. Falls back to any format with audio.
func SelectAudio(formats []MediaFormat) (MediaFormat, bool) {
	better := func(a, b MediaFormat) bool {
		if (a.Ext == "m4a") != (b.Ext == "m4a") {
			return a.Ext == "m4a"
		}
		return a.Bitrate > b.Bitrate
	}
	for _, audioOnly := range []bool{true, false} {
		best, found := MediaFormat{}, false
		for _, f := range formats {
			if f.URL == "" || !f.HasAudio() || (audioOnly && f.HasVideo()) {
				continue
			}
			if !found || better(f, best) {
				best, found = f, true
			}
		}
		if found {
			return best, true
		}
	}
	return MediaFormat{}, false
}

// QualityLabels lists the distinct video heights in formats, highest first,
// as "720p" or "1080p 60fps" when the best rendition at that height runs
// above 30fps.
func QualityLabels(formats []MediaFormat) []string {
	fps := map[int]int{}
	for _, f := range formats {
		if !f.HasVideo() || f.Height <= 0 {
			continue
		}
		if cur, ok := fps[f.Height]; !ok || f.FPS > cur {
			fps[f.Height] = f.FPS
		}
	}
	heights := make([]int, 0, len(fps))
	for h := range fps {
		heights = append(heights, h)
	}
	slices.Sort(heights)
	slices.Reverse(heights)

	labels := make([]string, 0, len(heights))
	for _, h := range heights {
		if fps[h] > 30 {
			labels = append(labels, fmt.Sprintf("%dp %dfps", h, fps[h]))
			continue
		}
		labels = append(labels, fmt.Sprintf("%dp", h))
	}
	return labels
}

// FormatSelector renders hints as a yt-dlp format expression.
func FormatSelector(h Hints) string {
	if h.AudioOnly {
		return "bestaudio[ext=m4a]/bestaudio/best"
	}
	if h.MaxHeight <= 0 {
		return "best[ext=mp4]/best/bestvideo+bestaudio"
	}
	c := fmt.Sprintf("[height<=%d]", h.MaxHeight)
	return "best" + c + "[ext=mp4]/best" + c + "/bestvideo" + c + "+bestaudio/best"
}

// parseMimeType splits a YouTube mime type such as
// `video/mp4; codecs="avc1.42001E, mp4a.40.2"` into ext and codecs.
func parseMimeType(raw string) (ext, vcodec, acodec string) {
	mediaType, params, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", "", ""
	}
	kind, subtype, _ := strings.Cut(mediaType, "/")
	ext = subtype

	var codecs []string
	for _, c := range strings.Split(params["codecs"], ",") {
		if c = strings.TrimSpace(c); c != "" {
			codecs = append(codecs, c)
		}
	}

	switch kind {
	case "audio":
		if ext == "mp4" {
			ext = "m4a"
		}
		vcodec = "none"
		if len(codecs) > 0 {
			acodec = codecs[0]
		}
	case "video":
		acodec = "none"
		if len(codecs) > 0 {
			vcodec = codecs[0]
		}
		if len(codecs) > 1 {
			acodec = codecs[1]
		}
	}
	return ext, vcodec, acodec
}
