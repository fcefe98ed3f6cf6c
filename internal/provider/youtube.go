package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/kkdai/youtube/v2"

	"ytdl-stream/internal/logging"
)

const copyBufferSize = 32 * 1024

// YouTube resolves and downloads YouTube media natively.
type YouTube struct {
	client youtube.Client
	logger *slog.Logger
}

// NewYouTube returns a YouTube provider using httpClient for all requests.
func NewYouTube(httpClient *http.Client, logger *slog.Logger) *YouTube {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &YouTube{
		client: youtube.Client{HTTPClient: httpClient},
		logger: logging.NewComponentLogger(logger, "provider.youtube"),
	}
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) Extract(ctx context.Context, url string, _ Hints) (*Info, error) {
	video, err := y.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("video info: %w", err)
	}

	info := &Info{
		ID:          video.ID,
		Title:       video.Title,
		Duration:    video.Duration,
		Uploader:    video.Author,
		ViewCount:   int64(video.Views),
		Description: video.Description,
		Ext:         "mp4",
	}
	if n := len(video.Thumbnails); n > 0 {
		info.Thumbnail = video.Thumbnails[n-1].URL
	}

	for i := range video.Formats {
		f := &video.Formats[i]
		mf := convertFormat(f)
		if mf.URL == "" {
			streamURL, err := y.client.GetStreamURLContext(ctx, video, f)
			if err != nil {
				y.logger.Debug("skipping format without stream url",
					logging.Int("itag", f.ItagNo), logging.Error(err))
				continue
			}
			mf.URL = streamURL
		}
		info.Formats = append(info.Formats, mf)
	}
	if video.HLSManifestURL != "" {
		info.Formats = append(info.Formats, MediaFormat{
			URL:        video.HLSManifestURL,
			VCodec:     "unknown",
			ACodec:     "unknown",
			Ext:        "mp4",
			FormatNote: "live",
			Protocol:   "m3u8_native",
		})
	}
	return info, nil
}

func (y *YouTube) Download(ctx context.Context, url string, hints Hints, dest string, progress func(Transfer)) (string, error) {
	video, err := y.client.GetVideoContext(ctx, url)
	if err != nil {
		return "", fmt.Errorf("video info: %w", err)
	}
	format := pickYouTubeFormat(video.Formats, hints)
	if format == nil {
		return "", ErrNoFormats
	}

	stream, size, err := y.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	file, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	if err := copyWithProgress(file, stream, size, progress); err != nil {
		file.Close()
		os.Remove(dest)
		return "", err
	}
	if err := file.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("close %s: %w", dest, err)
	}
	return dest, nil
}

// pickYouTubeFormat applies the generic selection rules to the raw formats so
// the chosen *youtube.Format can be handed back to the client.
func pickYouTubeFormat(formats youtube.FormatList, hints Hints) *youtube.Format {
	converted := make([]MediaFormat, len(formats))
	for i := range formats {
		converted[i] = convertFormat(&formats[i])
		// The ciphered URL is resolved by GetStreamContext; any non-empty
		// marker keeps the format eligible.
		if converted[i].URL == "" {
			converted[i].URL = fmt.Sprintf("itag:%d", formats[i].ItagNo)
		}
	}

	var chosen MediaFormat
	var ok bool
	if hints.AudioOnly {
		chosen, ok = SelectAudio(converted)
	} else {
		chosen, ok = SelectFormat(converted, hints.MaxHeight)
	}
	if !ok {
		return nil
	}
	for i := range converted {
		if converted[i].URL == chosen.URL {
			return &formats[i]
		}
	}
	return nil
}

func convertFormat(f *youtube.Format) MediaFormat {
	ext, vcodec, acodec := parseMimeType(f.MimeType)
	note := f.QualityLabel
	if note == "" {
		note = f.AudioQuality
	}
	if vcodec != "none" && acodec == "none" && f.AudioChannels > 0 {
		acodec = "unknown"
	}
	return MediaFormat{
		URL:        f.URL,
		Height:     f.Height,
		FPS:        f.FPS,
		VCodec:     vcodec,
		ACodec:     acodec,
		Ext:        ext,
		FormatNote: note,
		Protocol:   "https",
		Filesize:   f.ContentLength,
		Bitrate:    f.Bitrate,
	}
}

func copyWithProgress(dst io.Writer, src io.Reader, total int64, progress func(Transfer)) error {
	started := time.Now()
	var written int64
	buf := make([]byte, copyBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write: %w", werr)
			}
			written += int64(n)
			if progress != nil {
				progress(transferAt(written, total, started))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

func transferAt(written, total int64, started time.Time) Transfer {
	t := Transfer{Downloaded: written, Total: total, Started: started}
	elapsed := time.Since(started)
	if total > written && written > 0 && elapsed > 0 {
		rate := float64(written) / elapsed.Seconds()
		t.ETA = time.Duration(float64(total-written)/rate) * time.Second
	}
	return t
}
