package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"ytdl-stream/internal/config"
)

// ErrNoFormats is returned when a media item exposes nothing playable.
var ErrNoFormats = errors.New("no suitable format")

// Hints narrow what a provider fetches.
type Hints struct {
	// MaxHeight caps the video height; zero means no ceiling.
	MaxHeight int
	// AudioOnly selects the best audio-only stream.
	AudioOnly bool
}

// MediaFormat is one playable rendition of a media item.
type MediaFormat struct {
	URL        string
	Height     int
	FPS        int
	VCodec     string
	ACodec     string
	Ext        string
	FormatNote string
	Protocol   string
	Headers    map[string]string
	Filesize   int64
	Bitrate    int
}

// Info is the metadata of a media item, without its payload.
type Info struct {
	ID          string
	Title       string
	Duration    time.Duration
	Uploader    string
	ViewCount   int64
	Thumbnail   string
	Description string
	Ext         string
	Formats     []MediaFormat
}

// Transfer is a byte-level progress report from a download.
type Transfer struct {
	Downloaded int64
	Total      int64
	Started    time.Time
	ETA        time.Duration
}

// Fraction returns the completed share in [0,1], or -1 when the size is unknown.
func (t Transfer) Fraction() float64 {
	if t.Total <= 0 {
		return -1
	}
	f := float64(t.Downloaded) / float64(t.Total)
	if f > 1 {
		f = 1
	}
	return f
}

// Provider extracts metadata and downloads media for a URL.
type Provider interface {
	Name() string
	// Extract returns info without downloading anything.
	Extract(ctx context.Context, url string, hints Hints) (*Info, error)
	// Download writes the rendition picked by hints to dest and returns the
	// written path.
	Download(ctx context.Context, url string, hints Hints, dest string, progress func(Transfer)) (string, error)
}

// New returns the provider named in cfg.
func New(cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider.Name {
	case config.ProviderYouTube, "":
		return NewYouTube(httpClient, logger), nil
	case config.ProviderYTDLP:
		return NewYTDLP(cfg.Tools.YTDLP, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}
