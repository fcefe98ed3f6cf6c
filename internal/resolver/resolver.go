package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
	"ytdl-stream/internal/provider"
)

const (
	descriptionPreviewLen = 200
	noDescription         = "No description available"
	unknownTitle          = "Unknown Title"
	unknownUploader       = "Unknown"
	defaultExt            = "mp4"
	msgNoFormats          = "No suitable video format found"
)

// Resolver turns a submitted URL into a MediaDescriptor.
type Resolver struct {
	provider provider.Provider
	logger   *slog.Logger
	now      func() time.Time
}

func New(p provider.Provider, logger *slog.Logger) *Resolver {
	return &Resolver{
		provider: p,
		logger:   logging.NewComponentLogger(logger, "resolver"),
		now:      time.Now,
	}
}

// Resolve extracts metadata for url and picks a playable source. It never
// returns an error or panics: every provider fault becomes a descriptor with
// status error.
func (r *Resolver) Resolve(ctx context.Context, url string) (desc models.MediaDescriptor) {
	desc = models.MediaDescriptor{SourceURL: url, CreatedAt: r.now()}
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("provider panic",
				logging.String("url", url),
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())))
			desc = failed(url, fmt.Sprintf("internal error while resolving: %v", rec), desc.CreatedAt)
		}
	}()

	info, err := r.provider.Extract(ctx, url, provider.Hints{})
	if err != nil {
		r.logger.Warn("resolve failed", logging.String("url", url), logging.Error(err))
		return failed(url, err.Error(), desc.CreatedAt)
	}
	if info == nil {
		return failed(url, "Failed to extract video info", desc.CreatedAt)
	}

	format, ok := provider.SelectFormat(info.Formats, 0)
	if !ok {
		return failed(url, msgNoFormats, desc.CreatedAt)
	}

	title := strings.TrimSpace(info.Title)
	if title == "" {
		title = unknownTitle
	}
	ext := info.Ext
	if ext == "" {
		ext = defaultExt
	}
	uploader := info.Uploader
	if uploader == "" {
		uploader = unknownUploader
	}
	original := title + "." + ext

	desc.Status = models.DescriptorReady
	desc.Title = title
	desc.Duration = info.Duration
	desc.Uploader = uploader
	desc.ViewCount = info.ViewCount
	desc.Thumbnail = info.Thumbnail
	desc.Description = previewDescription(info.Description)
	desc.OriginalFilename = original
	desc.Filename = Sanitize(original)
	desc.Ext = ext
	desc.FormatNote = format.FormatNote
	desc.Height = format.Height
	desc.Qualities = provider.QualityLabels(info.Formats)
	desc.Locator = LocatorFor(format)

	r.logger.Info("resolved",
		logging.String("url", url),
		logging.String("title", title),
		logging.String("format", format.FormatNote),
		logging.Int("height", format.Height))
	return desc
}

// LocatorFor converts a selected format into a Locator.
func LocatorFor(f provider.MediaFormat) models.Locator {
	kind := models.LocatorDirect
	switch {
	case f.URL == "":
		kind = models.LocatorOpaque
	case f.IsHLS():
		kind = models.LocatorHLS
	}
	return models.Locator{Kind: kind, URL: f.URL, Headers: f.Headers}
}

func failed(url, msg string, at time.Time) models.MediaDescriptor {
	return models.MediaDescriptor{
		Status:    models.DescriptorError,
		Error:     msg,
		SourceURL: url,
		CreatedAt: at,
	}
}

func previewDescription(s string) string {
	if s == "" {
		return noDescription
	}
	runes := []rune(s)
	if len(runes) > descriptionPreviewLen {
		runes = runes[:descriptionPreviewLen]
	}
	return string(runes) + "..."
}
