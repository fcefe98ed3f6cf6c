package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"ytdl-stream/internal/logging"
)

const progressInterval = 500 * time.Millisecond

// YTDLP drives the yt-dlp binary, which covers far more sites than YouTube.
type YTDLP struct {
	executable string
	logger     *slog.Logger
}

// NewYTDLP returns a provider that runs executable (default "yt-dlp").
func NewYTDLP(executable string, logger *slog.Logger) *YTDLP {
	if strings.TrimSpace(executable) == "" {
		executable = "yt-dlp"
	}
	return &YTDLP{
		executable: executable,
		logger:     logging.NewComponentLogger(logger, "provider.ytdlp"),
	}
}

func (p *YTDLP) Name() string { return "ytdlp" }

func (p *YTDLP) command() *ytdlp.Command {
	return ytdlp.New().
		SetExecutable(p.executable).
		NoPlaylist().
		NoWarnings()
}

func (p *YTDLP) Extract(ctx context.Context, url string, _ Hints) (*Info, error) {
	result, err := p.command().
		SkipDownload().
		DumpSingleJSON().
		Run(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp extract: %w", err)
	}
	return parseDump([]byte(result.Stdout))
}

func (p *YTDLP) Download(ctx context.Context, url string, hints Hints, dest string, progress func(Transfer)) (string, error) {
	dl := p.command().
		ForceOverwrites().
		Format(FormatSelector(hints)).
		Output(dest)
	if progress != nil {
		dl.ProgressFunc(progressInterval, func(update ytdlp.ProgressUpdate) {
			progress(Transfer{
				Downloaded: int64(update.DownloadedBytes),
				Total:      int64(update.TotalBytes),
				Started:    update.Started,
				ETA:        update.ETA(),
			})
		})
	}

	p.logger.Debug("yt-dlp download", logging.String("url", url), logging.String("dest", dest))
	if _, err := dl.Run(ctx, url); err != nil {
		return "", fmt.Errorf("yt-dlp download: %w", err)
	}
	return dest, nil
}

// dump mirrors the subset of `yt-dlp -J` output the server consumes.
type dump struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Duration    float64      `json:"duration"`
	Uploader    string       `json:"uploader"`
	Channel     string       `json:"channel"`
	ViewCount   int64        `json:"view_count"`
	Thumbnail   string       `json:"thumbnail"`
	Description string       `json:"description"`
	Ext         string       `json:"ext"`
	URL         string       `json:"url"`
	Formats     []dumpFormat `json:"formats"`
}

type dumpFormat struct {
	URL         string            `json:"url"`
	Height      *int              `json:"height"`
	FPS         *float64          `json:"fps"`
	VCodec      string            `json:"vcodec"`
	ACodec      string            `json:"acodec"`
	Ext         string            `json:"ext"`
	FormatNote  string            `json:"format_note"`
	Protocol    string            `json:"protocol"`
	HTTPHeaders map[string]string `json:"http_headers"`
	Filesize    *int64            `json:"filesize"`
	TBR         *float64          `json:"tbr"`
}

func parseDump(data []byte) (*Info, error) {
	var d dump
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode yt-dlp json: %w", err)
	}

	info := &Info{
		ID:          d.ID,
		Title:       d.Title,
		Duration:    time.Duration(d.Duration * float64(time.Second)),
		Uploader:    d.Uploader,
		ViewCount:   d.ViewCount,
		Thumbnail:   d.Thumbnail,
		Description: d.Description,
		Ext:         d.Ext,
	}
	if info.Uploader == "" {
		info.Uploader = d.Channel
	}

	for _, f := range d.Formats {
		mf := MediaFormat{
			URL:        f.URL,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
			Ext:        f.Ext,
			FormatNote: f.FormatNote,
			Protocol:   f.Protocol,
			Headers:    f.HTTPHeaders,
		}
		if f.Height != nil {
			mf.Height = *f.Height
		}
		if f.FPS != nil {
			mf.FPS = int(*f.FPS + 0.5)
		}
		if f.Filesize != nil {
			mf.Filesize = *f.Filesize
		}
		if f.TBR != nil {
			mf.Bitrate = int(*f.TBR * 1000)
		}
		info.Formats = append(info.Formats, mf)
	}
	// Single-file extractors report the media URL at the top level only.
	if len(info.Formats) == 0 && d.URL != "" {
		info.Formats = append(info.Formats, MediaFormat{URL: d.URL, Ext: d.Ext, VCodec: "unknown", ACodec: "unknown"})
	}
	return info, nil
}
