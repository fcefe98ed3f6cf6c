package api

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"ytdl-stream/internal/models"
)

const placeholder = "..."

type descriptorView struct {
	Status           string `json:"status"`
	Error            string `json:"error,omitempty"`
	InfoID           string `json:"info_id"`
	Title            string `json:"title,omitempty"`
	Duration         int64  `json:"duration,omitempty"`
	DurationText     string `json:"duration_text,omitempty"`
	Uploader         string `json:"uploader,omitempty"`
	ViewCount        int64  `json:"view_count,omitempty"`
	ViewCountText    string `json:"view_count_text,omitempty"`
	Thumbnail        string `json:"thumbnail,omitempty"`
	Description      string `json:"description,omitempty"`
	Filename         string `json:"filename,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	Ext              string `json:"ext,omitempty"`
	FormatInfo       string `json:"format_info,omitempty"`
	Height           int      `json:"height,omitempty"`
	Qualities        []string `json:"qualities,omitempty"`
	OriginalURL      string   `json:"original_url,omitempty"`
}

func newDescriptorView(d models.MediaDescriptor) descriptorView {
	v := descriptorView{Status: string(d.Status), Error: d.Error, InfoID: d.ID}
	if !d.Ready() {
		return v
	}
	v.Title = d.Title
	v.Duration = int64(d.Duration / time.Second)
	v.DurationText = durationText(d.Duration)
	v.Uploader = d.Uploader
	v.ViewCount = d.ViewCount
	v.ViewCountText = viewCountText(d.ViewCount)
	v.Thumbnail = d.Thumbnail
	v.Description = d.Description
	v.Filename = d.Filename
	v.OriginalFilename = d.OriginalFilename
	v.Ext = d.Ext
	v.FormatInfo = d.FormatNote
	v.Height = d.Height
	v.Qualities = d.Qualities
	v.OriginalURL = d.SourceURL
	return v
}

// durationText renders m:ss; minutes are not folded into hours.
func durationText(d time.Duration) string {
	if d <= 0 {
		return "Unknown"
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func viewCountText(n int64) string {
	switch {
	case n <= 0:
		return "Unknown views"
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM views", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK views", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d views", n)
	}
}

type progressView struct {
	Progress      string  `json:"progress"`
	ProgressText  string  `json:"progress_text"`
	Percent       float64 `json:"percent"`
	ETA           string  `json:"eta"`
	Speed         string  `json:"speed"`
	Filename      string  `json:"filename"`
	DownloadReady bool    `json:"download_ready"`
	Status        string  `json:"status"`
	Format        string  `json:"format,omitempty"`
	Error         string  `json:"error,omitempty"`
}

func unknownProgress() progressView {
	return progressView{
		Progress:     "0%",
		ProgressText: "0.0%",
		ETA:          placeholder,
		Speed:        placeholder,
		Status:       "unknown",
	}
}

func newProgressView(job models.Job) progressView {
	pct := math.Round(job.Progress.Percent*10) / 10
	v := progressView{
		Progress:      strconv.FormatFloat(pct, 'f', -1, 64) + "%",
		ProgressText:  fmt.Sprintf("%.1f%%", pct),
		Percent:       pct,
		ETA:           orPlaceholder(job.Progress.ETA),
		Speed:         orPlaceholder(job.Progress.Speed),
		Filename:      job.Filename,
		DownloadReady: job.DownloadReady,
		Status:        string(job.Status),
		Format:        string(job.Format),
		Error:         job.Error,
	}
	if job.Status == models.JobFinished {
		v.ProgressText = "100%"
		v.ETA = "Done"
		v.Speed = "Done"
	}
	return v
}

func orPlaceholder(s string) string {
	if s == "" {
		return placeholder
	}
	return s
}

type audioQualityView struct {
	ID      string `json:"id"`
	Bitrate string `json:"bitrate"`
}

type systemInfoView struct {
	FFmpegAvailable  bool               `json:"ffmpeg_available"`
	SupportedFormats []models.Format    `json:"supported_formats"`
	VideoQualities   []string           `json:"video_qualities"`
	AudioQualities   []audioQualityView `json:"audio_qualities"`
	Provider         string             `json:"provider"`
}

type healthView struct {
	Status      string `json:"status"`
	Descriptors int    `json:"descriptors"`
	Jobs        int    `json:"jobs"`
	Running     int    `json:"running_jobs"`
	Streaming   int    `json:"streaming_jobs"`
}
