package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ytdl-stream/internal/jobs"
	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
	"ytdl-stream/internal/provider"
	"ytdl-stream/internal/resolver"
)

const (
	resolvingPercent  = 50
	fetchShare        = 90
	progressEvery     = 250 * time.Millisecond
	mimeMP3           = "audio/mpeg"
	mimeMP4           = "video/mp4"
	mimeWebM          = "video/webm"
	mimeMPEGTransport = "video/mp2t"
)

var errNoPlayableSource = errors.New("no playable source for quality")

// Options configures an Engine.
type Options struct {
	StagingDir string
	FFmpegPath string
	// FFmpegAvailable is probed once at startup.
	FFmpegAvailable bool
}

// Engine executes download jobs: video jobs resolve a relayable locator,
// audio jobs fetch and transcode into the staging directory.
type Engine struct {
	provider   provider.Provider
	stagingDir string
	ffmpeg     string
	ffmpegOK   bool
	logger     *slog.Logger
}

func New(p provider.Provider, opts Options, logger *slog.Logger) *Engine {
	ffmpeg := opts.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &Engine{
		provider:   p,
		stagingDir: opts.StagingDir,
		ffmpeg:     ffmpeg,
		ffmpegOK:   opts.FFmpegAvailable,
		logger:     logging.NewComponentLogger(logger, "downloader"),
	}
}

// FFmpegAvailable reports the startup probe result.
func (e *Engine) FFmpegAvailable() bool { return e.ffmpegOK }

// Admit implements jobs.Admitter. Audio jobs are refused before they queue
// when ffmpeg is missing.
func (e *Engine) Admit(job models.Job) error {
	if job.Format == models.FormatAudio && !e.ffmpegOK {
		return FriendlyError(ErrFFmpegMissing)
	}
	return nil
}

// Execute implements jobs.Executor. Returned errors are already user-facing.
func (e *Engine) Execute(ctx context.Context, job models.Job, desc models.MediaDescriptor, rep *jobs.Reporter) (jobs.Result, error) {
	var (
		res jobs.Result
		err error
	)
	switch job.Format {
	case models.FormatAudio:
		res, err = e.audio(ctx, job, rep)
	default:
		res, err = e.video(ctx, job, desc, rep)
	}
	if err != nil {
		return jobs.Result{}, FriendlyError(err)
	}
	return res, nil
}

func (e *Engine) video(ctx context.Context, job models.Job, desc models.MediaDescriptor, rep *jobs.Reporter) (jobs.Result, error) {
	rep.Progress(models.Progress{Percent: resolvingPercent})

	locator := desc.Locator
	ext := desc.Ext
	if job.Quality != models.DefaultVideoQuality || !locator.Streamable() {
		info, err := e.provider.Extract(ctx, job.SourceURL, provider.Hints{MaxHeight: maxHeight(job.Quality)})
		if err != nil {
			return jobs.Result{}, fmt.Errorf("video info: %w", err)
		}
		format, ok := provider.SelectFormat(info.Formats, maxHeight(job.Quality))
		if !ok {
			return jobs.Result{}, provider.ErrNoFormats
		}
		locator = resolver.LocatorFor(format)
		ext = format.Ext
		e.logger.Debug("re-resolved locator",
			logging.String(logging.FieldJobID, job.ID),
			logging.String("quality", job.Quality),
			logging.Int("height", format.Height))
	}
	if !locator.Streamable() {
		return jobs.Result{}, errNoPlayableSource
	}
	return jobs.Result{Locator: locator, MimeType: videoMimeType(locator, ext)}, nil
}

func (e *Engine) audio(ctx context.Context, job models.Job, rep *jobs.Reporter) (jobs.Result, error) {
	if !e.ffmpegOK {
		return jobs.Result{}, ErrFFmpegMissing
	}
	kbps, ok := models.AudioQualities[job.Quality]
	if !ok {
		kbps = models.AudioQualities[models.DefaultAudioQuality]
	}

	rep.Progress(models.Progress{Percent: 0})

	src := filepath.Join(e.stagingDir, job.ID+".src")
	out := filepath.Join(e.stagingDir, job.ID+".mp3")
	defer os.Remove(src)

	pub := newThrottle(rep, progressEvery, e.logger)
	fetched, err := e.provider.Download(ctx, job.SourceURL, provider.Hints{AudioOnly: true}, src, func(t provider.Transfer) {
		p := models.Progress{ETA: FormatETA(t.ETA)}
		if f := t.Fraction(); f >= 0 {
			p.Percent = f * fetchShare
		}
		if !t.Started.IsZero() {
			if elapsed := time.Since(t.Started).Seconds(); elapsed > 0 {
				p.Speed = FormatSpeed(float64(t.Downloaded) / elapsed)
			}
		}
		pub.publish(p, false)
	})
	if err != nil {
		return jobs.Result{}, fmt.Errorf("download audio: %w", err)
	}
	if fetched != src {
		defer os.Remove(fetched)
	}

	pub.publish(models.Progress{Percent: fetchShare}, true)
	err = transcode(ctx, e.ffmpeg, fetched, out, audioBitrate(kbps), job.Duration, func(frac float64) {
		pub.publish(models.Progress{Percent: fetchShare + frac*(100-fetchShare)}, false)
	})
	if err != nil {
		return jobs.Result{}, err
	}

	e.logger.Info("audio staged",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("path", out),
		logging.Int("kbps", kbps))
	return jobs.Result{StagedPath: out, MimeType: mimeMP3}, nil
}

func videoMimeType(loc models.Locator, ext string) string {
	switch {
	case loc.Kind == models.LocatorHLS:
		return mimeMPEGTransport
	case ext == "webm":
		return mimeWebM
	default:
		return mimeMP4
	}
}

// throttle limits how often byte-level callbacks publish a new Job value.
type throttle struct {
	mu      sync.Mutex
	rep     *jobs.Reporter
	every   time.Duration
	last    time.Time
	logger  *slog.Logger
	dropped bool
}

func newThrottle(rep *jobs.Reporter, every time.Duration, logger *slog.Logger) *throttle {
	return &throttle{rep: rep, every: every, logger: logger}
}

func (t *throttle) publish(p models.Progress, force bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !force && now.Sub(t.last) < t.every {
		return
	}
	t.last = now
	if !t.rep.Progress(p) && !t.dropped {
		t.dropped = true
		t.logger.Debug("progress dropped, job no longer running", logging.String(logging.FieldJobID, t.rep.JobID()))
	}
}
