package downloader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ytdl-stream/internal/jobs"
	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
	"ytdl-stream/internal/provider"
)

type fakeProvider struct {
	extracts atomic.Int32
	extract  func(ctx context.Context, url string, hints provider.Hints) (*provider.Info, error)
	download func(ctx context.Context, url string, hints provider.Hints, dest string, progress func(provider.Transfer)) (string, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Extract(ctx context.Context, url string, hints provider.Hints) (*provider.Info, error) {
	f.extracts.Add(1)
	return f.extract(ctx, url, hints)
}

func (f *fakeProvider) Download(ctx context.Context, url string, hints provider.Hints, dest string, progress func(provider.Transfer)) (string, error) {
	return f.download(ctx, url, hints, dest, progress)
}

type staticResolver struct {
	desc models.MediaDescriptor
}

func (s staticResolver) Resolve(_ context.Context, url string) models.MediaDescriptor {
	d := s.desc
	d.SourceURL = url
	return d
}

var sampleFormats = []provider.MediaFormat{
	{URL: "https://cdn.example/1080.mp4", Height: 1080, VCodec: "avc1", ACodec: "mp4a", Ext: "mp4"},
	{URL: "https://cdn.example/720.mp4", Height: 720, VCodec: "avc1", ACodec: "mp4a", Ext: "mp4"},
	{URL: "https://cdn.example/360.webm", Height: 360, VCodec: "vp9", ACodec: "opus", Ext: "webm"},
}

func readyDescriptor() models.MediaDescriptor {
	return models.MediaDescriptor{
		Status:           models.DescriptorReady,
		Title:            "Clip",
		Duration:         2 * time.Second,
		Filename:         "Clip.mp4",
		OriginalFilename: "Clip.mp4",
		Ext:              "mp4",
		Locator:          models.Locator{Kind: models.LocatorDirect, URL: "https://cdn.example/1080.mp4"},
	}
}

// runJob drives engine through a real Manager and waits for a terminal or
// finished state.
func runJob(t *testing.T, engine *Engine, format models.Format, quality string) models.Job {
	t.Helper()
	m := jobs.NewManager(jobs.Options{InfoTTL: time.Minute, JobTTL: time.Minute},
		staticResolver{desc: readyDescriptor()}, engine, logging.NewNop())
	t.Cleanup(m.Close)

	infoID := m.SubmitInfo("https://www.youtube.com/watch?v=abc")
	deadline := time.Now().Add(2 * time.Second)
	for {
		if d, ok := m.Descriptor(infoID); ok && d.Ready() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("descriptor never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	job, err := m.StartJob(infoID, format, quality)
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	deadline = time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		cur, ok := m.Status(job.ID)
		if ok && (cur.Status == models.JobFinished || cur.Status == models.JobError) {
			return cur
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never settled", job.ID)
	return models.Job{}
}

func TestVideoBestReusesDescriptorLocator(t *testing.T) {
	p := &fakeProvider{extract: func(context.Context, string, provider.Hints) (*provider.Info, error) {
		return nil, errors.New("should not be called")
	}}
	engine := New(p, Options{StagingDir: t.TempDir()}, logging.NewNop())

	job := runJob(t, engine, models.FormatVideo, "best")
	if job.Status != models.JobFinished || !job.DownloadReady {
		t.Fatalf("expected finished job, got %+v", job)
	}
	if job.Locator.URL != "https://cdn.example/1080.mp4" || job.MimeType != "video/mp4" {
		t.Fatalf("unexpected locator %+v mime %q", job.Locator, job.MimeType)
	}
	if p.extracts.Load() != 0 {
		t.Fatalf("best quality should not re-extract")
	}
}

func TestVideoQualityCeilingReExtracts(t *testing.T) {
	var gotHints provider.Hints
	p := &fakeProvider{extract: func(_ context.Context, _ string, hints provider.Hints) (*provider.Info, error) {
		gotHints = hints
		return &provider.Info{Formats: sampleFormats}, nil
	}}
	engine := New(p, Options{StagingDir: t.TempDir()}, logging.NewNop())

	job := runJob(t, engine, models.FormatVideo, "720")
	if job.Status != models.JobFinished {
		t.Fatalf("expected finished, got %+v", job)
	}
	if job.Locator.URL != "https://cdn.example/720.mp4" {
		t.Fatalf("expected 720p locator, got %q", job.Locator.URL)
	}
	if gotHints.MaxHeight != 720 {
		t.Fatalf("expected height hint 720, got %d", gotHints.MaxHeight)
	}

	job = runJob(t, engine, models.FormatVideo, "360")
	if job.MimeType != "video/webm" {
		t.Fatalf("expected webm mime type, got %q", job.MimeType)
	}
}

func TestVideoProviderErrorIsFriendly(t *testing.T) {
	p := &fakeProvider{extract: func(context.Context, string, provider.Hints) (*provider.Info, error) {
		return nil, errors.New("unexpected status code: 403")
	}}
	engine := New(p, Options{StagingDir: t.TempDir()}, logging.NewNop())

	job := runJob(t, engine, models.FormatVideo, "480")
	if job.Status != models.JobError || !strings.HasPrefix(job.Error, "Access forbidden") {
		t.Fatalf("expected friendly 403 error, got %+v", job)
	}
}

func TestAudioWithoutFFmpegFailsImmediately(t *testing.T) {
	p := &fakeProvider{download: func(context.Context, string, provider.Hints, string, func(provider.Transfer)) (string, error) {
		t.Errorf("download must not start without ffmpeg")
		return "", nil
	}}
	engine := New(p, Options{StagingDir: t.TempDir(), FFmpegAvailable: false}, logging.NewNop())

	job := runJob(t, engine, models.FormatAudio, "high")
	if job.Status != models.JobError {
		t.Fatalf("expected error, got %s", job.Status)
	}
	if job.Error != "FFmpeg is not installed on the server; audio downloads are unavailable" {
		t.Fatalf("unexpected error %q", job.Error)
	}
	if job.Progress.Percent != 0 {
		t.Fatalf("job should not have progressed, got %v", job.Progress.Percent)
	}
}

func TestAdmitChecksFFmpegForAudio(t *testing.T) {
	missing := New(&fakeProvider{}, Options{FFmpegAvailable: false}, logging.NewNop())
	if err := missing.Admit(models.Job{Format: models.FormatAudio}); !errors.Is(err, ErrFFmpegMissing) {
		t.Fatalf("expected ErrFFmpegMissing, got %v", err)
	}
	if err := missing.Admit(models.Job{Format: models.FormatVideo}); err != nil {
		t.Fatalf("video jobs need no ffmpeg, got %v", err)
	}
	present := New(&fakeProvider{}, Options{FFmpegAvailable: true}, logging.NewNop())
	if err := present.Admit(models.Job{Format: models.FormatAudio}); err != nil {
		t.Fatalf("unexpected refusal: %v", err)
	}
	if !present.FFmpegAvailable() || missing.FFmpegAvailable() {
		t.Fatalf("FFmpegAvailable should report the startup check")
	}
}

func writeFFmpegStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs")
	}
	path := filepath.Join(t.TempDir(), "ffmpeg")
	script := "#!/bin/sh\nfor last; do :; done\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write ffmpeg stub: %v", err)
	}
	return path
}

func audioProvider(dir string) *fakeProvider {
	return &fakeProvider{download: func(_ context.Context, _ string, hints provider.Hints, dest string, progress func(provider.Transfer)) (string, error) {
		if !hints.AudioOnly {
			return "", errors.New("expected audio-only hints")
		}
		if filepath.Dir(dest) != dir {
			return "", errors.New("download outside staging dir")
		}
		progress(provider.Transfer{Downloaded: 5, Total: 10, Started: time.Now()})
		if err := os.WriteFile(dest, []byte("source"), 0o644); err != nil {
			return "", err
		}
		return dest, nil
	}}
}

func TestAudioFetchAndTranscode(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeFFmpegStub(t, `echo "out_time_us=1000000"
echo "progress=continue"
echo "out_time_us=2000000"
echo "progress=end"
printf 'mp3' > "$last"`)
	engine := New(audioProvider(dir), Options{StagingDir: dir, FFmpegPath: ffmpeg, FFmpegAvailable: true}, logging.NewNop())

	job := runJob(t, engine, models.FormatAudio, "medium")
	if job.Status != models.JobFinished || !job.DownloadReady {
		t.Fatalf("expected finished audio job, got %+v", job)
	}
	if job.StagedPath != filepath.Join(dir, job.ID+".mp3") || job.MimeType != "audio/mpeg" {
		t.Fatalf("unexpected staged output %q %q", job.StagedPath, job.MimeType)
	}
	if data, err := os.ReadFile(job.StagedPath); err != nil || string(data) != "mp3" {
		t.Fatalf("staged file not written: %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, job.ID+".src")); !os.IsNotExist(err) {
		t.Fatalf("source file should be removed after transcode")
	}
	if job.Filename != "Clip.mp3" {
		t.Fatalf("expected mp3 filename, got %q", job.Filename)
	}
}

func TestAudioTranscodeFailure(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := writeFFmpegStub(t, `printf 'partial' > "$last"
echo "Unknown encoder" >&2
exit 1`)
	engine := New(audioProvider(dir), Options{StagingDir: dir, FFmpegPath: ffmpeg, FFmpegAvailable: true}, logging.NewNop())

	job := runJob(t, engine, models.FormatAudio, "low")
	if job.Status != models.JobError {
		t.Fatalf("expected error, got %+v", job)
	}
	if !strings.Contains(job.Error, "FFmpeg failed") {
		t.Fatalf("expected friendly ffmpeg error, got %q", job.Error)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read staging: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("staging dir should be empty after failure, found %d entries", len(entries))
	}
}
