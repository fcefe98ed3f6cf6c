package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
)

type fakeResolver struct {
	resolve func(ctx context.Context, url string) models.MediaDescriptor
}

func (f *fakeResolver) Resolve(ctx context.Context, url string) models.MediaDescriptor {
	return f.resolve(ctx, url)
}

type fakeExecutor struct {
	execute func(ctx context.Context, job models.Job, desc models.MediaDescriptor, rep *Reporter) (Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, job models.Job, desc models.MediaDescriptor, rep *Reporter) (Result, error) {
	return f.execute(ctx, job, desc, rep)
}

func readyResolver() *fakeResolver {
	return &fakeResolver{resolve: func(_ context.Context, url string) models.MediaDescriptor {
		return models.MediaDescriptor{
			Status:           models.DescriptorReady,
			Title:            "Clip",
			Filename:         "Clip.mp4",
			OriginalFilename: "Clip.mp4",
			SourceURL:        url,
			Locator:          models.Locator{Kind: models.LocatorDirect, URL: "https://cdn.example/clip.mp4"},
		}
	}}
}

func directExecutor() *fakeExecutor {
	return &fakeExecutor{execute: func(_ context.Context, job models.Job, _ models.MediaDescriptor, rep *Reporter) (Result, error) {
		rep.Progress(models.Progress{Percent: 50})
		return Result{Locator: job.Locator, MimeType: "video/mp4"}, nil
	}}
}

func newTestManager(t *testing.T, opts Options, r Resolver, e Executor) *Manager {
	t.Helper()
	if opts.InfoTTL == 0 {
		opts.InfoTTL = time.Minute
	}
	if opts.JobTTL == 0 {
		opts.JobTTL = time.Minute
	}
	m := NewManager(opts, r, e, logging.NewNop())
	t.Cleanup(m.Close)
	return m
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func submitReady(t *testing.T, m *Manager) string {
	t.Helper()
	id := m.SubmitInfo("https://www.youtube.com/watch?v=abc")
	waitFor(t, "descriptor ready", func() bool {
		d, ok := m.Descriptor(id)
		return ok && d.Ready()
	})
	return id
}

func waitStatus(t *testing.T, m *Manager, jobID string, want models.JobStatus) models.Job {
	t.Helper()
	var job models.Job
	waitFor(t, "status "+string(want), func() bool {
		var ok bool
		job, ok = m.Status(jobID)
		return ok && job.Status == want
	})
	return job
}

func TestSubmitInfoResolvesInBackground(t *testing.T) {
	release := make(chan struct{})
	r := &fakeResolver{resolve: func(ctx context.Context, url string) models.MediaDescriptor {
		<-release
		return readyResolver().resolve(ctx, url)
	}}
	m := newTestManager(t, Options{}, r, directExecutor())

	id := m.SubmitInfo("https://www.youtube.com/watch?v=abc")
	d, ok := m.Descriptor(id)
	if !ok || d.Status != models.DescriptorPending {
		t.Fatalf("expected pending descriptor, got %+v ok=%v", d, ok)
	}
	if _, err := m.StartJob(id, models.FormatVideo, "720"); !errors.Is(err, ErrInfoNotReady) {
		t.Fatalf("expected ErrInfoNotReady while pending, got %v", err)
	}

	close(release)
	waitFor(t, "descriptor ready", func() bool {
		d, ok := m.Descriptor(id)
		return ok && d.Ready()
	})
	d, _ = m.Descriptor(id)
	if d.ID != id || d.Title != "Clip" {
		t.Fatalf("unexpected descriptor %+v", d)
	}
}

func TestStartJobValidation(t *testing.T) {
	m := newTestManager(t, Options{}, readyResolver(), directExecutor())
	infoID := submitReady(t, m)

	tests := []struct {
		name    string
		infoID  string
		format  models.Format
		quality string
		want    error
	}{
		{"unknown info", "missing", models.FormatVideo, "720", ErrInfoNotReady},
		{"bad format", infoID, models.Format("gif"), "best", ErrInvalidFormat},
		{"bad video quality", infoID, models.FormatVideo, "144", ErrInvalidQuality},
		{"audio tier on video", infoID, models.FormatVideo, "high", ErrInvalidQuality},
	}
	for _, tt := range tests {
		if _, err := m.StartJob(tt.infoID, tt.format, tt.quality); !errors.Is(err, tt.want) {
			t.Errorf("%s: got %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestVideoJobLifecycle(t *testing.T) {
	m := newTestManager(t, Options{}, readyResolver(), directExecutor())
	infoID := submitReady(t, m)

	job, err := m.StartJob(infoID, models.FormatVideo, "")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if job.Status != models.JobStarting || job.Quality != "best" || job.Policy != models.StagingDirect {
		t.Fatalf("unexpected initial job %+v", job)
	}

	done := waitStatus(t, m, job.ID, models.JobFinished)
	if !done.DownloadReady || done.Progress.Percent != 100 {
		t.Fatalf("expected ready job at 100%%, got %+v", done)
	}
	if done.MimeType != "video/mp4" || done.Progress.Filename != "Clip.mp4" {
		t.Fatalf("unexpected finished job %+v", done)
	}

	// Polling is a pure read.
	a, _ := m.Status(job.ID)
	b, _ := m.Status(job.ID)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("polling changed the job: %+v vs %+v", a, b)
	}
}

func TestExecutorFailuresBecomeErrors(t *testing.T) {
	tests := []struct {
		name    string
		execute func(context.Context, models.Job, models.MediaDescriptor, *Reporter) (Result, error)
		want    string
	}{
		{
			name: "error",
			execute: func(context.Context, models.Job, models.MediaDescriptor, *Reporter) (Result, error) {
				return Result{}, errors.New("Access forbidden")
			},
			want: "Access forbidden",
		},
		{
			name: "panic",
			execute: func(context.Context, models.Job, models.MediaDescriptor, *Reporter) (Result, error) {
				panic("kaboom")
			},
			want: "kaboom",
		},
		{
			name: "no source",
			execute: func(context.Context, models.Job, models.MediaDescriptor, *Reporter) (Result, error) {
				return Result{Locator: models.Locator{Kind: models.LocatorOpaque, URL: "id"}}, nil
			},
			want: msgNoSource,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeResolver{resolve: func(ctx context.Context, url string) models.MediaDescriptor {
				d := readyResolver().resolve(ctx, url)
				d.Locator = models.Locator{Kind: models.LocatorOpaque, URL: "id"}
				return d
			}}
			m := newTestManager(t, Options{}, r, &fakeExecutor{execute: tt.execute})
			job, err := m.StartJob(submitReady(t, m), models.FormatVideo, "best")
			if err != nil {
				t.Fatalf("StartJob: %v", err)
			}
			failed := waitStatus(t, m, job.ID, models.JobError)
			if !strings.Contains(failed.Error, tt.want) || failed.DownloadReady {
				t.Fatalf("unexpected failed job %+v", failed)
			}
			if _, err := m.BeginStream(job.ID); !errors.Is(err, ErrJobFailed) {
				t.Fatalf("expected ErrJobFailed, got %v", err)
			}
		})
	}
}

func TestQueueWaitFailsBusyJobs(t *testing.T) {
	block := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(block) }) })

	exec := &fakeExecutor{execute: func(ctx context.Context, job models.Job, _ models.MediaDescriptor, _ *Reporter) (Result, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return Result{Locator: job.Locator}, nil
	}}
	m := newTestManager(t, Options{MaxConcurrent: 1, QueueWait: 30 * time.Millisecond}, readyResolver(), exec)
	infoID := submitReady(t, m)

	first, err := m.StartJob(infoID, models.FormatVideo, "best")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitFor(t, "first job to hold the slot", func() bool { return len(m.queue) == 1 })

	second, err := m.StartJob(infoID, models.FormatVideo, "best")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	busy := waitStatus(t, m, second.ID, models.JobError)
	if busy.Error != msgServerBusy {
		t.Fatalf("expected busy message, got %q", busy.Error)
	}

	once.Do(func() { close(block) })
	waitStatus(t, m, first.ID, models.JobFinished)
}

func TestStreamClaimIsExclusiveAndDirectJobsReturnToFinished(t *testing.T) {
	m := newTestManager(t, Options{}, readyResolver(), directExecutor())
	job, err := m.StartJob(submitReady(t, m), models.FormatVideo, "720")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitStatus(t, m, job.ID, models.JobFinished)

	claimed, err := m.BeginStream(job.ID)
	if err != nil {
		t.Fatalf("BeginStream: %v", err)
	}
	if claimed.Status != models.JobStreaming || claimed.Progress.Percent != 0 {
		t.Fatalf("unexpected claimed job %+v", claimed)
	}
	if _, err := m.BeginStream(job.ID); !errors.Is(err, ErrStreamBusy) {
		t.Fatalf("expected ErrStreamBusy, got %v", err)
	}

	m.StreamProgress(job.ID, models.Progress{Percent: 42})
	if cur, _ := m.Status(job.ID); cur.Progress.Percent != 42 || cur.Progress.Filename != "Clip.mp4" {
		t.Fatalf("unexpected streaming progress %+v", cur.Progress)
	}

	m.EndStream(job.ID)
	cur, ok := m.Status(job.ID)
	if !ok || cur.Status != models.JobFinished || !cur.DownloadReady || cur.Progress.Percent != 100 {
		t.Fatalf("direct job should be finished again, got %+v ok=%v", cur, ok)
	}
	if _, err := m.BeginStream(job.ID); err != nil {
		t.Fatalf("direct job should be re-streamable: %v", err)
	}
}

func TestBeginStreamUnknownAndNotReady(t *testing.T) {
	release := make(chan struct{})
	exec := &fakeExecutor{execute: func(_ context.Context, job models.Job, _ models.MediaDescriptor, _ *Reporter) (Result, error) {
		<-release
		return Result{Locator: job.Locator}, nil
	}}
	m := newTestManager(t, Options{}, readyResolver(), exec)
	defer close(release)

	if _, err := m.BeginStream("nope"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	job, err := m.StartJob(submitReady(t, m), models.FormatVideo, "best")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if _, err := m.BeginStream(job.ID); !errors.Is(err, ErrJobNotReady) {
		t.Fatalf("expected ErrJobNotReady, got %v", err)
	}
}

func stagingExecutor(dir string) *fakeExecutor {
	return &fakeExecutor{execute: func(_ context.Context, job models.Job, _ models.MediaDescriptor, rep *Reporter) (Result, error) {
		path := filepath.Join(dir, job.ID+".mp3")
		if err := os.WriteFile(path, []byte("mp3"), 0o644); err != nil {
			return Result{}, err
		}
		rep.Progress(models.Progress{Percent: 95})
		return Result{StagedPath: path, MimeType: "audio/mpeg"}, nil
	}}
}

func TestServerStagedJobIsRemovedAfterStream(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Options{}, readyResolver(), stagingExecutor(dir))
	job, err := m.StartJob(submitReady(t, m), models.FormatAudio, "medium")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	if job.Filename != "Clip.mp3" || job.Policy != models.StagingServer {
		t.Fatalf("unexpected audio job %+v", job)
	}
	done := waitStatus(t, m, job.ID, models.JobFinished)
	if _, err := os.Stat(done.StagedPath); err != nil {
		t.Fatalf("staged file missing: %v", err)
	}
	if !m.Owns(filepath.Base(done.StagedPath)) {
		t.Fatalf("live job should own its staged file")
	}

	if _, err := m.BeginStream(job.ID); err != nil {
		t.Fatalf("BeginStream: %v", err)
	}
	m.EndStream(job.ID)

	if _, err := os.Stat(done.StagedPath); !os.IsNotExist(err) {
		t.Fatalf("staged file should be deleted, stat err=%v", err)
	}
	if _, ok := m.Status(job.ID); ok {
		t.Fatalf("server-staged job should be gone after streaming")
	}
}

func TestExpiredJobDropsLateStagedFile(t *testing.T) {
	dir := t.TempDir()
	staged := filepath.Join(dir, "late.mp3")
	exec := &fakeExecutor{execute: func(_ context.Context, _ models.Job, _ models.MediaDescriptor, _ *Reporter) (Result, error) {
		time.Sleep(80 * time.Millisecond)
		if err := os.WriteFile(staged, []byte("mp3"), 0o644); err != nil {
			return Result{}, err
		}
		return Result{StagedPath: staged}, nil
	}}
	m := newTestManager(t, Options{JobTTL: 20 * time.Millisecond}, readyResolver(), exec)
	job, err := m.StartJob(submitReady(t, m), models.FormatAudio, "low")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}

	waitFor(t, "late staged file removal", func() bool {
		_, statErr := os.Stat(staged)
		return os.IsNotExist(statErr) && func() bool { _, ok := m.Status(job.ID); return !ok }()
	})
}

func TestEvictionRemovesStagedFile(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(t, Options{JobTTL: 150 * time.Millisecond}, readyResolver(), stagingExecutor(dir))
	job, err := m.StartJob(submitReady(t, m), models.FormatAudio, "high")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	done := waitStatus(t, m, job.ID, models.JobFinished)

	waitFor(t, "eviction cleanup", func() bool {
		_, statErr := os.Stat(done.StagedPath)
		return os.IsNotExist(statErr)
	})
	if _, ok := m.Status(job.ID); ok {
		t.Fatalf("expired job should be unknown")
	}
}

type admittingExecutor struct {
	*fakeExecutor
	admit func(job models.Job) error
}

func (a admittingExecutor) Admit(job models.Job) error { return a.admit(job) }

func TestAdmitterRefusesBeforeQueueing(t *testing.T) {
	block := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(block) }) })

	exec := admittingExecutor{
		fakeExecutor: &fakeExecutor{execute: func(ctx context.Context, job models.Job, _ models.MediaDescriptor, _ *Reporter) (Result, error) {
			select {
			case <-block:
			case <-ctx.Done():
			}
			return Result{Locator: job.Locator}, nil
		}},
		admit: func(job models.Job) error {
			if job.Format == models.FormatAudio {
				return errors.New("audio is unavailable")
			}
			return nil
		},
	}
	// QueueWait is far longer than waitFor's deadline, so a refused job that
	// queued first would time the test out.
	m := newTestManager(t, Options{MaxConcurrent: 1, QueueWait: time.Minute}, readyResolver(), exec)
	infoID := submitReady(t, m)

	first, err := m.StartJob(infoID, models.FormatVideo, "best")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitFor(t, "first job to hold the slot", func() bool { return len(m.queue) == 1 })

	audio, err := m.StartJob(infoID, models.FormatAudio, "")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	refused := waitStatus(t, m, audio.ID, models.JobError)
	if refused.Error != "audio is unavailable" {
		t.Fatalf("unexpected error %q", refused.Error)
	}

	once.Do(func() { close(block) })
	waitStatus(t, m, first.ID, models.JobFinished)
}

func TestStatsCountsRecords(t *testing.T) {
	block := make(chan struct{})
	var once sync.Once
	t.Cleanup(func() { once.Do(func() { close(block) }) })

	exec := &fakeExecutor{execute: func(ctx context.Context, job models.Job, _ models.MediaDescriptor, _ *Reporter) (Result, error) {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return Result{Locator: job.Locator}, nil
	}}
	m := newTestManager(t, Options{MaxConcurrent: 2}, readyResolver(), exec)
	infoID := submitReady(t, m)

	running, err := m.StartJob(infoID, models.FormatVideo, "best")
	if err != nil {
		t.Fatalf("StartJob: %v", err)
	}
	waitFor(t, "job to run", func() bool { return len(m.queue) == 1 })

	got := m.Stats()
	want := Stats{Descriptors: 1, Jobs: 1, Running: 1}
	if got != want {
		t.Fatalf("Stats() = %+v, want %+v", got, want)
	}

	once.Do(func() { close(block) })
	waitStatus(t, m, running.ID, models.JobFinished)
	if _, err := m.BeginStream(running.ID); err != nil {
		t.Fatalf("BeginStream: %v", err)
	}
	if got := m.Stats(); got.Running != 0 || got.Streaming != 1 {
		t.Fatalf("expected one streaming job, got %+v", got)
	}
}
