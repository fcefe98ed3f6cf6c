package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
	"ytdl-stream/internal/ttl"
)

// Resolver produces a descriptor for a normalized URL. It must not fail.
type Resolver interface {
	Resolve(ctx context.Context, url string) models.MediaDescriptor
}

// Result is what a successful execution leaves behind.
type Result struct {
	Locator    models.Locator
	StagedPath string
	MimeType   string
}

// Admitter is implemented by executors that can refuse a job up front. A
// refused job fails without waiting for a worker slot.
type Admitter interface {
	Admit(job models.Job) error
}

// Executor fetches or transcodes the media for one job. Progress goes through
// the Reporter; the returned error text is shown to users as is.
type Executor interface {
	Execute(ctx context.Context, job models.Job, desc models.MediaDescriptor, rep *Reporter) (Result, error)
}

// Options configures a Manager.
type Options struct {
	InfoTTL        time.Duration
	JobTTL         time.Duration
	MaxConcurrent  int
	QueueWait      time.Duration
	ResolveTimeout time.Duration
	// Now overrides the clock; tests only.
	Now func() time.Time
}

// Manager owns descriptors and jobs and is the only writer of both.
type Manager struct {
	infos *ttl.Store[models.MediaDescriptor]
	jobs  *ttl.Store[models.Job]

	resolver Resolver
	executor Executor

	queue          chan struct{}
	queueWait      time.Duration
	resolveTimeout time.Duration

	logger *slog.Logger
	now    func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(opts Options, resolver Resolver, executor Executor, logger *slog.Logger) *Manager {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.QueueWait <= 0 {
		opts.QueueWait = 10 * time.Second
	}
	if opts.ResolveTimeout <= 0 {
		opts.ResolveTimeout = 2 * time.Minute
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		resolver:       resolver,
		executor:       executor,
		queue:          make(chan struct{}, opts.MaxConcurrent),
		queueWait:      opts.QueueWait,
		resolveTimeout: opts.ResolveTimeout,
		logger:         logging.NewComponentLogger(logger, "jobs"),
		now:            now,
		ctx:            ctx,
		cancel:         cancel,
	}
	m.infos = ttl.New(ttl.Options[models.MediaDescriptor]{TTL: opts.InfoTTL, Now: opts.Now})
	m.jobs = ttl.New(ttl.Options[models.Job]{TTL: opts.JobTTL, Now: opts.Now, OnEvict: m.onJobEvicted})
	return m
}

// Close cancels running work, waits for it, and stops both stores.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
	m.infos.Close()
	m.jobs.Close()
}

// SubmitInfo stores a pending descriptor for url and resolves it in the
// background. url must already be normalized.
func (m *Manager) SubmitInfo(url string) string {
	id := uuid.NewString()
	m.infos.Put(id, models.MediaDescriptor{
		ID:        id,
		Status:    models.DescriptorPending,
		SourceURL: url,
		CreatedAt: m.now(),
	})

	m.wg.Add(1)
	go m.resolve(id, url)
	return id
}

func (m *Manager) resolve(id, url string) {
	defer m.wg.Done()
	ctx, cancel := context.WithTimeout(m.ctx, m.resolveTimeout)
	defer cancel()

	desc := m.resolver.Resolve(ctx, url)
	desc.ID = id
	if !m.infos.Amend(id, desc) {
		m.logger.Debug("descriptor expired before resolution finished", logging.String(logging.FieldInfoID, id))
	}
}

// Descriptor returns the descriptor for infoID, if it is still live.
func (m *Manager) Descriptor(infoID string) (models.MediaDescriptor, bool) {
	return m.infos.Get(infoID)
}

// StartJob validates the request against a ready descriptor, records the job
// as starting, and dispatches its Executor. It returns without waiting.
func (m *Manager) StartJob(infoID string, format models.Format, quality string) (models.Job, error) {
	desc, ok := m.infos.Get(infoID)
	if !ok || !desc.Ready() {
		return models.Job{}, ErrInfoNotReady
	}
	if format != models.FormatVideo && format != models.FormatAudio {
		return models.Job{}, ErrInvalidFormat
	}
	if quality == "" {
		quality = models.DefaultVideoQuality
		if format == models.FormatAudio {
			quality = models.DefaultAudioQuality
		}
	}
	if !models.ValidQuality(format, quality) {
		return models.Job{}, ErrInvalidQuality
	}

	filename, original := desc.Filename, desc.OriginalFilename
	if format == models.FormatAudio {
		filename = replaceExt(filename, ".mp3")
		original = replaceExt(original, ".mp3")
	}

	now := m.now()
	job := models.Job{
		ID:               uuid.NewString(),
		InfoID:           infoID,
		Format:           format,
		Quality:          quality,
		Policy:           models.PolicyFor(format),
		Status:           models.JobStarting,
		Progress:         models.Progress{Filename: filename},
		Locator:          desc.Locator,
		Filename:         filename,
		OriginalFilename: original,
		SourceURL:        desc.SourceURL,
		Title:            desc.Title,
		Duration:         desc.Duration,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	m.jobs.Put(job.ID, job)
	m.logger.Info("job started",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldInfoID, infoID),
		logging.String("format", string(format)),
		logging.String("quality", quality))

	m.wg.Add(1)
	go m.runWorker(job, desc)
	return job, nil
}

// Stats counts the records a Manager currently holds.
type Stats struct {
	Descriptors int
	Jobs        int
	Running     int
	Streaming   int
}

// Stats reports store sizes and how many jobs are running or streaming.
// Sizes include records that expired but were not swept yet.
func (m *Manager) Stats() Stats {
	st := Stats{Descriptors: m.infos.Len(), Jobs: m.jobs.Len()}
	m.jobs.Range(func(_ string, job models.Job) bool {
		switch {
		case job.Status.IsRunning():
			st.Running++
		case job.Status == models.JobStreaming:
			st.Streaming++
		}
		return true
	})
	return st
}

// Status returns the current snapshot of a job. It never changes state.
func (m *Manager) Status(jobID string) (models.Job, bool) {
	return m.jobs.Get(jobID)
}

func (m *Manager) runWorker(job models.Job, desc models.MediaDescriptor) {
	defer m.wg.Done()
	rep := m.Reporter(job.ID)

	if a, ok := m.executor.(Admitter); ok {
		if err := a.Admit(job); err != nil {
			m.logger.Warn("job refused", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
			rep.fail(err.Error())
			return
		}
	}

	select {
	case m.queue <- struct{}{}:
		defer func() { <-m.queue }()
	case <-time.After(m.queueWait):
		rep.fail(msgServerBusy)
		return
	case <-m.ctx.Done():
		rep.fail(msgShuttingDown)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			m.logger.Error("executor panic",
				logging.String(logging.FieldJobID, job.ID),
				logging.Any("panic", rec),
				logging.String("stack", string(debug.Stack())))
			rep.fail(fmt.Sprintf("Internal error during processing: %v", rec))
		}
	}()

	res, err := m.executor.Execute(m.ctx, job, desc, rep)
	if err != nil {
		m.logger.Warn("job failed", logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		rep.fail(err.Error())
		return
	}
	rep.finish(res)
}

// Reporter returns the update handle bound to jobID.
func (m *Manager) Reporter(jobID string) *Reporter {
	return &Reporter{m: m, id: jobID}
}

// Reporter is the only path by which job state changes while the Executor
// runs. Every call publishes a new Job value; writes to expired jobs are
// dropped.
type Reporter struct {
	m  *Manager
	id string
}

// JobID returns the job this reporter writes to.
func (r *Reporter) JobID() string { return r.id }

// Progress moves the job to processing and publishes p. It reports false when
// the job is gone or no longer running.
func (r *Reporter) Progress(p models.Progress) bool {
	return r.m.jobs.Update(r.id, func(cur models.Job) (models.Job, bool) {
		if !cur.Status.IsRunning() {
			return cur, false
		}
		if p.Filename == "" {
			p.Filename = cur.Progress.Filename
		}
		cur.Status = models.JobProcessing
		cur.Progress = p
		cur.UpdatedAt = r.m.now()
		return cur, true
	})
}

func (r *Reporter) finish(res Result) {
	var terminalErr bool
	ok := r.m.jobs.Update(r.id, func(cur models.Job) (models.Job, bool) {
		if !cur.Status.IsRunning() {
			return cur, false
		}
		if res.Locator.URL != "" {
			cur.Locator = res.Locator
		}
		cur.StagedPath = res.StagedPath
		cur.MimeType = res.MimeType
		cur.UpdatedAt = r.m.now()
		if !cur.HasSource() {
			terminalErr = true
			cur.Status = models.JobError
			cur.Error = msgNoSource
			cur.DownloadReady = false
			return cur, true
		}
		cur.Status = models.JobFinished
		cur.Progress.Percent = 100
		cur.Progress.ETA = ""
		cur.Progress.Speed = ""
		cur.DownloadReady = true
		return cur, true
	})

	switch {
	case !ok:
		// Nobody will ever stream a file for a job that is already gone.
		if res.StagedPath != "" {
			removeStaged(res.StagedPath, r.m.logger)
		}
		r.m.logger.Debug("finish dropped for expired job", logging.String(logging.FieldJobID, r.id))
	case terminalErr:
		r.m.logger.Warn("job finished without a source", logging.String(logging.FieldJobID, r.id))
	default:
		r.m.logger.Info("job finished", logging.String(logging.FieldJobID, r.id))
	}
}

func (r *Reporter) fail(msg string) {
	r.m.jobs.Update(r.id, func(cur models.Job) (models.Job, bool) {
		if cur.Status.IsTerminal() {
			return cur, false
		}
		cur.Status = models.JobError
		cur.Error = msg
		cur.DownloadReady = false
		cur.UpdatedAt = r.m.now()
		return cur, true
	})
}

// BeginStream claims a finished job for one client and moves it to
// streaming. Precondition failures map to the package sentinel errors.
func (m *Manager) BeginStream(jobID string) (models.Job, error) {
	claimErr := ErrJobNotFound
	var claimed models.Job
	m.jobs.Update(jobID, func(cur models.Job) (models.Job, bool) {
		switch {
		case cur.Status.IsRunning():
			claimErr = ErrJobNotReady
		case cur.Status == models.JobError:
			claimErr = ErrJobFailed
		case cur.Status == models.JobRemoved:
			claimErr = ErrJobNotFound
		case !cur.DownloadReady:
			claimErr = ErrJobNotReady
		case cur.Status == models.JobStreaming:
			claimErr = ErrStreamBusy
		default:
			claimErr = nil
			cur.Status = models.JobStreaming
			cur.Progress.Percent = 0
			cur.Progress.ETA = ""
			cur.Progress.Speed = ""
			cur.UpdatedAt = m.now()
			claimed = cur
			return cur, true
		}
		return cur, false
	})
	if claimErr != nil {
		return models.Job{}, claimErr
	}
	m.logger.Info("stream started", logging.String(logging.FieldJobID, jobID), logging.String("policy", claimed.Policy.String()))
	return claimed, nil
}

// StreamProgress publishes relay progress for a streaming job.
func (m *Manager) StreamProgress(jobID string, p models.Progress) {
	m.jobs.Update(jobID, func(cur models.Job) (models.Job, bool) {
		if cur.Status != models.JobStreaming {
			return cur, false
		}
		if p.Filename == "" {
			p.Filename = cur.Progress.Filename
		}
		cur.Progress = p
		cur.UpdatedAt = m.now()
		return cur, true
	})
}

// EndStream releases a streaming job. Direct jobs become streamable again;
// server-staged jobs lose their file and their record whatever the outcome.
func (m *Manager) EndStream(jobID string) {
	var staged string
	var policy models.StagingPolicy
	m.jobs.Update(jobID, func(cur models.Job) (models.Job, bool) {
		if cur.Status != models.JobStreaming {
			return cur, false
		}
		policy, staged = cur.Policy, cur.StagedPath
		if cur.Policy == models.StagingServer {
			cur.Status = models.JobRemoved
			cur.DownloadReady = false
			cur.StagedPath = ""
		} else {
			cur.Status = models.JobFinished
			cur.Progress.Percent = 100
			cur.Progress.ETA = ""
			cur.Progress.Speed = ""
		}
		cur.UpdatedAt = m.now()
		return cur, true
	})

	if policy == models.StagingServer {
		if staged != "" {
			removeStaged(staged, m.logger)
		}
		m.jobs.Delete(jobID)
	}
	m.logger.Info("stream ended", logging.String(logging.FieldJobID, jobID))
}

// Owns reports whether a staged file name belongs to a live job. Staged
// files are named <job id>.<ext>.
func (m *Manager) Owns(name string) bool {
	id, _, _ := strings.Cut(filepath.Base(name), ".")
	_, ok := m.jobs.Get(id)
	return ok
}

func (m *Manager) onJobEvicted(id string, job models.Job) {
	if job.StagedPath != "" {
		removeStaged(job.StagedPath, m.logger)
	}
	m.logger.Debug("job expired", logging.String(logging.FieldJobID, id), logging.String("status", string(job.Status)))
}

func removeStaged(path string, logger *slog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("could not remove staged file", logging.String("path", path), logging.Error(err))
	}
}

func replaceExt(name, ext string) string {
	if name == "" {
		return ""
	}
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
