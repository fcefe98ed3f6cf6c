package stream

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ytdl-stream/internal/downloader"
	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
)

const (
	chunkSize     = 32 * 1024
	progressEvery = 500 * time.Millisecond
)

var (
	// ErrUpstream means the source could not be reached before any byte was
	// sent to the client.
	ErrUpstream = errors.New("upstream source unavailable")
	// ErrStagedMissing means a server-staged file vanished before streaming.
	ErrStagedMissing = errors.New("staged file not found")
)

// Jobs is the slice of the job manager the responder drives.
type Jobs interface {
	BeginStream(jobID string) (models.Job, error)
	StreamProgress(jobID string, p models.Progress)
	EndStream(jobID string)
}

// Responder relays a finished job's bytes to an HTTP client.
type Responder struct {
	jobs   Jobs
	client *http.Client
	logger *slog.Logger
}

func NewResponder(jobs Jobs, client *http.Client, logger *slog.Logger) *Responder {
	if client == nil {
		client = http.DefaultClient
	}
	return &Responder{
		jobs:   jobs,
		client: client,
		logger: logging.NewComponentLogger(logger, "stream"),
	}
}

// Stream claims jobID and writes its payload to w. A returned error means
// nothing was written and the caller should render it. Failures after the
// first byte abort the response with http.ErrAbortHandler.
func (r *Responder) Stream(w http.ResponseWriter, req *http.Request, jobID string) error {
	job, err := r.jobs.BeginStream(jobID)
	if err != nil {
		return err
	}
	// Releases the claim and, for server-staged jobs, the file and record,
	// whether the relay succeeded or not.
	defer r.jobs.EndStream(jobID)

	logger := r.logger.With(logging.String(logging.FieldJobID, jobID))
	switch {
	case job.Policy == models.StagingServer:
		return r.serveStaged(w, job, logger)
	case job.Locator.Kind == models.LocatorHLS:
		return r.serveHLS(w, req, job, logger)
	default:
		return r.serveDirect(w, req, job, logger)
	}
}

func setDownloadHeaders(h http.Header, job models.Job, contentType string) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", ContentDisposition(job.Filename, job.OriginalFilename))
	h.Set("Cache-Control", "no-cache")
}

// relay copies src to w in fixed chunks, flushing each one and publishing
// progress. total may be zero when unknown.
func relay(w http.ResponseWriter, src io.Reader, meter *meter) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, chunkSize)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return fmt.Errorf("write to client: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}
			meter.add(int64(n))
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return nil
			}
			return fmt.Errorf("read source: %w", readErr)
		}
	}
}

// abort ends a response that already has bytes on the wire.
func abort(logger *slog.Logger, err error) {
	logger.Warn("stream aborted", logging.Error(err))
	panic(http.ErrAbortHandler)
}

// meter publishes relay progress through Jobs, at most every progressEvery.
// The published percent never decreases. When total is unknown the percent
// comes from floor, which the caller raises as whole parts complete.
type meter struct {
	mu        sync.Mutex
	jobs      Jobs
	jobID     string
	total     int64
	written   int64
	floor     float64
	published float64
	started   time.Time
	last      time.Time
}

func newMeter(jobs Jobs, jobID string, total int64) *meter {
	return &meter{jobs: jobs, jobID: jobID, total: total, started: time.Now()}
}

func (m *meter) add(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written += n
	now := time.Now()
	if now.Sub(m.last) < progressEvery && (m.total <= 0 || m.written < m.total) {
		return
	}
	m.publish(now)
}

// advance raises the floor to percent and publishes immediately.
func (m *meter) advance(percent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if percent > m.floor {
		m.floor = min(percent, 100)
	}
	m.publish(time.Now())
}

func (m *meter) publish(now time.Time) {
	m.last = now
	p := m.progress(now)
	if p.Percent < m.published {
		p.Percent = m.published
	}
	m.published = p.Percent
	m.jobs.StreamProgress(m.jobID, p)
}

func (m *meter) progress(now time.Time) models.Progress {
	p := models.Progress{Percent: m.floor}
	elapsed := now.Sub(m.started).Seconds()
	if m.total > 0 {
		p.Percent = float64(m.written) / float64(m.total) * 100
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	if elapsed > 0 {
		rate := float64(m.written) / elapsed
		p.Speed = downloader.FormatSpeed(rate)
		if m.total > m.written && rate > 0 {
			p.ETA = downloader.FormatETA(time.Duration(float64(m.total-m.written)/rate) * time.Second)
		}
	}
	return p
}
