package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
)

func (r *Responder) serveStaged(w http.ResponseWriter, job models.Job, logger *slog.Logger) error {
	file, err := os.Open(job.StagedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrStagedMissing
		}
		return fmt.Errorf("open staged file: %w", err)
	}
	defer file.Close()

	var size int64
	if info, err := file.Stat(); err == nil {
		size = info.Size()
	}

	h := w.Header()
	setDownloadHeaders(h, job, job.MimeType)
	if size > 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)

	m := newMeter(r.jobs, job.ID, size)
	if err := relay(w, file, m); err != nil {
		abort(logger, err)
	}
	logger.Info("staged stream complete", logging.Int64("bytes", m.written))
	return nil
}
