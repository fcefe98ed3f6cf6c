package stream

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
)

// defaultUpstreamHeaders are sent when the provider supplied no headers of
// its own. Identity encoding keeps Content-Length equal to the relayed bytes.
var defaultUpstreamHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Accept":          "*/*",
	"Accept-Language": "en-US,en;q=0.9",
	"Accept-Encoding": "identity",
	"Referer":         "https://www.youtube.com/",
}

func setUpstreamHeaders(h http.Header, headers map[string]string) {
	if len(headers) == 0 {
		headers = defaultUpstreamHeaders
	}
	for k, v := range headers {
		h.Set(k, v)
	}
}

func (r *Responder) serveDirect(w http.ResponseWriter, req *http.Request, job models.Job, logger *slog.Logger) error {
	upReq, err := http.NewRequestWithContext(req.Context(), http.MethodGet, job.Locator.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	setUpstreamHeaders(upReq.Header, job.Locator.Headers)
	clientRange := req.Header.Get("Range")
	if clientRange != "" {
		upReq.Header.Set("Range", clientRange)
	} else {
		upReq.Header.Set("Range", "bytes=0-")
	}

	resp, err := r.client.Do(upReq)
	if err != nil {
		logger.Warn("upstream request failed", logging.Error(err))
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		logger.Warn("upstream rejected request", logging.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	contentType := job.MimeType
	if ct := resp.Header.Get("Content-Type"); ct != "" && ct != "application/octet-stream" {
		contentType = ct
	}
	h := w.Header()
	setDownloadHeaders(h, job, contentType)
	h.Set("Accept-Ranges", "bytes")
	if resp.ContentLength >= 0 {
		h.Set("Content-Length", strconv.FormatInt(resp.ContentLength, 10))
	}
	status := resp.StatusCode
	if clientRange == "" {
		// The whole body was asked for on the client's behalf.
		status = http.StatusOK
	} else if cr := resp.Header.Get("Content-Range"); cr != "" {
		h.Set("Content-Range", cr)
	}
	w.WriteHeader(status)

	m := newMeter(r.jobs, job.ID, resp.ContentLength)
	if err := relay(w, resp.Body, m); err != nil {
		abort(logger, err)
	}
	logger.Info("direct stream complete", logging.Int64("bytes", m.written))
	return nil
}
