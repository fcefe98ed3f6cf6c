package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"ytdl-stream/internal/jobs"
	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
	"ytdl-stream/internal/resolver"
	"ytdl-stream/internal/stream"
)

const maxBodyBytes = 64 << 10

// SystemInfo is the static capability report served by /system-info.
type SystemInfo struct {
	FFmpegAvailable bool
	Provider        string
}

// Handler serves the job API on top of a Manager and a stream Responder.
type Handler struct {
	manager   *jobs.Manager
	responder *stream.Responder
	system    SystemInfo
	logger    *slog.Logger
}

func NewHandler(m *jobs.Manager, r *stream.Responder, system SystemInfo, logger *slog.Logger) *Handler {
	return &Handler{
		manager:   m,
		responder: r,
		system:    system,
		logger:    logging.NewComponentLogger(logger, "api"),
	}
}

type videoInfoRequest struct {
	URL string `json:"url"`
}

type startDownloadRequest struct {
	InfoID       string `json:"info_id"`
	Format       string `json:"format"`
	Quality      string `json:"quality"`
	AudioQuality string `json:"audio_quality"`
}

// GetVideoInfo accepts a URL and starts resolving it in the background.
func (h *Handler) GetVideoInfo(w http.ResponseWriter, r *http.Request) {
	var req videoInfoRequest
	if err := decodeRequest(r, &req, func(get func(string) string) {
		req.URL = get("url")
	}); err != nil {
		writeErr(w, err)
		return
	}

	url, err := resolver.Normalize(req.URL)
	if err != nil {
		writeErr(w, err)
		return
	}

	id := h.manager.SubmitInfo(url)
	h.logger.Info("video info requested",
		logging.String(logging.FieldInfoID, id),
		logging.String(logging.FieldRequestID, RequestIDFrom(r.Context())))
	writeJSON(w, http.StatusOK, map[string]string{"info_id": id})
}

// VideoInfo reports a descriptor by id.
func (h *Handler) VideoInfo(w http.ResponseWriter, r *http.Request) {
	desc, ok := h.manager.Descriptor(r.PathValue("info_id"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "unknown"})
		return
	}
	writeJSON(w, http.StatusOK, newDescriptorView(desc))
}

// StartDownload creates a job from a ready descriptor.
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if err := decodeRequest(r, &req, func(get func(string) string) {
		req.InfoID = get("info_id")
		req.Format = get("format")
		req.Quality = get("quality")
		req.AudioQuality = get("audio_quality")
	}); err != nil {
		writeErr(w, err)
		return
	}

	format := models.Format(strings.ToLower(strings.TrimSpace(req.Format)))
	if format == "" {
		format = models.FormatVideo
	}
	quality := strings.TrimSpace(req.Quality)
	if format == models.FormatAudio && req.AudioQuality != "" {
		quality = strings.TrimSpace(req.AudioQuality)
	}

	job, err := h.manager.StartJob(strings.TrimSpace(req.InfoID), format, quality)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.logger.Info("download started",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldInfoID, job.InfoID),
		logging.String("format", string(job.Format)),
		logging.String("quality", job.Quality),
		logging.String(logging.FieldRequestID, RequestIDFrom(r.Context())))
	writeJSON(w, http.StatusOK, map[string]string{"download_id": job.ID})
}

// Progress reports a job's latest snapshot. Unknown ids get the zero
// payload with status "unknown".
func (h *Handler) Progress(w http.ResponseWriter, r *http.Request) {
	job, ok := h.manager.Status(r.PathValue("download_id"))
	if !ok {
		writeJSON(w, http.StatusOK, unknownProgress())
		return
	}
	writeJSON(w, http.StatusOK, newProgressView(job))
}

// StreamDownload relays a finished job's bytes to the client.
func (h *Handler) StreamDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("download_id")
	if err := h.responder.Stream(w, r, id); err != nil {
		status, msg := errResponse(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("stream failed", logging.String(logging.FieldJobID, id), logging.Error(err))
			msg = "Error streaming download"
		}
		writeError(w, status, msg)
	}
}

// SystemInfo reports what the server can produce.
func (h *Handler) SystemInfo(w http.ResponseWriter, _ *http.Request) {
	formats := []models.Format{models.FormatVideo}
	if h.system.FFmpegAvailable {
		formats = append(formats, models.FormatAudio)
	}
	audio := make([]audioQualityView, 0, len(models.AudioQualityOrder))
	for _, q := range models.AudioQualityOrder {
		audio = append(audio, audioQualityView{ID: q, Bitrate: fmt.Sprintf("%dk", models.AudioQualities[q])})
	}
	writeJSON(w, http.StatusOK, systemInfoView{
		FFmpegAvailable:  h.system.FFmpegAvailable,
		SupportedFormats: formats,
		VideoQualities:   models.VideoQualities,
		AudioQualities:   audio,
		Provider:         h.system.Provider,
	})
}

// Health reports liveness along with the manager's record counts.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	st := h.manager.Stats()
	writeJSON(w, http.StatusOK, healthView{
		Status:      "ok",
		Descriptors: st.Descriptors,
		Jobs:        st.Jobs,
		Running:     st.Running,
		Streaming:   st.Streaming,
	})
}

var (
	errInvalidJSON = errors.New("invalid JSON body")
	errInvalidForm = errors.New("invalid form body")
)

// errorResponses maps domain errors to a status code and the text clients
// see. Order matters only for errors that wrap more than one sentinel.
var errorResponses = []struct {
	err    error
	status int
	msg    string
}{
	{jobs.ErrJobNotFound, http.StatusNotFound, "Download not found"},
	{stream.ErrStagedMissing, http.StatusNotFound, "Download file not found"},
	{jobs.ErrInfoNotReady, http.StatusBadRequest, "Video info not ready"},
	{jobs.ErrInvalidFormat, http.StatusBadRequest, "Invalid format, expected video or audio"},
	{jobs.ErrInvalidQuality, http.StatusBadRequest, "Invalid quality for the requested format"},
	{jobs.ErrJobNotReady, http.StatusBadRequest, "Download not ready yet"},
	{jobs.ErrJobFailed, http.StatusBadRequest, "Download failed"},
	{jobs.ErrStreamBusy, http.StatusConflict, "Download already streaming"},
	{stream.ErrUpstream, http.StatusBadGateway, "Upstream source unavailable"},
	{resolver.ErrInvalidURL, http.StatusBadRequest, "Invalid URL"},
	{errInvalidJSON, http.StatusBadRequest, "Invalid JSON"},
	{errInvalidForm, http.StatusBadRequest, "Invalid form data"},
}

// errResponse returns the status code and client message for err. Unknown
// errors are internal and their text is not exposed.
func errResponse(err error) (int, string) {
	for _, e := range errorResponses {
		if errors.Is(err, e.err) {
			return e.status, e.msg
		}
	}
	return http.StatusInternalServerError, "Internal server error"
}

func writeErr(w http.ResponseWriter, err error) {
	status, msg := errResponse(err)
	writeError(w, status, msg)
}

// decodeRequest reads a JSON body into dst, or fills it from form values
// through fromForm for any other content type.
func decodeRequest(r *http.Request, dst any, fromForm func(get func(string) string)) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
			return errInvalidJSON
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return errInvalidForm
	}
	fromForm(r.PostFormValue)
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
