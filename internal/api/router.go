package api

import (
	"log/slog"
	"net/http"

	"ytdl-stream/internal/logging"
)

// RouterOptions configures the middleware around the routes.
type RouterOptions struct {
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter registers the routes and wraps them in the middleware chain.
func NewRouter(h *Handler, opts RouterOptions, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /get-video-info", h.GetVideoInfo)
	mux.HandleFunc("GET /video-info/{info_id}", h.VideoInfo)
	mux.HandleFunc("POST /start-download", h.StartDownload)
	mux.HandleFunc("GET /progress/{download_id}", h.Progress)
	mux.HandleFunc("GET /stream-download/{download_id}", h.StreamDownload)
	mux.HandleFunc("GET /system-info", h.SystemInfo)
	mux.HandleFunc("GET /healthz", h.Health)

	httpLogger := logging.NewComponentLogger(logger, "http")
	return Chain(mux,
		RequestID,
		Logging(httpLogger),
		Recovery(httpLogger),
		CORSMiddleware(opts.AllowedOrigins),
		RateLimit(opts.RateLimitRPS, opts.RateLimitBurst, http.MethodPost),
	)
}
