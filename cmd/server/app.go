package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ytdl-stream/internal/api"
	"ytdl-stream/internal/config"
	"ytdl-stream/internal/deps"
	"ytdl-stream/internal/downloader"
	"ytdl-stream/internal/jobs"
	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/provider"
	"ytdl-stream/internal/resolver"
	"ytdl-stream/internal/server"
	"ytdl-stream/internal/stream"
)

const (
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func runServe(parent context.Context, cc *commandContext) error {
	cfg, logger, err := cc.ensure()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs, err := server.PrepareFilesystem(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := fs.Release(); err != nil {
			logger.Warn("release staging lock", logging.Error(err))
		}
	}()

	handler, manager, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", logging.String("addr", cfg.Server.Port), logging.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", logging.Error(err))
	}
	return nil
}

// buildApp wires the components behind the HTTP router. The janitor runs
// until ctx ends.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (http.Handler, *jobs.Manager, error) {
	ffmpegOK := deps.FFmpegAvailable(ctx, cfg.Tools.FFmpeg)
	if !ffmpegOK {
		logger.Warn("ffmpeg not found, audio downloads are disabled", logging.String("command", cfg.Tools.FFmpeg))
	}

	extractClient := &http.Client{Timeout: cfg.UpstreamTimeout()}
	p, err := provider.New(cfg, extractClient, logger)
	if err != nil {
		return nil, nil, err
	}

	engine := downloader.New(p, downloader.Options{
		StagingDir:      cfg.Jobs.StagingDir,
		FFmpegPath:      cfg.Tools.FFmpeg,
		FFmpegAvailable: ffmpegOK,
	}, logger)

	manager := jobs.NewManager(jobs.Options{
		InfoTTL:       cfg.InfoTTL(),
		JobTTL:        cfg.JobTTL(),
		MaxConcurrent: cfg.Jobs.MaxConcurrent,
		QueueWait:     cfg.QueueWait(),
	}, resolver.New(p, logger), engine, logger)

	jobs.NewJanitor(cfg.Jobs.StagingDir, cfg.CleanupAfter(), manager, logger).Start(ctx, cfg.CleanupAfter())

	// Relays last as long as the client reads, so only the wait for
	// response headers is bounded.
	streamClient := &http.Client{Transport: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: cfg.UpstreamTimeout(),
		IdleConnTimeout:       90 * time.Second,
	}}
	responder := stream.NewResponder(manager, streamClient, logger)

	h := api.NewHandler(manager, responder, api.SystemInfo{
		FFmpegAvailable: engine.FFmpegAvailable(),
		Provider:        p.Name(),
	}, logger)

	logger.Info("components ready",
		logging.String("provider", p.Name()),
		logging.Bool("ffmpeg", ffmpegOK),
		logging.String("staging_dir", cfg.Jobs.StagingDir),
		logging.Int("max_concurrent", cfg.Jobs.MaxConcurrent),
		logging.Float64("rate_limit_rps", cfg.Server.RateLimitRPS))

	return api.NewRouter(h, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
	}, logger), manager, nil
}
