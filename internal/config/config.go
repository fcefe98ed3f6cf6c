package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"ytdl-stream/internal/logging"
)

// EnvConfigPath names the variable that points at a TOML config file.
const EnvConfigPath = "YTDL_CONFIG"

// Config holds all server settings in correct types.
type Config struct {
	Server   Server   `toml:"server"`
	Jobs     Jobs     `toml:"jobs"`
	Provider Provider `toml:"provider"`
	Tools    Tools    `toml:"tools"`
	Logging  Logging  `toml:"logging"`
}

type Server struct {
	Port           string   `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimitRPS   float64  `toml:"rate_limit_rps"`
	RateLimitBurst int      `toml:"rate_limit_burst"`
}

type Jobs struct {
	MaxConcurrent  int    `toml:"max_concurrent"`
	StagingDir     string `toml:"staging_dir"`
	CleanupMinutes int    `toml:"cleanup_after_minutes"`
	InfoTTLMinutes int    `toml:"info_ttl_minutes"`
	JobTTLMinutes  int    `toml:"job_ttl_minutes"`
	QueueWaitSecs  int    `toml:"queue_wait_seconds"`
}

type Provider struct {
	Name                   string `toml:"name"`
	UpstreamTimeoutSeconds int    `toml:"upstream_timeout_seconds"`
}

type Tools struct {
	FFmpeg string `toml:"ffmpeg"`
	YTDLP  string `toml:"ytdlp"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

const (
	ProviderYouTube = "youtube"
	ProviderYTDLP   = "ytdlp"
)

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		Server: Server{
			Port:           ":8080",
			AllowedOrigins: []string{"*"},
			RateLimitRPS:   5,
			RateLimitBurst: 10,
		},
		Jobs: Jobs{
			MaxConcurrent:  3,
			StagingDir:     "temp",
			CleanupMinutes: 15,
			InfoTTLMinutes: 30,
			JobTTLMinutes:  10,
			QueueWaitSecs:  10,
		},
		Provider: Provider{
			Name:                   ProviderYouTube,
			UpstreamTimeoutSeconds: 30,
		},
		Tools: Tools{
			FFmpeg: "ffmpeg",
			YTDLP:  "yt-dlp",
		},
		Logging: Logging{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the config: defaults, then the TOML file (explicit path or
// YTDL_CONFIG), then .env, then process environment.
func Load(path string, logger *slog.Logger) (*Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("could not read .env", logging.Error(err))
	}

	applyEnv(&cfg)

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	validate(&cfg, logger)
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	if origins := getEnv("ALLOWED_ORIGINS", ""); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}
	cfg.Server.RateLimitRPS = getEnvAsFloat("RATE_LIMIT_RPS", cfg.Server.RateLimitRPS)
	cfg.Server.RateLimitBurst = getEnvAsInt("RATE_LIMIT_BURST", cfg.Server.RateLimitBurst)

	cfg.Jobs.MaxConcurrent = getEnvAsInt("MAX_CONCURRENT_JOBS", cfg.Jobs.MaxConcurrent)
	cfg.Jobs.StagingDir = getEnv("STAGING_DIR", cfg.Jobs.StagingDir)
	cfg.Jobs.CleanupMinutes = getEnvAsInt("CLEAN_UP_AFTER_MINUTES", cfg.Jobs.CleanupMinutes)
	cfg.Jobs.InfoTTLMinutes = getEnvAsInt("INFO_TTL_MINUTES", cfg.Jobs.InfoTTLMinutes)
	cfg.Jobs.JobTTLMinutes = getEnvAsInt("JOB_TTL_MINUTES", cfg.Jobs.JobTTLMinutes)
	cfg.Jobs.QueueWaitSecs = getEnvAsInt("QUEUE_WAIT_SECONDS", cfg.Jobs.QueueWaitSecs)

	cfg.Provider.Name = getEnv("PROVIDER", cfg.Provider.Name)
	cfg.Provider.UpstreamTimeoutSeconds = getEnvAsInt("UPSTREAM_TIMEOUT_SECONDS", cfg.Provider.UpstreamTimeoutSeconds)

	cfg.Tools.FFmpeg = getEnv("FFMPEG_PATH", cfg.Tools.FFmpeg)
	cfg.Tools.YTDLP = getEnv("YTDLP_PATH", cfg.Tools.YTDLP)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	str := getEnv(key, "")
	if val, err := strconv.Atoi(strings.TrimSpace(str)); err == nil {
		return val
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	str := getEnv(key, "")
	if val, err := strconv.ParseFloat(strings.TrimSpace(str), 64); err == nil {
		return val
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// normalize canonicalizes values and rejects settings that cannot be repaired.
func (c *Config) normalize() error {
	c.Provider.Name = strings.ToLower(strings.TrimSpace(c.Provider.Name))
	switch c.Provider.Name {
	case ProviderYouTube, ProviderYTDLP:
	default:
		return fmt.Errorf("provider: unsupported value %q (want %s or %s)", c.Provider.Name, ProviderYouTube, ProviderYTDLP)
	}

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}

	if c.Server.Port != "" && !strings.Contains(c.Server.Port, ":") {
		c.Server.Port = ":" + c.Server.Port
	}
	if c.Jobs.StagingDir != "" {
		c.Jobs.StagingDir = filepath.Clean(c.Jobs.StagingDir)
	}
	return nil
}

// validate repairs out-of-range values so the server won't crash due to
// misconfiguration.
func validate(cfg *Config, logger *slog.Logger) {
	def := Default()
	repairInt := func(name string, v *int, fallback int) {
		if *v < 1 {
			logger.Warn("setting must be at least 1, using default",
				logging.String("setting", name), logging.Int("value", *v), logging.Int("default", fallback))
			*v = fallback
		}
	}
	repairInt("MAX_CONCURRENT_JOBS", &cfg.Jobs.MaxConcurrent, def.Jobs.MaxConcurrent)
	repairInt("CLEAN_UP_AFTER_MINUTES", &cfg.Jobs.CleanupMinutes, def.Jobs.CleanupMinutes)
	repairInt("INFO_TTL_MINUTES", &cfg.Jobs.InfoTTLMinutes, def.Jobs.InfoTTLMinutes)
	repairInt("JOB_TTL_MINUTES", &cfg.Jobs.JobTTLMinutes, def.Jobs.JobTTLMinutes)
	repairInt("queue_wait_seconds", &cfg.Jobs.QueueWaitSecs, def.Jobs.QueueWaitSecs)
	repairInt("UPSTREAM_TIMEOUT_SECONDS", &cfg.Provider.UpstreamTimeoutSeconds, def.Provider.UpstreamTimeoutSeconds)
	repairInt("RATE_LIMIT_BURST", &cfg.Server.RateLimitBurst, def.Server.RateLimitBurst)

	if cfg.Server.RateLimitRPS < 0 {
		logger.Warn("RATE_LIMIT_RPS is negative, disabling rate limiting")
		cfg.Server.RateLimitRPS = 0
	}
	if cfg.Jobs.StagingDir == "" {
		cfg.Jobs.StagingDir = def.Jobs.StagingDir
	}
	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = def.Server.AllowedOrigins
	}
}

func (c Config) CleanupAfter() time.Duration {
	return time.Duration(c.Jobs.CleanupMinutes) * time.Minute
}

func (c Config) InfoTTL() time.Duration {
	return time.Duration(c.Jobs.InfoTTLMinutes) * time.Minute
}

func (c Config) JobTTL() time.Duration {
	return time.Duration(c.Jobs.JobTTLMinutes) * time.Minute
}

func (c Config) QueueWait() time.Duration {
	return time.Duration(c.Jobs.QueueWaitSecs) * time.Second
}

func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Provider.UpstreamTimeoutSeconds) * time.Second
}
