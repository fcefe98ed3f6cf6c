package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ytdl-stream/internal/deps"
)

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) != "ytdl-stream "+version {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestCheckCommandOptionalMissing(t *testing.T) {
	unsetEnv(t, "PROVIDER", "FFMPEG_PATH", "YTDLP_PATH", "YTDL_CONFIG", "LOG_FORMAT")
	path := writeConfig(t, `
[provider]
name = "youtube"

[tools]
ffmpeg = "definitely-not-ffmpeg-xyz"
ytdlp = "definitely-not-ytdlp-xyz"
`)
	out, err := runCLI(t, "check", "--config", path)
	if err != nil {
		t.Fatalf("optional tools should not fail check: %v", err)
	}
	if !strings.Contains(out, "missing (optional)") || !strings.Contains(out, "provider: youtube") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestCheckCommandRequiredMissing(t *testing.T) {
	unsetEnv(t, "PROVIDER", "FFMPEG_PATH", "YTDLP_PATH", "YTDL_CONFIG", "LOG_FORMAT")
	path := writeConfig(t, `
[provider]
name = "ytdlp"

[tools]
ytdlp = "definitely-not-ytdlp-xyz"
`)
	if _, err := runCLI(t, "check", "--config", path); err == nil || !strings.Contains(err.Error(), "yt-dlp") {
		t.Fatalf("expected missing yt-dlp error, got %v", err)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		status deps.Status
		want   string
	}{
		{deps.Status{Available: true}, "ok"},
		{deps.Status{Optional: true, Detail: "gone"}, "missing (optional): gone"},
		{deps.Status{Detail: "gone"}, "missing: gone"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.status); got != tt.want {
			t.Errorf("statusLabel(%+v) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
