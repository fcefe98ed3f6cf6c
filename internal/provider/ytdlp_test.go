package provider

import (
	"testing"
	"time"
)

const sampleDump = `{
  "id": "abc123",
  "title": "Sample clip",
  "duration": 125.5,
  "channel": "Sample Channel",
  "view_count": 1234567,
  "thumbnail": "https://i.example/abc.jpg",
  "description": "hello",
  "ext": "mp4",
  "formats": [
    {"url": "https://cdn.example/a.m4a", "vcodec": "none", "acodec": "mp4a.40.2", "ext": "m4a", "protocol": "https", "tbr": 129.5},
    {"url": "https://cdn.example/v.mp4", "height": 720, "vcodec": "avc1", "acodec": "mp4a.40.2", "ext": "mp4",
     "format_note": "720p", "protocol": "https", "filesize": 1000, "http_headers": {"User-Agent": "ua"}},
    {"url": "https://cdn.example/live.m3u8", "height": 1080, "vcodec": "avc1", "acodec": "mp4a", "ext": "mp4", "protocol": "m3u8_native", "fps": 59.94}
  ]
}`

func TestParseDump(t *testing.T) {
	info, err := parseDump([]byte(sampleDump))
	if err != nil {
		t.Fatalf("parseDump: %v", err)
	}
	if info.Title != "Sample clip" || info.Uploader != "Sample Channel" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Duration != 125*time.Second+500*time.Millisecond {
		t.Fatalf("unexpected duration %v", info.Duration)
	}
	if len(info.Formats) != 3 {
		t.Fatalf("expected 3 formats, got %d", len(info.Formats))
	}
	v := info.Formats[1]
	if v.Height != 720 || v.Filesize != 1000 || v.Headers["User-Agent"] != "ua" {
		t.Fatalf("unexpected video format %+v", v)
	}
	if info.Formats[0].Bitrate != 129500 {
		t.Fatalf("unexpected audio bitrate %d", info.Formats[0].Bitrate)
	}
	if !info.Formats[2].IsHLS() || info.Formats[2].FPS != 60 {
		t.Fatalf("unexpected hls format %+v", info.Formats[2])
	}
}

func TestParseDumpTopLevelURL(t *testing.T) {
	info, err := parseDump([]byte(`{"title":"x","url":"https://cdn.example/file.mp4","ext":"mp4"}`))
	if err != nil {
		t.Fatalf("parseDump: %v", err)
	}
	if len(info.Formats) != 1 || info.Formats[0].URL != "https://cdn.example/file.mp4" {
		t.Fatalf("expected top-level url format, got %+v", info.Formats)
	}
}

func TestParseDumpInvalid(t *testing.T) {
	if _, err := parseDump([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}
