package provider

import (
	"bytes"
	"strings"
	"testing"
)

func TestSelectFormatTiers(t *testing.T) {
	tests := []struct {
		name    string
		formats []MediaFormat
		ceiling int
		want    string
	}{
		{
			name: "combined mp4 beats taller combined webm",
			formats: []MediaFormat{
				{URL: "webm720", Height: 720, VCodec: "vp9", ACodec: "opus", Ext: "webm"},
				{URL: "mp4360", Height: 360, VCodec: "avc1", ACodec: "mp4a", Ext: "mp4"},
				{URL: "video1080", Height: 1080, VCodec: "avc1", ACodec: "none", Ext: "mp4"},
			},
			want: "mp4360",
		},
		{
			name: "any combined before video only",
			formats: []MediaFormat{
				{URL: "video1080", Height: 1080, VCodec: "avc1", ACodec: "none", Ext: "mp4"},
				{URL: "webm480", Height: 480, VCodec: "vp9", ACodec: "opus", Ext: "webm"},
			},
			want: "webm480",
		},
		{
			name: "tallest video only",
			formats: []MediaFormat{
				{URL: "v480", Height: 480, VCodec: "avc1", ACodec: "none"},
				{URL: "v1080", Height: 1080, VCodec: "avc1", ACodec: "none"},
				{URL: "a", VCodec: "none", ACodec: "mp4a"},
			},
			want: "v1080",
		},
		{
			name: "first with url as last resort",
			formats: []MediaFormat{
				{VCodec: "none", ACodec: "none"},
				{URL: "audio", VCodec: "none", ACodec: "opus"},
			},
			want: "audio",
		},
		{
			name: "ceiling applies",
			formats: []MediaFormat{
				{URL: "c1080", Height: 1080, VCodec: "avc1", ACodec: "mp4a", Ext: "mp4"},
				{URL: "c720", Height: 720, VCodec: "avc1", ACodec: "mp4a", Ext: "mp4"},
				{URL: "c360", Height: 360, VCodec: "avc1", ACodec: "mp4a", Ext: "mp4"},
			},
			ceiling: 720,
			want:    "c720",
		},
		{
			name: "ceiling dropped when nothing fits",
			formats: []MediaFormat{
				{URL: "c1080", Height: 1080, VCodec: "avc1", ACodec: "mp4a", Ext: "mp4"},
			},
			ceiling: 240,
			want:    "c1080",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SelectFormat(tt.formats, tt.ceiling)
			if !ok {
				t.Fatalf("expected a format")
			}
			if got.URL != tt.want {
				t.Fatalf("got %q, want %q", got.URL, tt.want)
			}
		})
	}
}

func TestSelectFormatEmpty(t *testing.T) {
	if _, ok := SelectFormat(nil, 0); ok {
		t.Fatalf("expected no format for empty list")
	}
	if _, ok := SelectFormat([]MediaFormat{{Height: 720, VCodec: "avc1"}}, 0); ok {
		t.Fatalf("formats without URL must not be selected")
	}
}

func TestSelectAudio(t *testing.T) {
	formats := []MediaFormat{
		{URL: "combined", VCodec: "avc1", ACodec: "mp4a", Bitrate: 900000},
		{URL: "opus", VCodec: "none", ACodec: "opus", Ext: "webm", Bitrate: 160000},
		{URL: "m4a", VCodec: "none", ACodec: "mp4a", Ext: "m4a", Bitrate: 128000},
	}
	got, ok := SelectAudio(formats)
	if !ok || got.URL != "m4a" {
		t.Fatalf("expected m4a, got %+v", got)
	}

	got, ok = SelectAudio(formats[:1])
	if !ok || got.URL != "combined" {
		t.Fatalf("expected combined fallback, got %+v", got)
	}
}

func TestQualityLabels(t *testing.T) {
	formats := []MediaFormat{
		{URL: "a", Height: 720, FPS: 30, VCodec: "avc1", ACodec: "mp4a"},
		{URL: "b", Height: 1080, FPS: 30, VCodec: "avc1", ACodec: "none"},
		{URL: "c", Height: 1080, FPS: 60, VCodec: "vp9", ACodec: "none"},
		{URL: "d", Height: 720, FPS: 30, VCodec: "vp9", ACodec: "none"},
		{URL: "e", VCodec: "none", ACodec: "opus"},
		{URL: "f", Height: 360, VCodec: "avc1", ACodec: "mp4a"},
	}
	got := strings.Join(QualityLabels(formats), ",")
	if got != "1080p 60fps,720p,360p" {
		t.Fatalf("QualityLabels = %q", got)
	}
	if labels := QualityLabels(nil); len(labels) != 0 {
		t.Fatalf("expected no labels, got %v", labels)
	}
}

func TestFormatSelector(t *testing.T) {
	tests := []struct {
		hints Hints
		want  string
	}{
		{Hints{}, "best[ext=mp4]/best/bestvideo+bestaudio"},
		{Hints{MaxHeight: 720}, "best[height<=720][ext=mp4]/best[height<=720]/bestvideo[height<=720]+bestaudio/best"},
		{Hints{AudioOnly: true}, "bestaudio[ext=m4a]/bestaudio/best"},
	}
	for _, tt := range tests {
		if got := FormatSelector(tt.hints); got != tt.want {
			t.Errorf("FormatSelector(%+v) = %q, want %q", tt.hints, got, tt.want)
		}
	}
}

func TestParseMimeType(t *testing.T) {
	tests := []struct {
		in                  string
		ext, vcodec, acodec string
	}{
		{`video/mp4; codecs="avc1.42001E, mp4a.40.2"`, "mp4", "avc1.42001E", "mp4a.40.2"},
		{`video/webm; codecs="vp9"`, "webm", "vp9", "none"},
		{`audio/mp4; codecs="mp4a.40.2"`, "m4a", "none", "mp4a.40.2"},
		{`audio/webm; codecs="opus"`, "webm", "none", "opus"},
		{`not a mime`, "", "", ""},
	}
	for _, tt := range tests {
		ext, v, a := parseMimeType(tt.in)
		if ext != tt.ext || v != tt.vcodec || a != tt.acodec {
			t.Errorf("parseMimeType(%q) = %q %q %q", tt.in, ext, v, a)
		}
	}
}

func TestCopyWithProgress(t *testing.T) {
	payload := strings.Repeat("x", copyBufferSize*2+10)
	var dst bytes.Buffer
	var last Transfer
	calls := 0
	err := copyWithProgress(&dst, strings.NewReader(payload), int64(len(payload)), func(tr Transfer) {
		calls++
		last = tr
	})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if dst.Len() != len(payload) {
		t.Fatalf("copied %d bytes, want %d", dst.Len(), len(payload))
	}
	if calls < 3 {
		t.Fatalf("expected a progress report per chunk, got %d", calls)
	}
	if last.Fraction() != 1 {
		t.Fatalf("expected completed fraction, got %v", last.Fraction())
	}
}

func TestTransferFractionUnknownTotal(t *testing.T) {
	if f := (Transfer{Downloaded: 10}).Fraction(); f != -1 {
		t.Fatalf("expected -1 for unknown total, got %v", f)
	}
}
