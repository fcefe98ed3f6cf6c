package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/grafov/m3u8"

	"ytdl-stream/internal/logging"
	"ytdl-stream/internal/models"
)

const maxPlaylistHops = 3

var errNoVariants = errors.New("master playlist has no variants")

func (r *Responder) serveHLS(w http.ResponseWriter, req *http.Request, job models.Job, logger *slog.Logger) error {
	ctx := req.Context()
	segments, err := r.segmentURLs(ctx, job.Locator)
	if err != nil {
		logger.Warn("playlist fetch failed", logging.Error(err))
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	setDownloadHeaders(w.Header(), job, "video/mp2t")
	w.WriteHeader(http.StatusOK)

	// Segment sizes are unknown up front, so progress counts segments.
	m := newMeter(r.jobs, job.ID, 0)
	for i, segURL := range segments {
		if err := r.relaySegment(ctx, w, segURL, job.Locator.Headers, m); err != nil {
			abort(logger, fmt.Errorf("segment %d: %w", i, err))
		}
		m.advance(float64(i+1) / float64(len(segments)) * 100)
	}
	logger.Info("hls stream complete", logging.Int("segments", len(segments)), logging.Int64("bytes", m.written))
	return nil
}

// segmentURLs resolves the locator to the absolute segment URLs of one media
// playlist, following a master playlist to its highest-bandwidth variant.
func (r *Responder) segmentURLs(ctx context.Context, loc models.Locator) ([]string, error) {
	target := loc.URL
	for hop := 0; hop < maxPlaylistHops; hop++ {
		base, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("parse playlist url: %w", err)
		}
		playlist, listType, err := r.fetchPlaylist(ctx, target, loc.Headers)
		if err != nil {
			return nil, err
		}

		switch listType {
		case m3u8.MASTER:
			master := playlist.(*m3u8.MasterPlaylist)
			var best *m3u8.Variant
			for _, v := range master.Variants {
				if v != nil && (best == nil || v.Bandwidth > best.Bandwidth) {
					best = v
				}
			}
			if best == nil {
				return nil, errNoVariants
			}
			target = resolveURL(base, best.URI)
		case m3u8.MEDIA:
			media := playlist.(*m3u8.MediaPlaylist)
			var urls []string
			for _, seg := range media.Segments {
				if seg == nil || seg.URI == "" {
					continue
				}
				urls = append(urls, resolveURL(base, seg.URI))
			}
			if len(urls) == 0 {
				return nil, errors.New("media playlist has no segments")
			}
			return urls, nil
		default:
			return nil, errors.New("unknown playlist type")
		}
	}
	return nil, fmt.Errorf("playlist nesting deeper than %d", maxPlaylistHops)
}

func (r *Responder) fetchPlaylist(ctx context.Context, target string, headers map[string]string) (m3u8.Playlist, m3u8.ListType, error) {
	resp, err := r.get(ctx, target, headers)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	playlist, listType, err := m3u8.DecodeFrom(resp.Body, true)
	if err != nil {
		return nil, 0, fmt.Errorf("decode playlist: %w", err)
	}
	return playlist, listType, nil
}

func (r *Responder) relaySegment(ctx context.Context, w http.ResponseWriter, target string, headers map[string]string, m *meter) error {
	resp, err := r.get(ctx, target, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return relay(w, resp.Body, m)
}

func (r *Responder) get(ctx context.Context, target string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	setUpstreamHeaders(req.Header, headers)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, fmt.Errorf("bad status code: %d", resp.StatusCode)
	}
	return resp, nil
}

func resolveURL(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}
