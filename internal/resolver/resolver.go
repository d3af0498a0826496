package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/internal/metrics"
	"warden/internal/music"
	"warden/internal/utils"

	"go.uber.org/zap"
)

const searchCandidates = 3

type Options struct {
	YtdlpPath           string
	Providers           []string
	MaxPlaylistEntries  int
	Timeout             time.Duration
	SpotifyClientID     string
	SpotifyClientSecret string
	Logger              *zap.Logger
}

type extractor interface {
	Metadata(ctx context.Context, url string) (music.Track, error)
	Playlist(ctx context.Context, url string, limit int) ([]music.Track, error)
}

type streamer interface {
	Stream(ctx context.Context, url string) (music.Track, error)
}

type spotifyResolver interface {
	References(ctx context.Context, link spotifyLink, limit int) ([]music.Track, error)
}

// Resolver implements music.Resolver on top of yt-dlp, kkdai/youtube, the YouTube
// search clients and the Spotify catalog.
type Resolver struct {
	logger     *zap.Logger
	extractor  extractor
	youtube    streamer
	searchers  []searcher
	spotify    spotifyResolver
	maxEntries int
	timeout    time.Duration
}

func New(ctx context.Context, opts Options) *Resolver {
	ytdlp := newYtdlpExtractor(opts.YtdlpPath)
	r := &Resolver{
		logger:     opts.Logger,
		extractor:  ytdlp,
		youtube:    newYoutubeStreamer(),
		maxEntries: opts.MaxPlaylistEntries,
		timeout:    opts.Timeout,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.maxEntries <= 0 {
		r.maxEntries = 100
	}
	if r.timeout <= 0 {
		r.timeout = 30 * time.Second
	}
	for _, name := range opts.Providers {
		switch name {
		case "ytmusic":
			r.searchers = append(r.searchers, ytmusicSearcher{})
		case "youtube":
			r.searchers = append(r.searchers, newYoutubeSearcher())
		case "ytdlp":
			r.searchers = append(r.searchers, ytdlp)
		}
	}
	if len(r.searchers) == 0 {
		r.searchers = []searcher{ytdlp}
	}
	if source := newSpotifySource(ctx, opts.SpotifyClientID, opts.SpotifyClientSecret); source != nil {
		r.spotify = source
	}
	return r
}

// Classify picks the resolve mode a bare /play query implies.
func Classify(query string) music.ResolveMode {
	if !utils.LooksLikeURL(query) {
		return music.ModeSearch
	}
	normalized, host, err := utils.NormalizeURL(query)
	if err != nil {
		return music.ModeSearch
	}
	if utils.HostIn(host, "spotify.com") {
		if link, ok := parseSpotifyLink(normalized); ok && link.Kind != "track" {
			return music.ModePlaylist
		}
		return music.ModeSingle
	}
	lower := strings.ToLower(normalized)
	if strings.Contains(lower, "list=") || strings.Contains(lower, "/playlist") || strings.Contains(lower, "/sets/") {
		return music.ModePlaylist
	}
	return music.ModeSingle
}

func (r *Resolver) Resolve(ctx context.Context, query string, mode music.ResolveMode) ([]music.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, music.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	tracks, err := r.resolve(ctx, query, mode)
	metrics.ResolveDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ResolveRequests.WithLabelValues(mode.String(), failureLabel(err)).Inc()
		r.logger.Debug("resolve failed", zap.String("query", query), zap.Stringer("mode", mode), zap.Error(err))
		return nil, err
	}
	metrics.ResolveRequests.WithLabelValues(mode.String(), "ok").Inc()
	return tracks, nil
}

func (r *Resolver) resolve(ctx context.Context, query string, mode music.ResolveMode) ([]music.Track, error) {
	if mode == music.ModeSearch || !utils.LooksLikeURL(query) {
		track, err := r.search(ctx, query)
		if err != nil {
			return nil, err
		}
		return []music.Track{track}, nil
	}

	normalized, host, err := utils.NormalizeURL(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", music.ErrNotFound, err)
	}

	if utils.HostIn(host, "spotify.com") {
		return r.fromSpotify(ctx, normalized, mode)
	}

	if mode == music.ModePlaylist {
		return r.extractor.Playlist(ctx, normalized, r.maxEntries)
	}
	track, err := r.stream(ctx, normalized, host)
	if err != nil {
		return nil, err
	}
	return []music.Track{track}, nil
}

func (r *Resolver) fromSpotify(ctx context.Context, link string, mode music.ResolveMode) ([]music.Track, error) {
	if r.spotify == nil {
		return nil, fmt.Errorf("%w: spotify links are not enabled on this bot", music.ErrNotFound)
	}
	parsed, ok := parseSpotifyLink(link)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported spotify link", music.ErrNotFound)
	}
	refs, err := r.spotify.References(ctx, parsed, r.maxEntries)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, music.ErrNotFound
	}
	if mode == music.ModePlaylist {
		return refs, nil
	}
	track, err := r.search(ctx, refs[0].Label())
	if err != nil {
		return nil, err
	}
	return []music.Track{track}, nil
}

// stream resolves one URL to a playable track, trying kkdai/youtube before yt-dlp.
func (r *Resolver) stream(ctx context.Context, url, host string) (music.Track, error) {
	if r.youtube != nil && utils.HostIn(host, "youtube.com", "youtu.be") {
		track, err := r.youtube.Stream(ctx, url)
		if err == nil {
			return track, nil
		}
		if ctx.Err() != nil {
			return music.Track{}, ctx.Err()
		}
		r.logger.Debug("youtube fast path failed, falling back to yt-dlp", zap.String("url", url), zap.Error(err))
	}
	return r.extractor.Metadata(ctx, url)
}

func (r *Resolver) search(ctx context.Context, query string) (music.Track, error) {
	var lastErr error
	for _, provider := range r.searchers {
		hits, err := provider.Search(ctx, query, searchCandidates)
		if err != nil {
			if ctx.Err() != nil {
				return music.Track{}, ctx.Err()
			}
			r.logger.Debug("search provider failed", zap.String("provider", provider.Name()), zap.Error(err))
			lastErr = err
			continue
		}
		for _, candidate := range hits {
			_, host, err := utils.NormalizeURL(candidate.URL)
			if err != nil {
				continue
			}
			track, err := r.stream(ctx, candidate.URL, host)
			if err != nil {
				if ctx.Err() != nil {
					return music.Track{}, ctx.Err()
				}
				lastErr = err
				continue
			}
			if track.Title == "" {
				track.Title = candidate.Title
			}
			if track.Artist == "" {
				track.Artist = candidate.Artist
			}
			if track.Duration == 0 {
				track.Duration = candidate.Duration
			}
			return track, nil
		}
	}
	if lastErr != nil && errors.Is(lastErr, music.ErrBlocked) {
		return music.Track{}, lastErr
	}
	return music.Track{}, fmt.Errorf("%w: nothing matched %q", music.ErrNotFound, query)
}

func failureLabel(err error) string {
	switch {
	case errors.Is(err, music.ErrBlocked):
		return "blocked"
	case errors.Is(err, music.ErrNotFound):
		return "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
