package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/internal/music"

	"github.com/lrstanley/go-ytdlp"
)

const (
	metadataTemplate = "%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(webpage_url)s\t%(thumbnail)s\t%(is_live)s"
	listingTemplate  = "%(url)s\t%(title)s\t%(uploader)s\t%(duration)s"
)

var blockedMarkers = []string{
	"private video",
	"video unavailable",
	"this video is unavailable",
	"sign in to confirm",
	"members-only",
	"drm",
	"not available in your country",
	"has been removed",
	"age-restricted",
}

var notFoundMarkers = []string{
	"unsupported url",
	"http error 404",
	"no video formats",
	"unable to extract",
}

// ytdlpExtractor drives the yt-dlp binary for anything kkdai/youtube cannot handle.
type ytdlpExtractor struct {
	executable string
}

func newYtdlpExtractor(executable string) *ytdlpExtractor {
	return &ytdlpExtractor{executable: executable}
}

func (y *ytdlpExtractor) command() *ytdlp.Command {
	cmd := ytdlp.New()
	if y.executable != "" {
		cmd.SetExecutable(y.executable)
	}
	return cmd.NoWarnings().IgnoreConfig()
}

func (y *ytdlpExtractor) Metadata(ctx context.Context, url string) (music.Track, error) {
	res, err := y.command().
		Print(metadataTemplate).
		Format("bestaudio[ext=webm]/bestaudio/best").
		NoPlaylist().
		NoCheckFormats().
		Run(ctx, "--skip-download", url)
	if err != nil {
		return music.Track{}, classifyFailure(res, err)
	}
	track, ok := parseMetadata(res.Stdout)
	if !ok {
		return music.Track{}, fmt.Errorf("%w: yt-dlp returned no playable format for %s", music.ErrNotFound, url)
	}
	if track.SourceURL == "" {
		track.SourceURL = url
	}
	return track, nil
}

func (y *ytdlpExtractor) Playlist(ctx context.Context, url string, limit int) ([]music.Track, error) {
	res, err := y.command().
		FlatPlaylist().
		Print(listingTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		Run(ctx, url)
	if err != nil {
		return nil, classifyFailure(res, err)
	}
	tracks := parseListing(res.Stdout)
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: playlist %s has no playable entries", music.ErrNotFound, url)
	}
	return tracks, nil
}

func (y *ytdlpExtractor) Name() string { return "ytdlp" }

func (y *ytdlpExtractor) Search(ctx context.Context, query string, limit int) ([]hit, error) {
	res, err := y.command().
		FlatPlaylist().
		Print(listingTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		Run(ctx, fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		return nil, classifyFailure(res, err)
	}
	var hits []hit
	for _, track := range parseListing(res.Stdout) {
		hits = append(hits, hit{URL: track.SourceURL, Title: track.Title, Artist: track.Artist, Duration: track.Duration})
	}
	return hits, nil
}

func parseMetadata(stdout string) (music.Track, bool) {
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 7 || !strings.HasPrefix(parts[0], "http") {
			continue
		}
		return music.Track{
			Kind:      music.KindResolved,
			StreamURL: parts[0],
			Title:     field(parts[1]),
			Artist:    field(parts[2]),
			Duration:  parseSeconds(parts[3]),
			SourceURL: field(parts[4]),
			Thumbnail: field(parts[5]),
			Live:      strings.EqualFold(parts[6], "true"),
		}, true
	}
	return music.Track{}, false
}

func parseListing(stdout string) []music.Track {
	var tracks []music.Track
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 || field(parts[0]) == "" {
			continue
		}
		title := field(parts[1])
		if title == "[Private video]" || title == "[Deleted video]" {
			continue
		}
		track := music.NewReference(title, parts[0])
		track.Artist = field(parts[2])
		track.Duration = parseSeconds(parts[3])
		tracks = append(tracks, track)
	}
	return tracks
}

// field maps yt-dlp's "NA" placeholder to an empty string.
func field(value string) string {
	value = strings.TrimSpace(value)
	if value == "NA" || value == "None" {
		return ""
	}
	return value
}

func parseSeconds(value string) time.Duration {
	d, err := time.ParseDuration(field(value) + "s")
	if err != nil || d < 0 {
		return 0
	}
	return d.Round(time.Second)
}

func classifyFailure(res *ytdlp.Result, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	message := err.Error()
	if res != nil && res.Stderr != "" {
		message = res.Stderr
	}
	return classifyMessage(message, err)
}

func classifyMessage(message string, err error) error {
	lower := strings.ToLower(message)
	for _, marker := range blockedMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", music.ErrBlocked, firstLine(message))
		}
	}
	for _, marker := range notFoundMarkers {
		if strings.Contains(lower, marker) {
			return fmt.Errorf("%w: %s", music.ErrNotFound, firstLine(message))
		}
	}
	return fmt.Errorf("yt-dlp: %w", err)
}

func firstLine(message string) string {
	message = strings.TrimSpace(message)
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		message = message[:idx]
	}
	return strings.TrimPrefix(message, "ERROR: ")
}
