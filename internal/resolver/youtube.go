package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"warden/internal/music"

	"github.com/kkdai/youtube/v2"
)

// youtubeStreamer resolves plain YouTube watch URLs without spawning yt-dlp.
type youtubeStreamer struct {
	client youtube.Client
}

func newYoutubeStreamer() *youtubeStreamer {
	return &youtubeStreamer{}
}

func (y *youtubeStreamer) Stream(ctx context.Context, url string) (music.Track, error) {
	video, err := y.client.GetVideoContext(ctx, url)
	if err != nil {
		return music.Track{}, err
	}

	format := pickAudioFormat(video.Formats.WithAudioChannels().Type("audio"))
	if format == nil {
		return music.Track{}, errors.New("no audio format")
	}
	streamURL, err := y.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return music.Track{}, fmt.Errorf("stream url: %w", err)
	}

	track := music.Track{
		Kind:      music.KindResolved,
		Title:     video.Title,
		Artist:    video.Author,
		SourceURL: "https://www.youtube.com/watch?v=" + video.ID,
		StreamURL: streamURL,
		Duration:  video.Duration,
	}
	if len(video.Thumbnails) > 0 {
		track.Thumbnail = video.Thumbnails[len(video.Thumbnails)-1].URL
	}
	return track, nil
}

// pickAudioFormat prefers itag 251 (opus 160k), then any opus, then the best remaining audio.
func pickAudioFormat(formats youtube.FormatList) *youtube.Format {
	for i := range formats {
		if formats[i].ItagNo == 251 {
			return &formats[i]
		}
	}
	for i := range formats {
		if strings.Contains(formats[i].MimeType, "opus") {
			return &formats[i]
		}
	}
	if len(formats) == 0 {
		return nil
	}
	formats.Sort()
	return &formats[0]
}
