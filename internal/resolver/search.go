package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

type hit struct {
	URL      string
	Title    string
	Artist   string
	Duration time.Duration
}

type searcher interface {
	Name() string
	Search(ctx context.Context, query string, limit int) ([]hit, error)
}

type ytmusicSearcher struct{}

func (ytmusicSearcher) Name() string { return "ytmusic" }

func (ytmusicSearcher) Search(ctx context.Context, query string, limit int) ([]hit, error) {
	type outcome struct {
		hits []hit
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := ytmusic.TrackSearch(query).Next()
		if err != nil {
			done <- outcome{err: err}
			return
		}
		var hits []hit
		for _, track := range result.Tracks {
			if track.VideoID == "" {
				continue
			}
			var artists []string
			for _, artist := range track.Artists {
				artists = append(artists, artist.Name)
			}
			hits = append(hits, hit{
				URL:    "https://www.youtube.com/watch?v=" + track.VideoID,
				Title:  track.Title,
				Artist: strings.Join(artists, ", "),
			})
			if len(hits) == limit {
				break
			}
		}
		done <- outcome{hits: hits}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		return out.hits, out.err
	}
}

type youtubeSearcher struct {
	client *ytsearch.Client
}

func newYoutubeSearcher() *youtubeSearcher {
	return &youtubeSearcher{client: ytsearch.NewClient(nil)}
}

func (y *youtubeSearcher) Name() string { return "youtube" }

func (y *youtubeSearcher) Search(ctx context.Context, query string, limit int) ([]hit, error) {
	result, err := y.client.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	var hits []hit
	for _, video := range result.Results {
		if video.VideoID == "" {
			continue
		}
		hits = append(hits, hit{URL: "https://www.youtube.com/watch?v=" + video.VideoID, Title: video.Title})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}
