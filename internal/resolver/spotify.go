package resolver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"warden/internal/music"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

type spotifyCatalog interface {
	GetTrack(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error)
	GetPlaylistItems(ctx context.Context, playlistID spotify.ID, opts ...spotify.RequestOption) (*spotify.PlaylistItemPage, error)
	GetAlbum(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullAlbum, error)
}

// spotifySource turns Spotify links into search references; audio always comes from YouTube.
type spotifySource struct {
	catalog spotifyCatalog
}

func newSpotifySource(ctx context.Context, clientID, clientSecret string) *spotifySource {
	if clientID == "" || clientSecret == "" {
		return nil
	}
	creds := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	return &spotifySource{catalog: spotify.New(creds.Client(ctx), spotify.WithRetry(true))}
}

type spotifyLink struct {
	Kind string
	ID   string
}

// parseSpotifyLink understands open.spotify.com/{track,album,playlist}/ID, including
// localized /intl-xx/ prefixes.
func parseSpotifyLink(raw string) (spotifyLink, bool) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return spotifyLink{}, false
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) > 0 && strings.HasPrefix(segments[0], "intl-") {
		segments = segments[1:]
	}
	if len(segments) < 2 || segments[1] == "" {
		return spotifyLink{}, false
	}
	switch segments[0] {
	case "track", "album", "playlist":
		return spotifyLink{Kind: segments[0], ID: segments[1]}, true
	default:
		return spotifyLink{}, false
	}
}

func (s *spotifySource) References(ctx context.Context, link spotifyLink, limit int) ([]music.Track, error) {
	switch link.Kind {
	case "track":
		track, err := s.catalog.GetTrack(ctx, spotify.ID(link.ID))
		if err != nil {
			return nil, fmt.Errorf("spotify track %s: %w", link.ID, err)
		}
		return []music.Track{spotifyReference(track.SimpleTrack, track.Album)}, nil
	case "album":
		album, err := s.catalog.GetAlbum(ctx, spotify.ID(link.ID))
		if err != nil {
			return nil, fmt.Errorf("spotify album %s: %w", link.ID, err)
		}
		var tracks []music.Track
		for _, track := range album.Tracks.Tracks {
			tracks = append(tracks, spotifyReference(track, album.SimpleAlbum))
			if len(tracks) == limit {
				break
			}
		}
		return tracks, nil
	case "playlist":
		page, err := s.catalog.GetPlaylistItems(ctx, spotify.ID(link.ID), spotify.Limit(min(limit, 100)))
		if err != nil {
			return nil, fmt.Errorf("spotify playlist %s: %w", link.ID, err)
		}
		var tracks []music.Track
		for _, item := range page.Items {
			if item.Track.Track == nil {
				continue
			}
			tracks = append(tracks, spotifyReference(item.Track.Track.SimpleTrack, item.Track.Track.Album))
			if len(tracks) == limit {
				break
			}
		}
		return tracks, nil
	default:
		return nil, fmt.Errorf("%w: unsupported spotify link", music.ErrNotFound)
	}
}

func spotifyReference(track spotify.SimpleTrack, album spotify.SimpleAlbum) music.Track {
	var artists []string
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}
	ref := music.NewReference(track.Name, "")
	ref.Artist = strings.Join(artists, ", ")
	ref.Duration = time.Duration(track.Duration) * time.Millisecond
	if len(album.Images) > 0 {
		ref.Thumbnail = album.Images[0].URL
	}
	return ref
}
