package music

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("track not found")
	ErrBlocked           = errors.New("track is private, restricted or unavailable")
	ErrConnectionLost    = errors.New("voice connection lost")
	ErrNoVoiceChannel    = errors.New("you need to be in a voice channel")
	ErrMissingPermission = errors.New("missing permission to connect or speak in that channel")
	ErrNothingPlaying    = errors.New("nothing is playing")
	ErrTrackChanged      = errors.New("that track already ended")
	ErrInvalidVolume     = errors.New("volume must be between 0 and 150 percent")
	ErrInvalidPosition   = errors.New("no track at that position")
	ErrSessionClosed     = errors.New("playback session closed")
)

// MaxVolume is the upper bound of Session volume, expressed as a gain factor.
const MaxVolume = 1.5

type Resolver interface {
	Resolve(ctx context.Context, query string, mode ResolveMode) ([]Track, error)
}

type Connection interface {
	GuildID() string
	ChannelID() string
}

// AudioSource is what the transport needs to start one playback.
type AudioSource struct {
	StreamURL string
	Volume    float64
	Title     string
}

// Transport drives the voice connection. Play must call onComplete exactly once,
// from any goroutine, when playback ends, is stopped or fails.
type Transport interface {
	Connect(ctx context.Context, guildID, channelID string) (Connection, error)
	Move(ctx context.Context, conn Connection, channelID string) error
	Play(conn Connection, src AudioSource, onComplete func(error)) error
	Stop(conn Connection)
	Disconnect(conn Connection) error
}

type MessageHandle struct {
	ChannelID string
	MessageID string
}

func (h MessageHandle) Valid() bool {
	return h.ChannelID != "" && h.MessageID != ""
}

type StatusKind int

const (
	StatusNowPlaying StatusKind = iota
	StatusQueueFinished
	StatusTrackFailed
	StatusTransportFailed
	StatusIdleDisconnect
	StatusDisconnected
)

func (k StatusKind) String() string {
	switch k {
	case StatusNowPlaying:
		return "now_playing"
	case StatusQueueFinished:
		return "queue_finished"
	case StatusTrackFailed:
		return "track_failed"
	case StatusTransportFailed:
		return "transport_failed"
	case StatusIdleDisconnect:
		return "idle_disconnect"
	default:
		return "disconnected"
	}
}

type Status struct {
	Kind     StatusKind
	GuildID  string
	Entry    Entry
	Next     *Entry
	Upcoming int
	Loop     LoopMode
	Volume   float64
	Err      error
}

// StatusSink renders session status to a text channel. Failures are logged by
// the caller and never end a session.
type StatusSink interface {
	Send(ctx context.Context, channelID string, status Status) (MessageHandle, error)
	Edit(ctx context.Context, handle MessageHandle, status Status) error
	Delete(ctx context.Context, handle MessageHandle) error
}

type ListenerCounter interface {
	// Listeners returns the number of non-bot members in a voice channel.
	Listeners(guildID, channelID string) int
}
