package music

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind tags a Track as either a bare reference or a playable, resolved descriptor.
type Kind int

const (
	KindReference Kind = iota
	KindResolved
)

type Track struct {
	Kind      Kind
	Title     string
	SourceURL string
	StreamURL string
	Artist    string
	Thumbnail string
	Duration  time.Duration
	Live      bool
}

// NewReference builds an unresolved track, typically from a playlist listing.
func NewReference(title, sourceURL string) Track {
	return Track{Kind: KindReference, Title: title, SourceURL: sourceURL}
}

func (t Track) Resolved() bool {
	return t.Kind == KindResolved && t.StreamURL != ""
}

func (t Track) Label() string {
	title := strings.TrimSpace(t.Title)
	if title == "" {
		title = t.SourceURL
	}
	if t.Artist != "" && !strings.Contains(strings.ToLower(title), strings.ToLower(t.Artist)) {
		return t.Artist + " - " + title
	}
	return title
}

func (t Track) DurationLabel() string {
	if t.Live {
		return "LIVE"
	}
	if t.Duration <= 0 {
		return "?"
	}
	total := int(t.Duration.Round(time.Second) / time.Second)
	hours, minutes, seconds := total/3600, (total%3600)/60, total%60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// Entry is one queued track together with who asked for it.
type Entry struct {
	ID          string
	Track       Track
	RequesterID string
	EnqueuedAt  time.Time
}

func NewEntry(track Track, requesterID string, now time.Time) Entry {
	return Entry{
		ID:          uuid.NewString(),
		Track:       track,
		RequesterID: requesterID,
		EnqueuedAt:  now,
	}
}

type LoopMode int

const (
	LoopNone LoopMode = iota
	LoopTrack
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "off"
	}
}

func ParseLoopMode(value string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "off", "none", "":
		return LoopNone, nil
	case "track", "song":
		return LoopTrack, nil
	case "queue", "all":
		return LoopQueue, nil
	default:
		return LoopNone, fmt.Errorf("unknown loop mode %q", value)
	}
}

// ResolveMode tells the resolver how to interpret a query.
type ResolveMode int

const (
	ModeSingle ResolveMode = iota
	ModeSearch
	ModePlaylist
)

func (m ResolveMode) String() string {
	switch m {
	case ModeSearch:
		return "search"
	case ModePlaylist:
		return "playlist"
	default:
		return "single"
	}
}
