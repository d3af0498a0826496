package music

import (
	"errors"
	"fmt"

	"warden/internal/metrics"

	"go.uber.org/zap"
)

type attemptResult int

const (
	attemptStarted attemptResult = iota
	attemptFailed
	attemptAborted
)

// advance moves playback to the next entry. It must run on the session
// goroutine. skipped bypasses track looping so a looping track can be left.
func (s *Session) advance(skipped bool) {
	if s.tornDown {
		return
	}
	if s.current != nil {
		previous := *s.current
		s.current = nil
		switch {
		case s.loop == LoopTrack && !skipped:
			if s.attempt(previous) != attemptFailed {
				return
			}
		case s.loop == LoopQueue:
			s.queue = append(s.queue, previous)
		}
	}

	for {
		if s.tornDown || s.ctx.Err() != nil {
			return
		}
		if len(s.queue) == 0 {
			s.drained()
			return
		}
		entry := s.queue[0]
		s.queue[0] = Entry{}
		s.queue = s.queue[1:]
		if s.attempt(entry) != attemptFailed {
			return
		}
	}
}

// attempt resolves entry if needed and hands it to the transport. Any failure
// other than a transport one is reported once and left to the caller to skip.
func (s *Session) attempt(entry Entry) (result attemptResult) {
	started := false
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("track attempt panicked", zap.String("entry_id", entry.ID), zap.Any("panic", r), zap.Stack("stack"))
			metrics.ResolveFailures.WithLabelValues("unexpected").Inc()
			if started {
				// the transport already owns this track; silence it before moving on
				s.gen.Add(1)
				s.registry.opts.Transport.Stop(s.conn)
			}
			s.current = nil
			s.notify(Status{Kind: StatusTrackFailed, Entry: entry, Err: fmt.Errorf("unexpected error: %v", r)})
			result = attemptFailed
		}
	}()

	if !entry.Track.Resolved() {
		track, err := s.resolve(entry.Track)
		if err != nil {
			if s.ctx.Err() != nil {
				return attemptAborted
			}
			reason := failureReason(err)
			s.logger.Warn("track resolution failed", zap.String("entry_id", entry.ID), zap.String("source", entry.Track.SourceURL), zap.String("reason", reason), zap.Error(err))
			metrics.ResolveFailures.WithLabelValues(reason).Inc()
			s.notify(Status{Kind: StatusTrackFailed, Entry: entry, Err: err})
			return attemptFailed
		}
		entry.Track = track
	}

	if s.conn == nil {
		s.notify(Status{Kind: StatusTransportFailed, Entry: entry, Err: ErrConnectionLost})
		s.teardown(teardownLost)
		return attemptAborted
	}

	gen := s.gen.Add(1)
	current := entry
	s.current = &current
	src := AudioSource{StreamURL: entry.Track.StreamURL, Volume: s.volume, Title: entry.Track.Label()}
	err := s.registry.opts.Transport.Play(s.conn, src, func(err error) {
		s.post(func() { s.trackEnded(gen, err) })
	})
	if err != nil {
		s.logger.Error("transport rejected playback", zap.String("entry_id", entry.ID), zap.Error(err))
		s.notify(Status{Kind: StatusTransportFailed, Entry: entry, Err: err})
		s.teardown(teardownLost)
		return attemptAborted
	}
	started = true

	metrics.TracksStarted.Inc()
	s.finished = false
	s.logger.Info("track started", zap.String("entry_id", entry.ID), zap.String("title", entry.Track.Label()), zap.Float64("volume", s.volume))
	s.publish(s.nowPlayingStatus())
	s.registry.idle.Cancel(s)
	return attemptStarted
}

func (s *Session) resolve(track Track) (Track, error) {
	resolver := s.registry.opts.Resolver
	if resolver == nil {
		return Track{}, ErrNotFound
	}
	query, mode := track.SourceURL, ModeSingle
	if query == "" {
		query, mode = track.Label(), ModeSearch
	}
	tracks, err := resolver.Resolve(s.ctx, query, mode)
	if err != nil {
		return Track{}, fmt.Errorf("resolving %q: %w", query, err)
	}
	if len(tracks) == 0 || !tracks[0].Resolved() {
		return Track{}, fmt.Errorf("resolving %q: %w", query, ErrNotFound)
	}
	resolved := tracks[0]
	if resolved.Title == "" {
		resolved.Title = track.Title
	}
	if resolved.SourceURL == "" {
		resolved.SourceURL = track.SourceURL
	}
	return resolved, nil
}

// drained handles an empty queue: one "finished" notice per drain, then the idle timer.
func (s *Session) drained() {
	s.current = nil
	if !s.finished {
		s.finished = true
		s.publish(Status{Kind: StatusQueueFinished, Loop: s.loop, Volume: s.volume})
	}
	// Armed with listeners present too: an idle session leaves after the grace
	// period whether or not anyone is still in the channel.
	s.registry.idle.Arm(s, s.idleTimeout)
}

func (s *Session) nowPlayingStatus() Status {
	st := Status{Kind: StatusNowPlaying, Upcoming: len(s.queue), Loop: s.loop, Volume: s.volume}
	if s.current != nil {
		st.Entry = *s.current
	}
	if len(s.queue) > 0 {
		next := s.queue[0]
		st.Next = &next
	}
	return st
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrBlocked):
		return "blocked"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
