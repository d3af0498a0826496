package music

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"warden/internal/metrics"

	"go.uber.org/zap"
)

const (
	mailboxSize  = 64
	sinkTimeout  = 5 * time.Second
	teardownStop = "stopped"
	teardownIdle = "idle"
	teardownLost = "connection_lost"
	teardownKick = "disconnected"
)

// Session is the playback state of one guild. All state below the mailbox is
// owned by the run goroutine; public methods hand closures to it.
type Session struct {
	guildID  string
	registry *Registry
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan func()
	done   chan struct{}
	closed atomic.Bool
	gen    atomic.Uint64

	queue         []Entry
	current       *Entry
	loop          LoopMode
	volume        float64
	idleTimeout   time.Duration
	conn          Connection
	channelID     string
	textChannelID string
	nowPlaying    MessageHandle
	finished      bool
	tornDown      bool
}

type EnqueueResult struct {
	// Position is the 1-based queue position of the first added entry, 0 when it started immediately.
	Position int
	Added    int
	Started  bool
}

type Snapshot struct {
	Current   *Entry
	Queue     []Entry
	Loop      LoopMode
	Volume    float64
	ChannelID string
}

func newSession(guildID string, registry *Registry, defaults Defaults) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		guildID:     guildID,
		registry:    registry,
		logger:      registry.opts.Logger.With(zap.String("guild_id", guildID)),
		ctx:         ctx,
		cancel:      cancel,
		tasks:       make(chan func(), mailboxSize),
		done:        make(chan struct{}),
		volume:      defaults.Volume,
		idleTimeout: defaults.IdleTimeout,
	}
	go s.run()
	return s
}

func (s *Session) GuildID() string { return s.guildID }

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Closed() bool { return s.closed.Load() }

func (s *Session) run() {
	defer close(s.done)
	for fn := range s.tasks {
		fn()
		if s.tornDown {
			return
		}
	}
}

// post queues fn on the session goroutine without waiting. It reports false
// when the session is already gone.
func (s *Session) post(fn func()) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.tasks <- fn:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the session goroutine and waits for it.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	if !s.post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrSessionClosed
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrSessionClosed
		}
	}
}

// Connect joins channelID, or moves the existing connection there. A failed
// first connect tears the session down so no empty session stays registered.
func (s *Session) Connect(ctx context.Context, channelID string) error {
	var result error
	err := s.do(func() {
		if s.tornDown {
			result = ErrSessionClosed
			return
		}
		transport := s.registry.opts.Transport
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(s.ctx, cancel)
		defer stop()
		if s.conn == nil {
			s.channelID = channelID
			conn, err := transport.Connect(ctx, s.guildID, channelID)
			if err != nil {
				result = fmt.Errorf("connecting to voice: %w", err)
				s.logger.Warn("voice connect failed", zap.String("channel_id", channelID), zap.Error(err))
				s.teardown(teardownLost)
				return
			}
			s.conn = conn
			s.logger.Info("voice connected", zap.String("channel_id", channelID))
			return
		}
		if s.channelID == channelID {
			return
		}
		previous := s.channelID
		s.channelID = channelID
		if err := transport.Move(ctx, s.conn, channelID); err != nil {
			result = fmt.Errorf("moving to voice channel: %w", err)
			s.logger.Warn("voice move failed", zap.String("from", previous), zap.String("to", channelID), zap.Error(err))
			s.notify(Status{Kind: StatusTransportFailed, Err: result})
			s.teardown(teardownLost)
			return
		}
		s.logger.Info("voice moved", zap.String("from", previous), zap.String("to", channelID))
	})
	if err != nil {
		return err
	}
	return result
}

func (s *Session) ChannelID() string {
	var channelID string
	_ = s.do(func() { channelID = s.channelID })
	return channelID
}

// Enqueue appends entries and starts playback when nothing is current.
func (s *Session) Enqueue(entries []Entry, textChannelID string) (EnqueueResult, error) {
	var result EnqueueResult
	err := s.do(func() {
		if s.tornDown {
			return
		}
		if textChannelID != "" {
			s.textChannelID = textChannelID
		}
		result.Added = len(entries)
		result.Position = len(s.queue) + 1
		s.queue = append(s.queue, entries...)
		if len(entries) == 0 {
			return
		}
		s.finished = false
		if s.current == nil {
			s.registry.idle.Cancel(s)
			s.advance(false)
			result.Started = s.current != nil
			if result.Started {
				result.Position = 0
			}
		}
	})
	if err == nil && s.ctx.Err() != nil {
		err = ErrSessionClosed
	}
	return result, err
}

// Skip ends the current track, advances once and returns the entry it ended.
// A track that finishes on its own while the skip is in flight counts as the
// skipped one and Skip reports ErrTrackChanged instead of ending its successor.
func (s *Session) Skip() (Entry, error) {
	observed := s.gen.Load()
	var skipped Entry
	var result error
	err := s.do(func() {
		if s.current == nil {
			result = ErrNothingPlaying
			return
		}
		if s.gen.Load() != observed {
			result = ErrTrackChanged
			return
		}
		skipped = *s.current
		s.logger.Debug("skip requested", zap.String("entry_id", skipped.ID))
		s.gen.Add(1)
		s.registry.opts.Transport.Stop(s.conn)
		s.advance(true)
	})
	if err != nil {
		return Entry{}, err
	}
	return skipped, result
}

func (s *Session) SetLoopMode(mode LoopMode) error {
	return s.do(func() { s.loop = mode })
}

// SetVolume takes effect from the next track start.
func (s *Session) SetVolume(volume float64) error {
	if math.IsNaN(volume) || volume < 0 || volume > MaxVolume {
		return ErrInvalidVolume
	}
	return s.do(func() { s.volume = volume })
}

// Stop tears the session down. It interrupts a resolution or connect in progress.
func (s *Session) Stop() {
	s.cancel()
	_ = s.do(func() { s.teardown(teardownStop) })
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func() {
		if s.current != nil {
			current := *s.current
			snap.Current = &current
		}
		snap.Queue = append([]Entry(nil), s.queue...)
		snap.Loop = s.loop
		snap.Volume = s.volume
		snap.ChannelID = s.channelID
	})
	return snap, err
}

// Remove deletes the upcoming entry at a 1-based position.
func (s *Session) Remove(position int) (Entry, error) {
	var removed Entry
	var result error
	err := s.do(func() {
		if position < 1 || position > len(s.queue) {
			result = ErrInvalidPosition
			return
		}
		removed = s.queue[position-1]
		s.queue = append(s.queue[:position-1], s.queue[position:]...)
	})
	if err != nil {
		return Entry{}, err
	}
	return removed, result
}

func (s *Session) Shuffle() error {
	return s.do(func() {
		rand.Shuffle(len(s.queue), func(i, j int) {
			s.queue[i], s.queue[j] = s.queue[j], s.queue[i]
		})
	})
}

// Clear empties the upcoming queue and returns how many entries were dropped.
func (s *Session) Clear() (int, error) {
	var cleared int
	err := s.do(func() {
		cleared = len(s.queue)
		s.queue = nil
	})
	return cleared, err
}

// trackEnded is posted by the transport callback.
func (s *Session) trackEnded(gen uint64, err error) {
	if s.tornDown || gen != s.gen.Load() || s.current == nil {
		return
	}
	if err != nil {
		if errors.Is(err, ErrConnectionLost) {
			s.logger.Warn("voice connection lost during playback", zap.Error(err))
			s.notify(Status{Kind: StatusTransportFailed, Entry: *s.current, Err: err})
			s.teardown(teardownLost)
			return
		}
		s.logger.Warn("playback ended with error", zap.String("entry_id", s.current.ID), zap.Error(err))
		metrics.ResolveFailures.WithLabelValues("stream").Inc()
		s.notify(Status{Kind: StatusTrackFailed, Entry: *s.current, Err: err})
	}
	s.advance(false)
}

func (s *Session) idleExpired(token uint64) {
	if s.tornDown || !s.registry.idle.claim(s, token) {
		return
	}
	if s.current != nil || len(s.queue) > 0 {
		s.logger.Debug("idle timer expired during playback")
		return
	}
	s.logger.Info("idle timeout reached")
	s.notify(Status{Kind: StatusIdleDisconnect})
	s.teardown(teardownIdle)
}

func (s *Session) listeners() int {
	counter := s.registry.opts.Listeners
	if counter == nil || s.channelID == "" {
		return 0
	}
	return counter.Listeners(s.guildID, s.channelID)
}

func (s *Session) teardown(reason string) {
	if s.tornDown {
		return
	}
	s.tornDown = true
	s.closed.Store(true)
	s.gen.Add(1)
	s.cancel()
	s.registry.idle.Cancel(s)

	transport := s.registry.opts.Transport
	if s.conn != nil {
		transport.Stop(s.conn)
		if err := transport.Disconnect(s.conn); err != nil {
			s.logger.Warn("voice disconnect failed", zap.Error(err))
		}
		s.conn = nil
	}
	s.queue = nil
	s.current = nil
	if s.nowPlaying.Valid() {
		s.deleteStatus(s.nowPlaying)
		s.nowPlaying = MessageHandle{}
	}
	s.registry.detach(s)
	metrics.SessionTeardowns.WithLabelValues(reason).Inc()
	s.logger.Info("session closed", zap.String("reason", reason))
}

// notify sends a standalone status message to the last known text channel.
func (s *Session) notify(st Status) {
	sink := s.registry.opts.Sink
	if sink == nil || s.textChannelID == "" {
		return
	}
	st.GuildID = s.guildID
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if _, err := sink.Send(ctx, s.textChannelID, st); err != nil {
		s.logger.Warn("status send failed", zap.String("status", st.Kind.String()), zap.Error(err))
	}
}

// publish updates the tracked status message in place, sending a new one when
// there is none or the edit fails.
func (s *Session) publish(st Status) {
	sink := s.registry.opts.Sink
	if sink == nil || s.textChannelID == "" {
		return
	}
	st.GuildID = s.guildID
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if s.nowPlaying.Valid() && s.nowPlaying.ChannelID == s.textChannelID {
		err := sink.Edit(ctx, s.nowPlaying, st)
		if err == nil {
			return
		}
		s.logger.Debug("status edit failed, sending new message", zap.Error(err))
	}
	handle, err := sink.Send(ctx, s.textChannelID, st)
	if err != nil {
		s.logger.Warn("status send failed", zap.String("status", st.Kind.String()), zap.Error(err))
		return
	}
	if s.nowPlaying.Valid() && s.nowPlaying != handle {
		s.deleteStatus(s.nowPlaying)
	}
	s.nowPlaying = handle
}

func (s *Session) deleteStatus(handle MessageHandle) {
	sink := s.registry.opts.Sink
	if sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := sink.Delete(ctx, handle); err != nil {
		s.logger.Debug("status delete failed", zap.Error(err))
	}
}
