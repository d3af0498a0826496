package music

import (
	"context"
	"sync"
	"time"

	"warden/internal/metrics"

	"go.uber.org/zap"
)

const DefaultIdleTimeout = 180 * time.Second

// Defaults are the per-guild values a new session starts with.
type Defaults struct {
	Volume      float64
	IdleTimeout time.Duration
}

type Options struct {
	Resolver  Resolver
	Transport Transport
	Sink      StatusSink
	Listeners ListenerCounter
	Logger    *zap.Logger
	Clock     Clock
	// Defaults is consulted once per session creation. Nil means volume 1.0
	// and DefaultIdleTimeout.
	Defaults func(guildID string) Defaults
}

// Registry owns every live Session, keyed by guild ID.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	opts     Options
	idle     *IdleMonitor
}

func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	return &Registry{
		sessions: make(map[string]*Session),
		opts:     opts,
		idle:     NewIdleMonitor(opts.Clock),
	}
}

func (r *Registry) Idle() *IdleMonitor {
	return r.idle
}

func (r *Registry) GetOrCreate(guildID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.sessions[guildID]; s != nil && !s.Closed() {
		return s
	}

	defaults := Defaults{Volume: 1, IdleTimeout: DefaultIdleTimeout}
	if r.opts.Defaults != nil {
		defaults = r.opts.Defaults(guildID)
	}
	if defaults.Volume < 0 || defaults.Volume > MaxVolume {
		defaults.Volume = 1
	}
	if defaults.IdleTimeout <= 0 {
		defaults.IdleTimeout = DefaultIdleTimeout
	}

	s := newSession(guildID, r, defaults)
	r.sessions[guildID] = s
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.opts.Logger.Debug("session created", zap.String("guild_id", guildID))
	return s
}

func (r *Registry) Get(guildID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[guildID]
	if s == nil || s.Closed() {
		return nil, false
	}
	return s, true
}

// Remove tears down the guild's session if there is one. Calling it again is a no-op.
func (r *Registry) Remove(guildID string) {
	r.mu.Lock()
	s := r.sessions[guildID]
	delete(r.sessions, guildID)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll stops every session, waiting until ctx expires at most.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Stop()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		r.opts.Logger.Warn("sessions still closing at shutdown", zap.Int("count", len(sessions)))
	}
}

// detach drops s from the map only if it is still the registered session for its guild.
func (r *Registry) detach(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[s.guildID] == s {
		delete(r.sessions, s.guildID)
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
}
