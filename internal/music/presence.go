package music

import "go.uber.org/zap"

// VoiceStateChange is one member's voice channel transition. An empty channel
// ID means "not in voice".
type VoiceStateChange struct {
	GuildID         string
	UserID          string
	Self            bool
	Bot             bool
	BeforeChannelID string
	AfterChannelID  string
}

type ChannelDeleted struct {
	GuildID   string
	ChannelID string
}

// PresenceTracker turns gateway voice events into idle timer and teardown
// transitions for the affected session.
type PresenceTracker struct {
	registry *Registry
}

func NewPresenceTracker(registry *Registry) *PresenceTracker {
	return &PresenceTracker{registry: registry}
}

func (t *PresenceTracker) HandleVoiceState(ev VoiceStateChange) {
	s, ok := t.registry.Get(ev.GuildID)
	if !ok {
		return
	}
	s.post(func() { s.onVoiceState(ev) })
}

func (t *PresenceTracker) HandleChannelDelete(ev ChannelDeleted) {
	s, ok := t.registry.Get(ev.GuildID)
	if !ok {
		return
	}
	s.post(func() {
		if s.tornDown || s.channelID == "" || s.channelID != ev.ChannelID {
			return
		}
		s.logger.Info("voice channel deleted")
		s.notify(Status{Kind: StatusDisconnected})
		s.teardown(teardownKick)
	})
}

func (s *Session) onVoiceState(ev VoiceStateChange) {
	channelID := s.channelID
	if s.tornDown || channelID == "" {
		return
	}
	if ev.BeforeChannelID != channelID && ev.AfterChannelID != channelID {
		return
	}

	if ev.Self {
		// Our own joins and moves update channelID before the event arrives.
		if ev.BeforeChannelID == channelID && ev.AfterChannelID != channelID {
			s.logger.Info("removed from voice channel", zap.String("channel_id", channelID), zap.String("now", ev.AfterChannelID))
			s.notify(Status{Kind: StatusDisconnected})
			s.teardown(teardownKick)
		}
		return
	}
	if ev.Bot {
		return
	}

	switch {
	case ev.BeforeChannelID == channelID && ev.AfterChannelID != channelID:
		if s.listeners() == 0 {
			s.registry.idle.Arm(s, s.idleTimeout)
		}
	case ev.AfterChannelID == channelID && ev.BeforeChannelID != channelID:
		s.registry.idle.Cancel(s)
	}
}
