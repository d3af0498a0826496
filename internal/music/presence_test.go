package music

import (
	"context"
	"testing"
)

func TestPresenceLastListenerLeavingArmsIdle(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"))
	tracker := NewPresenceTracker(h.registry)

	h.listeners.set(1)
	tracker.HandleVoiceState(VoiceStateChange{GuildID: "g1", UserID: "u2", BeforeChannelID: "v1"})
	snapshot(t, s)
	if h.registry.Idle().Pending(s) {
		t.Fatalf("listeners remain, timer should not be armed")
	}

	h.listeners.set(0)
	tracker.HandleVoiceState(VoiceStateChange{GuildID: "g1", UserID: "u1", BeforeChannelID: "v1", AfterChannelID: "v9"})
	snapshot(t, s)
	if !h.registry.Idle().Pending(s) {
		t.Fatalf("expected idle timer armed once the channel emptied")
	}

	tracker.HandleVoiceState(VoiceStateChange{GuildID: "g1", UserID: "u1", BeforeChannelID: "v9", AfterChannelID: "v1"})
	snapshot(t, s)
	if h.registry.Idle().Pending(s) {
		t.Fatalf("expected join to cancel the idle timer")
	}
}

func TestPresenceIgnoresOtherChannelsAndBots(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"))
	tracker := NewPresenceTracker(h.registry)
	h.listeners.set(0)

	tracker.HandleVoiceState(VoiceStateChange{GuildID: "g1", UserID: "u2", BeforeChannelID: "v2"})
	tracker.HandleVoiceState(VoiceStateChange{GuildID: "g1", UserID: "b2", Bot: true, BeforeChannelID: "v1"})
	snapshot(t, s)
	if h.registry.Idle().Pending(s) {
		t.Fatalf("unrelated events armed the idle timer")
	}
}

func TestPresenceSelfRemovalTearsDown(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"), resolvedEntry("b"))
	tracker := NewPresenceTracker(h.registry)

	tracker.HandleVoiceState(VoiceStateChange{GuildID: "g1", UserID: "bot", Self: true, Bot: true, BeforeChannelID: "v1"})
	waitClosed(t, s)

	if _, ok := h.registry.Get("g1"); ok {
		t.Fatalf("expected session removed after kick")
	}
	if got := h.transport.disconnectCount(); got != 1 {
		t.Fatalf("expected 1 disconnect, got %d", got)
	}
}

func TestPresenceOwnMoveIgnored(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	tracker := NewPresenceTracker(h.registry)

	if err := s.Connect(context.Background(), "v2"); err != nil {
		t.Fatalf("move: %v", err)
	}
	tracker.HandleVoiceState(VoiceStateChange{GuildID: "g1", UserID: "bot", Self: true, Bot: true, BeforeChannelID: "v1", AfterChannelID: "v2"})
	tracker.HandleVoiceState(VoiceStateChange{GuildID: "g1", UserID: "bot", Self: true, Bot: true, BeforeChannelID: "v0", AfterChannelID: ""})
	snapshot(t, s)

	if _, ok := h.registry.Get("g1"); !ok {
		t.Fatalf("own move tore the session down")
	}
}

func TestPresenceChannelDeleteTearsDown(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	tracker := NewPresenceTracker(h.registry)

	tracker.HandleChannelDelete(ChannelDeleted{GuildID: "g1", ChannelID: "other"})
	snapshot(t, s)
	tracker.HandleChannelDelete(ChannelDeleted{GuildID: "g1", ChannelID: "v1"})
	waitClosed(t, s)

	if _, ok := h.registry.Get("g1"); ok {
		t.Fatalf("expected session removed after channel delete")
	}
}

func TestPresenceWithoutSessionDoesNotCreate(t *testing.T) {
	h := newHarness(t)
	tracker := NewPresenceTracker(h.registry)

	tracker.HandleVoiceState(VoiceStateChange{GuildID: "g2", UserID: "u1", BeforeChannelID: "v1"})
	tracker.HandleChannelDelete(ChannelDeleted{GuildID: "g2", ChannelID: "v1"})
	if got := h.registry.Len(); got != 0 {
		t.Fatalf("expected no sessions, got %d", got)
	}
}
