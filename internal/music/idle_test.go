package music

import (
	"testing"
	"time"
)

func TestIdleArmThenCancelNeverDisconnects(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	idle := h.registry.Idle()

	idle.Arm(s, time.Minute)
	idle.Cancel(s)
	idle.Cancel(s)
	h.clock.Advance(5 * time.Minute)
	snapshot(t, s)

	if got := h.transport.disconnectCount(); got != 0 {
		t.Fatalf("expected no disconnect, got %d", got)
	}
	if _, ok := h.registry.Get("g1"); !ok {
		t.Fatalf("expected session to survive")
	}
}

func TestIdleExpiryDisconnectsOnce(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"))
	h.transport.complete(t, 0, nil)
	snapshot(t, s)

	if !h.registry.Idle().Pending(s) {
		t.Fatalf("expected idle timer after the queue finished")
	}
	h.clock.Advance(DefaultIdleTimeout - time.Second)
	snapshot(t, s)
	if got := h.transport.disconnectCount(); got != 0 {
		t.Fatalf("disconnected before the grace period: %d", got)
	}

	h.clock.Advance(2 * time.Second)
	waitClosed(t, s)
	h.clock.Advance(DefaultIdleTimeout * 2)

	if got := h.transport.disconnectCount(); got != 1 {
		t.Fatalf("expected exactly 1 disconnect, got %d", got)
	}
	if got := h.sink.count(StatusIdleDisconnect); got != 1 {
		t.Fatalf("expected 1 idle notice, got %d", got)
	}
	if _, ok := h.registry.Get("g1"); ok {
		t.Fatalf("expected session removed")
	}
}

func TestEnqueueCancelsIdle(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"))
	h.transport.complete(t, 0, nil)
	snapshot(t, s)
	if !h.registry.Idle().Pending(s) {
		t.Fatalf("expected idle timer armed")
	}

	enqueue(t, s, resolvedEntry("b"))
	if h.registry.Idle().Pending(s) {
		t.Fatalf("expected enqueue to cancel the idle timer")
	}
	h.clock.Advance(DefaultIdleTimeout + time.Minute)
	snapshot(t, s)

	if got := h.transport.disconnectCount(); got != 0 {
		t.Fatalf("expected no disconnect, got %d", got)
	}
}

func TestRearmSupersedesEarlierTimer(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	idle := h.registry.Idle()

	idle.Arm(s, time.Minute)
	idle.Arm(s, 3*time.Minute)
	h.clock.Advance(2 * time.Minute)
	snapshot(t, s)
	if got := h.transport.disconnectCount(); got != 0 {
		t.Fatalf("superseded timer fired: %d disconnects", got)
	}

	h.clock.Advance(2 * time.Minute)
	waitClosed(t, s)
	if got := h.transport.disconnectCount(); got != 1 {
		t.Fatalf("expected 1 disconnect, got %d", got)
	}
}

func TestIdleExpiryLeavesPlayingSessionAlone(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"), resolvedEntry("b"))

	h.listeners.set(0)
	NewPresenceTracker(h.registry).HandleVoiceState(VoiceStateChange{GuildID: "g1", UserID: "u1", BeforeChannelID: "v1"})
	snapshot(t, s)
	if !h.registry.Idle().Pending(s) {
		t.Fatalf("expected the last listener leaving to arm the idle timer")
	}

	h.clock.Advance(DefaultIdleTimeout + time.Minute)
	snap := snapshot(t, s)
	if got := h.transport.disconnectCount(); got != 0 {
		t.Fatalf("expected playing session to survive, got %d disconnects", got)
	}
	if snap.Current == nil || s.Closed() {
		t.Fatalf("expected playback to continue, current=%v closed=%v", snap.Current, s.Closed())
	}
	if h.registry.Idle().Pending(s) {
		t.Fatalf("expected the expired timer to be consumed")
	}
}

func TestDrainArmsIdleWithListenersPresent(t *testing.T) {
	h := newHarness(t)
	h.listeners.set(3)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"))
	h.transport.complete(t, 0, nil)
	snapshot(t, s)

	h.clock.Advance(DefaultIdleTimeout + time.Second)
	waitClosed(t, s)
	if got := h.transport.disconnectCount(); got != 1 {
		t.Fatalf("expected idle session to leave, got %d disconnects", got)
	}
}

func TestExpiryQueuedBehindEnqueueIsDropped(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"))
	h.transport.complete(t, 0, nil)
	snapshot(t, s)
	if !h.registry.Idle().Pending(s) {
		t.Fatalf("expected idle timer armed")
	}

	block, running := make(chan struct{}), make(chan struct{})
	s.post(func() {
		close(running)
		<-block
	})
	<-running
	enqueued := make(chan error, 1)
	go func() {
		_, err := s.Enqueue([]Entry{resolvedEntry("b")}, "text1")
		enqueued <- err
	}()
	waitFor(t, func() bool { return len(s.tasks) == 1 })
	h.clock.Advance(DefaultIdleTimeout + time.Second)
	waitFor(t, func() bool { return len(s.tasks) == 2 })
	close(block)

	if err := <-enqueued; err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	snap := snapshot(t, s)
	if got := h.transport.disconnectCount(); got != 0 {
		t.Fatalf("superseded timer disconnected the session: %d", got)
	}
	if s.Closed() || snap.Current == nil || snap.Current.Track.Title != "b" {
		t.Fatalf("expected b playing, current=%+v closed=%v", snap.Current, s.Closed())
	}
	if got := h.transport.playCount(); got != 2 {
		t.Fatalf("expected 2 plays, got %d", got)
	}
}
