package music

import (
	"errors"
	"fmt"
	"reflect"
	"testing"
)

func TestAdvanceDrainsQueueWithSingleFinishedNotice(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)

	result := enqueue(t, s, resolvedEntry("a"), resolvedEntry("b"), resolvedEntry("c"))
	if !result.Started || result.Position != 0 {
		t.Fatalf("expected immediate start, got %+v", result)
	}

	for i := 0; i < 3; i++ {
		h.transport.complete(t, i, nil)
		snapshot(t, s)
	}

	snap := snapshot(t, s)
	if snap.Current != nil || len(snap.Queue) != 0 {
		t.Fatalf("expected drained session, got current=%v queue=%d", snap.Current, len(snap.Queue))
	}
	if got := h.transport.playCount(); got != 3 {
		t.Fatalf("expected 3 plays, got %d", got)
	}
	if got := h.sink.count(StatusQueueFinished); got != 1 {
		t.Fatalf("expected 1 finished notice, got %d", got)
	}
	if _, err := s.Skip(); !errors.Is(err, ErrNothingPlaying) {
		t.Fatalf("expected ErrNothingPlaying, got %v", err)
	}
	if got := h.sink.count(StatusQueueFinished); got != 1 {
		t.Fatalf("skip after drain produced another notice: %d", got)
	}

	enqueue(t, s, resolvedEntry("d"))
	h.transport.complete(t, 3, nil)
	snapshot(t, s)
	if got := h.sink.count(StatusQueueFinished); got != 2 {
		t.Fatalf("expected a second notice for the second drain, got %d", got)
	}
}

func TestLoopTrackReplaysCurrent(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"), resolvedEntry("b"))
	if err := s.SetLoopMode(LoopTrack); err != nil {
		t.Fatalf("set loop: %v", err)
	}

	const replays = 5
	for i := 0; i < replays; i++ {
		h.transport.complete(t, i, nil)
		snap := snapshot(t, s)
		if len(snap.Queue) != 1 {
			t.Fatalf("queue length changed to %d", len(snap.Queue))
		}
	}

	if got := h.transport.playCount(); got != replays+1 {
		t.Fatalf("expected %d plays, got %d", replays+1, got)
	}
	for i := 0; i <= replays; i++ {
		if src := h.transport.play(i); src.StreamURL != "stream://a" {
			t.Fatalf("play %d streamed %q", i, src.StreamURL)
		}
	}
}

func TestSkipLeavesLoopingTrack(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"), resolvedEntry("b"))
	_ = s.SetLoopMode(LoopTrack)

	skipped, err := s.Skip()
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if skipped.Track.Title != "a" {
		t.Fatalf("expected a to be skipped, got %q", skipped.Track.Title)
	}
	snap := snapshot(t, s)
	if snap.Current == nil || snap.Current.Track.Title != "b" {
		t.Fatalf("expected b after skip, got %+v", snap.Current)
	}
	if snap.Loop != LoopTrack {
		t.Fatalf("loop mode changed to %s", snap.Loop)
	}
}

func TestLoopQueueAppendsFinishedTrack(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("t"), resolvedEntry("a"), resolvedEntry("b"))
	_ = s.SetLoopMode(LoopQueue)

	h.transport.complete(t, 0, nil)
	snap := snapshot(t, s)
	if snap.Current == nil {
		t.Fatalf("expected a current track")
	}
	order := append([]string{snap.Current.Track.Title}, titles(snap.Queue)...)
	if want := []string{"a", "b", "t"}; !reflect.DeepEqual(order, want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
}

func TestLoopQueueSingleTrackKeepsPlaying(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("solo"))
	_ = s.SetLoopMode(LoopQueue)

	for i := 0; i < 3; i++ {
		h.transport.complete(t, i, nil)
		snapshot(t, s)
	}
	if got := h.transport.playCount(); got != 4 {
		t.Fatalf("expected 4 plays, got %d", got)
	}
	if got := h.sink.count(StatusQueueFinished); got != 0 {
		t.Fatalf("looping queue should never finish, got %d notices", got)
	}
}

func TestResolutionFailureSkipsHead(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, referenceEntry("bad-1"), referenceEntry("good-2"), referenceEntry("good-3"))

	if got := h.transport.playCount(); got != 1 {
		t.Fatalf("expected 1 play, got %d", got)
	}
	if src := h.transport.play(0); src.StreamURL != "stream://good-2" {
		t.Fatalf("expected good-2 to play, got %q", src.StreamURL)
	}
	if got := h.sink.count(StatusTrackFailed); got != 1 {
		t.Fatalf("expected 1 failure notice, got %d", got)
	}
	snap := snapshot(t, s)
	if len(snap.Queue) != 1 || snap.Queue[0].Track.SourceURL != "good-3" {
		t.Fatalf("unexpected queue %v", snap.Queue)
	}
}

func TestManyConsecutiveResolutionFailures(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)

	entries := make([]Entry, 0, 51)
	for i := 0; i < 50; i++ {
		entries = append(entries, referenceEntry(fmt.Sprintf("bad-%d", i)))
	}
	entries = append(entries, referenceEntry("good"))
	enqueue(t, s, entries...)

	if got := h.sink.count(StatusTrackFailed); got != 50 {
		t.Fatalf("expected 50 failure notices, got %d", got)
	}
	if got := h.transport.playCount(); got != 1 {
		t.Fatalf("expected 1 play, got %d", got)
	}
	if src := h.transport.play(0); src.StreamURL != "stream://good" {
		t.Fatalf("unexpected stream %q", src.StreamURL)
	}
}

func TestAllFailuresEndInFinishedState(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, referenceEntry("bad-1"), referenceEntry("bad-2"))

	if got := h.sink.count(StatusQueueFinished); got != 1 {
		t.Fatalf("expected finished notice, got %d", got)
	}
	if !h.registry.Idle().Pending(s) {
		t.Fatalf("expected idle timer after exhausting the queue")
	}
}

func TestUnexpectedErrorTreatedAsResolutionFailure(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, referenceEntry("panic-1"), referenceEntry("good"))

	if got := h.sink.count(StatusTrackFailed); got != 1 {
		t.Fatalf("expected 1 failure notice, got %d", got)
	}
	snap := snapshot(t, s)
	if snap.Current == nil || snap.Current.Track.SourceURL != "good" {
		t.Fatalf("expected good to play, got %+v", snap.Current)
	}
}

func TestPlayRejectionTearsDown(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	h.transport.playErr = errors.New("not ready")

	if _, err := s.Enqueue([]Entry{resolvedEntry("a")}, "text1"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
	waitClosed(t, s)
	if _, ok := h.registry.Get("g1"); ok {
		t.Fatalf("expected session removed")
	}
	if got := h.sink.count(StatusTransportFailed); got != 1 {
		t.Fatalf("expected 1 transport notice, got %d", got)
	}
}

func TestConnectionLostDuringPlayback(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"), resolvedEntry("b"))

	h.transport.complete(t, 0, fmt.Errorf("opus send: %w", ErrConnectionLost))
	waitClosed(t, s)

	if got := h.transport.playCount(); got != 1 {
		t.Fatalf("expected no further plays, got %d", got)
	}
	if got := h.sink.count(StatusTransportFailed); got != 1 {
		t.Fatalf("expected 1 transport notice, got %d", got)
	}
	if got := h.transport.disconnectCount(); got != 1 {
		t.Fatalf("expected 1 disconnect, got %d", got)
	}
}

func TestStreamErrorAdvances(t *testing.T) {
	h := newHarness(t)
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"), resolvedEntry("b"))

	h.transport.complete(t, 0, errors.New("ffmpeg exited with status 1"))
	snap := snapshot(t, s)
	if snap.Current == nil || snap.Current.Track.Title != "b" {
		t.Fatalf("expected b to play, got %+v", snap.Current)
	}
	if got := h.sink.count(StatusTrackFailed); got != 1 {
		t.Fatalf("expected 1 failure notice, got %d", got)
	}
}

func TestPanicAfterPlaybackStartedStopsThatTrack(t *testing.T) {
	h := newHarness(t)
	h.sink.panicNext = true
	h.sink.panicKind = StatusNowPlaying
	s := h.session(t)
	enqueue(t, s, resolvedEntry("a"), resolvedEntry("b"))

	snap := snapshot(t, s)
	if snap.Current == nil || snap.Current.Track.Title != "b" {
		t.Fatalf("expected b after the failed start, got %+v", snap.Current)
	}
	if got := h.transport.playCount(); got != 2 {
		t.Fatalf("expected 2 plays, got %d", got)
	}
	h.transport.mu.Lock()
	stops := h.transport.stops
	h.transport.mu.Unlock()
	if stops != 1 {
		t.Fatalf("expected the first playback to be stopped, got %d stops", stops)
	}

	// the stopped playback's completion must not advance past b
	snap = snapshot(t, s)
	if snap.Current == nil || snap.Current.Track.Title != "b" || h.transport.playCount() != 2 {
		t.Fatalf("stale completion advanced playback: %+v plays=%d", snap.Current, h.transport.playCount())
	}
}
