package music

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type fakeTimer struct {
	mu      sync.Mutex
	stopped bool
	due     time.Time
	fn      func()
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{due: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves time forward and runs every timer that became due and was not stopped.
func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	var due, pending []*fakeTimer
	for _, t := range f.timers {
		if t.due.After(f.now) {
			pending = append(pending, t)
		} else {
			due = append(due, t)
		}
	}
	f.timers = pending
	f.mu.Unlock()

	for _, t := range due {
		if t.Stop() {
			t.fn()
		}
	}
}

type fakeResolver struct {
	mu      sync.Mutex
	calls   int
	block   bool
	started chan struct{}
}

// Resolve fails for queries starting with "bad", panics for "panic" and
// resolves everything else to a stream URL derived from the query.
func (r *fakeResolver) Resolve(ctx context.Context, query string, mode ResolveMode) ([]Track, error) {
	r.mu.Lock()
	r.calls++
	block := r.block
	started := r.started
	r.mu.Unlock()

	if block {
		if started != nil {
			close(started)
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	switch {
	case strings.HasPrefix(query, "bad"):
		return nil, ErrBlocked
	case strings.HasPrefix(query, "panic"):
		panic("resolver exploded")
	}
	return []Track{{Kind: KindResolved, Title: "resolved " + query, SourceURL: query, StreamURL: "stream://" + query}}, nil
}

type fakeConn struct {
	mu      sync.Mutex
	guildID string
	channel string
}

func (c *fakeConn) GuildID() string { return c.guildID }

func (c *fakeConn) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel
}

type fakePlay struct {
	src  AudioSource
	once sync.Once
	done func(error)
}

type fakeTransport struct {
	mu          sync.Mutex
	plays       []*fakePlay
	connects    int
	moves       []string
	stops       int
	disconnects int
	connectErr  error
	playErr     error
}

func (f *fakeTransport) Connect(ctx context.Context, guildID, channelID string) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeConn{guildID: guildID, channel: channelID}, nil
}

func (f *fakeTransport) Move(ctx context.Context, conn Connection, channelID string) error {
	f.mu.Lock()
	f.moves = append(f.moves, channelID)
	f.mu.Unlock()
	c := conn.(*fakeConn)
	c.mu.Lock()
	c.channel = channelID
	c.mu.Unlock()
	return nil
}

func (f *fakeTransport) Play(conn Connection, src AudioSource, onComplete func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.plays = append(f.plays, &fakePlay{src: src, done: onComplete})
	return nil
}

// Stop ends the latest playback the way a real transport does: the callback
// fires later, from another goroutine.
func (f *fakeTransport) Stop(conn Connection) {
	f.mu.Lock()
	f.stops++
	var last *fakePlay
	if len(f.plays) > 0 {
		last = f.plays[len(f.plays)-1]
	}
	f.mu.Unlock()
	if last != nil {
		go last.once.Do(func() { last.done(nil) })
	}
}

func (f *fakeTransport) Disconnect(conn Connection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) complete(t *testing.T, index int, err error) {
	t.Helper()
	f.mu.Lock()
	if index >= len(f.plays) {
		f.mu.Unlock()
		t.Fatalf("no playback %d, have %d", index, len(f.plays))
	}
	play := f.plays[index]
	f.mu.Unlock()
	play.once.Do(func() { play.done(err) })
}

func (f *fakeTransport) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.plays)
}

func (f *fakeTransport) play(index int) AudioSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays[index].src
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disconnects
}

type fakeSink struct {
	mu      sync.Mutex
	sent    []Status
	edited  []Status
	deleted int
	nextID  int
	// panicNext makes the next Send of panicKind panic.
	panicNext bool
	panicKind StatusKind
}

func (f *fakeSink) Send(ctx context.Context, channelID string, status Status) (MessageHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicNext && status.Kind == f.panicKind {
		f.panicNext = false
		panic("sink exploded")
	}
	f.sent = append(f.sent, status)
	f.nextID++
	return MessageHandle{ChannelID: channelID, MessageID: strconv.Itoa(f.nextID)}, nil
}

func (f *fakeSink) Edit(ctx context.Context, handle MessageHandle, status Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, status)
	return nil
}

func (f *fakeSink) Delete(ctx context.Context, handle MessageHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted++
	return nil
}

func (f *fakeSink) count(kind StatusKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, st := range f.sent {
		if st.Kind == kind {
			n++
		}
	}
	for _, st := range f.edited {
		if st.Kind == kind {
			n++
		}
	}
	return n
}

type fakeListeners struct {
	mu    sync.Mutex
	count int
}

func (f *fakeListeners) Listeners(guildID, channelID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func (f *fakeListeners) set(n int) {
	f.mu.Lock()
	f.count = n
	f.mu.Unlock()
}

type harness struct {
	registry  *Registry
	resolver  *fakeResolver
	transport *fakeTransport
	sink      *fakeSink
	listeners *fakeListeners
	clock     *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		resolver:  &fakeResolver{},
		transport: &fakeTransport{},
		sink:      &fakeSink{},
		listeners: &fakeListeners{count: 1},
		clock:     &fakeClock{now: time.Unix(0, 0)},
	}
	h.registry = NewRegistry(Options{
		Resolver:  h.resolver,
		Transport: h.transport,
		Sink:      h.sink,
		Listeners: h.listeners,
		Logger:    zap.NewNop(),
		Clock:     h.clock,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		h.registry.CloseAll(ctx)
	})
	return h
}

func (h *harness) session(t *testing.T) *Session {
	t.Helper()
	s := h.registry.GetOrCreate("g1")
	if err := s.Connect(context.Background(), "v1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

func resolvedEntry(name string) Entry {
	return NewEntry(Track{Kind: KindResolved, Title: name, SourceURL: "https://example.com/" + name, StreamURL: "stream://" + name}, "u1", time.Unix(0, 0))
}

func referenceEntry(name string) Entry {
	return NewEntry(NewReference(name, name), "u1", time.Unix(0, 0))
}

func enqueue(t *testing.T, s *Session, entries ...Entry) EnqueueResult {
	t.Helper()
	result, err := s.Enqueue(entries, "text1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return result
}

func snapshot(t *testing.T, s *Session) Snapshot {
	t.Helper()
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("session did not close")
	}
}

func titles(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Track.Title)
	}
	return out
}
