package antispam

import (
	"context"
	"fmt"
	"testing"
	"time"

	"warden/internal/modules/audit"
	"warden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeEnforcer struct {
	deleted []string
	warned  []string
	kicked  []string
}

func (f *fakeEnforcer) DeleteMessage(channelID, messageID string) error {
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeEnforcer) Warn(channelID, userID, text string) error {
	f.warned = append(f.warned, userID)
	return nil
}

func (f *fakeEnforcer) Kick(guildID, userID, reason string) error {
	f.kicked = append(f.kicked, userID)
	return nil
}

func newModule(t *testing.T) (*Module, *storage.Store) {
	t.Helper()
	store, err := storage.New(storage.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(store, audit.NewLogger(store, zap.NewNop()), zap.NewNop()), store
}

func message(id string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        id,
		ChannelID: "c1",
		GuildID:   "g1",
		Author:    &discordgo.User{ID: "u1"},
	}}
}

func TestAntiSpamSlidingWindow(t *testing.T) {
	module, _ := newModule(t)
	enforcer := &fakeEnforcer{}
	policy := Policy{Messages: 2, Window: 2 * time.Second, WarningsBeforeKick: 3}

	if outcome := module.HandleMessage(context.Background(), enforcer, message("1"), policy); outcome != OutcomeNone {
		t.Fatalf("unexpected outcome %v", outcome)
	}
	if outcome := module.HandleMessage(context.Background(), enforcer, message("2"), policy); outcome != OutcomeWarned {
		t.Fatalf("expected warning, got %v", outcome)
	}
	if len(enforcer.deleted) != 1 || enforcer.deleted[0] != "2" {
		t.Fatalf("expected the burst message deleted, got %v", enforcer.deleted)
	}
}

func TestAntiSpamEscalatesToKick(t *testing.T) {
	module, store := newModule(t)
	enforcer := &fakeEnforcer{}
	policy := Policy{Messages: 2, Window: time.Minute, WarningsBeforeKick: 2, Forgive: time.Hour}

	var outcomes []Outcome
	for i := 0; i < 4; i++ {
		outcome := module.HandleMessage(context.Background(), enforcer, message(fmt.Sprint(i)), policy)
		if outcome != OutcomeNone {
			outcomes = append(outcomes, outcome)
		}
	}

	want := []Outcome{OutcomeWarned, OutcomeKicked}
	if len(outcomes) != len(want) {
		t.Fatalf("expected %v, got %v", want, outcomes)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, outcomes)
		}
	}
	if len(enforcer.kicked) != 1 {
		t.Fatalf("expected one kick, got %v", enforcer.kicked)
	}

	inf, err := store.GetInfraction(context.Background(), "g1", "u1", category)
	if err != nil {
		t.Fatalf("get infraction: %v", err)
	}
	if inf.CountTotal != 0 {
		t.Fatalf("expected infractions reset after kick, got %d", inf.CountTotal)
	}
}

func TestAntiSpamIgnoresBots(t *testing.T) {
	module, _ := newModule(t)
	enforcer := &fakeEnforcer{}
	policy := Policy{Messages: 2, Window: time.Minute, WarningsBeforeKick: 1}

	for i := 0; i < 4; i++ {
		msg := message(fmt.Sprint(i))
		msg.Author.Bot = true
		module.HandleMessage(context.Background(), enforcer, msg, policy)
	}
	if len(enforcer.deleted) != 0 {
		t.Fatalf("bots should be ignored")
	}
}

func TestAntiSpamSweep(t *testing.T) {
	module, _ := newModule(t)
	start := time.Now()
	module.now = func() time.Time { return start }
	module.HandleMessage(context.Background(), &fakeEnforcer{}, message("1"), Policy{Messages: 3, Window: time.Second})

	if removed := module.Sweep(start); removed != 0 {
		t.Fatalf("expected active window kept, removed %d", removed)
	}
	if removed := module.Sweep(start.Add(2 * time.Second)); removed != 1 {
		t.Fatalf("expected idle window removed, removed %d", removed)
	}
}
