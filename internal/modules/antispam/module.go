package antispam

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/internal/metrics"
	"warden/internal/modules/audit"
	"warden/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const category = "spam"

type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeWarned
	OutcomeKicked
)

// Policy is the per-guild spam threshold and escalation ladder.
type Policy struct {
	Messages           int
	Window             time.Duration
	WarningsBeforeKick int
	Forgive            time.Duration
}

// Enforcer carries out moderation actions against a member.
type Enforcer interface {
	DeleteMessage(channelID, messageID string) error
	Warn(channelID, userID, text string) error
	Kick(guildID, userID, reason string) error
}

type Infractions interface {
	IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string, forgiveAfter time.Duration) (int, error)
	ResetInfraction(ctx context.Context, guildID, userID, category string) error
}

type tracked struct {
	window *utils.SlidingWindow
	size   time.Duration
}

type Module struct {
	mu          sync.Mutex
	windows     map[string]tracked
	infractions Infractions
	audit       *audit.Logger
	logger      *zap.Logger
	now         func() time.Time
}

func New(infractions Infractions, auditLogger *audit.Logger, logger *zap.Logger) *Module {
	return &Module{
		windows:     make(map[string]tracked),
		infractions: infractions,
		audit:       auditLogger,
		logger:      logger,
		now:         time.Now,
	}
}

func (m *Module) HandleMessage(ctx context.Context, enforcer Enforcer, msg *discordgo.MessageCreate, policy Policy) Outcome {
	if msg.Author == nil || msg.Author.Bot || msg.GuildID == "" {
		return OutcomeNone
	}
	if policy.Messages < 2 || policy.Window <= 0 {
		return OutcomeNone
	}

	guildID, userID := msg.GuildID, msg.Author.ID
	window := m.getWindow(guildID+":"+userID, policy.Window)
	if window.Add(m.now()) < policy.Messages {
		return OutcomeNone
	}
	window.Reset()

	if err := enforcer.DeleteMessage(msg.ChannelID, msg.ID); err != nil {
		m.logger.Debug("spam message delete failed", zap.String("guild_id", guildID), zap.Error(err))
	}

	count, err := m.infractions.IncrementInfraction(ctx, guildID, userID, category, "warn", policy.Forgive)
	if err != nil {
		m.logger.Warn("infraction increment failed", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		count = 1
	}

	if policy.WarningsBeforeKick > 0 && count >= policy.WarningsBeforeKick {
		reason := fmt.Sprintf("spam: %d strikes", count)
		if err := enforcer.Kick(guildID, userID, reason); err != nil {
			m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventSpamKickFailed, err.Error())
			return OutcomeWarned
		}
		if err := m.infractions.ResetInfraction(ctx, guildID, userID, category); err != nil {
			m.logger.Warn("infraction reset failed", zap.String("guild_id", guildID), zap.Error(err))
		}
		metrics.ModerationActions.WithLabelValues("kick").Inc()
		m.audit.Log(ctx, audit.LevelCrit, guildID, userID, audit.EventSpamKick, reason)
		return OutcomeKicked
	}

	text := fmt.Sprintf("<@%s> slow down, you are sending messages too fast (warning %d/%d).", userID, count, policy.WarningsBeforeKick)
	if err := enforcer.Warn(msg.ChannelID, userID, text); err != nil {
		m.logger.Debug("spam warning failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	metrics.ModerationActions.WithLabelValues("warn").Inc()
	m.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventSpamWarn, fmt.Sprintf("warning %d/%d", count, policy.WarningsBeforeKick))
	return OutcomeWarned
}

// Sweep drops windows that have no recent messages.
func (m *Module) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, entry := range m.windows {
		if entry.window.Idle(now) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

func (m *Module) getWindow(key string, size time.Duration) *utils.SlidingWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.windows[key]
	if !ok || entry.size != size {
		entry = tracked{window: utils.NewSlidingWindow(size), size: size}
		m.windows[key] = entry
	}
	return entry.window
}
