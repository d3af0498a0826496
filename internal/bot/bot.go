package bot

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/internal/analytics"
	"warden/internal/config"
	"warden/internal/modules/antispam"
	"warden/internal/modules/audit"
	"warden/internal/modules/autorole"
	"warden/internal/music"
	"warden/internal/storage"
	"warden/internal/voice"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const maintenanceInterval = 10 * time.Minute

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	audit      *audit.Logger
	analytics  *analytics.Service
	session    *discordgo.Session
	resolver   music.Resolver
	registry   *music.Registry
	presence   *music.PresenceTracker
	autorole   *autorole.Module
	antispam   *antispam.Module
	cooldown   *cooldown
	auditAgg   map[string]*auditAggregate
	auditAggMu sync.Mutex
	stop       chan struct{}
	stopOnce   sync.Once
}

type auditAggregate struct {
	channelID string
	messageID string
	count     int
	lastAt    time.Time
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, analyticsService *analytics.Service, resolver music.Resolver) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
		resolver:  resolver,
		cooldown:  newCooldown(cfg.Commands.CooldownSeconds, cfg.Commands.Burst),
		auditAgg:  make(map[string]*auditAggregate),
		stop:      make(chan struct{}),
	}

	actions := &discordActions{session: session, cfg: cfg}
	b.autorole = autorole.New(actions, auditLogger)
	b.antispam = antispam.New(store, auditLogger, logger)
	b.registry = music.NewRegistry(music.Options{
		Resolver:  resolver,
		Transport: voice.NewTransport(session, cfg.Music.FFmpegPath, logger.Named("voice")),
		Sink:      newStatusSink(session, cfg.Notifications.EmbedColors, auditLogger),
		Listeners: stateListeners{session: session},
		Logger:    logger.Named("music"),
		Defaults:  b.musicDefaults,
	})
	b.presence = music.NewPresenceTracker(b.registry)

	if b.audit != nil {
		b.audit.SetNotifier(func(ctx context.Context, entry storage.AuditLog) {
			if !b.cfg.Notifications.AuditToChannel {
				return
			}
			b.notifyAudit(ctx, entry)
		})
	}

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	b.session.AddHandler(b.onVoiceStateUpdate)
	b.session.AddHandler(b.onChannelDelete)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	if err := b.registerCommands(); err != nil {
		return err
	}

	b.startMaintenance()

	return nil
}

// Close tears down every playback session before dropping the gateway connection.
func (b *Bot) Close(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.stop) })
	b.registry.CloseAll(ctx)
	if b.session != nil {
		_ = b.session.Close()
	}
}

// Sessions exposes the playback registry for health reporting.
func (b *Bot) Sessions() *music.Registry {
	return b.registry
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}

	ctx := context.Background()
	settings := b.guildSettings(ctx, msg.GuildID)
	policy := antispam.Policy{
		Messages:           settings.SpamMessages,
		Window:             time.Duration(settings.SpamWindowSeconds) * time.Second,
		WarningsBeforeKick: settings.WarningsBeforeKick,
		Forgive:            time.Duration(b.cfg.Moderation.ForgiveMinutes) * time.Minute,
	}
	actions := &discordActions{session: session, cfg: b.cfg}
	if outcome := b.antispam.HandleMessage(ctx, actions, msg, policy); outcome == antispam.OutcomeKicked {
		b.logger.Info("member kicked for spam", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.Author.ID))
	}
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.GuildID == "" {
		return
	}
	ctx := context.Background()
	settings := b.guildSettings(ctx, event.GuildID)
	b.autorole.HandleJoin(ctx, event, settings.AutoroleID)
}

func (b *Bot) onVoiceStateUpdate(session *discordgo.Session, event *discordgo.VoiceStateUpdate) {
	if event.VoiceState == nil || event.GuildID == "" {
		return
	}
	selfID := ""
	if session.State != nil && session.State.User != nil {
		selfID = session.State.User.ID
	}
	b.presence.HandleVoiceState(voiceStateChange(event, selfID))
}

func (b *Bot) onChannelDelete(session *discordgo.Session, event *discordgo.ChannelDelete) {
	if event.Channel == nil || event.Channel.GuildID == "" {
		return
	}
	if event.Channel.Type != discordgo.ChannelTypeGuildVoice && event.Channel.Type != discordgo.ChannelTypeGuildStageVoice {
		return
	}
	b.presence.HandleChannelDelete(music.ChannelDeleted{GuildID: event.Channel.GuildID, ChannelID: event.Channel.ID})
}

func (b *Bot) musicDefaults(guildID string) music.Defaults {
	settings := b.guildSettings(context.Background(), guildID)
	return music.Defaults{
		Volume:      float64(settings.DefaultVolume) / 100,
		IdleTimeout: time.Duration(settings.IdleSeconds) * time.Second,
	}
}

func (b *Bot) guildSettings(ctx context.Context, guildID string) storage.GuildSettings {
	defaults := storage.GuildSettings{
		GuildID:            guildID,
		LogChannel:         b.cfg.DefaultLogChannel,
		AutoroleID:         b.cfg.Moderation.AutoroleID,
		SpamMessages:       b.cfg.Moderation.SpamMessages,
		SpamWindowSeconds:  b.cfg.Moderation.SpamWindowSeconds,
		WarningsBeforeKick: b.cfg.Moderation.WarningsBeforeKick,
		DefaultVolume:      b.cfg.Music.DefaultVolume,
		IdleSeconds:        b.cfg.Music.IdleTimeoutSeconds,
	}

	settings, err := b.store.GetGuildSettings(ctx, guildID, defaults)
	if err != nil {
		b.logger.Warn("guild settings fallback", zap.Error(err))
		return defaults
	}
	return settings
}

func (b *Bot) startMaintenance() {
	go func() {
		ticker := time.NewTicker(maintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-b.stop:
				return
			case now := <-ticker.C:
				b.runMaintenance(now)
			}
		}
	}()
}

func (b *Bot) runMaintenance(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if b.cfg.RetentionDays > 0 {
		if err := b.store.CleanupAuditLogs(ctx, b.cfg.RetentionDays); err != nil {
			b.logger.Warn("audit cleanup failed", zap.Error(err))
		}
	}
	windows := b.antispam.Sweep(now)
	limiters := b.cooldown.Sweep(now)
	b.pruneAuditAggregates(now)
	b.logger.Debug("maintenance", zap.Int("spam_windows", windows), zap.Int("cooldowns", limiters), zap.Int("sessions", b.registry.Len()))
}

func (b *Bot) buildAuditEmbed(entry storage.AuditLog, count int) *discordgo.MessageEmbed {
	userValue := "<@" + entry.UserID + ">"
	if entry.UserID == "" {
		userValue = "System"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Event", Value: auditEventLabel(entry.Event), Inline: false},
		{Name: "Level", Value: entry.Level, Inline: true},
		{Name: "User", Value: userValue, Inline: true},
	}
	if count > 1 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Count", Value: fmt.Sprintf("%d", count), Inline: true})
	}
	if entry.Details != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: entry.Details, Inline: false})
	}
	color := b.cfg.Notifications.EmbedColors.Action
	if entry.Level == audit.LevelCrit {
		color = b.cfg.Notifications.EmbedColors.Warning
	}
	return &discordgo.MessageEmbed{
		Title:     "Audit",
		Color:     color,
		Footer:    &discordgo.MessageEmbedFooter{Text: "Warden"},
		Timestamp: entry.CreatedAt.Format(time.RFC3339),
		Fields:    fields,
	}
}

func auditEventLabel(event string) string {
	switch event {
	case audit.EventAutorole:
		return "Autorole assigned"
	case audit.EventAutoroleFailed:
		return "Autorole failed"
	case audit.EventSpamWarn:
		return "Spam warning"
	case audit.EventSpamKick:
		return "Kicked for spam"
	case audit.EventSpamKickFailed:
		return "Spam kick failed"
	case audit.EventRoleAdd:
		return "Role added"
	case audit.EventRoleRemove:
		return "Role removed"
	case audit.EventSlowmode:
		return "Slowmode changed"
	case audit.EventLogChannel:
		return "Log channel changed"
	case audit.EventMusicClosed:
		return "Music session closed"
	default:
		return event
	}
}

// notifyAudit mirrors an audit entry to the guild log channel, folding repeats
// of the same entry into one message for ten minutes.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	settings := b.guildSettings(ctx, entry.GuildID)
	channelID := settings.LogChannel
	if channelID == "" {
		return
	}

	key := entry.GuildID + "|" + entry.Level + "|" + entry.Event + "|" + entry.Details + "|" + entry.UserID
	window := 10 * time.Minute

	b.auditAggMu.Lock()
	agg := b.auditAgg[key]
	if agg != nil && agg.channelID == channelID && time.Since(agg.lastAt) <= window {
		agg.count++
		agg.lastAt = time.Now()
		count := agg.count
		messageID := agg.messageID
		b.auditAggMu.Unlock()
		embed := b.buildAuditEmbed(entry, count)
		if _, err := b.session.ChannelMessageEditEmbed(channelID, messageID, embed); err == nil {
			return
		}
		b.auditAggMu.Lock()
		delete(b.auditAgg, key)
	}
	b.auditAggMu.Unlock()

	embed := b.buildAuditEmbed(entry, 1)
	msg, err := b.session.ChannelMessageSendEmbed(channelID, embed)
	if err != nil || msg == nil {
		b.logger.Debug("audit notify failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
		return
	}
	b.auditAggMu.Lock()
	b.auditAgg[key] = &auditAggregate{channelID: channelID, messageID: msg.ID, count: 1, lastAt: time.Now()}
	b.auditAggMu.Unlock()
}

func (b *Bot) pruneAuditAggregates(now time.Time) {
	b.auditAggMu.Lock()
	defer b.auditAggMu.Unlock()
	for key, agg := range b.auditAgg {
		if now.Sub(agg.lastAt) > 10*time.Minute {
			delete(b.auditAgg, key)
		}
	}
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	if embed == nil {
		b.respond(session, interaction, "No response available.", ephemeral)
		return
	}
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}

// deferResponse acknowledges a slow command; the answer follows through followUp.
func (b *Bot) deferResponse(session *discordgo.Session, interaction *discordgo.InteractionCreate) error {
	return session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func (b *Bot) followUp(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	embeds := []*discordgo.MessageEmbed{embed}
	if _, err := session.InteractionResponseEdit(interaction.Interaction, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		b.logger.Debug("interaction edit failed", zap.Error(err))
	}
}
