package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"warden/internal/music"
	"warden/internal/resolver"
	"warden/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	connectTimeout = 20 * time.Second
	queuePageSize  = 10
)

func (b *Bot) handlePlay(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) string {
	colors := b.cfg.Notifications.EmbedColors
	opts := optionMap(options)
	query := ""
	if opt := opts["query"]; opt != nil {
		query = strings.TrimSpace(opt.StringValue())
	}
	if query == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Play", "Tell me what to play.", colors.Error, nil), true)
		return outcomeRejected
	}

	userID := interaction.Member.User.ID
	if ok, wait := b.cooldown.Allow(userID, time.Now()); !ok {
		b.respondEmbed(session, interaction, b.commandEmbed("Play", fmt.Sprintf("Slow down, try again in %s.", wait.Round(time.Second)), colors.Error, nil), true)
		return outcomeRejected
	}

	channelID, err := b.requesterVoiceChannel(session, interaction.GuildID, userID)
	if err == nil {
		err = b.checkVoicePermissions(session, channelID)
	}
	if err == nil {
		err = b.checkChannelBusy(interaction.GuildID, channelID)
	}
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Play", userMessage(err), colors.Error, nil), true)
		return outcomeRejected
	}

	mode := resolver.Classify(query)
	if opt := opts["mode"]; opt != nil {
		mode = parseResolveMode(opt.StringValue(), mode)
	}

	if err := b.deferResponse(session, interaction); err != nil {
		b.logger.Warn("defer failed", zap.Error(err))
		return outcomeError
	}

	tracks, err := b.resolver.Resolve(ctx, query, mode)
	if err == nil && len(tracks) == 0 {
		err = music.ErrNotFound
	}
	if err != nil {
		b.logger.Info("resolve failed", zap.String("guild_id", interaction.GuildID), zap.String("mode", mode.String()), zap.Error(err))
		b.followUp(session, interaction, b.commandEmbed("Play", userMessage(err), colors.Error, nil))
		return outcomeError
	}

	playback := b.registry.GetOrCreate(interaction.GuildID)
	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	err = playback.Connect(connectCtx, channelID)
	cancel()
	if err != nil {
		b.followUp(session, interaction, b.commandEmbed("Play", "Could not join your voice channel: "+userMessage(err), colors.Error, nil))
		return outcomeError
	}

	now := time.Now()
	entries := make([]music.Entry, 0, len(tracks))
	for _, track := range tracks {
		entries = append(entries, music.NewEntry(track, userID, now))
	}
	result, err := playback.Enqueue(entries, interaction.ChannelID)
	if err != nil {
		b.followUp(session, interaction, b.commandEmbed("Play", userMessage(err), colors.Error, nil))
		return outcomeError
	}
	b.followUp(session, interaction, enqueueEmbed(tracks, result, colors.Music))
	return outcomeOK
}

func (b *Bot) handleMusicCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) string {
	colors := b.cfg.Notifications.EmbedColors
	title := musicTitle(name)

	playback, ok := b.registry.Get(interaction.GuildID)
	if !ok {
		b.respondEmbed(session, interaction, b.commandEmbed(title, userMessage(music.ErrNothingPlaying), colors.Error, nil), true)
		return outcomeRejected
	}
	if requiresDJ(name) && !b.canControl(ctx, interaction) {
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Only the DJ role can do that.", colors.Error, nil), true)
		return outcomeDenied
	}

	opts := optionMap(options)
	switch name {
	case "skip":
		skipped, err := playback.Skip()
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, userMessage(err), colors.Error, nil), true)
			return outcomeRejected
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Skipped "+trackLink(skipped.Track)+".", colors.Music, nil), false)
	case "stop":
		playback.Stop()
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Stopped playback and left the voice channel.", colors.Music, nil), false)
	case "loop":
		value := ""
		if opt := opts["mode"]; opt != nil {
			value = opt.StringValue()
		}
		mode, err := music.ParseLoopMode(value)
		if err == nil {
			err = playback.SetLoopMode(mode)
		}
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, userMessage(err), colors.Error, nil), true)
			return outcomeRejected
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Loop mode set to **"+mode.String()+"**.", colors.Music, nil), false)
	case "volume":
		percent := int64(-1)
		if opt := opts["percent"]; opt != nil {
			percent = opt.IntValue()
		}
		if err := playback.SetVolume(float64(percent) / 100); err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, userMessage(err), colors.Error, nil), true)
			return outcomeRejected
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, fmt.Sprintf("Volume set to **%d%%**, applied from the next track.", percent), colors.Music, nil), false)
	case "queue":
		snap, err := playback.Snapshot()
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, userMessage(err), colors.Error, nil), true)
			return outcomeError
		}
		b.respondEmbed(session, interaction, queueEmbed(snap, colors.Music), true)
	case "nowplaying":
		snap, err := playback.Snapshot()
		if err == nil && snap.Current == nil {
			err = music.ErrNothingPlaying
		}
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, userMessage(err), colors.Error, nil), true)
			return outcomeRejected
		}
		b.respondEmbed(session, interaction, statusEmbed(snapshotStatus(interaction.GuildID, snap), colors), true)
	case "remove":
		position := 0
		if opt := opts["position"]; opt != nil {
			position = int(opt.IntValue())
		}
		removed, err := playback.Remove(position)
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, userMessage(err), colors.Error, nil), true)
			return outcomeRejected
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Removed "+trackLink(removed.Track)+" from the queue.", colors.Music, nil), false)
	case "shuffle":
		if err := playback.Shuffle(); err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, userMessage(err), colors.Error, nil), true)
			return outcomeError
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, "Queue shuffled.", colors.Music, nil), false)
	case "clear":
		cleared, err := playback.Clear()
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed(title, userMessage(err), colors.Error, nil), true)
			return outcomeError
		}
		b.respondEmbed(session, interaction, b.commandEmbed(title, fmt.Sprintf("Removed %d queued tracks.", cleared), colors.Music, nil), false)
	}
	return outcomeOK
}

func (b *Bot) requesterVoiceChannel(session *discordgo.Session, guildID, userID string) (string, error) {
	vs, err := session.State.VoiceState(guildID, userID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", music.ErrNoVoiceChannel
	}
	return vs.ChannelID, nil
}

func (b *Bot) checkVoicePermissions(session *discordgo.Session, channelID string) error {
	perms, err := session.UserChannelPermissions(session.State.User.ID, channelID)
	if err != nil {
		b.logger.Debug("permission lookup failed", zap.String("channel_id", channelID), zap.Error(err))
		return music.ErrMissingPermission
	}
	if !canJoinVoice(perms) {
		return music.ErrMissingPermission
	}
	return nil
}

// checkChannelBusy refuses to pull the player away from another channel while it is playing.
func (b *Bot) checkChannelBusy(guildID, channelID string) error {
	playback, ok := b.registry.Get(guildID)
	if !ok {
		return nil
	}
	snap, err := playback.Snapshot()
	if err != nil {
		return nil
	}
	if snap.Current != nil && snap.ChannelID != "" && snap.ChannelID != channelID {
		return fmt.Errorf("%w <#%s>", errBusyElsewhere, snap.ChannelID)
	}
	return nil
}

var errBusyElsewhere = errors.New("already playing in")

func (b *Bot) canControl(ctx context.Context, interaction *discordgo.InteractionCreate) bool {
	settings := b.guildSettings(ctx, interaction.GuildID)
	return memberCanControl(interaction.Member, settings)
}

func memberCanControl(member *discordgo.Member, settings storage.GuildSettings) bool {
	if settings.DJRoleID == "" {
		return true
	}
	if hasPermission(member, manageChannels) {
		return true
	}
	for _, roleID := range member.Roles {
		if roleID == settings.DJRoleID {
			return true
		}
	}
	return false
}

func canJoinVoice(perms int64) bool {
	if perms&discordgo.PermissionAdministrator != 0 {
		return true
	}
	required := int64(discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak)
	return perms&required == required
}

func requiresDJ(name string) bool {
	switch name {
	case "queue", "nowplaying":
		return false
	default:
		return true
	}
}

func parseResolveMode(value string, fallback music.ResolveMode) music.ResolveMode {
	switch value {
	case "single":
		return music.ModeSingle
	case "search":
		return music.ModeSearch
	case "playlist":
		return music.ModePlaylist
	default:
		return fallback
	}
}

func musicTitle(name string) string {
	switch name {
	case "nowplaying":
		return "Now playing"
	default:
		return strings.ToUpper(name[:1]) + name[1:]
	}
}

func userMessage(err error) string {
	switch {
	case errors.Is(err, music.ErrNotFound):
		return "Nothing found for that query."
	case errors.Is(err, music.ErrBlocked):
		return "That track is private, age restricted or unavailable."
	case errors.Is(err, music.ErrSessionClosed):
		return "The player was stopped, try again."
	case errors.Is(err, context.DeadlineExceeded):
		return "That took too long, try again."
	case errors.Is(err, music.ErrNoVoiceChannel),
		errors.Is(err, music.ErrMissingPermission),
		errors.Is(err, music.ErrNothingPlaying),
		errors.Is(err, music.ErrTrackChanged),
		errors.Is(err, music.ErrInvalidVolume),
		errors.Is(err, music.ErrInvalidPosition),
		errors.Is(err, errBusyElsewhere):
		return capitalize(err.Error()) + "."
	default:
		return "Something went wrong."
	}
}

func capitalize(value string) string {
	if value == "" {
		return value
	}
	return strings.ToUpper(value[:1]) + value[1:]
}

func snapshotStatus(guildID string, snap music.Snapshot) music.Status {
	status := music.Status{
		Kind:     music.StatusNowPlaying,
		GuildID:  guildID,
		Upcoming: len(snap.Queue),
		Loop:     snap.Loop,
		Volume:   snap.Volume,
	}
	if snap.Current != nil {
		status.Entry = *snap.Current
	}
	if len(snap.Queue) > 0 {
		next := snap.Queue[0]
		status.Next = &next
	}
	return status
}

func enqueueEmbed(tracks []music.Track, result music.EnqueueResult, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{Color: color, Timestamp: time.Now().Format(time.RFC3339)}
	switch {
	case result.Added > 1:
		embed.Title = "Playlist queued"
		embed.Description = fmt.Sprintf("Added **%d** tracks.", result.Added)
		if result.Started {
			embed.Description += " Starting with " + trackLink(tracks[0]) + "."
		}
	case result.Started:
		embed.Title = "Playing"
		embed.Description = trackLink(tracks[0])
	default:
		embed.Title = "Queued"
		embed.Description = trackLink(tracks[0])
		embed.Fields = []*discordgo.MessageEmbedField{
			{Name: "Position", Value: fmt.Sprintf("%d", result.Position), Inline: true},
			{Name: "Duration", Value: tracks[0].DurationLabel(), Inline: true},
		}
	}
	return embed
}

func queueEmbed(snap music.Snapshot, color int) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:     "Queue",
		Color:     color,
		Timestamp: time.Now().Format(time.RFC3339),
		Footer:    &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Loop: %s | Volume: %d%%", snap.Loop, volumePercent(snap.Volume))},
	}
	var b strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&b, "**Now:** %s `%s`\n", trackLink(snap.Current.Track), snap.Current.Track.DurationLabel())
	}
	if len(snap.Queue) == 0 {
		b.WriteString("The queue is empty.")
		embed.Description = b.String()
		return embed
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	for i, entry := range snap.Queue {
		if i == queuePageSize {
			fmt.Fprintf(&b, "...and %d more", len(snap.Queue)-queuePageSize)
			break
		}
		fmt.Fprintf(&b, "`%d.` %s `%s`\n", i+1, trackLink(entry.Track), entry.Track.DurationLabel())
	}
	embed.Description = strings.TrimRight(b.String(), "\n")
	return embed
}
