package bot

import (
	"context"
	"fmt"
	"time"

	"warden/internal/analytics"
	"warden/internal/metrics"
	"warden/internal/modules/audit"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const maxSlowmode = 21600

const (
	outcomeOK       = "ok"
	outcomeRejected = "rejected"
	outcomeDenied   = "denied"
	outcomeError    = "error"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := interaction.ApplicationCommandData()
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Warden", "Commands only work inside a server.", b.cfg.Notifications.EmbedColors.Error, nil), true)
		metrics.CommandsTotal.WithLabelValues(data.Name, outcomeRejected).Inc()
		return
	}

	ctx := context.Background()
	var outcome string
	switch data.Name {
	case "play":
		outcome = b.handlePlay(ctx, session, interaction, data.Options)
	case "skip", "stop", "loop", "volume", "queue", "nowplaying", "remove", "shuffle", "clear":
		outcome = b.handleMusicCommand(ctx, session, interaction, data.Name, data.Options)
	case "role", "autorole", "djrole", "slowmode", "modlog", "modstats":
		outcome = b.handleAdminCommand(ctx, session, interaction, data.Name, data.Options)
	default:
		b.respondEmbed(session, interaction, b.commandEmbed("Warden", "Unknown command.", b.cfg.Notifications.EmbedColors.Error, nil), true)
		outcome = outcomeRejected
	}
	metrics.CommandsTotal.WithLabelValues(data.Name, outcome).Inc()
	b.logger.Debug("command handled",
		zap.String("command", data.Name),
		zap.String("guild_id", interaction.GuildID),
		zap.String("user_id", interaction.Member.User.ID),
		zap.String("outcome", outcome),
	)
}

func (b *Bot) handleAdminCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, options []*discordgo.ApplicationCommandInteractionDataOption) string {
	required := manageChannels
	if name == "role" || name == "autorole" || name == "djrole" {
		required = manageRoles
	}
	if !hasPermission(interaction.Member, required) {
		b.respondEmbed(session, interaction, b.commandEmbed("Missing permission", "You need the "+permissionName(required)+" permission for this command.", b.cfg.Notifications.EmbedColors.Error, nil), true)
		return outcomeDenied
	}

	settings := b.guildSettings(ctx, interaction.GuildID)
	colors := b.cfg.Notifications.EmbedColors
	actorID := interaction.Member.User.ID

	switch name {
	case "role":
		if len(options) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Role", "Choose add or remove.", colors.Error, nil), true)
			return outcomeRejected
		}
		sub := options[0]
		opts := optionMap(sub.Options)
		var user *discordgo.User
		var role *discordgo.Role
		if opts["user"] != nil && opts["role"] != nil {
			user = opts["user"].UserValue(session)
			role = opts["role"].RoleValue(session, interaction.GuildID)
		}
		if user == nil || role == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Role", "Unknown member or role.", colors.Error, nil), true)
			return outcomeRejected
		}
		var err error
		event := audit.EventRoleAdd
		if sub.Name == "add" {
			err = session.GuildMemberRoleAdd(interaction.GuildID, user.ID, role.ID)
		} else {
			event = audit.EventRoleRemove
			err = session.GuildMemberRoleRemove(interaction.GuildID, user.ID, role.ID)
		}
		if err != nil {
			b.logger.Warn("role update failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Role", "Discord refused the change. Check that my role is above <@&"+role.ID+">.", colors.Error, nil), true)
			return outcomeError
		}
		b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, user.ID, event, fmt.Sprintf("role=%s by=%s", role.ID, actorID))
		fields := []*discordgo.MessageEmbedField{
			{Name: "Member", Value: "<@" + user.ID + ">", Inline: true},
			{Name: "Role", Value: "<@&" + role.ID + ">", Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Role", "Role "+pastTense(sub.Name)+".", colors.Action, fields), true)
	case "autorole", "djrole":
		if len(options) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Settings", "Choose set or clear.", colors.Error, nil), true)
			return outcomeRejected
		}
		sub := options[0]
		roleID := ""
		if sub.Name == "set" {
			var role *discordgo.Role
			if opt := optionMap(sub.Options)["role"]; opt != nil {
				role = opt.RoleValue(session, interaction.GuildID)
			}
			if role == nil {
				b.respondEmbed(session, interaction, b.commandEmbed("Settings", "Unknown role.", colors.Error, nil), true)
				return outcomeRejected
			}
			roleID = role.ID
		}
		if name == "autorole" {
			settings.AutoroleID = roleID
		} else {
			settings.DJRoleID = roleID
		}
		if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
			b.logger.Warn("settings update failed", zap.String("command", name), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Settings", "Could not save the setting.", colors.Error, nil), true)
			return outcomeError
		}
		value := "not set"
		if roleID != "" {
			value = "<@&" + roleID + ">"
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Role", Value: value, Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed(roleSettingTitle(name), "Setting updated.", colors.Action, fields), true)
	case "slowmode":
		opts := optionMap(options)
		seconds := -1
		if opt := opts["seconds"]; opt != nil {
			seconds = int(opt.IntValue())
		}
		if seconds < 0 || seconds > maxSlowmode {
			b.respondEmbed(session, interaction, b.commandEmbed("Slowmode", fmt.Sprintf("Slowmode must be between 0 and %d seconds.", maxSlowmode), colors.Error, nil), true)
			return outcomeRejected
		}
		channelID := interaction.ChannelID
		if opt := opts["channel"]; opt != nil {
			if channel := opt.ChannelValue(session); channel != nil {
				channelID = channel.ID
			}
		}
		if _, err := session.ChannelEditComplex(channelID, &discordgo.ChannelEdit{RateLimitPerUser: &seconds}); err != nil {
			b.logger.Warn("slowmode update failed", zap.String("channel_id", channelID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Slowmode", "Could not change slowmode.", colors.Error, nil), true)
			return outcomeError
		}
		b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, actorID, audit.EventSlowmode, fmt.Sprintf("channel=%s seconds=%d", channelID, seconds))
		fields := []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: "<#" + channelID + ">", Inline: true},
			{Name: "Seconds", Value: fmt.Sprintf("%d", seconds), Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Slowmode", "Slowmode updated.", colors.Action, fields), true)
	case "modlog":
		var channel *discordgo.Channel
		if opt := optionMap(options)["channel"]; opt != nil {
			channel = opt.ChannelValue(session)
		}
		if channel == nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Moderation log", "Unknown channel.", colors.Error, nil), true)
			return outcomeRejected
		}
		settings.LogChannel = channel.ID
		if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
			b.logger.Warn("log channel update failed", zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Moderation log", "Could not save the setting.", colors.Error, nil), true)
			return outcomeError
		}
		b.audit.Log(ctx, audit.LevelInfo, interaction.GuildID, actorID, audit.EventLogChannel, "channel="+channel.ID)
		fields := []*discordgo.MessageEmbedField{{Name: "Channel", Value: "<#" + channel.ID + ">", Inline: true}}
		b.respondEmbed(session, interaction, b.commandEmbed("Moderation log", "Log channel updated.", colors.Action, fields), true)
	case "modstats":
		period := "day"
		if opt := optionMap(options)["period"]; opt != nil {
			period = opt.StringValue()
		}
		since, err := analytics.PeriodStart(period, time.Now())
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Moderation stats", err.Error(), colors.Error, nil), true)
			return outcomeRejected
		}
		report, err := b.analytics.Report(ctx, interaction.GuildID, since)
		if err != nil {
			b.logger.Warn("report failed", zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Moderation stats", "Could not load the report.", colors.Error, nil), true)
			return outcomeError
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Moderation stats", report.Format(), colors.Action, nil), true)
	}
	return outcomeOK
}

func optionMap(options []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	out := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(options))
	for _, opt := range options {
		out[opt.Name] = opt
	}
	return out
}

func hasPermission(member *discordgo.Member, permission int64) bool {
	if member == nil {
		return false
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	return member.Permissions&permission != 0
}

func permissionName(permission int64) string {
	switch permission {
	case discordgo.PermissionManageRoles:
		return "Manage Roles"
	case discordgo.PermissionManageChannels:
		return "Manage Channels"
	default:
		return "required"
	}
}

func roleSettingTitle(name string) string {
	if name == "djrole" {
		return "DJ role"
	}
	return "Autorole"
}

func pastTense(action string) string {
	if action == "add" {
		return "added"
	}
	return "removed"
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
