package bot

import (
	"warden/internal/config"

	"github.com/bwmarrin/discordgo"
)

// discordActions carries out module decisions against the Discord API.
type discordActions struct {
	session *discordgo.Session
	cfg     config.Config
}

func (a *discordActions) AssignRole(guildID, userID, roleID string) error {
	return a.session.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (a *discordActions) DeleteMessage(channelID, messageID string) error {
	return a.session.ChannelMessageDelete(channelID, messageID)
}

func (a *discordActions) Warn(channelID, userID, text string) error {
	if !a.cfg.Notifications.ChannelWarnEnabled {
		return nil
	}
	_, err := a.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         text,
		AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{userID}},
	})
	return err
}

func (a *discordActions) Kick(guildID, userID, reason string) error {
	return a.session.GuildMemberDeleteWithReason(guildID, userID, reason)
}
