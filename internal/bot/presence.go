package bot

import (
	"warden/internal/music"

	"github.com/bwmarrin/discordgo"
)

func voiceStateChange(event *discordgo.VoiceStateUpdate, selfID string) music.VoiceStateChange {
	change := music.VoiceStateChange{
		GuildID:        event.GuildID,
		UserID:         event.UserID,
		Self:           selfID != "" && event.UserID == selfID,
		AfterChannelID: event.ChannelID,
	}
	if event.BeforeUpdate != nil {
		change.BeforeChannelID = event.BeforeUpdate.ChannelID
	}
	if event.Member != nil && event.Member.User != nil {
		change.Bot = event.Member.User.Bot
	}
	return change
}

// stateListeners counts humans in a voice channel from the gateway state cache.
type stateListeners struct {
	session *discordgo.Session
}

func (l stateListeners) Listeners(guildID, channelID string) int {
	selfID := ""
	if l.session.State.User != nil {
		selfID = l.session.State.User.ID
	}
	return countListeners(l.session.State, selfID, guildID, channelID)
}

func countListeners(state *discordgo.State, selfID, guildID, channelID string) int {
	guild, err := state.Guild(guildID)
	if err != nil {
		return 0
	}

	type occupant struct {
		userID string
		member *discordgo.Member
	}
	state.RLock()
	var occupants []occupant
	for _, vs := range guild.VoiceStates {
		if vs == nil || vs.ChannelID != channelID || vs.UserID == selfID {
			continue
		}
		occupants = append(occupants, occupant{userID: vs.UserID, member: vs.Member})
	}
	state.RUnlock()

	count := 0
	for _, o := range occupants {
		member := o.member
		if member == nil {
			member, _ = state.Member(guildID, o.userID)
		}
		if member != nil && member.User != nil && member.User.Bot {
			continue
		}
		count++
	}
	return count
}
