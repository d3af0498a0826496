package bot

import "github.com/bwmarrin/discordgo"

var (
	manageRoles    int64 = discordgo.PermissionManageRoles
	manageChannels int64 = discordgo.PermissionManageChannels
	minVolume            = float64(0)
	minPosition          = float64(1)
	minSlowmode          = float64(0)
)

func commandDefinitions() []*discordgo.ApplicationCommand {
	dmPermission := false
	return []*discordgo.ApplicationCommand{
		{
			Name:         "play",
			Description:  "Play a song, a link or a playlist",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "query",
					Description: "Search terms or a YouTube, Spotify or SoundCloud link",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "How to read the query",
					Required:    false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "single", Value: "single"},
						{Name: "search", Value: "search"},
						{Name: "playlist", Value: "playlist"},
					},
				},
			},
		},
		{Name: "skip", Description: "Skip the current track", DMPermission: &dmPermission},
		{Name: "stop", Description: "Stop playback, clear the queue and leave voice", DMPermission: &dmPermission},
		{
			Name:         "loop",
			Description:  "Set the loop mode",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "mode",
					Description: "off, track or queue",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "off", Value: "off"},
						{Name: "track", Value: "track"},
						{Name: "queue", Value: "queue"},
					},
				},
			},
		},
		{
			Name:         "volume",
			Description:  "Set the playback volume from the next track on",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "percent",
					Description: "0 to 150",
					Required:    true,
					MinValue:    &minVolume,
					MaxValue:    150,
				},
			},
		},
		{Name: "queue", Description: "Show the queue", DMPermission: &dmPermission},
		{Name: "nowplaying", Description: "Show the current track", DMPermission: &dmPermission},
		{
			Name:         "remove",
			Description:  "Remove a track from the queue",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "position",
					Description: "Queue position as shown by /queue",
					Required:    true,
					MinValue:    &minPosition,
				},
			},
		},
		{Name: "shuffle", Description: "Shuffle the queue", DMPermission: &dmPermission},
		{Name: "clear", Description: "Clear the upcoming queue", DMPermission: &dmPermission},
		{
			Name:                     "role",
			Description:              "Add or remove a member role",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				roleSubcommand("add", "Give a role to a member"),
				roleSubcommand("remove", "Take a role from a member"),
			},
		},
		{
			Name:                     "autorole",
			Description:              "Role given to new members",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageRoles,
			Options:                  roleSettingSubcommands("Role given on join"),
		},
		{
			Name:                     "djrole",
			Description:              "Role allowed to control playback",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageRoles,
			Options:                  roleSettingSubcommands("Role allowed to skip, stop and change the queue"),
		},
		{
			Name:                     "slowmode",
			Description:              "Set channel slowmode",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "seconds",
					Description: "0 disables slowmode, at most 21600",
					Required:    true,
					MinValue:    &minSlowmode,
					MaxValue:    maxSlowmode,
				},
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Defaults to the current channel",
					Required:     false,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
			},
		},
		{
			Name:                     "modlog",
			Description:              "Channel that receives moderation logs",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:         discordgo.ApplicationCommandOptionChannel,
					Name:         "channel",
					Description:  "Log channel",
					Required:     true,
					ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText},
				},
			},
		},
		{
			Name:                     "modstats",
			Description:              "Moderation activity report",
			DMPermission:             &dmPermission,
			DefaultMemberPermissions: &manageChannels,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "day, week or month",
					Required:    false,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "day"},
						{Name: "week", Value: "week"},
						{Name: "month", Value: "month"},
					},
				},
			},
		},
	}
}

func roleSubcommand(name, description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options: []*discordgo.ApplicationCommandOption{
			{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member", Required: true},
			{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role", Required: true},
		},
	}
}

func roleSettingSubcommands(description string) []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "set",
			Description: description,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role", Required: true},
			},
		},
		{
			Type:        discordgo.ApplicationCommandOptionSubCommand,
			Name:        "clear",
			Description: "Unset the role",
		},
	}
}

// registerCommands syncs the command set, globally or to the configured guild,
// and deletes commands that are no longer defined.
func (b *Bot) registerCommands() error {
	commands := commandDefinitions()
	appID := b.session.State.User.ID
	scope := b.cfg.CommandGuildID

	existing, err := b.session.ApplicationCommands(appID, scope)
	if err != nil {
		return err
	}
	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, scope, current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, scope, cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, scope, cmd.ID)
	}
	return nil
}
