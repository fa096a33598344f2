package bot

import "github.com/bwmarrin/discordgo"

func (b *Bot) registerCommands() error {
	adminOnly := int64(discordgo.PermissionAdministrator)
	modOnly := int64(discordgo.PermissionKickMembers)

	commands := []*discordgo.ApplicationCommand{
		{
			Name:                     "antiraid",
			Description:              "Configure anti-raid protection (ban/kick/mute/warn/off)",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "Action taken on a trip, or off to disable",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "ban", Value: "ban"},
						{Name: "kick", Value: "kick"},
						{Name: "mute", Value: "mute"},
						{Name: "warn", Value: "warn"},
						{Name: "off", Value: "off"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "messages",
					Description: "Message threshold (default 20)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "window",
					Description: "Window in seconds (default 5)",
					Required:    false,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "mute_duration",
					Description: "Mute duration in minutes, 1-40320 (default 30)",
					Required:    false,
				},
			},
		},
		{
			Name:                     "kick",
			Description:              "Kick a member",
			DefaultMemberPermissions: &modOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to kick", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason", Required: false},
			},
		},
		{
			Name:                     "ban",
			Description:              "Ban a member",
			DefaultMemberPermissions: &modOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to ban", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason", Required: false},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "days", Description: "Days of messages to purge (0-7)", Required: false},
			},
		},
		{
			Name:                     "unban",
			Description:              "Unban a user",
			DefaultMemberPermissions: &modOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to unban", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason", Required: false},
			},
		},
		{
			Name:                     "warn",
			Description:              "Warn a member (persistent)",
			DefaultMemberPermissions: &modOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to warn", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason", Required: false},
			},
		},
		{
			Name:        "warncheck",
			Description: "Check a member's warnings",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to check", Required: true},
			},
		},
		{
			Name:                     "removewarn",
			Description:              "Remove all warns from a member",
			DefaultMemberPermissions: &modOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to clear", Required: true},
			},
		},
		{
			Name:                     "mute",
			Description:              "Timeout (mute) a member for a duration in minutes",
			DefaultMemberPermissions: &modOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to mute", Required: true},
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "minutes", Description: "Duration in minutes (default 10)", Required: false},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason", Required: false},
			},
		},
		{
			Name:                     "unmute",
			Description:              "Remove a timeout from a member",
			DefaultMemberPermissions: &modOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member to unmute", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason", Required: false},
			},
		},
		{
			Name:                     "setmodlog",
			Description:              "Set the channel for moderation logs",
			DefaultMemberPermissions: &adminOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Target channel", Required: true},
			},
		},
		{
			Name:                     "history",
			Description:              "Show recent moderation actions",
			DefaultMemberPermissions: &modOnly,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionInteger, Name: "limit", Description: "Number of entries (default 10)", Required: false},
			},
		},
	}

	for _, command := range commands {
		if _, err := b.session.ApplicationCommandCreate(b.session.State.User.ID, "", command); err != nil {
			return err
		}
	}
	return nil
}
