package bot

import (
	"time"

	"github.com/bwmarrin/discordgo"
)

// discordPlatform adapts a discordgo session to the moderation Platform and
// Identity interfaces.
type discordPlatform struct {
	session *discordgo.Session
}

func newDiscordPlatform(session *discordgo.Session) *discordPlatform {
	return &discordPlatform{session: session}
}

// Timeout applies or removes a member timeout. The REST endpoint carries no
// audit-log reason, so reason is recorded only in our own state.
func (p *discordPlatform) Timeout(guildID, userID string, until *time.Time, reason string) error {
	_ = reason
	return p.session.GuildMemberTimeout(guildID, userID, until)
}

func (p *discordPlatform) Kick(guildID, userID, reason string) error {
	return p.session.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (p *discordPlatform) Ban(guildID, userID, reason string, purgeDays int) error {
	return p.session.GuildBanCreateWithReason(guildID, userID, reason, purgeDays)
}

func (p *discordPlatform) Unban(guildID, userID, reason string) error {
	_ = reason
	return p.session.GuildBanDelete(guildID, userID)
}

// RolePosition returns the member's highest role position, 0 when unknown.
func (p *discordPlatform) RolePosition(guildID, userID string) int {
	guild, member := p.guildMember(guildID, userID)
	if guild == nil || member == nil {
		return 0
	}

	byID := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		byID[role.ID] = role
	}

	highest := 0
	for _, roleID := range member.Roles {
		if role := byID[roleID]; role != nil && role.Position > highest {
			highest = role.Position
		}
	}
	return highest
}

func (p *discordPlatform) HasAdministrator(guildID, userID string) bool {
	return p.permissions(guildID, userID)&discordgo.PermissionAdministrator != 0
}

func (p *discordPlatform) HasModeratePermission(guildID, userID string) bool {
	perms := p.permissions(guildID, userID)
	return perms&(discordgo.PermissionKickMembers|discordgo.PermissionModerateMembers) != 0
}

// permissions folds the member's role permissions together, including the
// @everyone role. Guild owners hold every permission.
func (p *discordPlatform) permissions(guildID, userID string) int64 {
	guild, member := p.guildMember(guildID, userID)
	if guild == nil || member == nil {
		return 0
	}
	if guild.OwnerID == userID {
		return discordgo.PermissionAll
	}

	byID := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		byID[role.ID] = role
	}

	var perms int64
	// The @everyone role shares the guild's ID.
	if everyone := byID[guildID]; everyone != nil {
		perms |= everyone.Permissions
	}
	for _, roleID := range member.Roles {
		if role := byID[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms
}

func (p *discordPlatform) guildMember(guildID, userID string) (*discordgo.Guild, *discordgo.Member) {
	guild, err := p.session.State.Guild(guildID)
	if err != nil || guild == nil {
		if guild, err = p.session.Guild(guildID); err != nil {
			return nil, nil
		}
	}
	member, err := p.session.State.Member(guildID, userID)
	if err != nil || member == nil {
		if member, err = p.session.GuildMember(guildID, userID); err != nil {
			return guild, nil
		}
	}
	return guild, member
}
