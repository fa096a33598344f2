package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"shieldbot/internal/antiraid"
	"shieldbot/internal/moderation"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" {
		b.respond(session, interaction, "This command only works in a server.", true)
		return
	}
	if interaction.Member == nil || interaction.Member.User == nil {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	actorID := interaction.Member.User.ID
	opts := commandOptions(session, data.Options)

	switch data.Name {
	case "antiraid":
		b.handleAntiRaid(ctx, session, interaction, opts)
	case "kick":
		b.handleKick(ctx, session, interaction, actorID, opts)
	case "ban":
		b.handleBan(ctx, session, interaction, actorID, opts)
	case "unban":
		b.handleUnban(ctx, session, interaction, actorID, opts)
	case "warn":
		b.handleWarn(ctx, session, interaction, actorID, opts)
	case "warncheck":
		b.handleWarnCheck(ctx, session, interaction, opts)
	case "removewarn":
		b.handleRemoveWarn(ctx, session, interaction, actorID, opts)
	case "mute":
		b.handleMute(ctx, session, interaction, actorID, opts)
	case "unmute":
		b.handleUnmute(ctx, session, interaction, actorID, opts)
	case "setmodlog":
		b.handleSetModlog(ctx, session, interaction, opts)
	case "history":
		b.handleHistory(ctx, session, interaction, opts)
	}
}

type options struct {
	strings  map[string]string
	ints     map[string]int
	users    map[string]string
	channels map[string]string
}

func commandOptions(session *discordgo.Session, raw []*discordgo.ApplicationCommandInteractionDataOption) options {
	opts := options{
		strings:  make(map[string]string),
		ints:     make(map[string]int),
		users:    make(map[string]string),
		channels: make(map[string]string),
	}
	for _, option := range raw {
		if option == nil {
			continue
		}
		switch option.Type {
		case discordgo.ApplicationCommandOptionString:
			opts.strings[option.Name] = option.StringValue()
		case discordgo.ApplicationCommandOptionInteger:
			opts.ints[option.Name] = int(option.IntValue())
		case discordgo.ApplicationCommandOptionUser:
			if user := option.UserValue(session); user != nil {
				opts.users[option.Name] = user.ID
			}
		case discordgo.ApplicationCommandOptionChannel:
			if channel := option.ChannelValue(session); channel != nil {
				opts.channels[option.Name] = channel.ID
			}
		}
	}
	return opts
}

func (o options) intOr(name string, fallback int) int {
	if value, ok := o.ints[name]; ok {
		return value
	}
	return fallback
}

func (b *Bot) handleAntiRaid(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	action := opts.strings["action"]
	messages := opts.intOr("messages", 20)
	window := opts.intOr("window", 5)
	muteDuration := opts.intOr("mute_duration", 30)

	cfg, err := b.antiraid.SetConfig(ctx, interaction.GuildID, action, messages, window, muteDuration)
	if err != nil {
		var configErr *antiraid.ConfigError
		if errors.As(err, &configErr) {
			b.respondEmbed(session, interaction, b.commandEmbed("Anti-Raid", configErr.Reason, b.cfg.Embeds.Error, nil), true)
			return
		}
		b.logger.Warn("antiraid config failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Anti-Raid", "Configuration update failed.", b.cfg.Embeds.Error, nil), true)
		return
	}

	if !cfg.Enabled {
		b.respondEmbed(session, interaction, b.commandEmbed("Anti-Raid", "Anti-raid protection is now **disabled**.", b.cfg.Embeds.Warning, nil), false)
		return
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Action", Value: strings.ToUpper(cfg.Action), Inline: true},
		{Name: "Threshold", Value: fmt.Sprintf("%d messages in %d seconds", cfg.Messages, cfg.WindowSeconds), Inline: true},
	}
	if cfg.Action == moderation.ActionMute {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Mute duration", Value: fmt.Sprintf("%d minutes", cfg.MuteMinutes), Inline: true})
	}
	embed := b.commandEmbed("Anti-Raid", "Anti-raid protection is now **enabled**.", b.cfg.Embeds.Action, fields)
	embed.Footer = &discordgo.MessageEmbedFooter{Text: "Admins and moderators are exempt from anti-raid tracking"}
	b.respondEmbed(session, interaction, embed, false)
}

func (b *Bot) handleKick(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, actorID string, opts options) {
	targetID := opts.users["user"]
	reason := opts.strings["reason"]
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Kick", "No user given.", b.cfg.Embeds.Error, nil), true)
		return
	}
	if err := b.moderation.Kick(ctx, interaction.GuildID, actorID, targetID, reason); err != nil {
		b.respondModerationError(session, interaction, "Kick", targetID, err)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Kick", fmt.Sprintf("Kicked <@%s>. %s", targetID, reasonSuffix(reason)), b.cfg.Embeds.Action, nil), false)
}

func (b *Bot) handleBan(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, actorID string, opts options) {
	targetID := opts.users["user"]
	reason := opts.strings["reason"]
	days := opts.intOr("days", 0)
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Ban", "No user given.", b.cfg.Embeds.Error, nil), true)
		return
	}
	if err := b.moderation.Ban(ctx, interaction.GuildID, actorID, targetID, reason, days); err != nil {
		b.respondModerationError(session, interaction, "Ban", targetID, err)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Ban", fmt.Sprintf("Banned <@%s>. %s", targetID, reasonSuffix(reason)), b.cfg.Embeds.Warning, nil), false)
}

func (b *Bot) handleUnban(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, actorID string, opts options) {
	targetID := opts.users["user"]
	reason := opts.strings["reason"]
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Unban", "No user given.", b.cfg.Embeds.Error, nil), true)
		return
	}
	if err := b.moderation.Unban(ctx, interaction.GuildID, actorID, targetID, reason); err != nil {
		b.respondModerationError(session, interaction, "Unban", targetID, err)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Unban", fmt.Sprintf("Unbanned <@%s>. %s", targetID, reasonSuffix(reason)), b.cfg.Embeds.Action, nil), false)
}

func (b *Bot) handleWarn(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, actorID string, opts options) {
	targetID := opts.users["user"]
	reason := opts.strings["reason"]
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Warn", "No user given.", b.cfg.Embeds.Error, nil), true)
		return
	}
	total, err := b.moderation.Warn(ctx, interaction.GuildID, actorID, targetID, reason)
	if err != nil {
		b.respondModerationError(session, interaction, "Warn", targetID, err)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Warn", fmt.Sprintf("Warned <@%s> (warning #%d). %s", targetID, total, reasonSuffix(reason)), b.cfg.Embeds.Warning, nil), false)
}

func (b *Bot) handleWarnCheck(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	targetID := opts.users["user"]
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Warnings", "No user given.", b.cfg.Embeds.Error, nil), true)
		return
	}
	warns, err := b.moderation.Warns(ctx, interaction.GuildID, targetID)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Warnings", "Lookup failed.", b.cfg.Embeds.Error, nil), true)
		return
	}
	if len(warns) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("Warnings", fmt.Sprintf("<@%s> has no warnings.", targetID), b.cfg.Embeds.Action, nil), false)
		return
	}

	var history strings.Builder
	for i, warn := range warns {
		moderator := "<@" + warn.ModeratorID + ">"
		if warn.ModeratorID == moderation.SystemModerator {
			moderator = "Anti-raid system"
		}
		fmt.Fprintf(&history, "**#%d** %s — by %s on %s\n", i+1, orNone(warn.Reason), moderator, warn.CreatedAt.Format("2006-01-02"))
	}
	fields := []*discordgo.MessageEmbedField{{Name: "History", Value: history.String(), Inline: false}}
	b.respondEmbed(session, interaction, b.commandEmbed("Warnings", fmt.Sprintf("<@%s> has **%d** warning(s).", targetID, len(warns)), b.cfg.Embeds.Warning, fields), false)
}

func (b *Bot) handleRemoveWarn(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, actorID string, opts options) {
	targetID := opts.users["user"]
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Warnings", "No user given.", b.cfg.Embeds.Error, nil), true)
		return
	}
	removed, err := b.moderation.ClearWarns(ctx, interaction.GuildID, actorID, targetID)
	if err != nil {
		b.respondModerationError(session, interaction, "Warnings", targetID, err)
		return
	}
	if !removed {
		b.respondEmbed(session, interaction, b.commandEmbed("Warnings", fmt.Sprintf("No warns found for <@%s>.", targetID), b.cfg.Embeds.Action, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Warnings", fmt.Sprintf("Removed all warns from <@%s>.", targetID), b.cfg.Embeds.Action, nil), false)
}

func (b *Bot) handleMute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, actorID string, opts options) {
	targetID := opts.users["user"]
	minutes := opts.intOr("minutes", 10)
	reason := opts.strings["reason"]
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Mute", "No user given.", b.cfg.Embeds.Error, nil), true)
		return
	}
	if minutes < 1 || minutes > antiraid.MaxMuteMinutes {
		b.respondEmbed(session, interaction, b.commandEmbed("Mute", fmt.Sprintf("Duration must be between 1 and %d minutes.", antiraid.MaxMuteMinutes), b.cfg.Embeds.Error, nil), true)
		return
	}
	until, err := b.moderation.Mute(ctx, interaction.GuildID, actorID, targetID, minutes, reason)
	if err != nil {
		b.respondModerationError(session, interaction, "Mute", targetID, err)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Mute", fmt.Sprintf("Muted <@%s> until <t:%d:f>. %s", targetID, until.Unix(), reasonSuffix(reason)), b.cfg.Embeds.Warning, nil), false)
}

func (b *Bot) handleUnmute(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, actorID string, opts options) {
	targetID := opts.users["user"]
	reason := opts.strings["reason"]
	if targetID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Unmute", "No user given.", b.cfg.Embeds.Error, nil), true)
		return
	}
	if err := b.moderation.Unmute(ctx, interaction.GuildID, actorID, targetID, reason); err != nil {
		b.respondModerationError(session, interaction, "Unmute", targetID, err)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Unmute", fmt.Sprintf("Unmuted <@%s>. %s", targetID, reasonSuffix(reason)), b.cfg.Embeds.Action, nil), false)
}

func (b *Bot) handleSetModlog(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	channelID := opts.channels["channel"]
	if channelID == "" {
		b.respondEmbed(session, interaction, b.commandEmbed("Modlog", "No channel given.", b.cfg.Embeds.Error, nil), true)
		return
	}
	if err := b.store.SetModlogChannel(ctx, interaction.GuildID, channelID); err != nil {
		b.logger.Warn("modlog target update failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Modlog", "Update failed.", b.cfg.Embeds.Error, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Modlog", "Moderation logs will be sent to <#"+channelID+">.", b.cfg.Embeds.Action, nil), false)
}

func (b *Bot) handleHistory(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	limit := opts.intOr("limit", 10)
	actions, err := b.moderation.History(ctx, interaction.GuildID, limit)
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("History", "Lookup failed.", b.cfg.Embeds.Error, nil), true)
		return
	}
	if len(actions) == 0 {
		b.respondEmbed(session, interaction, b.commandEmbed("History", "No recorded actions.", b.cfg.Embeds.Action, nil), true)
		return
	}

	var lines strings.Builder
	for _, action := range actions {
		actor := "<@" + action.ActorID + ">"
		if action.ActorID == moderation.SystemModerator {
			actor = "Anti-raid system"
		}
		fmt.Fprintf(&lines, "<t:%d:d> **%s** %s → <@%s> — %s\n", action.CreatedAt.Unix(), strings.ToUpper(action.Action), actor, action.TargetID, orNone(action.Reason))
	}
	b.respondEmbed(session, interaction, b.commandEmbed("History", lines.String(), b.cfg.Embeds.Action, nil), true)
}

func (b *Bot) respondModerationError(session *discordgo.Session, interaction *discordgo.InteractionCreate, title, targetID string, err error) {
	if errors.Is(err, moderation.ErrInsufficientRank) {
		b.respondEmbed(session, interaction, b.commandEmbed(title, fmt.Sprintf("You cannot moderate <@%s> — they have an equal or higher rank.", targetID), b.cfg.Embeds.Error, nil), true)
		return
	}
	var actionErr *moderation.ActionError
	if errors.As(err, &actionErr) {
		b.logger.Warn("platform action failed", zap.String("guild_id", interaction.GuildID), zap.String("action", actionErr.Action), zap.Error(actionErr.Cause))
		b.respondEmbed(session, interaction, b.commandEmbed(title, "The platform rejected the action. Check the bot's role and permissions.", b.cfg.Embeds.Error, nil), true)
		return
	}
	b.logger.Warn("moderation command failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	b.respondEmbed(session, interaction, b.commandEmbed(title, "Action failed.", b.cfg.Embeds.Error, nil), true)
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return "Reason: " + reason
}
