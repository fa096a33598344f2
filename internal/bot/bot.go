package bot

import (
	"context"
	"fmt"
	"time"

	"shieldbot/internal/antiraid"
	"shieldbot/internal/config"
	"shieldbot/internal/moderation"
	"shieldbot/internal/storage"
	"shieldbot/internal/tracker"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg        config.Config
	logger     *zap.Logger
	store      *storage.Store
	session    *discordgo.Session
	platform   *discordPlatform
	identity   moderation.Identity
	tracker    *tracker.Tracker
	moderation *moderation.Service
	antiraid   *antiraid.Service
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsMessageContent

	platform := newDiscordPlatform(session)
	activity := tracker.New()
	modService := moderation.New(store, platform, platform, logger)

	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		session:    session,
		platform:   platform,
		identity:   platform,
		tracker:    activity,
		moderation: modService,
		antiraid:   antiraid.New(store, activity, modService, logger),
	}
	modService.SetNotifier(b)

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", session.State.User.Username))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot {
		return
	}
	if msg.GuildID == "" {
		return
	}
	// Privileged users never enter the tracker; their traffic must not count
	// toward any window or trigger punishment.
	if b.isExempt(msg.GuildID, msg.Author.ID) {
		return
	}

	ctx := context.Background()
	if _, err := b.antiraid.OnEvent(ctx, msg.GuildID, msg.Author.ID); err != nil {
		b.logger.Warn("antiraid event failed",
			zap.String("guild_id", msg.GuildID),
			zap.String("user_id", msg.Author.ID),
			zap.Error(err),
		)
	}
}

func (b *Bot) isExempt(guildID, userID string) bool {
	return b.identity.HasAdministrator(guildID, userID) || b.identity.HasModeratePermission(guildID, userID)
}

// ActionApplied renders an applied-action record into the guild's modlog
// channel, when one is configured.
func (b *Bot) ActionApplied(ctx context.Context, guildID string, record moderation.ActionRecord) {
	channelID, err := b.store.ModlogChannel(ctx, guildID)
	if err != nil {
		b.logger.Warn("modlog target lookup failed", zap.String("guild_id", guildID), zap.Error(err))
		return
	}
	if channelID == "" {
		return
	}

	actor := "<@" + record.ActorID + ">"
	if record.ActorID == moderation.SystemModerator {
		actor = "Anti-raid system"
	}
	embed := &discordgo.MessageEmbed{
		Title:       actionTitle(record.Type),
		Description: fmt.Sprintf("%s → <@%s>", actor, record.TargetID),
		Color:       b.actionColor(record.Type),
		Timestamp:   record.Timestamp.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Reason", Value: orNone(record.Reason), Inline: false},
			{Name: "Case", Value: record.CaseID, Inline: true},
		},
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		b.logger.Warn("modlog send failed", zap.String("guild_id", guildID), zap.Error(err))
	}
}

// RunMaintenance sweeps expired mute mirrors and old history rows until the
// context is cancelled.
func (b *Bot) RunMaintenance(ctx context.Context) {
	interval := time.Duration(b.cfg.MaintenanceMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := b.store.DeleteExpiredMutes(ctx, time.Now()); err != nil {
				b.logger.Warn("mute sweep failed", zap.Error(err))
			} else if removed > 0 {
				b.logger.Info("expired mutes swept", zap.Int64("removed", removed))
			}
			if err := b.store.CleanupModActions(ctx, b.cfg.RetentionDays); err != nil {
				b.logger.Warn("history cleanup failed", zap.Error(err))
			}
		}
	}
}

func actionTitle(action string) string {
	switch action {
	case moderation.ActionBan:
		return "Ban"
	case moderation.ActionKick:
		return "Kick"
	case moderation.ActionMute:
		return "Mute"
	case moderation.ActionWarn:
		return "Warn"
	case moderation.ActionUnmute:
		return "Unmute"
	case moderation.ActionUnban:
		return "Unban"
	case moderation.ActionUnwarn:
		return "Warns cleared"
	default:
		return action
	}
}

func (b *Bot) actionColor(action string) int {
	switch action {
	case moderation.ActionBan, moderation.ActionKick, moderation.ActionMute:
		return b.cfg.Embeds.Warning
	default:
		return b.cfg.Embeds.Action
	}
}

func orNone(value string) string {
	if value == "" {
		return "No reason provided"
	}
	return value
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

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}
