package storage

import (
	"context"
	"database/sql"
	"errors"
)

// AntiRaidConfig is the per-guild anti-raid policy. A disabled config keeps
// its last-configured action and thresholds.
type AntiRaidConfig struct {
	GuildID       string
	Enabled       bool
	Action        string
	Messages      int
	WindowSeconds int
	MuteMinutes   int
}

// DefaultAntiRaidConfig is the record written on first configuration and the
// record `off` resets to.
func DefaultAntiRaidConfig(guildID string) AntiRaidConfig {
	return AntiRaidConfig{
		GuildID:       guildID,
		Enabled:       false,
		Action:        "kick",
		Messages:      20,
		WindowSeconds: 5,
		MuteMinutes:   30,
	}
}

func (s *Store) GetAntiRaidConfig(ctx context.Context, guildID string) (AntiRaidConfig, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT enabled, action, messages, window_seconds, mute_minutes
		FROM antiraid_config WHERE guild_id = ?`), guildID)

	result := DefaultAntiRaidConfig(guildID)
	var enabled int
	err := row.Scan(&enabled, &result.Action, &result.Messages, &result.WindowSeconds, &result.MuteMinutes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return result, nil
		}
		return AntiRaidConfig{}, err
	}
	result.Enabled = enabled == 1
	return result, nil
}

func (s *Store) UpsertAntiRaidConfig(ctx context.Context, cfg AntiRaidConfig) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO antiraid_config (guild_id, enabled, action, messages, window_seconds, mute_minutes)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
			enabled = excluded.enabled,
			action = excluded.action,
			messages = excluded.messages,
			window_seconds = excluded.window_seconds,
			mute_minutes = excluded.mute_minutes
	`),
		cfg.GuildID,
		boolToInt(cfg.Enabled),
		cfg.Action,
		cfg.Messages,
		cfg.WindowSeconds,
		cfg.MuteMinutes,
	)
	return err
}
