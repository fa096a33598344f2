package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type ModAction struct {
	CaseID    string
	GuildID   string
	Action    string
	ActorID   string
	TargetID  string
	Reason    string
	CreatedAt time.Time
}

func (s *Store) SetModlogChannel(ctx context.Context, guildID, channelID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO modlog_targets (guild_id, channel_id) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET channel_id = excluded.channel_id
	`), guildID, channelID)
	return err
}

// ModlogChannel returns the configured channel for a guild, empty when unset.
func (s *Store) ModlogChannel(ctx context.Context, guildID string) (string, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT channel_id FROM modlog_targets WHERE guild_id = ?
	`), guildID)

	var channelID string
	if err := row.Scan(&channelID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return channelID, nil
}

func (s *Store) AddModAction(ctx context.Context, action ModAction) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO mod_actions (case_id, guild_id, action, actor_id, target_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), action.CaseID, action.GuildID, action.Action, action.ActorID, action.TargetID, action.Reason, action.CreatedAt.Unix())
	return err
}

func (s *Store) ListModActions(ctx context.Context, guildID string, limit int) ([]ModAction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT case_id, guild_id, action, actor_id, target_id, reason, created_at
		FROM mod_actions
		WHERE guild_id = ?
		ORDER BY created_at DESC, case_id DESC
		LIMIT ?
	`), guildID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []ModAction
	for rows.Next() {
		var action ModAction
		var created int64
		if err := rows.Scan(&action.CaseID, &action.GuildID, &action.Action, &action.ActorID, &action.TargetID, &action.Reason, &created); err != nil {
			return nil, err
		}
		action.CreatedAt = time.Unix(created, 0)
		actions = append(actions, action)
	}
	return actions, rows.Err()
}

func (s *Store) CleanupModActions(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM mod_actions WHERE created_at < ?`), cutoff.Unix())
	return err
}
