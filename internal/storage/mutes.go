package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Mute mirrors a platform-side timeout for auditability. The platform enforces
// the actual expiry; rows whose until has passed are swept by maintenance.
type Mute struct {
	GuildID     string
	UserID      string
	Until       time.Time
	ModeratorID string
	Reason      string
}

func (s *Store) UpsertMute(ctx context.Context, mute Mute) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO mutes (guild_id, user_id, until_at, moderator_id, reason)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, user_id) DO UPDATE SET
			until_at = excluded.until_at,
			moderator_id = excluded.moderator_id,
			reason = excluded.reason
	`), mute.GuildID, mute.UserID, mute.Until.Unix(), mute.ModeratorID, mute.Reason)
	return err
}

func (s *Store) GetMute(ctx context.Context, guildID, userID string) (Mute, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT until_at, moderator_id, reason
		FROM mutes WHERE guild_id = ? AND user_id = ?
	`), guildID, userID)

	mute := Mute{GuildID: guildID, UserID: userID}
	var until int64
	err := row.Scan(&until, &mute.ModeratorID, &mute.Reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Mute{}, false, nil
		}
		return Mute{}, false, err
	}
	mute.Until = time.Unix(until, 0)
	return mute, true, nil
}

func (s *Store) DeleteMute(ctx context.Context, guildID, userID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM mutes WHERE guild_id = ? AND user_id = ?
	`), guildID, userID)
	return err
}

func (s *Store) DeleteExpiredMutes(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM mutes WHERE until_at <= ?
	`), now.Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
