package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type Warn struct {
	GuildID     string
	UserID      string
	ModeratorID string
	Reason      string
	CreatedAt   time.Time
}

// AddWarn appends a warn for the user and returns the new total. The sequence
// number is assigned inside the transaction so issuance order survives
// same-second warns. Concurrent writers for a guild are serialized by the
// moderation service; the transaction alone does not prevent two writers from
// reading the same MAX(seq) under read committed.
func (s *Store) AddWarn(ctx context.Context, warn Warn) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var seq int
	row := tx.QueryRowContext(ctx, s.rebind(`
		SELECT COALESCE(MAX(seq), 0) FROM warns WHERE guild_id = ? AND user_id = ?
	`), warn.GuildID, warn.UserID)
	if err = row.Scan(&seq); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	seq++

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO warns (guild_id, user_id, seq, moderator_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), warn.GuildID, warn.UserID, seq, warn.ModeratorID, warn.Reason, warn.CreatedAt.Unix())
	if err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) ListWarns(ctx context.Context, guildID, userID string) ([]Warn, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT moderator_id, reason, created_at
		FROM warns
		WHERE guild_id = ? AND user_id = ?
		ORDER BY seq
	`), guildID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warns []Warn
	for rows.Next() {
		warn := Warn{GuildID: guildID, UserID: userID}
		var created int64
		if err := rows.Scan(&warn.ModeratorID, &warn.Reason, &created); err != nil {
			return nil, err
		}
		warn.CreatedAt = time.Unix(created, 0)
		warns = append(warns, warn)
	}
	return warns, rows.Err()
}

// ClearWarns removes every warn for the user and reports whether any existed.
func (s *Store) ClearWarns(ctx context.Context, guildID, userID string) (bool, error) {
	result, err := s.db.ExecContext(ctx, s.rebind(`
		DELETE FROM warns WHERE guild_id = ? AND user_id = ?
	`), guildID, userID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
