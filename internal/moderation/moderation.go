package moderation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shieldbot/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	ActionBan    = "ban"
	ActionKick   = "kick"
	ActionMute   = "mute"
	ActionWarn   = "warn"
	ActionUnmute = "unmute"
	ActionUnban  = "unban"
	ActionUnwarn = "unwarn"
)

// SystemModerator is the moderator identity recorded for automated actions.
// It bypasses the rank check.
const SystemModerator = "system"

// Platform executes moderation actions against the chat platform. A nil until
// on Timeout removes an existing timeout.
type Platform interface {
	Timeout(guildID, userID string, until *time.Time, reason string) error
	Kick(guildID, userID, reason string) error
	Ban(guildID, userID, reason string, purgeDays int) error
	Unban(guildID, userID, reason string) error
}

// Identity resolves privilege and rank for members of a guild.
type Identity interface {
	RolePosition(guildID, userID string) int
	HasAdministrator(guildID, userID string) bool
	HasModeratePermission(guildID, userID string) bool
}

// ActionRecord is the structured record forwarded to the notifier. The core
// never formats human-readable text.
type ActionRecord struct {
	CaseID    string
	Type      string
	ActorID   string
	TargetID  string
	Reason    string
	Timestamp time.Time
}

type Notifier interface {
	ActionApplied(ctx context.Context, guildID string, record ActionRecord)
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service applies moderation actions, records them, and notifies the modlog.
type Service struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	store    *storage.Store
	platform Platform
	identity Identity
	notifier Notifier
	logger   *zap.Logger
	clock    Clock
}

func New(store *storage.Store, platform Platform, identity Identity, logger *zap.Logger) *Service {
	return &Service{
		locks:    make(map[string]*sync.Mutex),
		store:    store,
		platform: platform,
		identity: identity,
		logger:   logger,
		clock:    realClock{},
	}
}

func (s *Service) WithClock(clock Clock) {
	s.clock = clock
}

func (s *Service) SetNotifier(notifier Notifier) {
	s.notifier = notifier
}

// CheckRank enforces the precondition for manual actions: the actor must hold
// administrator privilege or outrank the target. Runs before any persistence
// or platform call.
func (s *Service) CheckRank(guildID, actorID, targetID string) error {
	if actorID == SystemModerator {
		return nil
	}
	if s.identity.HasAdministrator(guildID, actorID) {
		return nil
	}
	if s.identity.RolePosition(guildID, targetID) >= s.identity.RolePosition(guildID, actorID) {
		return ErrInsufficientRank
	}
	return nil
}

// Warn appends a warn entry and returns the new total for the user. Warns have
// no platform call; persistence is the action itself, so a store failure is
// returned to the caller.
func (s *Service) Warn(ctx context.Context, guildID, actorID, targetID, reason string) (int, error) {
	if err := s.CheckRank(guildID, actorID, targetID); err != nil {
		return 0, err
	}

	// The warn sequence is a read-modify-write; handlers run on gateway
	// goroutines, so all warn writers for a guild go through one lock.
	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	now := s.clock.Now()
	total, err := s.store.AddWarn(ctx, storage.Warn{
		GuildID:     guildID,
		UserID:      targetID,
		ModeratorID: actorID,
		Reason:      reason,
		CreatedAt:   now,
	})
	if err != nil {
		return 0, fmt.Errorf("persist warn: %w", err)
	}
	s.record(ctx, guildID, ActionWarn, actorID, targetID, reason, now)
	return total, nil
}

func (s *Service) Warns(ctx context.Context, guildID, targetID string) ([]storage.Warn, error) {
	return s.store.ListWarns(ctx, guildID, targetID)
}

// ClearWarns removes every warn for the target and reports whether any existed.
func (s *Service) ClearWarns(ctx context.Context, guildID, actorID, targetID string) (bool, error) {
	if err := s.CheckRank(guildID, actorID, targetID); err != nil {
		return false, err
	}

	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	now := s.clock.Now()
	removed, err := s.store.ClearWarns(ctx, guildID, targetID)
	if err != nil {
		return false, fmt.Errorf("clear warns: %w", err)
	}
	if removed {
		s.record(ctx, guildID, ActionUnwarn, actorID, targetID, "all warns removed", now)
	}
	return removed, nil
}

// Mute times the target out for the given duration and mirrors the result as
// a mute record. The mirror is written only after the platform call succeeds;
// a mirror write failure is logged and the action still counts as applied.
func (s *Service) Mute(ctx context.Context, guildID, actorID, targetID string, minutes int, reason string) (time.Time, error) {
	if err := s.CheckRank(guildID, actorID, targetID); err != nil {
		return time.Time{}, err
	}
	now := s.clock.Now()
	until := now.Add(time.Duration(minutes) * time.Minute)
	if err := s.platform.Timeout(guildID, targetID, &until, reason); err != nil {
		return time.Time{}, &ActionError{Action: ActionMute, Cause: err}
	}
	if err := s.store.UpsertMute(ctx, storage.Mute{
		GuildID:     guildID,
		UserID:      targetID,
		Until:       until,
		ModeratorID: actorID,
		Reason:      reason,
	}); err != nil {
		s.logger.Warn("mute record write failed", zap.String("guild_id", guildID), zap.String("user_id", targetID), zap.Error(err))
	}
	s.record(ctx, guildID, ActionMute, actorID, targetID, reason, now)
	return until, nil
}

func (s *Service) Unmute(ctx context.Context, guildID, actorID, targetID, reason string) error {
	if err := s.CheckRank(guildID, actorID, targetID); err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.platform.Timeout(guildID, targetID, nil, reason); err != nil {
		return &ActionError{Action: ActionUnmute, Cause: err}
	}
	if err := s.store.DeleteMute(ctx, guildID, targetID); err != nil {
		s.logger.Warn("mute record delete failed", zap.String("guild_id", guildID), zap.String("user_id", targetID), zap.Error(err))
	}
	s.record(ctx, guildID, ActionUnmute, actorID, targetID, reason, now)
	return nil
}

func (s *Service) Kick(ctx context.Context, guildID, actorID, targetID, reason string) error {
	if err := s.CheckRank(guildID, actorID, targetID); err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.platform.Kick(guildID, targetID, reason); err != nil {
		return &ActionError{Action: ActionKick, Cause: err}
	}
	s.record(ctx, guildID, ActionKick, actorID, targetID, reason, now)
	return nil
}

func (s *Service) Ban(ctx context.Context, guildID, actorID, targetID, reason string, purgeDays int) error {
	if err := s.CheckRank(guildID, actorID, targetID); err != nil {
		return err
	}
	now := s.clock.Now()
	if err := s.platform.Ban(guildID, targetID, reason, purgeDays); err != nil {
		return &ActionError{Action: ActionBan, Cause: err}
	}
	s.record(ctx, guildID, ActionBan, actorID, targetID, reason, now)
	return nil
}

// Unban has no rank check: a banned user is not a member and holds no rank.
func (s *Service) Unban(ctx context.Context, guildID, actorID, targetID, reason string) error {
	now := s.clock.Now()
	if err := s.platform.Unban(guildID, targetID, reason); err != nil {
		return &ActionError{Action: ActionUnban, Cause: err}
	}
	s.record(ctx, guildID, ActionUnban, actorID, targetID, reason, now)
	return nil
}

// Apply dispatches an automated action selected by the anti-raid policy.
// The actor is always SystemModerator.
func (s *Service) Apply(ctx context.Context, guildID, targetID, action string, muteMinutes int, reason string) (ActionRecord, error) {
	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	now := s.clock.Now()
	switch action {
	case ActionBan:
		if err := s.platform.Ban(guildID, targetID, reason, 0); err != nil {
			return ActionRecord{}, &ActionError{Action: ActionBan, Cause: err}
		}
	case ActionKick:
		if err := s.platform.Kick(guildID, targetID, reason); err != nil {
			return ActionRecord{}, &ActionError{Action: ActionKick, Cause: err}
		}
	case ActionMute:
		until := now.Add(time.Duration(muteMinutes) * time.Minute)
		if err := s.platform.Timeout(guildID, targetID, &until, reason); err != nil {
			return ActionRecord{}, &ActionError{Action: ActionMute, Cause: err}
		}
		if err := s.store.UpsertMute(ctx, storage.Mute{
			GuildID:     guildID,
			UserID:      targetID,
			Until:       until,
			ModeratorID: SystemModerator,
			Reason:      reason,
		}); err != nil {
			s.logger.Warn("mute record write failed", zap.String("guild_id", guildID), zap.String("user_id", targetID), zap.Error(err))
		}
	case ActionWarn:
		if _, err := s.store.AddWarn(ctx, storage.Warn{
			GuildID:     guildID,
			UserID:      targetID,
			ModeratorID: SystemModerator,
			Reason:      reason,
			CreatedAt:   now,
		}); err != nil {
			return ActionRecord{}, fmt.Errorf("persist warn: %w", err)
		}
	default:
		return ActionRecord{}, fmt.Errorf("unknown action %q", action)
	}
	return s.record(ctx, guildID, action, SystemModerator, targetID, reason, now), nil
}

// record persists the action history row, notifies the modlog, and logs.
// History and notification are best-effort; the action already succeeded.
func (s *Service) record(ctx context.Context, guildID, action, actorID, targetID, reason string, now time.Time) ActionRecord {
	rec := ActionRecord{
		CaseID:    uuid.NewString(),
		Type:      action,
		ActorID:   actorID,
		TargetID:  targetID,
		Reason:    reason,
		Timestamp: now,
	}
	if err := s.store.AddModAction(ctx, storage.ModAction{
		CaseID:    rec.CaseID,
		GuildID:   guildID,
		Action:    rec.Type,
		ActorID:   rec.ActorID,
		TargetID:  rec.TargetID,
		Reason:    rec.Reason,
		CreatedAt: rec.Timestamp,
	}); err != nil {
		s.logger.Warn("mod action write failed", zap.String("guild_id", guildID), zap.Error(err))
	}
	if s.notifier != nil {
		s.notifier.ActionApplied(ctx, guildID, rec)
	}
	s.logger.Info("moderation action",
		zap.String("case_id", rec.CaseID),
		zap.String("guild_id", guildID),
		zap.String("action", rec.Type),
		zap.String("actor_id", rec.ActorID),
		zap.String("target_id", rec.TargetID),
		zap.String("reason", rec.Reason),
	)
	return rec
}

func (s *Service) guildLock(guildID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock := s.locks[guildID]
	if lock == nil {
		lock = &sync.Mutex{}
		s.locks[guildID] = lock
	}
	return lock
}

// History returns the most recent recorded actions for a guild.
func (s *Service) History(ctx context.Context, guildID string, limit int) ([]storage.ModAction, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.store.ListModActions(ctx, guildID, limit)
}
