package antiraid

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"shieldbot/internal/moderation"
	"shieldbot/internal/storage"
	"shieldbot/internal/tracker"

	"go.uber.org/zap"
)

// MaxMuteMinutes is the platform timeout ceiling, 28 days.
const MaxMuteMinutes = 40320

// ConfigError rejects an invalid configuration request. The stored
// configuration is left untouched.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "antiraid config: " + e.Reason
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Service runs the per-guild anti-raid policy: it feeds events into the
// activity tracker and dispatches the configured action when a user's window
// reaches the threshold. Callers must filter exempt users before OnEvent;
// exempt traffic must never enter the tracker.
type Service struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	store   *storage.Store
	tracker *tracker.Tracker
	mod     *moderation.Service
	logger  *zap.Logger
	clock   Clock
}

func New(store *storage.Store, activity *tracker.Tracker, mod *moderation.Service, logger *zap.Logger) *Service {
	return &Service{
		locks:   make(map[string]*sync.Mutex),
		store:   store,
		tracker: activity,
		mod:     mod,
		logger:  logger,
		clock:   realClock{},
	}
}

func (s *Service) WithClock(clock Clock) {
	s.clock = clock
}

// SetConfig validates and stores a guild's anti-raid policy. "off" resets the
// record to disabled defaults regardless of the other parameters.
func (s *Service) SetConfig(ctx context.Context, guildID, action string, messages, windowSeconds, muteMinutes int) (storage.AntiRaidConfig, error) {
	action = strings.ToLower(action)
	switch action {
	case "ban", "kick", "mute", "warn", "off":
	default:
		return storage.AntiRaidConfig{}, &ConfigError{Reason: fmt.Sprintf("unknown action %q, use ban, kick, mute, warn, or off", action)}
	}

	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	if action == "off" {
		cfg := storage.DefaultAntiRaidConfig(guildID)
		if err := s.store.UpsertAntiRaidConfig(ctx, cfg); err != nil {
			return storage.AntiRaidConfig{}, err
		}
		s.logger.Info("antiraid disabled", zap.String("guild_id", guildID))
		return cfg, nil
	}

	if action == "mute" && (muteMinutes < 1 || muteMinutes > MaxMuteMinutes) {
		return storage.AntiRaidConfig{}, &ConfigError{Reason: fmt.Sprintf("mute duration must be between 1 and %d minutes", MaxMuteMinutes)}
	}
	if messages < 1 {
		return storage.AntiRaidConfig{}, &ConfigError{Reason: "message threshold must be at least 1"}
	}
	if windowSeconds < 1 {
		return storage.AntiRaidConfig{}, &ConfigError{Reason: "window must be at least 1 second"}
	}

	cfg := storage.AntiRaidConfig{
		GuildID:       guildID,
		Enabled:       true,
		Action:        action,
		Messages:      messages,
		WindowSeconds: windowSeconds,
		MuteMinutes:   muteMinutes,
	}
	if err := s.store.UpsertAntiRaidConfig(ctx, cfg); err != nil {
		return storage.AntiRaidConfig{}, err
	}
	s.logger.Info("antiraid armed",
		zap.String("guild_id", guildID),
		zap.String("action", action),
		zap.Int("messages", messages),
		zap.Int("window_seconds", windowSeconds),
	)
	return cfg, nil
}

// Config returns the stored policy for a guild, defaults when never configured.
func (s *Service) Config(ctx context.Context, guildID string) (storage.AntiRaidConfig, error) {
	return s.store.GetAntiRaidConfig(ctx, guildID)
}

// OnEvent records one inbound event for a non-exempt user and dispatches the
// configured action when the window trips. The window is reset only after the
// action succeeds; a failed platform call leaves it intact so the next event
// retries.
func (s *Service) OnEvent(ctx context.Context, guildID, userID string) (*moderation.ActionRecord, error) {
	lock := s.guildLock(guildID)
	lock.Lock()
	defer lock.Unlock()

	cfg, err := s.store.GetAntiRaidConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return nil, nil
	}

	now := s.clock.Now()
	window := time.Duration(cfg.WindowSeconds) * time.Second
	count := s.tracker.Record(guildID, userID, window, now)
	if count < cfg.Messages {
		return nil, nil
	}

	reason := fmt.Sprintf("Anti-raid %s: %d messages in %ds", cfg.Action, count, cfg.WindowSeconds)
	rec, err := s.mod.Apply(ctx, guildID, userID, cfg.Action, cfg.MuteMinutes, reason)
	if err != nil {
		s.logger.Warn("antiraid action failed",
			zap.String("guild_id", guildID),
			zap.String("user_id", userID),
			zap.String("action", cfg.Action),
			zap.Error(err),
		)
		return nil, err
	}

	s.tracker.Reset(guildID, userID)
	return &rec, nil
}

// guildLock serializes read-modify-write sequences for one guild. Handlers
// run on gateway goroutines, so the single-threaded assumption does not hold.
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
