package moderation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shieldbot/internal/storage"

	"go.uber.org/zap"
)

type fakePlatform struct {
	calls     []string
	failWith  error
	lastUntil *time.Time
}

func (p *fakePlatform) Timeout(guildID, userID string, until *time.Time, reason string) error {
	p.calls = append(p.calls, "timeout")
	p.lastUntil = until
	return p.failWith
}

func (p *fakePlatform) Kick(guildID, userID, reason string) error {
	p.calls = append(p.calls, "kick")
	return p.failWith
}

func (p *fakePlatform) Ban(guildID, userID, reason string, purgeDays int) error {
	p.calls = append(p.calls, "ban")
	return p.failWith
}

func (p *fakePlatform) Unban(guildID, userID, reason string) error {
	p.calls = append(p.calls, "unban")
	return p.failWith
}

type fakeIdentity struct {
	admins    map[string]bool
	positions map[string]int
}

func (i *fakeIdentity) RolePosition(guildID, userID string) int { return i.positions[userID] }
func (i *fakeIdentity) HasAdministrator(guildID, userID string) bool {
	return i.admins[userID]
}
func (i *fakeIdentity) HasModeratePermission(guildID, userID string) bool { return false }

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestService(t *testing.T, platform *fakePlatform, identity *fakeIdentity, clock *fakeClock) (*Service, *storage.Store) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	svc := New(store, platform, identity, zap.NewNop())
	svc.WithClock(clock)
	return svc, store
}

func TestWarnTwiceKeepsIssuanceOrder(t *testing.T) {
	platform := &fakePlatform{}
	identity := &fakeIdentity{admins: map[string]bool{"mod": true}, positions: map[string]int{}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, _ := newTestService(t, platform, identity, clock)
	ctx := context.Background()

	total, err := svc.Warn(ctx, "g1", "mod", "u1", "first")
	if err != nil {
		t.Fatalf("warn: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 warn, got %d", total)
	}
	clock.now = clock.now.Add(time.Second)
	if total, err = svc.Warn(ctx, "g1", "mod", "u1", "second"); err != nil || total != 2 {
		t.Fatalf("expected 2 warns, got %d (%v)", total, err)
	}

	warns, err := svc.Warns(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("list warns: %v", err)
	}
	if len(warns) != 2 || warns[0].Reason != "first" || warns[1].Reason != "second" {
		t.Fatalf("unexpected warn order: %+v", warns)
	}

	removed, err := svc.ClearWarns(ctx, "g1", "mod", "u1")
	if err != nil || !removed {
		t.Fatalf("clear warns: removed=%t err=%v", removed, err)
	}
	if warns, _ = svc.Warns(ctx, "g1", "u1"); len(warns) != 0 {
		t.Fatalf("expected 0 warns after clear, got %d", len(warns))
	}

	if len(platform.calls) != 0 {
		t.Fatalf("warn must not touch the platform, calls: %v", platform.calls)
	}
}

func TestConcurrentWarnsAssignDistinctSequences(t *testing.T) {
	platform := &fakePlatform{}
	identity := &fakeIdentity{admins: map[string]bool{"mod": true}, positions: map[string]int{}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, _ := newTestService(t, platform, identity, clock)
	ctx := context.Background()

	// Without serialization two writers can read the same MAX(seq) and one
	// fails on the primary key.
	const writers = 8
	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Warn(ctx, "g1", "mod", "u1", "spam")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent warn: %v", err)
		}
	}

	warns, err := svc.Warns(ctx, "g1", "u1")
	if err != nil || len(warns) != writers {
		t.Fatalf("expected %d warns, got %d (%v)", writers, len(warns), err)
	}
}

func TestRankCheckBlocksEqualOrHigherTarget(t *testing.T) {
	platform := &fakePlatform{}
	identity := &fakeIdentity{admins: map[string]bool{}, positions: map[string]int{"mod": 3, "u1": 3}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, store := newTestService(t, platform, identity, clock)
	ctx := context.Background()

	if err := svc.Kick(ctx, "g1", "mod", "u1", "no"); !errors.Is(err, ErrInsufficientRank) {
		t.Fatalf("expected ErrInsufficientRank, got %v", err)
	}
	if _, err := svc.Warn(ctx, "g1", "mod", "u1", "no"); !errors.Is(err, ErrInsufficientRank) {
		t.Fatalf("expected ErrInsufficientRank, got %v", err)
	}
	if _, err := svc.Mute(ctx, "g1", "mod", "u1", 10, "no"); !errors.Is(err, ErrInsufficientRank) {
		t.Fatalf("expected ErrInsufficientRank, got %v", err)
	}

	if len(platform.calls) != 0 {
		t.Fatalf("expected zero platform calls, got %v", platform.calls)
	}
	if actions, _ := store.ListModActions(ctx, "g1", 10); len(actions) != 0 {
		t.Fatalf("expected zero persisted actions, got %d", len(actions))
	}
	if warns, _ := store.ListWarns(ctx, "g1", "u1"); len(warns) != 0 {
		t.Fatalf("expected zero persisted warns, got %d", len(warns))
	}
}

func TestAdministratorBypassesRankCheck(t *testing.T) {
	platform := &fakePlatform{}
	identity := &fakeIdentity{admins: map[string]bool{"mod": true}, positions: map[string]int{"mod": 1, "u1": 5}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, _ := newTestService(t, platform, identity, clock)

	if err := svc.Kick(context.Background(), "g1", "mod", "u1", ""); err != nil {
		t.Fatalf("admin kick: %v", err)
	}
	if len(platform.calls) != 1 || platform.calls[0] != "kick" {
		t.Fatalf("expected one kick call, got %v", platform.calls)
	}
}

func TestMuteWritesRecordAfterPlatformSuccess(t *testing.T) {
	platform := &fakePlatform{}
	identity := &fakeIdentity{admins: map[string]bool{"mod": true}, positions: map[string]int{}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, store := newTestService(t, platform, identity, clock)
	ctx := context.Background()

	until, err := svc.Mute(ctx, "g1", "mod", "u1", 30, "spam")
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	want := clock.now.Add(30 * time.Minute)
	if !until.Equal(want) {
		t.Fatalf("expected until %v, got %v", want, until)
	}
	if platform.lastUntil == nil || !platform.lastUntil.Equal(want) {
		t.Fatalf("platform received wrong until: %v", platform.lastUntil)
	}

	mute, found, err := store.GetMute(ctx, "g1", "u1")
	if err != nil || !found {
		t.Fatalf("expected mute record, found=%t err=%v", found, err)
	}
	if mute.ModeratorID != "mod" || mute.Until.Unix() != want.Unix() {
		t.Fatalf("unexpected mute record: %+v", mute)
	}
}

func TestMuteFailurePersistsNothing(t *testing.T) {
	platform := &fakePlatform{failWith: errors.New("missing permissions")}
	identity := &fakeIdentity{admins: map[string]bool{"mod": true}, positions: map[string]int{}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, store := newTestService(t, platform, identity, clock)
	ctx := context.Background()

	_, err := svc.Mute(ctx, "g1", "mod", "u1", 30, "spam")
	var actionErr *ActionError
	if !errors.As(err, &actionErr) || actionErr.Action != ActionMute {
		t.Fatalf("expected mute ActionError, got %v", err)
	}

	if _, found, _ := store.GetMute(ctx, "g1", "u1"); found {
		t.Fatalf("mute record written despite platform failure")
	}
	if actions, _ := store.ListModActions(ctx, "g1", 10); len(actions) != 0 {
		t.Fatalf("history written despite platform failure")
	}
}

func TestUnmuteDeletesRecord(t *testing.T) {
	platform := &fakePlatform{}
	identity := &fakeIdentity{admins: map[string]bool{"mod": true}, positions: map[string]int{}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, store := newTestService(t, platform, identity, clock)
	ctx := context.Background()

	if _, err := svc.Mute(ctx, "g1", "mod", "u1", 30, "spam"); err != nil {
		t.Fatalf("mute: %v", err)
	}
	if err := svc.Unmute(ctx, "g1", "mod", "u1", "appealed"); err != nil {
		t.Fatalf("unmute: %v", err)
	}
	if platform.lastUntil != nil {
		t.Fatalf("unmute must clear the timeout, got until %v", platform.lastUntil)
	}
	if _, found, _ := store.GetMute(ctx, "g1", "u1"); found {
		t.Fatalf("mute record survived unmute")
	}
}

func TestApplyWarnRecordsSystemModerator(t *testing.T) {
	platform := &fakePlatform{}
	identity := &fakeIdentity{admins: map[string]bool{}, positions: map[string]int{}}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	svc, store := newTestService(t, platform, identity, clock)
	ctx := context.Background()

	rec, err := svc.Apply(ctx, "g1", "u1", ActionWarn, 0, "Spam detected")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if rec.ActorID != SystemModerator || rec.Type != ActionWarn || rec.CaseID == "" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	warns, err := store.ListWarns(ctx, "g1", "u1")
	if err != nil || len(warns) != 1 {
		t.Fatalf("expected one warn, got %d (%v)", len(warns), err)
	}
	if warns[0].ModeratorID != SystemModerator {
		t.Fatalf("expected system moderator, got %q", warns[0].ModeratorID)
	}
	if len(platform.calls) != 0 {
		t.Fatalf("automated warn must not touch the platform, calls: %v", platform.calls)
	}
}
