package storage

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestAntiRaidConfigRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg, err := store.GetAntiRaidConfig(ctx, "g1")
	if err != nil {
		t.Fatalf("get defaults: %v", err)
	}
	if cfg.Enabled || cfg.Action != "kick" || cfg.Messages != 20 || cfg.WindowSeconds != 5 || cfg.MuteMinutes != 30 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}

	cfg = AntiRaidConfig{GuildID: "g1", Enabled: true, Action: "mute", Messages: 5, WindowSeconds: 4, MuteMinutes: 120}
	if err := store.UpsertAntiRaidConfig(ctx, cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.GetAntiRaidConfig(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != cfg {
		t.Fatalf("round trip mismatch: want %+v, got %+v", cfg, got)
	}

	// Overwrite, never insert twice.
	cfg.Action = "ban"
	cfg.Enabled = false
	if err := store.UpsertAntiRaidConfig(ctx, cfg); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if got, _ = store.GetAntiRaidConfig(ctx, "g1"); got != cfg {
		t.Fatalf("overwrite mismatch: want %+v, got %+v", cfg, got)
	}
}

func TestWarnsRoundTripAndClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	for i, reason := range []string{"first", "second", "third"} {
		total, err := store.AddWarn(ctx, Warn{
			GuildID:     "g1",
			UserID:      "u1",
			ModeratorID: "mod",
			Reason:      reason,
			CreatedAt:   now,
		})
		if err != nil {
			t.Fatalf("add warn %d: %v", i+1, err)
		}
		if total != i+1 {
			t.Fatalf("expected total %d, got %d", i+1, total)
		}
	}

	warns, err := store.ListWarns(ctx, "g1", "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(warns) != 3 {
		t.Fatalf("expected 3 warns, got %d", len(warns))
	}
	// Same-second warns keep issuance order.
	if warns[0].Reason != "first" || warns[1].Reason != "second" || warns[2].Reason != "third" {
		t.Fatalf("order lost: %+v", warns)
	}
	if !warns[0].CreatedAt.Equal(now) {
		t.Fatalf("timestamp mismatch: %v", warns[0].CreatedAt)
	}

	removed, err := store.ClearWarns(ctx, "g1", "u1")
	if err != nil || !removed {
		t.Fatalf("clear: removed=%t err=%v", removed, err)
	}
	if removed, _ = store.ClearWarns(ctx, "g1", "u1"); removed {
		t.Fatalf("second clear should remove nothing")
	}
	if warns, _ = store.ListWarns(ctx, "g1", "u1"); len(warns) != 0 {
		t.Fatalf("expected 0 warns, got %d", len(warns))
	}
}

func TestMutesRoundTripAndSweep(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	mute := Mute{GuildID: "g1", UserID: "u1", Until: now.Add(30 * time.Minute), ModeratorID: "mod", Reason: "spam"}
	if err := store.UpsertMute(ctx, mute); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, found, err := store.GetMute(ctx, "g1", "u1")
	if err != nil || !found {
		t.Fatalf("get: found=%t err=%v", found, err)
	}
	if got.ModeratorID != "mod" || got.Reason != "spam" || got.Until.Unix() != mute.Until.Unix() {
		t.Fatalf("round trip mismatch: %+v", got)
	}

	// At most one live record per (guild, user).
	mute.Until = now.Add(time.Hour)
	mute.Reason = "again"
	if err := store.UpsertMute(ctx, mute); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if got, _, _ = store.GetMute(ctx, "g1", "u1"); got.Reason != "again" {
		t.Fatalf("expected superseded record, got %+v", got)
	}

	if err := store.UpsertMute(ctx, Mute{GuildID: "g1", UserID: "u2", Until: now.Add(-time.Minute), ModeratorID: "mod"}); err != nil {
		t.Fatalf("upsert expired: %v", err)
	}
	removed, err := store.DeleteExpiredMutes(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 swept mute, got %d", removed)
	}
	if _, found, _ = store.GetMute(ctx, "g1", "u1"); !found {
		t.Fatalf("live mute swept")
	}

	if err := store.DeleteMute(ctx, "g1", "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, _ = store.GetMute(ctx, "g1", "u1"); found {
		t.Fatalf("mute survived delete")
	}
}

func TestModlogTargetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	channel, err := store.ModlogChannel(ctx, "g1")
	if err != nil {
		t.Fatalf("get unset: %v", err)
	}
	if channel != "" {
		t.Fatalf("expected empty channel, got %q", channel)
	}

	if err := store.SetModlogChannel(ctx, "g1", "c1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.SetModlogChannel(ctx, "g1", "c2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if channel, _ = store.ModlogChannel(ctx, "g1"); channel != "c2" {
		t.Fatalf("expected c2, got %q", channel)
	}
}

func TestModActionsListAndCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := ModAction{CaseID: "case-old", GuildID: "g1", Action: "kick", ActorID: "system", TargetID: "u1", CreatedAt: now.AddDate(0, 0, -60)}
	recent := ModAction{CaseID: "case-new", GuildID: "g1", Action: "mute", ActorID: "mod", TargetID: "u2", Reason: "spam", CreatedAt: now}
	for _, action := range []ModAction{old, recent} {
		if err := store.AddModAction(ctx, action); err != nil {
			t.Fatalf("add %s: %v", action.CaseID, err)
		}
	}

	actions, err := store.ListModActions(ctx, "g1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 2 || actions[0].CaseID != "case-new" {
		t.Fatalf("expected newest first, got %+v", actions)
	}

	if err := store.CleanupModActions(ctx, 30); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if actions, _ = store.ListModActions(ctx, "g1", 10); len(actions) != 1 || actions[0].CaseID != "case-new" {
		t.Fatalf("expected only recent action, got %+v", actions)
	}
}

func TestModActionsSameSecondOrderIsDeterministic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	// Timestamps have second granularity; case_id breaks the tie.
	for _, caseID := range []string{"case-b", "case-a", "case-c"} {
		if err := store.AddModAction(ctx, ModAction{CaseID: caseID, GuildID: "g1", Action: "warn", ActorID: "mod", TargetID: "u1", CreatedAt: now}); err != nil {
			t.Fatalf("add %s: %v", caseID, err)
		}
	}

	want := []string{"case-c", "case-b", "case-a"}
	for i := 0; i < 3; i++ {
		actions, err := store.ListModActions(ctx, "g1", 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for j, caseID := range want {
			if actions[j].CaseID != caseID {
				t.Fatalf("pass %d: expected %v, got %+v", i, want, actions)
			}
		}
	}
}

func TestInMemoryStoreSharesOneDatabase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cfg := AntiRaidConfig{GuildID: "g1", Enabled: true, Action: "kick", Messages: 10, WindowSeconds: 5, MuteMinutes: 30}
	if err := store.UpsertAntiRaidConfig(ctx, cfg); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Each in-memory connection is its own database; a second pooled
	// connection would see no tables at all.
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := store.GetAntiRaidConfig(ctx, "g1")
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent read: %v", err)
		}
	}
}
