package tracker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"hrstack.local/projects/tracker-gateway/internal/ids"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "tracker.db")
	store, err := NewGormStore("sqlite", dbPath)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testSession(employeeID, title string) Session {
	now := time.Now().UTC()
	return Session{
		ID:             ids.NewSession(),
		EmployeeID:     employeeID,
		Title:          title,
		Status:         StatusRunning,
		StartTime:      now,
		LastActive:     now,
		ActivityLevels: []ActivitySample{},
		Screenshots:    []Screenshot{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestGormStoreStartStopsPriorActiveSessions(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	first, err := store.StartSession(ctx, testSession("emp_1", "First task"))
	if err != nil {
		t.Fatalf("start first session: %v", err)
	}
	if first.Status != StatusRunning {
		t.Fatalf("expected running, got %s", first.Status)
	}

	second, err := store.StartSession(ctx, testSession("emp_1", "Second task"))
	if err != nil {
		t.Fatalf("start second session: %v", err)
	}

	reloaded, err := store.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("get first session: %v", err)
	}
	if reloaded.Status != StatusStopped {
		t.Fatalf("expected first session stopped, got %s", reloaded.Status)
	}
	if reloaded.EndTime == nil {
		t.Fatal("expected first session end time set")
	}

	active, err := store.GetActiveSession(ctx, "emp_1")
	if err != nil {
		t.Fatalf("get active session: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("expected active session %s, got %+v", second.ID, active)
	}
}

func TestGormStoreStartAlsoStopsPausedSessions(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	first, err := store.StartSession(ctx, testSession("emp_2", "Paused task"))
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := store.TransitionSession(ctx, first.ID, StatusPaused, time.Now().UTC()); err != nil {
		t.Fatalf("pause session: %v", err)
	}

	if _, err := store.StartSession(ctx, testSession("emp_2", "Next task")); err != nil {
		t.Fatalf("start next session: %v", err)
	}

	reloaded, err := store.GetSession(ctx, first.ID)
	if err != nil {
		t.Fatalf("get paused session: %v", err)
	}
	if reloaded.Status != StatusStopped {
		t.Fatalf("expected paused session stopped, got %s", reloaded.Status)
	}
}

func TestGormStoreGetActiveSessionNoneIsNotAnError(t *testing.T) {
	store := newTestGormStore(t)

	active, err := store.GetActiveSession(context.Background(), "emp_none")
	if err != nil {
		t.Fatalf("get active session: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active session, got %+v", active)
	}
}

func TestGormStoreTransitions(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess, err := store.StartSession(ctx, testSession("emp_3", "Lifecycle"))
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	// running -> running is illegal (resume only from paused).
	if _, err := store.TransitionSession(ctx, sess.ID, StatusRunning, now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state resuming a running session, got %v", err)
	}

	paused, err := store.TransitionSession(ctx, sess.ID, StatusPaused, now)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != StatusPaused {
		t.Fatalf("expected paused, got %s", paused.Status)
	}

	resumed, err := store.TransitionSession(ctx, sess.ID, StatusRunning, now)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != StatusRunning {
		t.Fatalf("expected running, got %s", resumed.Status)
	}

	stopped, err := store.TransitionSession(ctx, sess.ID, StatusStopped, now)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != StatusStopped || stopped.EndTime == nil {
		t.Fatalf("expected stopped with end time, got %+v", stopped)
	}

	// stopped is terminal.
	for _, to := range []SessionStatus{StatusRunning, StatusPaused, StatusStopped} {
		if _, err := store.TransitionSession(ctx, sess.ID, to, now); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("expected invalid state leaving stopped for %s, got %v", to, err)
		}
	}

	if _, err := store.TransitionSession(ctx, "sess_missing", StatusStopped, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGormStoreAppendActivityKeepsCountersConsistent(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess, err := store.StartSession(ctx, testSession("emp_4", "Counting"))
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	samples := []ActivitySample{
		{Timestamp: now, Keystrokes: 5, MouseClicks: 2, IntervalMinutes: 10},
		{Timestamp: now.Add(-time.Minute), Keystrokes: 3, MouseClicks: 0, IntervalMinutes: 10},
		{Timestamp: now.Add(time.Minute), Keystrokes: 0, MouseClicks: 7, IsIdle: true, IntervalMinutes: 5},
	}
	var updated Session
	for _, sample := range samples {
		updated, err = store.AppendActivity(ctx, sess.ID, sample, now)
		if err != nil {
			t.Fatalf("append activity: %v", err)
		}
	}

	if updated.TotalKeystrokes != 8 || updated.TotalMouseClicks != 9 {
		t.Fatalf("unexpected totals: keystrokes=%d clicks=%d", updated.TotalKeystrokes, updated.TotalMouseClicks)
	}
	if len(updated.ActivityLevels) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(updated.ActivityLevels))
	}

	// Arrival order is preserved even though the second sample's timestamp
	// is earlier.
	var sumKeys, sumClicks int64
	for _, s := range updated.ActivityLevels {
		sumKeys += s.Keystrokes
		sumClicks += s.MouseClicks
	}
	if sumKeys != updated.TotalKeystrokes || sumClicks != updated.TotalMouseClicks {
		t.Fatalf("totals diverge from sample sums: %d/%d vs %d/%d", updated.TotalKeystrokes, updated.TotalMouseClicks, sumKeys, sumClicks)
	}
	if updated.ActivityLevels[1].Keystrokes != 3 {
		t.Fatalf("expected second sample in arrival order, got %+v", updated.ActivityLevels[1])
	}
}

func TestGormStoreAppendActivityUnknownSession(t *testing.T) {
	store := newTestGormStore(t)

	_, err := store.AppendActivity(context.Background(), "sess_missing", ActivitySample{IntervalMinutes: 10}, time.Now().UTC())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGormStoreLateTelemetryAgainstStoppedSessionIsAccepted(t *testing.T) {
	// Accepting samples for stopped sessions is intentional: offline agents
	// flush their backlog after the session ended.
	store := newTestGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sess, err := store.StartSession(ctx, testSession("emp_5", "Offline agent"))
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := store.TransitionSession(ctx, sess.ID, StatusStopped, now); err != nil {
		t.Fatalf("stop session: %v", err)
	}

	updated, err := store.AppendActivity(ctx, sess.ID, ActivitySample{Keystrokes: 4, IntervalMinutes: 10}, now)
	if err != nil {
		t.Fatalf("late append rejected: %v", err)
	}
	if updated.TotalKeystrokes != 4 || len(updated.ActivityLevels) != 1 {
		t.Fatalf("late sample not reflected: %+v", updated)
	}
	if updated.Status != StatusStopped {
		t.Fatalf("late append must not revive the session, got %s", updated.Status)
	}
}

func TestGormStoreScreenshotContentIDUniqueness(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first, err := store.StartSession(ctx, testSession("emp_6", "Shots"))
	if err != nil {
		t.Fatalf("start first session: %v", err)
	}

	shot := Screenshot{
		URL:      "https://objects.local/image/upload/v1/screenshots/abc.png",
		PublicID: "screenshots/abc",
	}
	updated, err := store.AppendScreenshot(ctx, first.ID, shot, now)
	if err != nil {
		t.Fatalf("append screenshot: %v", err)
	}
	if len(updated.Screenshots) != 1 {
		t.Fatalf("expected 1 screenshot, got %d", len(updated.Screenshots))
	}

	// Same content id again, same session: must conflict, not overwrite.
	if _, err := store.AppendScreenshot(ctx, first.ID, shot, now); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Uniqueness spans the whole store, not just one session.
	second, err := store.StartSession(ctx, testSession("emp_7", "Other employee"))
	if err != nil {
		t.Fatalf("start second session: %v", err)
	}
	if _, err := store.AppendScreenshot(ctx, second.ID, shot, now); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected cross-session conflict, got %v", err)
	}

	// Records without a content id never collide.
	legacy := Screenshot{URL: "https://objects.local/legacy-1.png"}
	if _, err := store.AppendScreenshot(ctx, second.ID, legacy, now); err != nil {
		t.Fatalf("append legacy screenshot: %v", err)
	}
	legacy2 := Screenshot{URL: "https://objects.local/legacy-2.png"}
	if _, err := store.AppendScreenshot(ctx, second.ID, legacy2, now); err != nil {
		t.Fatalf("append second legacy screenshot: %v", err)
	}
}

func TestGormStoreSettingsUpsertMergesFields(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// Absent settings read as zero-value defaults, not an error.
	settings, err := store.GetSettings(ctx, "emp_8")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.EmployeeID != "emp_8" || settings.CaptureIntervalMinutes != 0 {
		t.Fatalf("unexpected default settings: %+v", settings)
	}

	interval := 5
	created, err := store.UpsertSettings(ctx, "emp_8", SettingsPatch{CaptureIntervalMinutes: &interval}, now)
	if err != nil {
		t.Fatalf("create settings: %v", err)
	}
	if created.CaptureIntervalMinutes != 5 {
		t.Fatalf("expected interval 5, got %d", created.CaptureIntervalMinutes)
	}

	blur := true
	updated, err := store.UpsertSettings(ctx, "emp_8", SettingsPatch{BlurScreenshots: &blur}, now)
	if err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if !updated.BlurScreenshots {
		t.Fatal("expected blur enabled")
	}
	if updated.CaptureIntervalMinutes != 5 {
		t.Fatalf("partial upsert clobbered interval: %d", updated.CaptureIntervalMinutes)
	}
}

func TestGormStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tracker.db")
	store, err := NewGormStore("sqlite", dbPath)
	if err != nil {
		t.Fatalf("new gorm store: %v", err)
	}
	ctx := context.Background()
	now := time.Now().UTC()

	sess, err := store.StartSession(ctx, testSession("emp_9", "Durable"))
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if _, err := store.AppendActivity(ctx, sess.ID, ActivitySample{Keystrokes: 2, IntervalMinutes: 10}, now); err != nil {
		t.Fatalf("append activity: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := NewGormStore("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen gorm store: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	loaded, err := reopened.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session after reopen: %v", err)
	}
	if loaded.TotalKeystrokes != 2 || len(loaded.ActivityLevels) != 1 {
		t.Fatalf("session not persisted: %+v", loaded)
	}
}

func TestGormStoreRecoversAfterConnectionLoss(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	sess, err := store.StartSession(ctx, testSession("emp_1", "Resilient"))
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	// Break the cached connection underneath the store.
	gormDB, err := store.handle.DB()
	if err != nil {
		t.Fatalf("handle db: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close sql db: %v", err)
	}

	if _, err := store.GetSession(ctx, sess.ID); !errors.Is(err, ErrStorageFailure) {
		t.Fatalf("expected storage failure on broken connection, got %v", err)
	}

	// The failed call dropped the cached connection, so this one re-dials.
	recovered, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session after redial: %v", err)
	}
	if recovered.ID != sess.ID || recovered.Status != StatusRunning {
		t.Fatalf("unexpected session after redial: %+v", recovered)
	}
}
