package tracker

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	dbpkg "hrstack.local/projects/tracker-gateway/internal/db"
)

// GormStore is the durable store over a lazily-established shared
// connection. Schema migration runs once per process lifetime, at
// store-connection time, and is never reattempted.
type GormStore struct {
	handle *dbpkg.Handle

	migrateOnce sync.Once
	migrateErr  error
}

func NewGormStore(driver, dsn string) (*GormStore, error) {
	store := &GormStore{handle: dbpkg.NewHandle(driver, dsn)}

	// Connect eagerly so a bad DSN fails at startup, not on the first
	// request.
	if _, err := store.conn(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *GormStore) conn(ctx context.Context) (*gorm.DB, error) {
	gormDB, err := s.handle.DB()
	if err != nil {
		return nil, storageErr("connect store", err)
	}
	s.migrateOnce.Do(func() {
		s.migrateErr = gormDB.AutoMigrate(&sessionRow{}, &activityRow{}, &screenshotRow{}, &settingsRow{})
	})
	if s.migrateErr != nil {
		return nil, storageErr("migrate store", s.migrateErr)
	}
	return gormDB.WithContext(ctx), nil
}

func (s *GormStore) StartSession(ctx context.Context, sess Session) (Session, error) {
	gormDB, err := s.conn(ctx)
	if err != nil {
		return Session{}, err
	}

	// Two racing Starts can both pass the stop-all update before either
	// insert commits; the partial unique index on running sessions rejects
	// the loser, which then retries and stops the winner's row first.
	// Last-writer-wins on the active session, never two running.
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := gormDB.Transaction(func(tx *gorm.DB) error {
			if err := stopActiveSessions(tx, sess.EmployeeID, sess.StartTime); err != nil {
				return err
			}
			row := sessionRowFromSession(sess)
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			return nil
		})
		if err == nil {
			return s.loadSession(gormDB, sess.ID)
		}
		lastErr = err
		if !isDuplicateKey(err) {
			break
		}
	}
	return Session{}, s.fail("start session", lastErr)
}

func stopActiveSessions(tx *gorm.DB, employeeID string, now time.Time) error {
	err := tx.Model(&sessionRow{}).
		Where("employee_id = ? AND status IN ?", employeeID, []string{string(StatusRunning), string(StatusPaused)}).
		Updates(map[string]any{
			"status":     string(StatusStopped),
			"end_time":   &now,
			"updated_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("stop active sessions: %w", err)
	}
	return nil
}

func (s *GormStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	gormDB, err := s.conn(ctx)
	if err != nil {
		return Session{}, err
	}
	return s.loadSession(gormDB, sessionID)
}

func (s *GormStore) GetActiveSession(ctx context.Context, employeeID string) (*Session, error) {
	gormDB, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var row sessionRow
	err = gormDB.
		Where("employee_id = ? AND status = ?", employeeID, string(StatusRunning)).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, s.fail("get active session", err)
	}
	sess, err := s.loadSession(gormDB, row.SessionID)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *GormStore) TransitionSession(ctx context.Context, sessionID string, to SessionStatus, now time.Time) (Session, error) {
	gormDB, err := s.conn(ctx)
	if err != nil {
		return Session{}, err
	}

	err = gormDB.Transaction(func(tx *gorm.DB) error {
		var row sessionRow
		if err := tx.Where("session_id = ?", sessionID).Take(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("get session: %w", err)
		}

		from := SessionStatus(row.Status)
		if !legalTransition(from, to) {
			return fmt.Errorf("%w: cannot transition %s session to %s", ErrInvalidState, from, to)
		}

		updates := map[string]any{
			"status":     string(to),
			"updated_at": now,
		}
		if to == StatusStopped {
			updates["end_time"] = &now
		}

		// The status guard closes the race against a concurrent transition
		// that committed between the read above and this write.
		res := tx.Model(&sessionRow{}).
			Where("session_id = ? AND status = ?", sessionID, string(from)).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("update session status: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: session %s changed state concurrently", ErrInvalidState, sessionID)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidState) {
			return Session{}, err
		}
		return Session{}, s.fail("transition session", err)
	}
	return s.loadSession(gormDB, sessionID)
}

func (s *GormStore) AppendActivity(ctx context.Context, sessionID string, sample ActivitySample, now time.Time) (Session, error) {
	gormDB, err := s.conn(ctx)
	if err != nil {
		return Session{}, err
	}

	err = gormDB.Transaction(func(tx *gorm.DB) error {
		if err := requireSession(tx, sessionID); err != nil {
			return err
		}

		row := activityRowFromSample(sessionID, sample, now)
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("append activity: %w", err)
		}

		// Counter bumps ride the same transaction as the append so totals
		// always equal the sum of stored samples.
		err := tx.Model(&sessionRow{}).
			Where("session_id = ?", sessionID).
			UpdateColumns(map[string]any{
				"total_keystrokes":   gorm.Expr("total_keystrokes + ?", sample.Keystrokes),
				"total_mouse_clicks": gorm.Expr("total_mouse_clicks + ?", sample.MouseClicks),
				"last_active":        now,
				"updated_at":         now,
			}).Error
		if err != nil {
			return fmt.Errorf("bump session totals: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, err
		}
		return Session{}, s.fail("record activity", err)
	}
	return s.loadSession(gormDB, sessionID)
}

func (s *GormStore) AppendScreenshot(ctx context.Context, sessionID string, shot Screenshot, now time.Time) (Session, error) {
	gormDB, err := s.conn(ctx)
	if err != nil {
		return Session{}, err
	}

	err = gormDB.Transaction(func(tx *gorm.DB) error {
		if err := requireSession(tx, sessionID); err != nil {
			return err
		}

		row := screenshotRowFromRecord(sessionID, shot, now)
		if err := tx.Create(&row).Error; err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("%w: screenshot content id %q already stored", ErrConflict, shot.PublicID)
			}
			return fmt.Errorf("append screenshot: %w", err)
		}

		err := tx.Model(&sessionRow{}).
			Where("session_id = ?", sessionID).
			UpdateColumns(map[string]any{
				"last_active": now,
				"updated_at":  now,
			}).Error
		if err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
			return Session{}, err
		}
		return Session{}, s.fail("capture screenshot", err)
	}
	return s.loadSession(gormDB, sessionID)
}

func (s *GormStore) GetSettings(ctx context.Context, employeeID string) (Settings, error) {
	gormDB, err := s.conn(ctx)
	if err != nil {
		return Settings{}, err
	}

	var row settingsRow
	err = gormDB.Where("employee_id = ?", employeeID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Absence is normal steady state: zero-value defaults.
			return Settings{EmployeeID: employeeID}, nil
		}
		return Settings{}, s.fail("get settings", err)
	}
	return row.toSettings(), nil
}

func (s *GormStore) UpsertSettings(ctx context.Context, employeeID string, patch SettingsPatch, now time.Time) (Settings, error) {
	gormDB, err := s.conn(ctx)
	if err != nil {
		return Settings{}, err
	}

	var out Settings
	err = gormDB.Transaction(func(tx *gorm.DB) error {
		var row settingsRow
		err := tx.Where("employee_id = ?", employeeID).Take(&row).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("get settings: %w", err)
		}
		creating := errors.Is(err, gorm.ErrRecordNotFound)

		merged := applySettingsPatch(Settings{
			EmployeeID:             employeeID,
			CaptureIntervalMinutes: row.CaptureIntervalMinutes,
			BlurScreenshots:        row.BlurScreenshots,
			IdleThresholdMinutes:   row.IdleThresholdMinutes,
		}, patch)

		next := settingsRow{
			EmployeeID:             employeeID,
			CaptureIntervalMinutes: merged.CaptureIntervalMinutes,
			BlurScreenshots:        merged.BlurScreenshots,
			IdleThresholdMinutes:   merged.IdleThresholdMinutes,
			CreatedAt:              row.CreatedAt,
			UpdatedAt:              now,
		}
		if creating {
			next.CreatedAt = now
			if err := tx.Create(&next).Error; err != nil {
				return fmt.Errorf("create settings: %w", err)
			}
		} else if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("update settings: %w", err)
		}

		out = next.toSettings()
		return nil
	})
	if err != nil {
		return Settings{}, s.fail("upsert settings", err)
	}
	return out, nil
}

func (s *GormStore) Close() error {
	return s.handle.Close()
}

// loadSession assembles the full session snapshot: the row plus its samples
// and screenshots in arrival order.
func (s *GormStore) loadSession(gormDB *gorm.DB, sessionID string) (Session, error) {
	var row sessionRow
	err := gormDB.Where("session_id = ?", sessionID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Session{}, ErrNotFound
		}
		return Session{}, s.fail("get session", err)
	}
	sess := row.toSession()

	var activityRows []activityRow
	if err := gormDB.Where("session_id = ?", sessionID).Order("seq ASC").Find(&activityRows).Error; err != nil {
		return Session{}, s.fail("load activity samples", err)
	}
	sess.ActivityLevels = make([]ActivitySample, 0, len(activityRows))
	for _, a := range activityRows {
		sess.ActivityLevels = append(sess.ActivityLevels, a.toSample())
	}

	var screenshotRows []screenshotRow
	if err := gormDB.Where("session_id = ?", sessionID).Order("seq ASC").Find(&screenshotRows).Error; err != nil {
		return Session{}, s.fail("load screenshots", err)
	}
	sess.Screenshots = make([]Screenshot, 0, len(screenshotRows))
	for _, sc := range screenshotRows {
		sess.Screenshots = append(sess.Screenshots, sc.toScreenshot())
	}
	return sess, nil
}

func requireSession(tx *gorm.DB, sessionID string) error {
	var row sessionRow
	if err := tx.Select("session_id").Where("session_id = ?", sessionID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("get session: %w", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageFailure, err)
}

// fail wraps a failed store call and, when the error indicates the
// connection itself is broken, drops the cached connection so the next call
// re-dials instead of failing forever.
func (s *GormStore) fail(op string, err error) error {
	if isConnectionFailure(err) {
		s.handle.Reset()
	}
	return storageErr(op, err)
}

func isConnectionFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "database is closed") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "broken pipe")
}

// isDuplicateKey works across the translated gorm error and the raw driver
// messages sqlite and postgres emit for unique-index violations.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed") && strings.Contains(msg, "unique") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
