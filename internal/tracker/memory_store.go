package tracker

import (
	"context"
	"fmt"
	"time"
)

// MemoryStore mirrors GormStore semantics for tests and local development:
// the same atomicity per call, the same single-active-session behavior, the
// same content-id uniqueness, with a mutex standing in for the database's
// transaction manager.
type MemoryStore struct {
	mu        chanMutex
	sessions  map[string]*Session
	byContent map[string]string // public id -> session id
	settings  map[string]Settings
}

// chanMutex is a context-aware lock so MemoryStore honors cancellation the
// way the real store's call timeout does.
type chanMutex chan struct{}

func (m chanMutex) lock(ctx context.Context) error {
	select {
	case m <- struct{}{}:
		return nil
	case <-ctx.Done():
		return storageErr("acquire store lock", ctx.Err())
	}
}

func (m chanMutex) unlock() { <-m }

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu:        make(chanMutex, 1),
		sessions:  make(map[string]*Session),
		byContent: make(map[string]string),
		settings:  make(map[string]Settings),
	}
}

func (s *MemoryStore) StartSession(ctx context.Context, sess Session) (Session, error) {
	if err := s.mu.lock(ctx); err != nil {
		return Session{}, err
	}
	defer s.mu.unlock()

	now := sess.StartTime
	for _, existing := range s.sessions {
		if existing.EmployeeID != sess.EmployeeID {
			continue
		}
		if existing.Status == StatusRunning || existing.Status == StatusPaused {
			end := now
			existing.Status = StatusStopped
			existing.EndTime = &end
			existing.UpdatedAt = now
		}
	}

	stored := cloneSession(sess)
	s.sessions[sess.ID] = &stored
	return cloneSession(stored), nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if err := s.mu.lock(ctx); err != nil {
		return Session{}, err
	}
	defer s.mu.unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return cloneSession(*sess), nil
}

func (s *MemoryStore) GetActiveSession(ctx context.Context, employeeID string) (*Session, error) {
	if err := s.mu.lock(ctx); err != nil {
		return nil, err
	}
	defer s.mu.unlock()

	for _, sess := range s.sessions {
		if sess.EmployeeID == employeeID && sess.Status == StatusRunning {
			out := cloneSession(*sess)
			return &out, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) TransitionSession(ctx context.Context, sessionID string, to SessionStatus, now time.Time) (Session, error) {
	if err := s.mu.lock(ctx); err != nil {
		return Session{}, err
	}
	defer s.mu.unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if !legalTransition(sess.Status, to) {
		return Session{}, fmt.Errorf("%w: cannot transition %s session to %s", ErrInvalidState, sess.Status, to)
	}

	sess.Status = to
	sess.UpdatedAt = now
	if to == StatusStopped {
		end := now
		sess.EndTime = &end
	}
	return cloneSession(*sess), nil
}

func (s *MemoryStore) AppendActivity(ctx context.Context, sessionID string, sample ActivitySample, now time.Time) (Session, error) {
	if err := s.mu.lock(ctx); err != nil {
		return Session{}, err
	}
	defer s.mu.unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}

	sess.ActivityLevels = append(sess.ActivityLevels, sample)
	sess.TotalKeystrokes += sample.Keystrokes
	sess.TotalMouseClicks += sample.MouseClicks
	sess.LastActive = now
	sess.UpdatedAt = now
	return cloneSession(*sess), nil
}

func (s *MemoryStore) AppendScreenshot(ctx context.Context, sessionID string, shot Screenshot, now time.Time) (Session, error) {
	if err := s.mu.lock(ctx); err != nil {
		return Session{}, err
	}
	defer s.mu.unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	if shot.PublicID != "" {
		if _, exists := s.byContent[shot.PublicID]; exists {
			return Session{}, fmt.Errorf("%w: screenshot content id %q already stored", ErrConflict, shot.PublicID)
		}
		s.byContent[shot.PublicID] = sessionID
	}

	sess.Screenshots = append(sess.Screenshots, shot)
	sess.LastActive = now
	sess.UpdatedAt = now
	return cloneSession(*sess), nil
}

func (s *MemoryStore) GetSettings(ctx context.Context, employeeID string) (Settings, error) {
	if err := s.mu.lock(ctx); err != nil {
		return Settings{}, err
	}
	defer s.mu.unlock()

	if stored, ok := s.settings[employeeID]; ok {
		return stored, nil
	}
	return Settings{EmployeeID: employeeID}, nil
}

func (s *MemoryStore) UpsertSettings(ctx context.Context, employeeID string, patch SettingsPatch, now time.Time) (Settings, error) {
	if err := s.mu.lock(ctx); err != nil {
		return Settings{}, err
	}
	defer s.mu.unlock()

	current, ok := s.settings[employeeID]
	if !ok {
		current = Settings{EmployeeID: employeeID}
	}
	merged := applySettingsPatch(current, patch)
	merged.UpdatedAt = now
	s.settings[employeeID] = merged
	return merged, nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func cloneSession(sess Session) Session {
	out := sess
	out.ActivityLevels = append([]ActivitySample(nil), sess.ActivityLevels...)
	out.Screenshots = append([]Screenshot(nil), sess.Screenshots...)
	if sess.EndTime != nil {
		end := *sess.EndTime
		out.EndTime = &end
	}
	return out
}
