package tracker

import (
	"context"
	"time"
)

const defaultIntervalMinutes = 10

// Store is the durable session store. Implementations must make each
// mutation atomic: StartSession stops every active session of the employee
// and creates the new one as one unit, AppendActivity appends the sample and
// bumps the running totals as one unit, and AppendScreenshot enforces
// content-id uniqueness at append time rather than by a separate pre-check.
type Store interface {
	StartSession(ctx context.Context, sess Session) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	GetActiveSession(ctx context.Context, employeeID string) (*Session, error)
	TransitionSession(ctx context.Context, sessionID string, to SessionStatus, now time.Time) (Session, error)
	AppendActivity(ctx context.Context, sessionID string, sample ActivitySample, now time.Time) (Session, error)
	AppendScreenshot(ctx context.Context, sessionID string, shot Screenshot, now time.Time) (Session, error)
	GetSettings(ctx context.Context, employeeID string) (Settings, error)
	UpsertSettings(ctx context.Context, employeeID string, patch SettingsPatch, now time.Time) (Settings, error)
	Close() error
}

// legalTransition is the lifecycle state machine. stopped is terminal.
func legalTransition(from, to SessionStatus) bool {
	switch to {
	case StatusPaused:
		return from == StatusRunning
	case StatusRunning:
		return from == StatusPaused
	case StatusStopped:
		return from == StatusRunning || from == StatusPaused
	default:
		return false
	}
}

// applySampleDefaults assigns the explicit defaults every ingestion boundary
// guarantees before the sample reaches the atomic store operation.
func applySampleDefaults(sample ActivitySample, now time.Time) ActivitySample {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}
	if sample.IntervalMinutes <= 0 {
		sample.IntervalMinutes = defaultIntervalMinutes
	}
	return sample
}

func applySettingsPatch(current Settings, patch SettingsPatch) Settings {
	if patch.CaptureIntervalMinutes != nil {
		current.CaptureIntervalMinutes = *patch.CaptureIntervalMinutes
	}
	if patch.BlurScreenshots != nil {
		current.BlurScreenshots = *patch.BlurScreenshots
	}
	if patch.IdleThresholdMinutes != nil {
		current.IdleThresholdMinutes = *patch.IdleThresholdMinutes
	}
	return current
}
