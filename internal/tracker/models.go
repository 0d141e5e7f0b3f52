package tracker

import "time"

type SessionStatus string

const (
	StatusRunning SessionStatus = "running"
	StatusPaused  SessionStatus = "paused"
	StatusStopped SessionStatus = "stopped"
)

// Session is one tracked work interval for one employee. At most one session
// per employee is running at any instant.
type Session struct {
	ID               string           `json:"id"`
	EmployeeID       string           `json:"employeeId"`
	ProjectID        string           `json:"projectId,omitempty"`
	Title            string           `json:"title"`
	Description      string           `json:"description,omitempty"`
	Status           SessionStatus    `json:"status"`
	StartTime        time.Time        `json:"startTime"`
	EndTime          *time.Time       `json:"endTime,omitempty"`
	LastActive       time.Time        `json:"lastActive"`
	TotalKeystrokes  int64            `json:"totalKeystrokes"`
	TotalMouseClicks int64            `json:"totalMouseClicks"`
	ActivityLevels   []ActivitySample `json:"activityLevels"`
	Screenshots      []Screenshot     `json:"screenshots"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ActivitySample is one periodic telemetry report from the desktop agent.
// Samples are append-only and kept in arrival order, which is not
// necessarily timestamp order.
type ActivitySample struct {
	Timestamp         time.Time `json:"timestamp"`
	Keystrokes        int64     `json:"keystrokes"`
	MouseClicks       int64     `json:"mouseClicks"`
	MouseMoves        int64     `json:"mouseMoves"`
	Scrolls           int64     `json:"scrolls"`
	WindowTitle       string    `json:"windowTitle,omitempty"`
	ApplicationName   string    `json:"applicationName,omitempty"`
	ProductivityScore float64   `json:"productivityScore"`
	IsIdle            bool      `json:"isIdle"`
	IntervalMinutes   int       `json:"intervalMinutes"`
}

// Screenshot is one captured frame with derived thumbnail/blur variants.
// PublicID is the object-store content id; it is unique across the whole
// store among records where it is present.
type Screenshot struct {
	URL             string    `json:"url"`
	ThumbnailURL    string    `json:"thumbnailUrl"`
	BlurredURL      string    `json:"blurredUrl"`
	PublicID        string    `json:"publicId,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	IntervalStart   time.Time `json:"intervalStart"`
	IntervalEnd     time.Time `json:"intervalEnd"`
	ActivityLevel   float64   `json:"activityLevel"`
	Keystrokes      int64     `json:"keystrokes"`
	MouseClicks     int64     `json:"mouseClicks"`
	WindowTitle     string    `json:"windowTitle,omitempty"`
	ApplicationName string    `json:"applicationName,omitempty"`
	IsManual        bool      `json:"isManual"`
	IsBlurred       bool      `json:"isBlurred"`
	IsDeleted       bool      `json:"isDeleted"`
	Width           int       `json:"width"`
	Height          int       `json:"height"`
	Bytes           int64     `json:"bytes"`
}

// Settings is the per-employee capture configuration. Consumed by the agent
// to decide sampling cadence; the server defends its invariants regardless
// of what the agent sends.
type Settings struct {
	EmployeeID             string    `json:"employeeId"`
	CaptureIntervalMinutes int       `json:"captureIntervalMinutes"`
	BlurScreenshots        bool      `json:"blurScreenshots"`
	IdleThresholdMinutes   int       `json:"idleThresholdMinutes"`
	UpdatedAt              time.Time `json:"updatedAt"`
}

// SettingsPatch carries only the fields the caller supplied; nil fields are
// left untouched by Upsert.
type SettingsPatch struct {
	CaptureIntervalMinutes *int  `json:"captureIntervalMinutes,omitempty"`
	BlurScreenshots        *bool `json:"blurScreenshots,omitempty"`
	IdleThresholdMinutes   *int  `json:"idleThresholdMinutes,omitempty"`
}

// ScreenshotMeta is the agent-supplied metadata accompanying an uploaded
// frame.
type ScreenshotMeta struct {
	Timestamp       time.Time `json:"timestamp"`
	IntervalStart   time.Time `json:"intervalStart"`
	IntervalEnd     time.Time `json:"intervalEnd"`
	ActivityLevel   float64   `json:"activityLevel"`
	Keystrokes      int64     `json:"keystrokes"`
	MouseClicks     int64     `json:"mouseClicks"`
	WindowTitle     string    `json:"windowTitle,omitempty"`
	ApplicationName string    `json:"applicationName,omitempty"`
	IsManual        bool      `json:"isManual"`
}

// Event is the envelope dispatched to subscribers after a successful
// mutation.
type Event struct {
	Type       EventType `json:"type"`
	SessionID  string    `json:"sessionId"`
	EmployeeID string    `json:"employeeId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

type EventType string

const (
	EventSessionStarted     EventType = "session.started"
	EventSessionPaused      EventType = "session.paused"
	EventSessionResumed     EventType = "session.resumed"
	EventSessionStopped     EventType = "session.stopped"
	EventActivityRecorded   EventType = "activity.recorded"
	EventScreenshotCaptured EventType = "screenshot.captured"
)
