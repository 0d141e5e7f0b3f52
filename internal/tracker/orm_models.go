package tracker

import "time"

// sessionRow is the sessions table. The partial unique index on employee_id
// scoped to running rows backstops the single-active-session invariant when
// two Start calls race.
type sessionRow struct {
	SessionID        string     `gorm:"primaryKey;size:64"`
	EmployeeID       string     `gorm:"size:191;not null;index:idx_sessions_employee;index:idx_sessions_active_employee,unique,where:status = 'running'"`
	ProjectID        string     `gorm:"size:191"`
	Title            string     `gorm:"size:255;not null"`
	Description      string     `gorm:"type:text"`
	Status           string     `gorm:"size:32;not null"`
	StartTime        time.Time  `gorm:"not null"`
	EndTime          *time.Time
	LastActive       time.Time `gorm:"not null"`
	TotalKeystrokes  int64     `gorm:"not null;default:0"`
	TotalMouseClicks int64     `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

func (sessionRow) TableName() string {
	return "sessions"
}

// activityRow is one appended activity sample. Seq is the arrival order for
// the whole table; per-session order is recovered by filtering on
// session_id.
type activityRow struct {
	Seq               int64     `gorm:"primaryKey;autoIncrement"`
	SessionID         string    `gorm:"size:64;not null;index:idx_activity_session"`
	Timestamp         time.Time `gorm:"not null"`
	Keystrokes        int64     `gorm:"not null;default:0"`
	MouseClicks       int64     `gorm:"not null;default:0"`
	MouseMoves        int64     `gorm:"not null;default:0"`
	Scrolls           int64     `gorm:"not null;default:0"`
	WindowTitle       string    `gorm:"size:512"`
	ApplicationName   string    `gorm:"size:255"`
	ProductivityScore float64   `gorm:"not null;default:0"`
	IsIdle            bool      `gorm:"not null;default:false"`
	IntervalMinutes   int       `gorm:"not null;default:10"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (activityRow) TableName() string {
	return "activity_samples"
}

// screenshotRow is one appended screenshot record. public_id is nullable so
// legacy records without a content id never collide; among present ids the
// partial unique index enforces store-wide uniqueness.
type screenshotRow struct {
	Seq             int64   `gorm:"primaryKey;autoIncrement"`
	SessionID       string  `gorm:"size:64;not null;index:idx_screenshots_session"`
	URL             string  `gorm:"size:1024;not null"`
	ThumbnailURL    string  `gorm:"size:1024"`
	BlurredURL      string  `gorm:"size:1024"`
	PublicID        *string `gorm:"size:255;index:idx_screenshots_public_id,unique,where:public_id IS NOT NULL"`
	Timestamp       time.Time
	IntervalStart   time.Time
	IntervalEnd     time.Time
	ActivityLevel   float64   `gorm:"not null;default:0"`
	Keystrokes      int64     `gorm:"not null;default:0"`
	MouseClicks     int64     `gorm:"not null;default:0"`
	WindowTitle     string    `gorm:"size:512"`
	ApplicationName string    `gorm:"size:255"`
	IsManual        bool      `gorm:"not null;default:false"`
	IsBlurred       bool      `gorm:"not null;default:false"`
	IsDeleted       bool      `gorm:"not null;default:false"`
	Width           int       `gorm:"not null;default:0"`
	Height          int       `gorm:"not null;default:0"`
	Bytes           int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (screenshotRow) TableName() string {
	return "screenshots"
}

type settingsRow struct {
	EmployeeID             string    `gorm:"primaryKey;size:191"`
	CaptureIntervalMinutes int       `gorm:"not null;default:0"`
	BlurScreenshots        bool      `gorm:"not null;default:false"`
	IdleThresholdMinutes   int       `gorm:"not null;default:0"`
	CreatedAt              time.Time `gorm:"not null"`
	UpdatedAt              time.Time `gorm:"not null"`
}

func (settingsRow) TableName() string {
	return "settings"
}

func (r sessionRow) toSession() Session {
	return Session{
		ID:               r.SessionID,
		EmployeeID:       r.EmployeeID,
		ProjectID:        r.ProjectID,
		Title:            r.Title,
		Description:      r.Description,
		Status:           SessionStatus(r.Status),
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		LastActive:       r.LastActive,
		TotalKeystrokes:  r.TotalKeystrokes,
		TotalMouseClicks: r.TotalMouseClicks,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func sessionRowFromSession(sess Session) sessionRow {
	return sessionRow{
		SessionID:        sess.ID,
		EmployeeID:       sess.EmployeeID,
		ProjectID:        sess.ProjectID,
		Title:            sess.Title,
		Description:      sess.Description,
		Status:           string(sess.Status),
		StartTime:        sess.StartTime,
		EndTime:          sess.EndTime,
		LastActive:       sess.LastActive,
		TotalKeystrokes:  sess.TotalKeystrokes,
		TotalMouseClicks: sess.TotalMouseClicks,
		CreatedAt:        sess.CreatedAt,
		UpdatedAt:        sess.UpdatedAt,
	}
}

func (r activityRow) toSample() ActivitySample {
	return ActivitySample{
		Timestamp:         r.Timestamp,
		Keystrokes:        r.Keystrokes,
		MouseClicks:       r.MouseClicks,
		MouseMoves:        r.MouseMoves,
		Scrolls:           r.Scrolls,
		WindowTitle:       r.WindowTitle,
		ApplicationName:   r.ApplicationName,
		ProductivityScore: r.ProductivityScore,
		IsIdle:            r.IsIdle,
		IntervalMinutes:   r.IntervalMinutes,
	}
}

func activityRowFromSample(sessionID string, sample ActivitySample, now time.Time) activityRow {
	return activityRow{
		SessionID:         sessionID,
		Timestamp:         sample.Timestamp,
		Keystrokes:        sample.Keystrokes,
		MouseClicks:       sample.MouseClicks,
		MouseMoves:        sample.MouseMoves,
		Scrolls:           sample.Scrolls,
		WindowTitle:       sample.WindowTitle,
		ApplicationName:   sample.ApplicationName,
		ProductivityScore: sample.ProductivityScore,
		IsIdle:            sample.IsIdle,
		IntervalMinutes:   sample.IntervalMinutes,
		CreatedAt:         now,
	}
}

func (r screenshotRow) toScreenshot() Screenshot {
	shot := Screenshot{
		URL:             r.URL,
		ThumbnailURL:    r.ThumbnailURL,
		BlurredURL:      r.BlurredURL,
		Timestamp:       r.Timestamp,
		IntervalStart:   r.IntervalStart,
		IntervalEnd:     r.IntervalEnd,
		ActivityLevel:   r.ActivityLevel,
		Keystrokes:      r.Keystrokes,
		MouseClicks:     r.MouseClicks,
		WindowTitle:     r.WindowTitle,
		ApplicationName: r.ApplicationName,
		IsManual:        r.IsManual,
		IsBlurred:       r.IsBlurred,
		IsDeleted:       r.IsDeleted,
		Width:           r.Width,
		Height:          r.Height,
		Bytes:           r.Bytes,
	}
	if r.PublicID != nil {
		shot.PublicID = *r.PublicID
	}
	return shot
}

func screenshotRowFromRecord(sessionID string, shot Screenshot, now time.Time) screenshotRow {
	row := screenshotRow{
		SessionID:       sessionID,
		URL:             shot.URL,
		ThumbnailURL:    shot.ThumbnailURL,
		BlurredURL:      shot.BlurredURL,
		Timestamp:       shot.Timestamp,
		IntervalStart:   shot.IntervalStart,
		IntervalEnd:     shot.IntervalEnd,
		ActivityLevel:   shot.ActivityLevel,
		Keystrokes:      shot.Keystrokes,
		MouseClicks:     shot.MouseClicks,
		WindowTitle:     shot.WindowTitle,
		ApplicationName: shot.ApplicationName,
		IsManual:        shot.IsManual,
		IsBlurred:       shot.IsBlurred,
		IsDeleted:       shot.IsDeleted,
		Width:           shot.Width,
		Height:          shot.Height,
		Bytes:           shot.Bytes,
		CreatedAt:       now,
	}
	if shot.PublicID != "" {
		publicID := shot.PublicID
		row.PublicID = &publicID
	}
	return row
}

func (r settingsRow) toSettings() Settings {
	return Settings{
		EmployeeID:             r.EmployeeID,
		CaptureIntervalMinutes: r.CaptureIntervalMinutes,
		BlurScreenshots:        r.BlurScreenshots,
		IdleThresholdMinutes:   r.IdleThresholdMinutes,
		UpdatedAt:              r.UpdatedAt,
	}
}
