package tracker

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"hrstack.local/projects/tracker-gateway/internal/ids"
	"hrstack.local/projects/tracker-gateway/internal/objectstore"
)

const (
	minTitleLength      = 3
	defaultStoreTimeout = 15 * time.Second
	defaultUploadFolder = "screenshots"
)

// EventSink receives an event after a mutation commits. Delivery is
// best-effort; it never affects the outcome of the call that produced the
// event.
type EventSink interface {
	Dispatch(ctx context.Context, event Event)
}

// Service is the request-handler core: it validates input at the boundary,
// delegates to the store's atomic primitives, and publishes events. It holds
// no per-session state, so any number of instances can run concurrently over
// the same store.
type Service struct {
	logger       *log.Logger
	store        Store
	objects      objectstore.Client
	events       EventSink
	uploadFolder string
	storeTimeout time.Duration
	now          func() time.Time
}

type Option func(*Service)

func NewService(logger *log.Logger, store Store, opts ...Option) *Service {
	svc := &Service{
		logger:       logger,
		store:        store,
		uploadFolder: defaultUploadFolder,
		storeTimeout: defaultStoreTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

func WithObjectStore(client objectstore.Client) Option {
	return func(s *Service) { s.objects = client }
}

func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

func WithUploadFolder(folder string) Option {
	return func(s *Service) {
		if folder = strings.TrimSpace(folder); folder != "" {
			s.uploadFolder = folder
		}
	}
}

func WithStoreTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.storeTimeout = timeout
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type StartInput struct {
	EmployeeID  string `json:"employeeId"`
	Title       string `json:"title"`
	ProjectID   string `json:"projectId,omitempty"`
	Description string `json:"description,omitempty"`
}

// Start stops every running or paused session of the employee and creates a
// fresh running one, as a single store operation.
func (s *Service) Start(ctx context.Context, in StartInput) (Session, error) {
	employeeID := strings.TrimSpace(in.EmployeeID)
	if err := validateRef("employeeId", employeeID); err != nil {
		return Session{}, err
	}
	title := strings.TrimSpace(in.Title)
	if utf8.RuneCountInString(title) < minTitleLength {
		return Session{}, fmt.Errorf("%w: title must be at least %d characters", ErrInvalidArgument, minTitleLength)
	}
	projectID := strings.TrimSpace(in.ProjectID)
	if projectID != "" {
		if err := validateRef("projectId", projectID); err != nil {
			return Session{}, err
		}
	}

	now := s.now()
	sess := Session{
		ID:             ids.NewSession(),
		EmployeeID:     employeeID,
		ProjectID:      projectID,
		Title:          title,
		Description:    strings.TrimSpace(in.Description),
		Status:         StatusRunning,
		StartTime:      now,
		LastActive:     now,
		ActivityLevels: []ActivitySample{},
		Screenshots:    []Screenshot{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	created, err := s.store.StartSession(opCtx, sess)
	if err != nil {
		return Session{}, err
	}

	s.publish(ctx, EventSessionStarted, created, nil)
	return created, nil
}

// GetActive returns the employee's running session, or nil when there is
// none. Absence is normal steady state, never an error.
func (s *Service) GetActive(ctx context.Context, employeeID string) (*Session, error) {
	employeeID = strings.TrimSpace(employeeID)
	if err := validateRef("employeeId", employeeID); err != nil {
		return nil, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.store.GetActiveSession(opCtx, employeeID)
}

func (s *Service) Stop(ctx context.Context, sessionID string) (Session, error) {
	return s.transition(ctx, sessionID, StatusStopped, EventSessionStopped)
}

func (s *Service) Pause(ctx context.Context, sessionID string) (Session, error) {
	return s.transition(ctx, sessionID, StatusPaused, EventSessionPaused)
}

func (s *Service) Resume(ctx context.Context, sessionID string) (Session, error) {
	return s.transition(ctx, sessionID, StatusRunning, EventSessionResumed)
}

func (s *Service) transition(ctx context.Context, sessionID string, to SessionStatus, eventType EventType) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := validateRef("sessionId", sessionID); err != nil {
		return Session{}, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	sess, err := s.store.TransitionSession(opCtx, sessionID, to, s.now())
	if err != nil {
		return Session{}, err
	}

	s.publish(ctx, eventType, sess, nil)
	return sess, nil
}

// RecordActivity appends one telemetry sample and bumps the running totals
// atomically. Late samples against paused or stopped sessions are accepted:
// offline agents flush their backlog after the fact, and there is no
// business rule yet that separates late-but-valid from erroneous reports.
func (s *Service) RecordActivity(ctx context.Context, sessionID string, sample *ActivitySample) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := validateRef("sessionId", sessionID); err != nil {
		return Session{}, err
	}
	if sample == nil {
		return Session{}, fmt.Errorf("%w: activity sample is required", ErrInvalidArgument)
	}
	if sample.Keystrokes < 0 || sample.MouseClicks < 0 || sample.MouseMoves < 0 || sample.Scrolls < 0 {
		return Session{}, fmt.Errorf("%w: activity counts must be non-negative", ErrInvalidArgument)
	}

	now := s.now()
	normalized := applySampleDefaults(*sample, now)

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	sess, err := s.store.AppendActivity(opCtx, sessionID, normalized, now)
	if err != nil {
		return Session{}, err
	}

	s.publish(ctx, EventActivityRecorded, sess, normalized)
	return sess, nil
}

// CaptureScreenshot uploads the frame to the object store, derives the
// thumbnail and blur URLs, and appends the record under the content-id
// uniqueness constraint. The session is resolved before the upload so a bad
// session id stores nothing anywhere.
func (s *Service) CaptureScreenshot(ctx context.Context, sessionID string, image []byte, meta *ScreenshotMeta) (Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if err := validateRef("sessionId", sessionID); err != nil {
		return Session{}, err
	}
	if len(image) == 0 {
		return Session{}, fmt.Errorf("%w: screenshot file is required", ErrInvalidArgument)
	}
	if meta == nil {
		return Session{}, fmt.Errorf("%w: screenshot metadata is required", ErrInvalidArgument)
	}
	if s.objects == nil {
		return Session{}, fmt.Errorf("%w: object store is not configured", ErrStorageFailure)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	if _, err := s.store.GetSession(opCtx, sessionID); err != nil {
		return Session{}, err
	}

	uploaded, err := s.objects.Upload(ctx, image, s.uploadFolder)
	if err != nil {
		return Session{}, storageErr("upload screenshot", err)
	}

	now := s.now()
	shot := Screenshot{
		URL:             uploaded.SecureURL,
		ThumbnailURL:    objectstore.ThumbnailURL(uploaded.SecureURL),
		BlurredURL:      objectstore.BlurredURL(uploaded.SecureURL),
		PublicID:        uploaded.PublicID,
		Timestamp:       meta.Timestamp,
		IntervalStart:   meta.IntervalStart,
		IntervalEnd:     meta.IntervalEnd,
		ActivityLevel:   meta.ActivityLevel,
		Keystrokes:      meta.Keystrokes,
		MouseClicks:     meta.MouseClicks,
		WindowTitle:     meta.WindowTitle,
		ApplicationName: meta.ApplicationName,
		IsManual:        meta.IsManual,
		Width:           uploaded.Width,
		Height:          uploaded.Height,
		Bytes:           uploaded.Bytes,
	}
	if shot.Timestamp.IsZero() {
		shot.Timestamp = now
	}

	sess, err := s.store.AppendScreenshot(opCtx, sessionID, shot, now)
	if err != nil {
		return Session{}, err
	}

	s.publish(ctx, EventScreenshotCaptured, sess, shot)
	return sess, nil
}

// GetSettings returns the employee's capture settings, or zero-value
// defaults when none were ever stored.
func (s *Service) GetSettings(ctx context.Context, employeeID string) (Settings, error) {
	employeeID = strings.TrimSpace(employeeID)
	if err := validateRef("employeeId", employeeID); err != nil {
		return Settings{}, err
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.store.GetSettings(opCtx, employeeID)
}

// UpdateSettings merges the supplied fields into the stored configuration,
// creating it if absent.
func (s *Service) UpdateSettings(ctx context.Context, employeeID string, patch SettingsPatch) (Settings, error) {
	employeeID = strings.TrimSpace(employeeID)
	if err := validateRef("employeeId", employeeID); err != nil {
		return Settings{}, err
	}
	if patch.CaptureIntervalMinutes != nil && *patch.CaptureIntervalMinutes < 0 {
		return Settings{}, fmt.Errorf("%w: captureIntervalMinutes must be non-negative", ErrInvalidArgument)
	}
	if patch.IdleThresholdMinutes != nil && *patch.IdleThresholdMinutes < 0 {
		return Settings{}, fmt.Errorf("%w: idleThresholdMinutes must be non-negative", ErrInvalidArgument)
	}

	opCtx, cancel := s.opContext(ctx)
	defer cancel()
	return s.store.UpsertSettings(opCtx, employeeID, patch, s.now())
}

func (s *Service) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

func (s *Service) publish(ctx context.Context, eventType EventType, sess Session, payload any) {
	if s.events == nil {
		return
	}
	s.events.Dispatch(ctx, Event{
		Type:       eventType,
		SessionID:  sess.ID,
		EmployeeID: sess.EmployeeID,
		OccurredAt: s.now(),
		Payload:    payload,
	})
}

// validateRef checks an opaque reference for well-formedness only; whether
// the referenced entity exists is a separate concern.
func validateRef(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, field)
	}
	if len(value) > 191 {
		return fmt.Errorf("%w: %s is too long", ErrInvalidArgument, field)
	}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return fmt.Errorf("%w: %s contains invalid character %q", ErrInvalidArgument, field, r)
		}
	}
	return nil
}
