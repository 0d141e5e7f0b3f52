package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hrstack.local/projects/tracker-gateway/internal/subscribers/stream"
	"hrstack.local/projects/tracker-gateway/internal/tracker"
)

const (
	maxJSONRequestBytes = 2 << 20
	maxUploadBytes      = 16 << 20
)

type server struct {
	logger  *log.Logger
	tracker *tracker.Service
	feed    *stream.Hub
}

// NewServer wires the time-tracking routes. feed may be nil, which disables
// the websocket event feed.
func NewServer(logger *log.Logger, addr string, trackerService *tracker.Service, feed *stream.Hub) *http.Server {
	h := &server{
		logger:  logger,
		tracker: trackerService,
		feed:    feed,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/sessions", h.handleSessions)
	mux.HandleFunc("/sessions/", h.handleSessionAction)
	mux.HandleFunc("/settings", h.handleSettings)
	if feed != nil {
		mux.HandleFunc("/events/ws", h.handleEventFeed)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// envelope is the uniform response shape on every route.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
		return
	}
	writeSuccess(w, http.StatusOK, "ok", nil)
}

func (s *server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleStartSession(w, r)
	case http.MethodGet:
		s.handleGetActiveSession(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
	}
}

func (s *server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var in tracker.StartInput
	if !decodeJSONBody(w, r, &in) {
		return
	}

	sess, err := s.tracker.Start(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "session started", sess)
}

func (s *server) handleGetActiveSession(w http.ResponseWriter, r *http.Request) {
	employeeID := strings.TrimSpace(r.URL.Query().Get("employeeId"))
	if employeeID == "" {
		writeError(w, http.StatusBadRequest, "employeeId query parameter is required", errKind(tracker.ErrInvalidArgument))
		return
	}

	sess, err := s.tracker.GetActive(r.Context(), employeeID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if sess == nil {
		// No active session is a normal empty result, not an error.
		writeSuccess(w, http.StatusOK, "no active session", nil)
		return
	}
	writeSuccess(w, http.StatusOK, "active session", sess)
}

// handleSessionAction routes /sessions/{id}/{action} for activity and
// screenshot ingestion and lifecycle transitions.
func (s *server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/sessions/")
	sessionID, action, ok := strings.Cut(rest, "/")
	if !ok || sessionID == "" || strings.Contains(action, "/") {
		writeError(w, http.StatusNotFound, "unknown route", "not_found")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
		return
	}

	switch action {
	case "activity":
		s.handleRecordActivity(w, r, sessionID)
	case "screenshots":
		s.handleCaptureScreenshot(w, r, sessionID)
	case "stop":
		s.handleTransition(w, r, sessionID, s.tracker.Stop, "session stopped")
	case "pause":
		s.handleTransition(w, r, sessionID, s.tracker.Pause, "session paused")
	case "resume":
		s.handleTransition(w, r, sessionID, s.tracker.Resume, "session resumed")
	default:
		writeError(w, http.StatusNotFound, "unknown route", "not_found")
	}
}

func (s *server) handleRecordActivity(w http.ResponseWriter, r *http.Request, sessionID string) {
	var body struct {
		Activity *tracker.ActivitySample `json:"activity"`
	}
	if !decodeJSONBody(w, r, &body) {
		return
	}
	if body.Activity == nil {
		writeError(w, http.StatusBadRequest, "activity is required", errKind(tracker.ErrInvalidArgument))
		return
	}

	sess, err := s.tracker.RecordActivity(r.Context(), sessionID, body.Activity)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "activity recorded", sess)
}

func (s *server) handleCaptureScreenshot(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err), errKind(tracker.ErrInvalidArgument))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required", errKind(tracker.ErrInvalidArgument))
		return
	}
	defer file.Close()
	// Read one byte past the limit so an oversized file is rejected rather
	// than silently truncated.
	image, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file failed", errKind(tracker.ErrInvalidArgument))
		return
	}
	if len(image) > maxUploadBytes {
		writeError(w, http.StatusBadRequest, "file exceeds the upload size limit", errKind(tracker.ErrInvalidArgument))
		return
	}

	rawMeta := strings.TrimSpace(r.FormValue("activity"))
	if rawMeta == "" {
		writeError(w, http.StatusBadRequest, "activity metadata is required", errKind(tracker.ErrInvalidArgument))
		return
	}
	var meta tracker.ScreenshotMeta
	dec := json.NewDecoder(strings.NewReader(rawMeta))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid activity metadata: %v", err), errKind(tracker.ErrInvalidArgument))
		return
	}

	sess, err := s.tracker.CaptureScreenshot(r.Context(), sessionID, image, &meta)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "screenshot captured", sess)
}

func (s *server) handleTransition(w http.ResponseWriter, r *http.Request, sessionID string, op func(context.Context, string) (tracker.Session, error), message string) {
	sess, err := op(r.Context(), sessionID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, message, sess)
}

func (s *server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		employeeID := strings.TrimSpace(r.URL.Query().Get("employeeId"))
		if employeeID == "" {
			writeError(w, http.StatusBadRequest, "employeeId query parameter is required", errKind(tracker.ErrInvalidArgument))
			return
		}
		settings, err := s.tracker.GetSettings(r.Context(), employeeID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "settings", settings)
	case http.MethodPost:
		var body struct {
			EmployeeID string `json:"employeeId"`
			tracker.SettingsPatch
		}
		if !decodeJSONBody(w, r, &body) {
			return
		}
		if strings.TrimSpace(body.EmployeeID) == "" {
			writeError(w, http.StatusBadRequest, "employeeId is required", errKind(tracker.ErrInvalidArgument))
			return
		}
		settings, err := s.tracker.UpdateSettings(r.Context(), body.EmployeeID, body.SettingsPatch)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeSuccess(w, http.StatusOK, "settings saved", settings)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
	}
}

func (s *server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("event feed upgrade failed: %v", err)
		return
	}
	s.feed.Attach(conn)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json: %v", err), errKind(tracker.ErrInvalidArgument))
		return false
	}
	if dec.More() {
		writeError(w, http.StatusBadRequest, "invalid json: trailing content", errKind(tracker.ErrInvalidArgument))
		return false
	}
	return true
}

func (s *server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("request failed path=%s err=%v", r.URL.Path, err)
	}
	writeError(w, status, err.Error(), errKind(err))
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, tracker.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, tracker.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tracker.ErrInvalidState), errors.Is(err, tracker.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, tracker.ErrStorageFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errKind(err error) string {
	switch {
	case errors.Is(err, tracker.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, tracker.ErrNotFound):
		return "not_found"
	case errors.Is(err, tracker.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, tracker.ErrConflict):
		return "conflict"
	case errors.Is(err, tracker.ErrStorageFailure):
		return "storage_failure"
	default:
		return "internal"
	}
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	writeJSON(w, status, envelope{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message, kind string) {
	writeJSON(w, status, envelope{Success: false, Message: message, Error: kind})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
