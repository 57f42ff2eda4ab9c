package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"orchestra/internal/jsoncodec"
	"orchestra/internal/logging"
	"orchestra/internal/message"
	"orchestra/internal/persistence"
	"orchestra/internal/router"
	"orchestra/internal/schema"
	"orchestra/internal/version"
)

const (
	cacheControlNoStore = "no-store, must-revalidate"
	maxRequestBodyBytes = 1 << 20
	defaultHistoryLimit = 100
)

type apiError struct {
	Status  int
	Message string
	Code    string
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type apiHandler func(http.ResponseWriter, *http.Request) *apiError

// Handler returns the HTTP surface: the websocket endpoint and the JSON API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(wsRoute, s.handleWebSocket)
	mux.HandleFunc("/api/status", s.restHandler(s.handleStatus))
	mux.HandleFunc("/api/connections", s.restHandler(s.handleConnections))
	mux.HandleFunc("/api/history", s.restHandler(s.handleHistory))
	mux.HandleFunc("/api/acks", s.restHandler(s.handleAcks))
	mux.HandleFunc("/api/logs", s.restHandler(s.handleLogs))
	mux.HandleFunc("/api/messages", s.restHandler(s.handleSendMessage))
	mux.HandleFunc("/api/schema/", s.restHandler(s.handleSchema))
	if s.opts.MetricsHandler != nil {
		mux.Handle("/metrics", s.opts.MetricsHandler)
	}
	return loggingMiddleware(s.logger, mux)
}

func (s *Server) restHandler(handler apiHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Cache-Control", cacheControlNoStore)
		if !validateToken(r, s.opts.AuthToken) {
			writeJSONError(w, &apiError{Status: http.StatusUnauthorized, Message: "unauthorized"})
			return
		}
		if err := handler(w, r); err != nil {
			writeJSONError(w, err)
		}
	}
}

func loggingMiddleware(logger *logging.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("api request", map[string]string{
			"method": r.Method,
			"path":   r.URL.Path,
		})
		next.ServeHTTP(w, r)
	})
}

func methodNotAllowed(w http.ResponseWriter, allow string) *apiError {
	w.Header().Set("Allow", allow)
	return &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"}
}

type statusResponse struct {
	Status
	Version version.VersionInfo `json:"version"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:  s.Status(r.Context()),
		Version: version.GetVersionInfo(),
	})
	return nil
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	writeJSON(w, http.StatusOK, s.Connections())
	return nil
}

func (s *Server) handleAcks(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	writeJSON(w, http.StatusOK, s.router.PendingAcks())
	return nil
}

// handleHistory serves ?offset=&limit= pages, or a filtered query when any
// of since, until, type, or to is present.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	if s.opts.Store == nil {
		writeJSON(w, http.StatusOK, []persistence.Entry{})
		return nil
	}
	values := r.URL.Query()
	limit, apiErr := intParam(values.Get("limit"), defaultHistoryLimit)
	if apiErr != nil {
		return apiErr
	}

	if values.Has("since") || values.Has("until") || values.Has("type") || values.Has("to") {
		filter := persistence.Filter{Limit: limit, Latest: true}
		var err *apiError
		if filter.Since, err = timeParam(values.Get("since")); err != nil {
			return err
		}
		if filter.Until, err = timeParam(values.Get("until")); err != nil {
			return err
		}
		for _, kind := range values["type"] {
			if !message.IsKnownType(kind) {
				return &apiError{Status: http.StatusBadRequest, Message: "unknown message type " + strconv.Quote(kind)}
			}
			filter.Types = append(filter.Types, message.Type(kind))
		}
		filter.Destinations = values["to"]
		entries, queryErr := s.opts.Store.History(r.Context(), filter)
		if queryErr != nil {
			s.logger.Error("history query failed", map[string]string{"error": queryErr.Error()})
			return &apiError{Status: http.StatusInternalServerError, Message: internalErrorReason}
		}
		writeJSON(w, http.StatusOK, entries)
		return nil
	}

	offset, apiErr := intParam(values.Get("offset"), 0)
	if apiErr != nil {
		return apiErr
	}
	entries, err := s.opts.Store.Load(r.Context(), offset, limit)
	if err != nil {
		s.logger.Error("history load failed", map[string]string{"error": err.Error()})
		return &apiError{Status: http.StatusInternalServerError, Message: internalErrorReason}
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	level := logging.LevelInfo
	if raw := strings.TrimSpace(r.URL.Query().Get("level")); raw != "" {
		parsed, ok := logging.ParseLevel(raw)
		if !ok {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		level = parsed
	}
	entries := s.logger.Buffer().Since(level)
	if entries == nil {
		entries = []logging.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
	return nil
}

// handleSendMessage routes an envelope posted by a collaborator that does
// not hold a websocket. The body is validated like an inbound frame.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, http.MethodPost)
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err != nil {
		return &apiError{Status: http.StatusRequestEntityTooLarge, Message: "request body too large"}
	}
	result := s.validator.Validate(raw)
	if !result.IsValid {
		return &apiError{Status: http.StatusBadRequest, Message: result.Reason()}
	}
	routed, err := s.Send(r.Context(), *result.Envelope)
	switch {
	case err == nil, errors.Is(err, router.ErrDestinationOffline):
	case errors.Is(err, router.ErrInvalidDestination):
		return &apiError{Status: http.StatusBadRequest, Message: err.Error()}
	default:
		s.logger.Error("direct send failed", map[string]string{"error": err.Error()})
		return &apiError{Status: http.StatusInternalServerError, Message: internalErrorReason}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":        result.Envelope.ID,
		"delivered": routed.Delivered,
		"sequence":  routed.Sequence,
		"warnings":  result.Warnings,
	})
	return nil
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, http.MethodGet)
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/schema/")
	if name == "" {
		writeJSON(w, http.StatusOK, schema.Names())
		return nil
	}
	resolved, err := schema.Resolve(name)
	if err != nil {
		return &apiError{Status: http.StatusNotFound, Message: err.Error()}
	}
	writeJSON(w, http.StatusOK, resolved)
	return nil
}

func intParam(raw string, fallback int) (int, *apiError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return 0, &apiError{Status: http.StatusBadRequest, Message: "invalid integer " + strconv.Quote(raw)}
	}
	return value, nil
}

func timeParam(raw string) (time.Time, *apiError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := message.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, &apiError{Status: http.StatusBadRequest, Message: "invalid time " + strconv.Quote(raw)}
	}
	return parsed, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, payload)
}

func writeJSONError(w http.ResponseWriter, err *apiError) {
	code := err.Code
	if code == "" {
		code = errorCodeForStatus(err.Status)
	}
	writeJSON(w, err.Status, errorResponse{Error: err.Message, Code: code})
}

func errorCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		if status >= http.StatusInternalServerError {
			return "internal_error"
		}
	}
	return ""
}
