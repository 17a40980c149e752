package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/aretw0/journey/pkg/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Engine is the journey surface served over HTTP.
type Engine = ports.SessionEngine

// Server implements ServerInterface on top of a journey engine.
type Server struct {
	Engine  Engine
	Updates ports.UpdateSubscriber
	Logger  *slog.Logger
}

// Ensure Server implements ServerInterface
var _ ServerInterface = (*Server)(nil)

// StartSessionRequest is the body of POST /sessions.
type StartSessionRequest struct {
	WorkflowID string         `json:"workflow_id" validate:"required"`
	SessionID  string         `json:"session_id,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// MessageRequest is the body of POST /sessions/{sessionID}/messages.
type MessageRequest struct {
	Text    string           `json:"text" validate:"required"`
	History []domain.Message `json:"history,omitempty" validate:"dive"`
}

// ErrorResponse is the body of every rejected request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

var bodies = validator.New(validator.WithRequiredStructEnabled())

type options struct {
	updates  ports.UpdateSubscriber
	metrics  http.Handler
	logger   *slog.Logger
	validate bool
}

// Option configures NewHandler.
type Option func(*options)

// WithUpdates enables the SSE stream endpoint.
func WithUpdates(sub ports.UpdateSubscriber) Option {
	return func(o *options) { o.updates = sub }
}

// WithMetricsHandler mounts a Prometheus handler on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *options) { o.metrics = h }
}

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithoutRequestValidation skips OpenAPI validation of incoming requests.
func WithoutRequestValidation() Option {
	return func(o *options) { o.validate = false }
}

// NewHandler creates a new HTTP handler for the engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	o := options{validate: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	server := &Server{
		Engine:  engine,
		Updates: o.updates,
		Logger:  o.logger,
	}
	r := chi.NewRouter()

	if o.validate {
		swagger, err := GetSwagger()
		if err == nil {
			var mw func(http.Handler) http.Handler
			mw, err = requestValidator(swagger, server.rejectRequest)
			if err == nil {
				r.Use(mw)
			}
		}
		if err != nil {
			o.logger.Error("Request validation disabled", "error", err)
		}
	}

	// Swagger UI
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		spec, err := rawSpec()
		if err != nil {
			http.Error(w, "Failed to load spec", http.StatusInternalServerError)
			server.Logger.Error("Failed to load OpenAPI spec", "error", err)
			return
		}
		w.Write(spec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	if o.metrics != nil {
		r.Handle("/metrics", o.metrics)
	}

	handler := HandlerWithOptions(server, ChiServerOptions{
		BaseRouter:       r,
		ErrorHandlerFunc: server.rejectRequest,
	})
	return enableCORS(handler)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Custom-Header")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Journey API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	apiVersion := "unknown"
	if swagger, err := GetSwagger(); err == nil && swagger.Info != nil {
		apiVersion = swagger.Info.Version
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"app":         "journey-http",
		"version":     strings.TrimSpace(journey.Version),
		"api_version": apiVersion,
	})
}

// ListWorkflows handles the GET /workflows request.
func (s *Server) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Workflows(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(ids))
}

// GetJourney handles the GET /journeys/{workflowID} request.
func (s *Server) GetJourney(w http.ResponseWriter, r *http.Request, workflowID string) {
	def, err := s.Engine.Journey(r.Context(), workflowID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, def)
}

// ListSessions handles the GET /sessions request.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Engine.Sessions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(ids))
}

// StartSession handles the POST /sessions request.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	var body StartSessionRequest
	if !s.decode(w, r, &body) {
		return
	}

	reply, err := s.Engine.StartSession(r.Context(), body.SessionID, body.WorkflowID, body.Context)
	s.writeReply(w, r, http.StatusCreated, reply, err)
}

// GetSession handles the GET /sessions/{sessionID} request.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	state, err := s.Engine.Status(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

// ArchiveSession handles the DELETE /sessions/{sessionID} request.
func (s *Server) ArchiveSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.Engine.Archive(r.Context(), sessionID); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostEvent handles the POST /sessions/{sessionID}/events request.
func (s *Server) PostEvent(w http.ResponseWriter, r *http.Request, sessionID string) {
	var event domain.EngineEvent
	if !s.decode(w, r, &event) {
		return
	}
	if event.Type == "" || event.NodeID == "" {
		s.rejectRequest(w, r, errors.New("event requires type and nodeId"))
		return
	}

	reply, err := s.Engine.HandleEvent(r.Context(), sessionID, event)
	s.writeReply(w, r, http.StatusOK, reply, err)
}

// PostMessage handles the POST /sessions/{sessionID}/messages request.
func (s *Server) PostMessage(w http.ResponseWriter, r *http.Request, sessionID string) {
	var body MessageRequest
	if !s.decode(w, r, &body) {
		return
	}

	reply, err := s.Engine.HandleMessage(r.Context(), sessionID, body.Text, body.History)
	s.writeReply(w, r, http.StatusOK, reply, err)
}

// StopSession handles the POST /sessions/{sessionID}/stop request.
func (s *Server) StopSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	reply, err := s.Engine.Stop(r.Context(), sessionID)
	if reply == nil && err == nil {
		// Already stopped.
		reply, err = s.Engine.Reply(r.Context(), sessionID)
	}
	s.writeReply(w, r, http.StatusOK, reply, err)
}

// ListInterventions handles the GET /sessions/{sessionID}/interventions request.
func (s *Server) ListInterventions(w http.ResponseWriter, r *http.Request, sessionID string) {
	list, err := s.Engine.Interventions(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*domain.Intervention{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

// RespondIntervention handles the POST /interventions/{interventionID}/respond request.
func (s *Server) RespondIntervention(w http.ResponseWriter, r *http.Request, interventionID string) {
	var body domain.InterventionResponse
	if !s.decode(w, r, &body) {
		return
	}

	reply, err := s.Engine.RespondIntervention(r.Context(), interventionID, body)
	s.writeReply(w, r, http.StatusOK, reply, err)
}

// StreamSession handles the GET /sessions/{sessionID}/stream request (SSE).
func (s *Server) StreamSession(w http.ResponseWriter, r *http.Request, sessionID string, params StreamSessionParams) {
	if s.Updates == nil {
		s.writeJSON(w, http.StatusNotImplemented, ErrorResponse{Code: "streaming_unavailable", Message: "no update stream configured"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.Logger.Error("StreamSession: Streaming not supported")
		return
	}

	snapshot, err := s.Engine.Reply(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	updates, err := s.Updates.Subscribe(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.Logger.Info("SSE: Subscribing to Session Updates", "session_id", sessionID)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	if data, err := json.Marshal(snapshot); err == nil {
		fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	}
	flusher.Flush()

	var watchList []string
	if params.Watch != nil && *params.Watch != "" {
		watchList = strings.Split(*params.Watch, ",")
	}

	for {
		select {
		case <-r.Context().Done():
			s.Logger.Info("SSE Client Disconnected", "session_id", sessionID)
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if !watched(u, watchList) {
				continue
			}
			data, err := json.Marshal(u)
			if err != nil {
				s.Logger.Warn("SSE: Failed to encode update", "error", err, "session_id", sessionID)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", u.Type, data)
			flusher.Flush()
		}
	}
}

// watched reports whether an update touches any of the watched sections.
// An empty watch list keeps everything.
func watched(u domain.Update, fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "interventions" && u.Type != domain.UpdateStateChanged {
			return true
		}
		d := u.Diff
		if d == nil {
			continue
		}
		switch field {
		case "status":
			if d.Status != nil {
				return true
			}
		case "node":
			if d.CurrentNodeID != nil {
				return true
			}
		case "progress":
			if d.Completed != nil || d.Failed != nil || d.Skipped != nil {
				return true
			}
		case "context":
			if len(d.WorkflowContext) > 0 || len(d.JourneyContext) > 0 || len(d.UserInputs) > 0 {
				return true
			}
		case "actions":
			if d.AvailableActions != nil {
				return true
			}
		case "history":
			if len(d.History) > 0 {
				return true
			}
		}
	}
	return false
}

// -- Helpers --

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.rejectRequest(w, r, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	switch dst.(type) {
	case *StartSessionRequest, *MessageRequest:
		if err := bodies.Struct(dst); err != nil {
			s.rejectRequest(w, r, err)
			return false
		}
	}
	return true
}

// writeReply answers with the reply when there is one. A session that failed during
// the operation still has a reply to render; its error travels inside the reply.
func (s *Server) writeReply(w http.ResponseWriter, r *http.Request, status int, reply *domain.Reply, err error) {
	if reply == nil {
		if err == nil {
			err = domain.ErrNotFound
		}
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.Logger.Warn("Operation failed the session",
			"path", r.URL.Path,
			"session_id", reply.SessionID,
			"code", domain.ErrorCode(err),
			"error", err,
		)
		status = http.StatusOK
	}
	s.writeJSON(w, status, reply)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		s.Logger.Debug("Request rejected", "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, ErrorResponse{
		Code:      domain.ErrorCode(err),
		Message:   err.Error(),
		Retryable: domain.IsRetryable(err),
	})
}

func (s *Server) rejectRequest(w http.ResponseWriter, r *http.Request, err error) {
	s.Logger.Warn("Invalid request", "path", r.URL.Path, "error", err)
	s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "invalid_request", Message: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Response encode failed", "error", err)
	}
}

// statusOf maps engine errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrWorkflowNotFound),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyTerminal),
		errors.Is(err, domain.ErrAlreadyResponded),
		errors.Is(err, domain.ErrDuplicatePendingIntervention),
		errors.Is(err, session.ErrSessionExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInputMismatch),
		errors.Is(err, domain.ErrCommandUnavailable),
		errors.Is(err, domain.ErrUnexpectedEvent),
		errors.Is(err, domain.ErrNoMatchingTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidGraph),
		errors.Is(err, domain.ErrCyclicGraph),
		errors.Is(err, domain.ErrEmptyGraph),
		errors.Is(err, domain.ErrUnmappableVariable):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
