package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Engine defines the interface required by the MCP server to drive journeys.
type Engine interface {
	ports.SessionEngine
}

// Server wraps the journey Engine and exposes it as an MCP Server.
type Server struct {
	engine    Engine
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(engine Engine) *Server {
	s := &Server{
		engine: engine,
		mcpServer: server.NewMCPServer(
			"journey-mcp",
			strings.TrimSpace(journey.Version),
			server.WithToolCapabilities(false),
			server.WithResourceCapabilities(false, false),
			server.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("MCP Server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		slog.Info("Shutdown signal received, shutting down MCP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("CORS Middleware", "method", r.Method, "path", r.URL.Path)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Baggage, Sentry-Trace")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartSessionArgs are the arguments of the start_session tool.
type StartSessionArgs struct {
	WorkflowID string `json:"workflow_id"`
	SessionID  string `json:"session_id,omitempty"`
	Context    string `json:"context,omitempty"`
}

// MessageArgs are the arguments of the send_message tool.
type MessageArgs struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	History   string `json:"history,omitempty"`
}

// EventArgs are the arguments of the send_event tool.
type EventArgs struct {
	SessionID string `json:"session_id"`
	Type      string `json:"type"`
	NodeID    string `json:"node_id"`
	Data      string `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RespondArgs are the arguments of the respond_intervention tool.
type RespondArgs struct {
	InterventionID string `json:"intervention_id"`
	Approved       *bool  `json:"approved,omitempty"`
	Choice         string `json:"choice,omitempty"`
	Value          string `json:"value,omitempty"`
	Responder      string `json:"responder,omitempty"`
	Comment        string `json:"comment,omitempty"`
}

// SessionArgs identify a session.
type SessionArgs struct {
	SessionID string `json:"session_id"`
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("start_session",
		mcp.WithDescription("Start a conversational journey for a workflow. Returns the first reply."),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow to run")),
		mcp.WithString("session_id", mcp.Description("Session ID (generated when omitted)")),
		mcp.WithString("context", mcp.Description("JSON object with the initial workflow context")),
		mcp.WithOutputSchema[domain.Reply](),
	), mcp.NewStructuredToolHandler(s.handleStartSession))

	s.mcpServer.AddTool(mcp.NewTool("send_message",
		mcp.WithDescription("Send a user utterance. Commands (pause, resume, retry, skip, stop, status, explain, debug, export, help) are recognized; anything else answers the current prompt."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("text", mcp.Required(), mcp.Description("User utterance")),
		mcp.WithString("history", mcp.Description("JSON array of recent messages ({role, content, proposed})")),
		mcp.WithOutputSchema[domain.Reply](),
	), mcp.NewStructuredToolHandler(s.handleSendMessage))

	s.mcpServer.AddTool(mcp.NewTool("send_event",
		mcp.WithDescription("Report a step notification from the execution engine."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Event type"),
			mcp.Enum(string(domain.EventStepStarted), string(domain.EventStepCompleted), string(domain.EventStepFailed))),
		mcp.WithString("node_id", mcp.Required(), mcp.Description("Workflow node the event refers to")),
		mcp.WithString("data", mcp.Description("JSON object with the step output")),
		mcp.WithString("error", mcp.Description("Failure reason for step_failed")),
		mcp.WithOutputSchema[domain.Reply](),
	), mcp.NewStructuredToolHandler(s.handleSendEvent))

	s.mcpServer.AddTool(mcp.NewTool("respond_intervention",
		mcp.WithDescription("Answer a pending human intervention."),
		mcp.WithString("intervention_id", mcp.Required(), mcp.Description("Intervention ID")),
		mcp.WithBoolean("approved", mcp.Description("Approval decision")),
		mcp.WithString("choice", mcp.Description("Selected option for choice interventions")),
		mcp.WithString("value", mcp.Description("JSON value for input interventions")),
		mcp.WithString("responder", mcp.Description("Who answered")),
		mcp.WithString("comment", mcp.Description("Free text note")),
		mcp.WithOutputSchema[domain.Reply](),
	), mcp.NewStructuredToolHandler(s.handleRespond))

	s.mcpServer.AddTool(mcp.NewTool("stop_session",
		mcp.WithDescription("Stop a session. Stopping a stopped session is a no-op."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithOutputSchema[domain.Reply](),
	), mcp.NewStructuredToolHandler(s.handleStop))

	s.mcpServer.AddTool(mcp.NewTool("get_status",
		mcp.WithDescription("Get the full execution state of a session."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.handleGetStatus)

	s.mcpServer.AddTool(mcp.NewTool("list_interventions",
		mcp.WithDescription("List the interventions of a session, oldest first."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
	), s.handleListInterventions)

	s.mcpServer.AddTool(mcp.NewTool("get_journey",
		mcp.WithDescription("Get the journey definition mapped from a workflow."),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow ID")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		workflowID, err := request.RequireString("workflow_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		def, err := s.engine.Journey(ctx, workflowID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("journey failed: %v", err)), nil
		}
		return jsonResult(def)
	})
}

// Handler methods for structured tools

func (s *Server) handleStartSession(ctx context.Context, request mcp.CallToolRequest, args StartSessionArgs) (domain.Reply, error) {
	var initial map[string]any
	if args.Context != "" {
		if err := json.Unmarshal([]byte(args.Context), &initial); err != nil {
			return domain.Reply{}, fmt.Errorf("context must be a JSON object: %w", err)
		}
	}
	reply, err := s.engine.StartSession(ctx, args.SessionID, args.WorkflowID, initial)
	return settle("start_session", reply, err)
}

func (s *Server) handleSendMessage(ctx context.Context, request mcp.CallToolRequest, args MessageArgs) (domain.Reply, error) {
	var history []domain.Message
	if args.History != "" {
		if err := json.Unmarshal([]byte(args.History), &history); err != nil {
			return domain.Reply{}, fmt.Errorf("history must be a JSON array of messages: %w", err)
		}
	}
	reply, err := s.engine.HandleMessage(ctx, args.SessionID, args.Text, history)
	return settle("send_message", reply, err)
}

func (s *Server) handleSendEvent(ctx context.Context, request mcp.CallToolRequest, args EventArgs) (domain.Reply, error) {
	event := domain.EngineEvent{
		Type:   domain.EngineEventType(args.Type),
		NodeID: args.NodeID,
		Error:  args.Error,
	}
	if args.Data != "" {
		if !json.Valid([]byte(args.Data)) {
			return domain.Reply{}, errors.New("data must be valid JSON")
		}
		event.Data = json.RawMessage(args.Data)
	}
	reply, err := s.engine.HandleEvent(ctx, args.SessionID, event)
	return settle("send_event", reply, err)
}

func (s *Server) handleRespond(ctx context.Context, request mcp.CallToolRequest, args RespondArgs) (domain.Reply, error) {
	resp := domain.InterventionResponse{
		Approved:  args.Approved,
		Choice:    args.Choice,
		Responder: args.Responder,
		Comment:   args.Comment,
	}
	if args.Value != "" {
		var v any
		if err := json.Unmarshal([]byte(args.Value), &v); err != nil {
			// Plain text answers are taken as strings.
			v = args.Value
		}
		resp.Value = v
	}
	reply, err := s.engine.RespondIntervention(ctx, args.InterventionID, resp)
	return settle("respond_intervention", reply, err)
}

func (s *Server) handleStop(ctx context.Context, request mcp.CallToolRequest, args SessionArgs) (domain.Reply, error) {
	reply, err := s.engine.Stop(ctx, args.SessionID)
	if reply == nil && err == nil {
		reply, err = s.engine.Reply(ctx, args.SessionID)
	}
	return settle("stop_session", reply, err)
}

func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, err := s.engine.Status(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status failed: %v", err)), nil
	}
	return jsonResult(state)
}

func (s *Server) handleListInterventions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	list, err := s.engine.Interventions(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list interventions failed: %v", err)), nil
	}
	if list == nil {
		list = []*domain.Intervention{}
	}
	return jsonResult(list)
}

// settle turns an engine result into a tool result. A session that failed during
// the call still answers with its reply, which carries the error.
func settle(tool string, reply *domain.Reply, err error) (domain.Reply, error) {
	if reply == nil {
		if err == nil {
			err = domain.ErrNotFound
		}
		return domain.Reply{}, fmt.Errorf("%s failed [%s]: %w", tool, domain.ErrorCode(err), err)
	}
	if err != nil {
		slog.Warn("MCP: Session failed", "tool", tool, "session_id", reply.SessionID, "error", err)
	}
	return *reply, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("journey://workflows", "Available Workflows",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids, err := s.engine.Workflows(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list workflows: %w", err)
		}
		data, _ := json.Marshal(ids)
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "journey://workflows",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource("journey://sessions", "Stored Sessions",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		ids, err := s.engine.Sessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		data, _ := json.Marshal(ids)
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "journey://sessions",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
