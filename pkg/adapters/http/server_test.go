package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aretw0/journey"
	"github.com/aretw0/journey/pkg/adapters/memory"
	"github.com/aretw0/journey/pkg/adapters/watermill"
	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/dsl"
	"github.com/aretw0/journey/pkg/observability"
	"github.com/aretw0/journey/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()

	linear := dsl.New("linear")
	linear.Action("A").Prompt("Collecting your details").Go("B")
	linear.Action("B")

	approval := dsl.New("approval")
	approval.Action("A").Go("B")
	approval.Human("B").Prompt("Approve?").Go("C")
	approval.Action("C")

	loader, err := memory.NewFromGraphs(linear.MustBuild(), approval.MustBuild())
	require.NoError(t, err)

	bus := watermill.NewInMemory(nil)
	t.Cleanup(func() { _ = bus.Close() })

	eng, err := journey.New(loader, journey.WithPublisher(bus))
	require.NoError(t, err)

	srv := httptest.NewServer(NewHandler(eng, append([]Option{WithUpdates(bus)}, opts...)...))
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decodeReply(t *testing.T, data []byte) domain.Reply {
	t.Helper()
	var reply domain.Reply
	require.NoError(t, json.Unmarshal(data, &reply), string(data))
	return reply
}

func decodeError(t *testing.T, data []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.Unmarshal(data, &e), string(data))
	return e
}

func TestOpenAPIDocument(t *testing.T) {
	swagger, err := GetSwagger()
	require.NoError(t, err)
	require.NoError(t, swagger.Validate(context.Background()))
	assert.Equal(t, "1.0.0", swagger.Info.Version)
	assert.NotNil(t, swagger.Paths.Find("/sessions/{sessionID}/stream"))
}

func TestServer_HealthAndInfo(t *testing.T) {
	srv := newTestServer(t)

	resp, body := call(t, srv, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = call(t, srv, "GET", "/info", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var info map[string]string
	require.NoError(t, json.Unmarshal(body, &info))
	assert.Equal(t, "journey-http", info["app"])
	assert.Equal(t, "1.0.0", info["api_version"])

	resp, body = call(t, srv, "GET", "/openapi.yaml", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "openapi: 3.0.3")

	resp, _ = call(t, srv, "OPTIONS", "/sessions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_WorkflowsAndJourney(t *testing.T) {
	srv := newTestServer(t)

	resp, body := call(t, srv, "GET", "/workflows", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["approval","linear"]`, string(body))

	resp, body = call(t, srv, "GET", "/journeys/linear", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var def domain.JourneyDefinition
	require.NoError(t, json.Unmarshal(body, &def))
	assert.Equal(t, "linear", def.WorkflowID)
	assert.Equal(t, "A", def.EntryNodeID)
	assert.Len(t, def.NodeStates, 2)

	resp, body = call(t, srv, "GET", "/journeys/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "workflow_not_found", decodeError(t, body).Code)
}

func TestServer_SessionLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp, body := call(t, srv, "POST", "/sessions", StartSessionRequest{WorkflowID: "linear", SessionID: "s1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	reply := decodeReply(t, body)
	assert.Equal(t, "s1", reply.SessionID)
	assert.Equal(t, domain.StatusRunning, reply.Status)
	assert.Equal(t, "Collecting your details", reply.PromptText)

	resp, body = call(t, srv, "POST", "/sessions/s1/events", map[string]any{"type": "step_completed", "nodeId": "A"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	reply = decodeReply(t, body)
	assert.Equal(t, 1, reply.Progress.Completed)

	resp, body = call(t, srv, "POST", "/sessions/s1/messages", MessageRequest{Text: "pause"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	reply = decodeReply(t, body)
	assert.Equal(t, domain.StatusPaused, reply.Status)
	require.NotNil(t, reply.Intent)
	assert.Equal(t, domain.CommandPause, reply.Intent.Command)

	resp, body = call(t, srv, "GET", "/sessions/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state domain.ExecutionState
	require.NoError(t, json.Unmarshal(body, &state))
	assert.Equal(t, []string{"A"}, state.CompletedNodes)

	resp, body = call(t, srv, "GET", "/sessions", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["s1"]`, string(body))

	for i := 0; i < 2; i++ {
		resp, body = call(t, srv, "POST", "/sessions/s1/stop", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
		assert.Equal(t, domain.StatusStopped, decodeReply(t, body).Status)
	}

	resp, body = call(t, srv, "POST", "/sessions/s1/events", map[string]any{"type": "step_completed", "nodeId": "B"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_terminal", decodeError(t, body).Code)

	resp, _ = call(t, srv, "DELETE", "/sessions/s1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = call(t, srv, "GET", "/sessions/s1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session_not_found", decodeError(t, body).Code)
}

func TestServer_RejectedRequests(t *testing.T) {
	srv := newTestServer(t)

	resp, body := call(t, srv, "POST", "/sessions", map[string]any{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeError(t, body).Code)

	resp, body = call(t, srv, "POST", "/sessions", StartSessionRequest{WorkflowID: "missing"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "workflow_not_found", decodeError(t, body).Code)

	resp, _ = call(t, srv, "POST", "/sessions", StartSessionRequest{WorkflowID: "linear", SessionID: "s1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = call(t, srv, "POST", "/sessions", StartSessionRequest{WorkflowID: "linear", SessionID: "s1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = call(t, srv, "POST", "/sessions/s1/events", map[string]any{"type": "step_exploded", "nodeId": "A"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeError(t, body).Code)

	resp, body = call(t, srv, "POST", "/sessions/ghost/events", map[string]any{"type": "step_completed", "nodeId": "A"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session_not_found", decodeError(t, body).Code)

	resp, _ = call(t, srv, "POST", "/interventions/nope/respond", map[string]any{"approved": true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Intervention(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := call(t, srv, "POST", "/sessions", StartSessionRequest{WorkflowID: "approval", SessionID: "s1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := call(t, srv, "POST", "/sessions/s1/events", map[string]any{"type": "step_completed", "nodeId": "A"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	reply := decodeReply(t, body)
	assert.Equal(t, domain.StatusAwaitingInput, reply.Status)
	require.NotNil(t, reply.NeedsIntervention)
	id := reply.NeedsIntervention.InterventionID

	resp, body = call(t, srv, "GET", "/sessions/s1/interventions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []domain.Intervention
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)

	resp, body = call(t, srv, "POST", "/sessions/s1/messages", MessageRequest{Text: "looks fine to me"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	e := decodeError(t, body)
	assert.Equal(t, "input_mismatch", e.Code)
	assert.True(t, e.Retryable)

	resp, body = call(t, srv, "POST", "/interventions/"+id+"/respond", map[string]any{"approved": true, "responder": "ops"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	reply = decodeReply(t, body)
	assert.Equal(t, domain.StatusRunning, reply.Status)
	assert.Nil(t, reply.NeedsIntervention)

	resp, body = call(t, srv, "POST", "/interventions/"+id+"/respond", map[string]any{"approved": true})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "already_responded", decodeError(t, body).Code)
}

func TestServer_Stream(t *testing.T) {
	srv := newTestServer(t)

	resp, _ := call(t, srv, "POST", "/sessions", StartSessionRequest{WorkflowID: "linear", SessionID: "s1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, "GET", srv.URL+"/sessions/s1/stream?watch=progress", nil)
	require.NoError(t, err)
	stream, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	lines := bufio.NewScanner(stream.Body)
	lines.Buffer(make([]byte, 64*1024), 1024*1024)
	next := func() string {
		require.True(t, lines.Scan(), "stream ended early")
		return lines.Text()
	}

	assert.Equal(t, "event: ping", next())
	assert.Equal(t, "data: connected", next())
	assert.Equal(t, "", next())
	assert.Equal(t, "event: snapshot", next())
	assert.Contains(t, next(), `"status":"running"`)
	assert.Equal(t, "", next())

	// A pause changes no node set and is filtered out; the completion is not.
	resp, _ = call(t, srv, "POST", "/sessions/s1/messages", MessageRequest{Text: "pause"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = call(t, srv, "POST", "/sessions/s1/events", map[string]any{"type": "step_completed", "nodeId": "A"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, fmt.Sprintf("event: %s", domain.UpdateStateChanged), next())
	data := strings.TrimPrefix(next(), "data: ")
	var u domain.Update
	require.NoError(t, json.Unmarshal([]byte(data), &u))
	require.NotNil(t, u.Diff)
	require.NotNil(t, u.Diff.Completed)
	assert.Equal(t, []string{"A"}, u.Diff.Completed.Added)
}

func TestServer_StreamUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	resp, body := call(t, srv, "GET", "/sessions/ghost/stream", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "session_not_found", decodeError(t, body).Code)
}

func TestServer_Metrics(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	srv := newTestServer(t, WithMetricsHandler(metrics.Handler()))

	resp, _ := call(t, srv, "GET", "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWatched(t *testing.T) {
	status := domain.StatusPaused
	node := "B"
	statusOnly := domain.Update{Type: domain.UpdateStateChanged, Diff: &domain.StateDiff{Status: &status}}
	moved := domain.Update{Type: domain.UpdateStateChanged, Diff: &domain.StateDiff{
		CurrentNodeID: &node,
		Completed:     &domain.NodeSetDelta{Added: []string{"A"}},
		History:       []string{"B"},
	}}
	opened := domain.Update{Type: domain.UpdateNeedsIntervention}

	assert.True(t, watched(statusOnly, nil))
	assert.True(t, watched(statusOnly, []string{"status"}))
	assert.False(t, watched(statusOnly, []string{"node", "progress"}))
	assert.True(t, watched(moved, []string{" node"}))
	assert.True(t, watched(moved, []string{"history"}))
	assert.False(t, watched(moved, []string{"context"}))
	assert.True(t, watched(opened, []string{"interventions"}))
	assert.False(t, watched(opened, []string{"status"}))
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrSessionNotFound, http.StatusNotFound},
		{domain.NewSessionError(domain.ErrNotFound, "s", "n", ""), http.StatusNotFound},
		{domain.NewSessionError(domain.ErrAlreadyTerminal, "s", "", ""), http.StatusConflict},
		{session.ErrSessionExists, http.StatusConflict},
		{domain.NewSessionError(domain.ErrInputMismatch, "s", "n", ""), http.StatusUnprocessableEntity},
		{&domain.InvalidGraphError{WorkflowID: "w"}, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusOf(tt.err), tt.err.Error())
	}
}
