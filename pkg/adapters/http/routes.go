package http

import (
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

//go:embed openapi.yaml
var specYAML []byte

// StreamSessionParams defines parameters for StreamSession.
type StreamSessionParams struct {
	// Watch is a comma separated filter of update sections.
	Watch *string `form:"watch,omitempty" json:"watch,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /health)
	GetHealth(w http.ResponseWriter, r *http.Request)
	// (GET /info)
	GetInfo(w http.ResponseWriter, r *http.Request)
	// (GET /workflows)
	ListWorkflows(w http.ResponseWriter, r *http.Request)
	// (GET /journeys/{workflowID})
	GetJourney(w http.ResponseWriter, r *http.Request, workflowID string)
	// (GET /sessions)
	ListSessions(w http.ResponseWriter, r *http.Request)
	// (POST /sessions)
	StartSession(w http.ResponseWriter, r *http.Request)
	// (GET /sessions/{sessionID})
	GetSession(w http.ResponseWriter, r *http.Request, sessionID string)
	// (DELETE /sessions/{sessionID})
	ArchiveSession(w http.ResponseWriter, r *http.Request, sessionID string)
	// (POST /sessions/{sessionID}/events)
	PostEvent(w http.ResponseWriter, r *http.Request, sessionID string)
	// (POST /sessions/{sessionID}/messages)
	PostMessage(w http.ResponseWriter, r *http.Request, sessionID string)
	// (POST /sessions/{sessionID}/stop)
	StopSession(w http.ResponseWriter, r *http.Request, sessionID string)
	// (GET /sessions/{sessionID}/interventions)
	ListInterventions(w http.ResponseWriter, r *http.Request, sessionID string)
	// (GET /sessions/{sessionID}/stream)
	StreamSession(w http.ResponseWriter, r *http.Request, sessionID string, params StreamSessionParams)
	// (POST /interventions/{interventionID}/respond)
	RespondIntervention(w http.ResponseWriter, r *http.Request, interventionID string)
}

// MiddlewareFunc wraps a single operation handler.
type MiddlewareFunc func(http.Handler) http.Handler

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandlerFunc   func(w http.ResponseWriter, r *http.Request, err error)
}

// ParamError reports a path or query parameter that could not be bound.
type ParamError struct {
	ParamName string
	Err       error
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid format for parameter %s: %s", e.ParamName, e.Err.Error())
}

func (e *ParamError) Unwrap() error {
	return e.Err
}

func (siw *ServerInterfaceWrapper) serve(w http.ResponseWriter, r *http.Request, h http.Handler) {
	for _, middleware := range siw.HandlerMiddlewares {
		h = middleware(h)
	}
	h.ServeHTTP(w, r)
}

func (siw *ServerInterfaceWrapper) pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &value,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandlerFunc(w, r, &ParamError{ParamName: name, Err: err})
		return "", false
	}
	return value, true
}

// GetHealth operation middleware
func (siw *ServerInterfaceWrapper) GetHealth(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.GetHealth))
}

// GetInfo operation middleware
func (siw *ServerInterfaceWrapper) GetInfo(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.GetInfo))
}

// ListWorkflows operation middleware
func (siw *ServerInterfaceWrapper) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.ListWorkflows))
}

// GetJourney operation middleware
func (siw *ServerInterfaceWrapper) GetJourney(w http.ResponseWriter, r *http.Request) {
	workflowID, ok := siw.pathParam(w, r, "workflowID")
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.GetJourney(w, r, workflowID)
	}))
}

// ListSessions operation middleware
func (siw *ServerInterfaceWrapper) ListSessions(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.ListSessions))
}

// StartSession operation middleware
func (siw *ServerInterfaceWrapper) StartSession(w http.ResponseWriter, r *http.Request) {
	siw.serve(w, r, http.HandlerFunc(siw.Handler.StartSession))
}

// GetSession operation middleware
func (siw *ServerInterfaceWrapper) GetSession(w http.ResponseWriter, r *http.Request) {
	siw.withSession(w, r, siw.Handler.GetSession)
}

// ArchiveSession operation middleware
func (siw *ServerInterfaceWrapper) ArchiveSession(w http.ResponseWriter, r *http.Request) {
	siw.withSession(w, r, siw.Handler.ArchiveSession)
}

// PostEvent operation middleware
func (siw *ServerInterfaceWrapper) PostEvent(w http.ResponseWriter, r *http.Request) {
	siw.withSession(w, r, siw.Handler.PostEvent)
}

// PostMessage operation middleware
func (siw *ServerInterfaceWrapper) PostMessage(w http.ResponseWriter, r *http.Request) {
	siw.withSession(w, r, siw.Handler.PostMessage)
}

// StopSession operation middleware
func (siw *ServerInterfaceWrapper) StopSession(w http.ResponseWriter, r *http.Request) {
	siw.withSession(w, r, siw.Handler.StopSession)
}

// ListInterventions operation middleware
func (siw *ServerInterfaceWrapper) ListInterventions(w http.ResponseWriter, r *http.Request) {
	siw.withSession(w, r, siw.Handler.ListInterventions)
}

// StreamSession operation middleware
func (siw *ServerInterfaceWrapper) StreamSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := siw.pathParam(w, r, "sessionID")
	if !ok {
		return
	}

	var params StreamSessionParams
	if err := runtime.BindQueryParameter("form", true, false, "watch", r.URL.Query(), &params.Watch); err != nil {
		siw.ErrorHandlerFunc(w, r, &ParamError{ParamName: "watch", Err: err})
		return
	}

	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.StreamSession(w, r, sessionID, params)
	}))
}

// RespondIntervention operation middleware
func (siw *ServerInterfaceWrapper) RespondIntervention(w http.ResponseWriter, r *http.Request) {
	interventionID, ok := siw.pathParam(w, r, "interventionID")
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		siw.Handler.RespondIntervention(w, r, interventionID)
	}))
}

func (siw *ServerInterfaceWrapper) withSession(w http.ResponseWriter, r *http.Request, h func(http.ResponseWriter, *http.Request, string)) {
	sessionID, ok := siw.pathParam(w, r, "sessionID")
	if !ok {
		return
	}
	siw.serve(w, r, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(w, r, sessionID)
	}))
}

// ChiServerOptions configures HandlerWithOptions.
type ChiServerOptions struct {
	BaseURL          string
	BaseRouter       chi.Router
	Middlewares      []MiddlewareFunc
	ErrorHandlerFunc func(w http.ResponseWriter, r *http.Request, err error)
}

// HandlerFromMux creates http.Handler with routing matching OpenAPI spec based on the provided mux.
func HandlerFromMux(si ServerInterface, r chi.Router) http.Handler {
	return HandlerWithOptions(si, ChiServerOptions{BaseRouter: r})
}

// HandlerWithOptions creates http.Handler with additional options.
func HandlerWithOptions(si ServerInterface, options ChiServerOptions) http.Handler {
	r := options.BaseRouter
	if r == nil {
		r = chi.NewRouter()
	}
	if options.ErrorHandlerFunc == nil {
		options.ErrorHandlerFunc = func(w http.ResponseWriter, r *http.Request, err error) {
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
	}
	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandlerFunc:   options.ErrorHandlerFunc,
	}

	base := options.BaseURL
	r.Group(func(r chi.Router) {
		r.Get(base+"/health", wrapper.GetHealth)
		r.Get(base+"/info", wrapper.GetInfo)
		r.Get(base+"/workflows", wrapper.ListWorkflows)
		r.Get(base+"/journeys/{workflowID}", wrapper.GetJourney)
		r.Get(base+"/sessions", wrapper.ListSessions)
		r.Post(base+"/sessions", wrapper.StartSession)
		r.Get(base+"/sessions/{sessionID}", wrapper.GetSession)
		r.Delete(base+"/sessions/{sessionID}", wrapper.ArchiveSession)
		r.Post(base+"/sessions/{sessionID}/events", wrapper.PostEvent)
		r.Post(base+"/sessions/{sessionID}/messages", wrapper.PostMessage)
		r.Post(base+"/sessions/{sessionID}/stop", wrapper.StopSession)
		r.Get(base+"/sessions/{sessionID}/interventions", wrapper.ListInterventions)
		r.Get(base+"/sessions/{sessionID}/stream", wrapper.StreamSession)
		r.Post(base+"/interventions/{interventionID}/respond", wrapper.RespondIntervention)
	})
	return r
}

// rawSpec returns the embedded OpenAPI document.
func rawSpec() ([]byte, error) {
	out := make([]byte, len(specYAML))
	copy(out, specYAML)
	return out, nil
}

// GetSwagger returns the parsed OpenAPI document of the API.
func GetSwagger() (*openapi3.T, error) {
	data, err := rawSpec()
	if err != nil {
		return nil, err
	}
	loader := openapi3.NewLoader()
	swagger, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("error loading OpenAPI spec: %w", err)
	}
	return swagger, nil
}
