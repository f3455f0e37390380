package assignment

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tenantdesk/accesskit/pkg/httputil"
	"github.com/tenantdesk/accesskit/pkg/observability"
	"github.com/tenantdesk/accesskit/pkg/profiles"
)

// PermissionLister lists the module rows of an account
type PermissionLister interface {
	ListModulePermissions(ctx context.Context, userID string) ([]ModulePermissionRow, error)
}

// Handlers provides HTTP handlers for assignment sessions
type Handlers struct {
	engine      *Engine
	sessions    SessionStore
	permissions PermissionLister
	logger      *observability.Logger
}

// NewHandlers creates new assignment handlers. permissions may be nil, which
// disables the module permission route.
func NewHandlers(engine *Engine, sessions SessionStore, permissions PermissionLister, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{
		engine:      engine,
		sessions:    sessions,
		permissions: permissions,
		logger:      logger,
	}
}

// RegisterRoutes registers all assignment routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/assignments/sessions", h.OpenSession).Methods("POST")
	router.HandleFunc("/assignments/sessions/{id}", h.GetSession).Methods("GET")
	router.HandleFunc("/assignments/sessions/{id}", h.CloseSession).Methods("DELETE")
	router.HandleFunc("/assignments/sessions/{id}/preview", h.Preview).Methods("POST")
	router.HandleFunc("/assignments/sessions/{id}/commit", h.Commit).Methods("POST")
	router.HandleFunc("/assignments/sessions/{id}/resume", h.Resume).Methods("POST")

	if h.permissions != nil {
		router.HandleFunc("/assignments/accounts/{userID}/module-permissions", h.ListModulePermissions).Methods("GET")
	}
}

type openSessionRequest struct {
	ProfileCode    string `json:"profile_code"`
	OrganizationID string `json:"organization_id"`
	Search         string `json:"search"`
	Limit          int    `json:"limit"`
}

// sessionResponse is a session plus its truncation warning
type sessionResponse struct {
	*Session
	Warning string   `json:"warning,omitempty"`
	Preview *Preview `json:"preview,omitempty"`
}

func newSessionResponse(session *Session) sessionResponse {
	resp := sessionResponse{Session: session}
	if session.Truncated {
		resp.Warning = (&PopulationTruncatedWarning{
			OrganizationID: session.OrganizationID,
			Limit:          session.Options.Limit,
		}).Error()
	}
	return resp
}

// OpenSession opens an assignment session
func (h *Handlers) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ProfileCode == "" {
		httputil.WriteFieldError(w, "profile_code", errors.New("profile_code is required"))
		return
	}

	session, err := h.engine.OpenSession(r.Context(), req.ProfileCode, req.OrganizationID, SessionOptions{
		Search: req.Search,
		Limit:  req.Limit,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.sessions.Put(r.Context(), session); err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteCreated(w, newSessionResponse(session))
}

// GetSession returns an open session
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, newSessionResponse(session))
}

// CloseSession discards a session
func (h *Handlers) CloseSession(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type previewRequest struct {
	Selection []string `json:"selection"`
}

// Preview diffs a selection against the session's initial selection
func (h *Handlers) Preview(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req previewRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	httputil.WriteSuccess(w, h.engine.PreviewDiff(session, req.Selection))
}

type commitRequest struct {
	ToAdd            []string `json:"to_add"`
	ToRemove         []string `json:"to_remove"`
	ConfirmOverwrite bool     `json:"confirm_overwrite"`
}

// Commit writes a session diff. A successful commit closes the session. A
// partial one marks it stale and keeps it so it can be resumed.
func (h *Handlers) Commit(w http.ResponseWriter, r *http.Request) {
	session, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req commitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.engine.CommitAssignment(r.Context(), session, req.ToAdd, req.ToRemove, CommitOptions{
		ConfirmOverwrite: req.ConfirmOverwrite,
	})
	switch {
	case err == nil:
		if delErr := h.sessions.Delete(r.Context(), session.ID); delErr != nil {
			h.logger.WithError(delErr).WithField("session_id", session.ID).Warn("failed to close session")
		}
	case session.Stale:
		if putErr := h.sessions.Put(r.Context(), session); putErr != nil {
			h.logger.WithError(putErr).WithField("session_id", session.ID).Warn("failed to mark session stale")
		}
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// Resume reopens a session against current state and previews the selection.
// The old session is closed.
func (h *Handlers) Resume(w http.ResponseWriter, r *http.Request) {
	prev, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	var req previewRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	next, preview, err := h.engine.Resume(r.Context(), prev, req.Selection)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.sessions.Put(r.Context(), next); err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.sessions.Delete(r.Context(), prev.ID); err != nil {
		h.logger.WithError(err).WithField("session_id", prev.ID).Warn("failed to close session")
	}

	resp := newSessionResponse(next)
	resp.Preview = &preview
	httputil.WriteCreated(w, resp)
}

// ListModulePermissions returns the module rows of one account
func (h *Handlers) ListModulePermissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathStringOrError(w, r, "userID")
	if !ok {
		return
	}

	rows, err := h.permissions.ListModulePermissions(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httputil.WriteSuccess(w, rows)
}

func (h *Handlers) loadSession(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return nil, false
	}
	session, err := h.sessions.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return session, true
}

// writeError maps assignment errors to HTTP responses
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	var profileValidation *profiles.ValidationError
	var confirmation *ConfirmationRequiredError
	var batch *BatchWriteError

	switch {
	case errors.As(err, &validation):
		httputil.WriteFieldError(w, validation.Field, err)
	case errors.As(err, &profileValidation):
		httputil.WriteFieldError(w, profileValidation.Field, err)
	case errors.As(err, &confirmation):
		httputil.WriteDetailedError(w, http.StatusConflict, err, map[string]any{
			"conflicts": confirmation.Conflicts,
		})
	case errors.As(err, &batch):
		h.logger.WithError(err).Error("assignment commit partially applied")
		httputil.WriteDetailedError(w, http.StatusInternalServerError, errors.New(batch.Summary()), map[string]any{
			"succeeded": batch.SucceededCount,
			"requested": batch.RequestedCount,
			"operation": batch.Operation,
			"pending":   batch.Pending,
		})
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, profiles.ErrProfileNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	case errors.Is(err, ErrSessionStale):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrProfileNotAssignable):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.WithError(err).Error("assignment request failed")
		httputil.WriteInternalError(w, err)
	}
}
