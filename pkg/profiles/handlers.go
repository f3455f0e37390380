package profiles

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tenantdesk/accesskit/pkg/audit"
	"github.com/tenantdesk/accesskit/pkg/httputil"
	"github.com/tenantdesk/accesskit/pkg/observability"
)

// HistorySource finds recorded audit events; *audit.DBLogger implements it
type HistorySource interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.AuditEvent, error)
}

// Handlers provides HTTP handlers for the profile catalog
type Handlers struct {
	catalog *Catalog
	history HistorySource
	logger  *observability.Logger
}

// NewHandlers creates new profile handlers
func NewHandlers(catalog *Catalog, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handlers{catalog: catalog, logger: logger}
}

// WithHistory enables GET /profiles/{code}/history
func (h *Handlers) WithHistory(src HistorySource) *Handlers {
	h.history = src
	return h
}

// RegisterRoutes registers all profile catalog routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/profiles", h.ListProfiles).Methods("GET")
	router.HandleFunc("/profiles", h.CreateProfile).Methods("POST")
	router.HandleFunc("/profiles/{code}", h.GetProfile).Methods("GET")
	router.HandleFunc("/profiles/{code}", h.UpdateProfile).Methods("PATCH")
	router.HandleFunc("/profiles/{code}", h.DeleteProfile).Methods("DELETE")
	router.HandleFunc("/profiles/{code}/deactivate", h.DeactivateProfile).Methods("POST")
	router.HandleFunc("/profiles/{code}/purge", h.PurgeProfile).Methods("POST")
	router.HandleFunc("/profiles/{code}/permissions", h.GetPermissions).Methods("GET")
	if h.history != nil {
		router.HandleFunc("/profiles/{code}/history", h.GetHistory).Methods("GET")
	}

	// Authoring helpers
	router.HandleFunc("/permissions/toggle-category", h.ToggleCategory).Methods("POST")
	router.HandleFunc("/modules/categories", h.ListCategories).Methods("GET")
}

// ListProfiles lists profiles visible to an organization
func (h *Handlers) ListProfiles(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{}
	if org := httputil.ParseQueryString(r, "organization_id", ""); org != "" {
		filter.OrganizationID = &org
	}

	var err error
	if filter.IncludeTemplates, err = httputil.ParseQueryBool(r, "include_templates", true); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if filter.IncludeInactive, err = httputil.ParseQueryBool(r, "include_inactive", false); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	list, err := h.catalog.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if list == nil {
		list = []*AccessProfile{}
	}

	httputil.WriteSuccess(w, list)
}

// CreateProfile creates a new profile
func (h *Handlers) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var profile AccessProfile
	if !httputil.ParseJSONOrError(w, r, &profile) {
		return
	}

	if err := h.catalog.Create(r.Context(), &profile); err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteCreated(w, &profile)
}

// GetProfile returns one profile
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}

	profile, err := h.catalog.Get(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, profile)
}

// UpdateProfile patches the mutable fields of a profile
func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}

	var patch ProfilePatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	profile, err := h.catalog.Update(r.Context(), code, patch)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, profile)
}

// DeleteProfile deletes (deactivates) an unreferenced profile
func (h *Handlers) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}

	if err := h.catalog.Delete(r.Context(), code); err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// DeactivateProfile soft-deletes a profile regardless of references
func (h *Handlers) DeactivateProfile(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}

	if err := h.catalog.Deactivate(r.Context(), code); err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// PurgeProfile hard-deletes an inactive, unreferenced profile
func (h *Handlers) PurgeProfile(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}

	if err := h.catalog.Purge(r.Context(), code); err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// GetPermissions returns the resolved permission set of a profile
func (h *Handlers) GetPermissions(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}

	resolved, err := h.catalog.Resolve(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, resolved)
}

// GetHistory returns the audit trail of a profile, newest first. Assignment
// commits are included with ?include_assignments=true.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	code, ok := httputil.ParsePathStringOrError(w, r, "code")
	if !ok {
		return
	}
	withCommits, err := httputil.ParseQueryBool(r, "include_assignments", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := audit.SearchFilter{ResourceID: code, Limit: limit}
	if !withCommits {
		filter.ResourceType = audit.ResourceTypeProfile
	}

	events, err := h.history.Search(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if events == nil {
		events = []*audit.AuditEvent{}
	}
	httputil.WriteSuccess(w, events)
}

type toggleCategoryRequest struct {
	Category    string                     `json:"category"`
	Permissions map[string]PermissionState `json:"permissions"`
	Checked     bool                       `json:"checked"`
}

type toggleCategoryResponse struct {
	Permissions  map[string]PermissionState `json:"permissions"`
	FullyGranted bool                       `json:"fully_granted"`
	ActiveCount  int                        `json:"active_count"`
	Matrix       Matrix                     `json:"permission_matrix"`
}

// ToggleCategory sets a whole category on an authored permission map
func (h *Handlers) ToggleCategory(w http.ResponseWriter, r *http.Request) {
	var req toggleCategoryRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Permissions == nil {
		req.Permissions = map[string]PermissionState{}
	}

	next, full, err := h.catalog.ToggleCategory(req.Category, req.Permissions, req.Checked)
	if err != nil {
		h.writeError(w, err)
		return
	}

	httputil.WriteSuccess(w, toggleCategoryResponse{
		Permissions:  next,
		FullyGranted: full,
		ActiveCount:  CountActive(next),
		Matrix:       ToMatrix(next),
	})
}

// ListCategories returns the module categories used for authoring
func (h *Handlers) ListCategories(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, h.catalog.Modules().Categories)
}

// writeError maps catalog errors to HTTP responses
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	var validation *ValidationError
	var duplicate *DuplicateCodeError
	var inUse *InUseError

	switch {
	case errors.As(err, &validation):
		httputil.WriteFieldError(w, validation.Field, err)
	case errors.As(err, &duplicate):
		httputil.WriteConflict(w, err.Error())
	case errors.As(err, &inUse):
		httputil.WriteDetailedError(w, http.StatusConflict, err, map[string]any{
			"references": inUse.References,
		})
	case errors.Is(err, ErrProfileNotFound):
		httputil.WriteNotFoundError(w, err.Error())
	default:
		h.logger.WithError(err).Error("profile request failed")
		httputil.WriteInternalError(w, err)
	}
}
