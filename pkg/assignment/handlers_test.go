package assignment

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tenantdesk/accesskit/pkg/httputil"
)

type fakePermissions struct {
	rows map[string][]ModulePermissionRow
}

func (f *fakePermissions) ListModulePermissions(ctx context.Context, userID string) ([]ModulePermissionRow, error) {
	rows := f.rows[userID]
	if rows == nil {
		rows = []ModulePermissionRow{}
	}
	return rows, nil
}

func setupHandlers(t *testing.T) (*mux.Router, *world, SessionStore) {
	t.Helper()
	w := swapWorld()
	engine, _, _, _ := newTestEngine(w)
	sessions := NewMemorySessionStore(16, time.Minute)
	permissions := &fakePermissions{rows: map[string][]ModulePermissionRow{
		"u1": {{UserID: "u1", ModuleID: "grades", CanRead: true, GrantedByProfile: true}},
	}}

	router := mux.NewRouter()
	NewHandlers(engine, sessions, permissions, nil).RegisterRoutes(router)
	return router, w, sessions
}

func doRequest(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

type sessionBody struct {
	Session
	Warning string   `json:"warning"`
	Preview *Preview `json:"preview"`
}

func openSession(t *testing.T, router http.Handler, body map[string]any) sessionBody {
	t.Helper()
	rec := doRequest(t, router, "POST", "/assignments/sessions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp sessionBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestHandlers_OpenSession(t *testing.T) {
	router, _, _ := setupHandlers(t)

	resp := openSession(t, router, map[string]any{"profile_code": "teacher_basic", "organization_id": "org1"})
	assert.NotEmpty(t, resp.ID)
	assert.Len(t, resp.Population, 4)
	assert.Equal(t, []string{"u1", "u2"}, resp.InitialSelection)
	assert.Empty(t, resp.Warning)

	rec := doRequest(t, router, "GET", "/assignments/sessions/"+resp.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_OpenSessionTruncated(t *testing.T) {
	router, _, _ := setupHandlers(t)

	resp := openSession(t, router, map[string]any{"profile_code": "teacher_basic", "organization_id": "org1", "limit": 2})
	assert.True(t, resp.Truncated)
	assert.Contains(t, resp.Warning, "narrow the search")
}

func TestHandlers_OpenSessionErrors(t *testing.T) {
	router, w, _ := setupHandlers(t)
	w.profiles["teacher_advanced"].Active = false

	tests := []struct {
		name   string
		body   any
		status int
		field  string
	}{
		{"missing profile", map[string]any{"organization_id": "org1"}, http.StatusBadRequest, "profile_code"},
		{"missing organization", map[string]any{"profile_code": "teacher_basic"}, http.StatusBadRequest, "organization_id"},
		{"unknown profile", map[string]any{"profile_code": "ghost", "organization_id": "org1"}, http.StatusNotFound, ""},
		{"inactive profile", map[string]any{"profile_code": "teacher_advanced", "organization_id": "org1"}, http.StatusUnprocessableEntity, ""},
		{"other organization", map[string]any{"profile_code": "org2_only", "organization_id": "org1"}, http.StatusUnprocessableEntity, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, router, "POST", "/assignments/sessions", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.field, decodeError(t, rec).Field)
		})
	}

	req := httptest.NewRequest("POST", "/assignments/sessions", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlers_Preview(t *testing.T) {
	router, w, _ := setupHandlers(t)
	session := openSession(t, router, map[string]any{"profile_code": "teacher_basic", "organization_id": "org1"})

	rec := doRequest(t, router, "POST", "/assignments/sessions/"+session.ID+"/preview", map[string]any{
		"selection": []string{"u2", "u3"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var preview Preview
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&preview))
	assert.Equal(t, []string{"u3"}, preview.ToAdd)
	assert.Equal(t, []string{"u1"}, preview.ToRemove)
	require.Len(t, preview.Conflicts, 1)
	assert.Equal(t, "teacher_advanced", preview.Conflicts[0].CurrentProfileCode)
	assert.Empty(t, w.writes)
}

func TestHandlers_CommitConfirmationFlow(t *testing.T) {
	router, w, sessions := setupHandlers(t)
	session := openSession(t, router, map[string]any{"profile_code": "teacher_basic", "organization_id": "org1"})
	commitPath := "/assignments/sessions/" + session.ID + "/commit"

	rec := doRequest(t, router, "POST", commitPath, map[string]any{
		"to_add":    []string{"u3"},
		"to_remove": []string{"u1"},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec)
	assert.Contains(t, resp.Details, "conflicts")
	assert.Empty(t, w.writes)

	_, err := sessions.Get(context.Background(), session.ID)
	require.NoError(t, err, "session stays open while awaiting confirmation")

	rec = doRequest(t, router, "POST", commitPath, map[string]any{
		"to_add":            []string{"u3"},
		"to_remove":         []string{"u1"},
		"confirm_overwrite": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, Result{Added: 1, Removed: 1}, result)
	assert.Equal(t, "teacher_basic", *w.codeOf("u3"))

	_, err = sessions.Get(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "committed sessions are closed")

	rec = doRequest(t, router, "POST", commitPath, map[string]any{"to_add": []string{"u4"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_CommitValidation(t *testing.T) {
	router, _, _ := setupHandlers(t)
	session := openSession(t, router, map[string]any{"profile_code": "teacher_basic", "organization_id": "org1"})

	rec := doRequest(t, router, "POST", "/assignments/sessions/"+session.ID+"/commit", map[string]any{
		"to_remove": []string{"u4"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "to_remove", decodeError(t, rec).Field)
}

func TestHandlers_PartialFailureAndResume(t *testing.T) {
	router, w, sessions := setupHandlers(t)
	w.addAccount("u5", "org1", "Esteves", nil)
	w.addAccount("u6", "org1", "Faria", nil)
	session := openSession(t, router, map[string]any{"profile_code": "teacher_basic", "organization_id": "org1"})

	w.failAt = 2
	rec := doRequest(t, router, "POST", "/assignments/sessions/"+session.ID+"/commit", map[string]any{
		"to_add": []string{"u4", "u5", "u6"},
	})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Contains(t, resp.Error, "2 of 3 applied")
	assert.Equal(t, float64(2), resp.Details["succeeded"])
	assert.Equal(t, float64(3), resp.Details["requested"])
	assert.Equal(t, []any{"u6"}, resp.Details["pending"])

	assert.Equal(t, "2 of 3 applied; add chunk 1 failed", resp.Error)
	assert.NotContains(t, rec.Body.String(), "connection reset", "storage errors stay in the server log")

	stale, err := sessions.Get(context.Background(), session.ID)
	require.NoError(t, err, "a partially applied session is kept for resume")
	assert.True(t, stale.Stale)

	rec = doRequest(t, router, "POST", "/assignments/sessions/"+session.ID+"/commit", map[string]any{
		"to_add": []string{"u6"},
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, decodeError(t, rec).Error, "resume it")

	w.failAt = 0
	rec = doRequest(t, router, "POST", "/assignments/sessions/"+session.ID+"/resume", map[string]any{
		"selection": []string{"u1", "u2", "u4", "u5", "u6"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resumed sessionBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resumed))
	assert.NotEqual(t, session.ID, resumed.ID)
	assert.False(t, resumed.Stale)
	require.NotNil(t, resumed.Preview)
	assert.Equal(t, []string{"u6"}, resumed.Preview.ToAdd)
	assert.Empty(t, resumed.Preview.ToRemove)

	_, err = sessions.Get(context.Background(), session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "resume closes the stale session")

	rec = doRequest(t, router, "POST", "/assignments/sessions/"+resumed.ID+"/commit", map[string]any{
		"to_add": []string{"u6"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlers_CloseSession(t *testing.T) {
	router, _, _ := setupHandlers(t)
	session := openSession(t, router, map[string]any{"profile_code": "teacher_basic", "organization_id": "org1"})

	rec := doRequest(t, router, "DELETE", "/assignments/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, router, "GET", "/assignments/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlers_ListModulePermissions(t *testing.T) {
	router, _, _ := setupHandlers(t)

	rec := doRequest(t, router, "GET", "/assignments/accounts/u1/module-permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []ModulePermissionRow
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "grades", rows[0].ModuleID)

	rec = doRequest(t, router, "GET", "/assignments/accounts/nobody/module-permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
