package core_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountd/core"
)

type testServer struct {
	handler http.Handler
	list    *core.AccountList
	mocks   mockProviders
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	list, _, m := newList(t)
	reg := prometheus.NewRegistry()
	core.RegisterMetrics(reg)
	server := core.NewServer(list, reg, nil)
	return &testServer{handler: server.Routes(), list: list, mocks: m}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		jsonBody, _ := json.Marshal(body)
		reader = bytes.NewReader(jsonBody)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	return w
}

func (s *testServer) createAccount(t *testing.T, accountType, username string) core.AccountView {
	t.Helper()
	w := s.do(http.MethodPost, "/accounts", map[string]string{"type": accountType, "username": username})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var view core.AccountView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&view))
	return view
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	assert.Equal(t, "ok", resp["status"])
}

func TestHandleCreateAccount_Local(t *testing.T) {
	s := setupTestServer(t)

	view := s.createAccount(t, "local", "Alex")

	assert.NotEmpty(t, view.ID)
	assert.Equal(t, core.AccountTypeLocal, view.Type)
	assert.Equal(t, core.ValidityCertain, view.Validity)
	require.NotNil(t, view.Profile)
	assert.Equal(t, core.OfflineProfileID("Alex"), view.Profile.ID)
	assert.Equal(t, 1, s.list.Len())
}

func TestHandleCreateAccount_InvalidType(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(http.MethodPost, "/accounts", map[string]string{"type": "google", "username": "Alex"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_type", decodeError(t, w)["error"])
}

func TestHandleCreateAccount_InvalidUsername(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(http.MethodPost, "/accounts", map[string]string{"type": "mojang", "username": "two words"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "account_invalid_username", decodeError(t, w)["error"])
}

func TestHandleCreateAccount_InvalidJSON(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(http.MethodPost, "/accounts", "{not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decodeError(t, w)["error"])
}

func TestHandleListAccounts(t *testing.T) {
	s := setupTestServer(t)
	s.createAccount(t, "local", "Alex")
	s.createAccount(t, "mojang", "Steve")

	w := s.do(http.MethodGet, "/accounts", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var views []core.AccountView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&views))
	require.Len(t, views, 2)
	assert.Equal(t, core.AccountTypeLocal, views[0].Type)
	assert.Equal(t, core.AccountTypeMojang, views[1].Type)
	assert.Equal(t, "Steve", views[1].Username)
	assert.NotContains(t, w.Body.String(), "access_token")
}

func TestHandleLogin_PasswordWait(t *testing.T) {
	s := setupTestServer(t)
	s.mocks.mojang.SetPassword("Steve", "hunter2")
	view := s.createAccount(t, "mojang", "Steve")

	w := s.do(http.MethodPost, "/accounts/"+view.ID+"/login", map[string]any{"password": "hunter2", "wait": true})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var task core.TaskView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&task))
	assert.Equal(t, "succeeded", task.State)
	assert.Equal(t, "login", task.Action)

	a, err := s.list.Get(view.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ValidityCertain, a.Validity())
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	s := setupTestServer(t)
	s.mocks.mojang.SetPassword("Steve", "hunter2")
	view := s.createAccount(t, "mojang", "Steve")

	w := s.do(http.MethodPost, "/accounts/"+view.ID+"/login", map[string]any{"password": "nope", "wait": true})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "task_failed_hard", decodeError(t, w)["error"])
}

func TestHandleLogin_GoneAccount(t *testing.T) {
	s := setupTestServer(t)
	view := s.createAccount(t, "mojang", "Steve")
	s.mocks.mojang.FailNext(core.FailureGone, "profile deleted")

	w := s.do(http.MethodPost, "/accounts/"+view.ID+"/login", map[string]any{"password": "pw", "wait": true})

	assert.Equal(t, http.StatusGone, w.Code)
}

func TestHandleLogin_Interactive(t *testing.T) {
	s := setupTestServer(t)
	view := s.createAccount(t, "msa", "")

	w := s.do(http.MethodPost, "/accounts/"+view.ID+"/login", map[string]any{"wait": true})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var task core.TaskView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&task))
	assert.Equal(t, "login_interactive", task.Action)
}

func TestHandleLogin_ConflictWhileActive(t *testing.T) {
	s := setupTestServer(t)
	view := s.createAccount(t, "mojang", "Steve")
	release := s.mocks.mojang.Hold()
	defer release()

	w := s.do(http.MethodPost, "/accounts/"+view.ID+"/login", map[string]any{"password": "pw"})
	require.Equal(t, http.StatusAccepted, w.Code)

	w = s.do(http.MethodPost, "/accounts/"+view.ID+"/login", map[string]any{"password": "pw"})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "account_task_active", decodeError(t, w)["error"])

	a, err := s.list.Get(view.ID)
	require.NoError(t, err)
	task := a.CurrentTask()
	require.NotNil(t, task)
	release()
	require.NoError(t, waitTask(t, task))
}

func TestHandleRefresh_JoinsActiveTask(t *testing.T) {
	s := setupTestServer(t)
	view := s.createAccount(t, "local", "Alex")
	a, err := s.list.Get(view.ID)
	require.NoError(t, err)

	// Hold the account with a login nobody has started yet.
	pending, err := a.LoginLocal()
	require.NoError(t, err)

	w := s.do(http.MethodPost, "/accounts/"+view.ID+"/refresh", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	var task core.TaskView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&task))
	assert.Equal(t, pending.ID().String(), task.ID)
	assert.Equal(t, "created", task.State)

	require.NoError(t, runTask(t, pending))
}

func TestHandleRefresh_Wait(t *testing.T) {
	s := setupTestServer(t)
	view := s.createAccount(t, "local", "Alex")

	w := s.do(http.MethodPost, "/accounts/"+view.ID+"/refresh?wait=true", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var task core.TaskView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&task))
	assert.Equal(t, "refresh", task.Action)
	assert.Equal(t, "succeeded", task.State)
}

func TestHandleSession(t *testing.T) {
	s := setupTestServer(t)
	view := s.createAccount(t, "local", "Steve")

	w := s.do(http.MethodGet, "/accounts/"+view.ID+"/session?online=false", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var session core.SessionDescriptor
	require.NoError(t, json.NewDecoder(w.Body).Decode(&session))
	assert.Equal(t, core.SessionPlayableOffline, session.Status)
	assert.Equal(t, "Steve", session.PlayerName)
	assert.Equal(t, "5627dd98e6be3c21b8a8e92344183641", session.ProfileUUID)
	assert.Equal(t, core.UserTypeLegacy, session.UserType)
	assert.Equal(t, "-", session.LegacySessionTicket)

	w = s.do(http.MethodGet, "/accounts/"+view.ID+"/session?online=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleDefaultAndDelete(t *testing.T) {
	s := setupTestServer(t)
	view := s.createAccount(t, "local", "Alex")

	w := s.do(http.MethodPut, "/accounts/default", map[string]string{"id": view.ID})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/accounts/"+view.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got core.AccountView
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.True(t, got.Default)

	w = s.do(http.MethodDelete, "/accounts/"+view.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/accounts/"+view.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "account_not_found", decodeError(t, w)["error"])
	assert.Nil(t, s.list.Default())
}

func TestHandleUnknownAccount(t *testing.T) {
	s := setupTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/accounts/nope/login"},
		{http.MethodPost, "/accounts/nope/refresh"},
		{http.MethodGet, "/accounts/nope/session"},
		{http.MethodDelete, "/accounts/nope"},
	} {
		w := s.do(tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestHandleMethodNotAllowed(t *testing.T) {
	s := setupTestServer(t)

	w := s.do(http.MethodDelete, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestHandleMetrics(t *testing.T) {
	s := setupTestServer(t)
	view := s.createAccount(t, "local", "Alex")
	w := s.do(http.MethodPost, "/accounts/"+view.ID+"/refresh?wait=true", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/metrics", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "accountd_auth_task_outcomes_total")
	assert.Contains(t, w.Body.String(), "accountd_auth_tasks_active")
}
