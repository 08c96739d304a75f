package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"accountd/errutil"
)

// Server exposes the account list over a local HTTP control API.
type Server struct {
	list     *AccountList
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewServer returns a server for list. gatherer may be nil, in which case
// /metrics is not served.
func NewServer(list *AccountList, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		list:     list,
		gatherer: gatherer,
		logger:   logger.With("component", "server"),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /accounts", s.HandleListAccounts)
	mux.HandleFunc("POST /accounts", s.HandleCreateAccount)
	mux.HandleFunc("PUT /accounts/default", s.HandleSetDefault)
	mux.HandleFunc("GET /accounts/{id}", s.HandleGetAccount)
	mux.HandleFunc("DELETE /accounts/{id}", s.HandleDeleteAccount)
	mux.HandleFunc("POST /accounts/{id}/login", s.HandleLogin)
	mux.HandleFunc("POST /accounts/{id}/refresh", s.HandleRefresh)
	mux.HandleFunc("GET /accounts/{id}/session", s.HandleSession)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

type ProfileView struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	SkinURL string `json:"skin_url,omitempty" yaml:"skin_url,omitempty"`
}

type TaskView struct {
	ID      string `json:"id" yaml:"id"`
	Action  string `json:"action" yaml:"action"`
	State   string `json:"state" yaml:"state"`
	Status  string `json:"status,omitempty" yaml:"status,omitempty"`
	Failure string `json:"failure,omitempty" yaml:"failure,omitempty"`
	Reason  string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// AccountView is the public projection of an account. It never carries
// credential material.
type AccountView struct {
	ID         string       `json:"id" yaml:"id"`
	Type       AccountType  `json:"type" yaml:"type"`
	Validity   Validity     `json:"validity" yaml:"validity"`
	Username   string       `json:"username,omitempty" yaml:"username,omitempty"`
	Profile    *ProfileView `json:"profile,omitempty" yaml:"profile,omitempty"`
	OwnsGame   bool         `json:"owns_game" yaml:"owns_game"`
	CanPlay    bool         `json:"can_play" yaml:"can_play"`
	InUse      bool         `json:"in_use" yaml:"in_use"`
	Default    bool         `json:"default" yaml:"default"`
	ActiveTask *TaskView    `json:"active_task,omitempty" yaml:"active_task,omitempty"`
}

func NewTaskView(t *Task) *TaskView {
	if t == nil {
		return nil
	}
	v := &TaskView{
		ID:     t.ID().String(),
		Action: string(t.Action()),
		State:  t.State().String(),
		Status: t.Status(),
	}
	if t.State() == TaskFailed {
		v.Failure = t.Failure().String()
		v.Reason = t.Reason()
	}
	return v
}

func (s *Server) accountView(a *Account) AccountView {
	def := s.list.Default()
	return NewAccountView(a, def != nil && def.ID() == a.ID())
}

// NewAccountView projects a into its public view.
func NewAccountView(a *Account, isDefault bool) AccountView {
	d := a.Snapshot()
	v := AccountView{
		ID:         d.InternalID,
		Type:       d.Type,
		Validity:   d.Validity,
		Username:   d.UserName(),
		OwnsGame:   d.Entitlement.OwnsGame,
		CanPlay:    d.Entitlement.CanPlay,
		InUse:      a.InUse(),
		Default:    isDefault,
		ActiveTask: NewTaskView(a.CurrentTask()),
	}
	if d.HasProfile() {
		v.Profile = &ProfileView{ID: d.Profile.ID, Name: d.Profile.Name, SkinURL: d.Profile.Skin.URL}
	}
	return v
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := s.list.All()
	views := make([]AccountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, s.accountView(a))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) HandleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type     string `json:"type"`
		Username string `json:"username"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := ParseAccountType(req.Type)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_type", "Unknown account type")
		return
	}

	a, err := s.list.Create(r.Context(), t, req.Username)
	if err != nil {
		s.respondErr(w, "create account", err)
		return
	}
	respondJSON(w, http.StatusCreated, s.accountView(a))
}

func (s *Server) HandleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.list.Get(r.PathValue("id"))
	if err != nil {
		s.respondErr(w, "get account", err)
		return
	}
	respondJSON(w, http.StatusOK, s.accountView(a))
}

func (s *Server) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.list.Remove(r.Context(), r.PathValue("id")); err != nil {
		s.respondErr(w, "delete account", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
	})
}

func (s *Server) HandleSetDefault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := s.list.SetDefault(r.Context(), req.ID); err != nil {
		s.respondErr(w, "set default account", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"default": req.ID,
	})
}

// HandleLogin starts a login. A password selects the password flow, the
// local account type the offline flow, and anything else the provider's
// interactive flow.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	a, err := s.list.Get(r.PathValue("id"))
	if err != nil {
		s.respondErr(w, "login", err)
		return
	}

	var req struct {
		Password string `json:"password"`
		Wait     bool   `json:"wait"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	var t *Task
	switch {
	case req.Password != "":
		t, err = a.Login(req.Password)
	case a.Type() == AccountTypeLocal:
		t, err = a.LoginLocal()
	default:
		t, err = a.LoginInteractive()
	}
	if err != nil {
		s.respondErr(w, "login", err)
		return
	}
	if err := t.Start(context.WithoutCancel(r.Context())); err != nil {
		s.respondErr(w, "login", err)
		return
	}
	s.respondTask(w, r, t, req.Wait)
}

// HandleRefresh joins the running task of the account, or starts a refresh.
func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	a, err := s.list.Get(r.PathValue("id"))
	if err != nil {
		s.respondErr(w, "refresh", err)
		return
	}

	t, err := a.Refresh()
	if err != nil {
		s.respondErr(w, "refresh", err)
		return
	}
	if t.Action() == ActionRefresh && t.State() == TaskCreated {
		// Losing the race to another caller's Start is fine: both wait on the same task.
		_ = t.Start(context.WithoutCancel(r.Context()))
	}
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	s.respondTask(w, r, t, wait)
}

func (s *Server) HandleSession(w http.ResponseWriter, r *http.Request) {
	a, err := s.list.Get(r.PathValue("id"))
	if err != nil {
		s.respondErr(w, "session", err)
		return
	}
	online := true
	if v := r.URL.Query().Get("online"); v != "" {
		online, err = strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "online must be a boolean")
			return
		}
	}
	respondJSON(w, http.StatusOK, a.FillSession(online))
}

func (s *Server) respondTask(w http.ResponseWriter, r *http.Request, t *Task, wait bool) {
	if !wait {
		respondJSON(w, http.StatusAccepted, NewTaskView(t))
		return
	}
	if err := t.Wait(r.Context()); err != nil {
		if r.Context().Err() != nil {
			respondJSON(w, http.StatusAccepted, NewTaskView(t))
			return
		}
		s.respondErr(w, "auth task", err)
		return
	}
	respondJSON(w, http.StatusOK, NewTaskView(t))
}

func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	code := errutil.Code(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		errutil.LogError(s.logger, op+" failed", err)
	}
	if code == "" {
		respondError(w, status, "internal_error", "Internal error")
		return
	}
	respondError(w, status, strings.ToLower(code), err.Error())
}

func statusForCode(code string) int {
	switch code {
	case "ACCOUNT_NOT_FOUND":
		return http.StatusNotFound
	case "ACCOUNT_TASK_ACTIVE", "TASK_ALREADY_STARTED":
		return http.StatusConflict
	case "ACCOUNT_OPERATION_UNSUPPORTED", "ACCOUNT_INVALID_USERNAME", "ACCOUNT_TYPE_INVALID", "PROVIDER_NOT_FOUND":
		return http.StatusBadRequest
	case FailureOffline.Code():
		return http.StatusServiceUnavailable
	case FailureSoft.Code():
		return http.StatusBadGateway
	case FailureHard.Code():
		return http.StatusUnauthorized
	case FailureGone.Code():
		return http.StatusGone
	case FailureMustMigrate.Code():
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
