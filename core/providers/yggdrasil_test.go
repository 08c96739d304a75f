package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountd/core"
)

type fakeYggdrasil struct {
	srv       *httptest.Server
	calls     atomic.Int32
	failFirst int32
	status    int
	body      string

	mu       sync.Mutex
	lastAuth yggdrasilAuthRequest
}

func (f *fakeYggdrasil) lastRequest() yggdrasilAuthRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

// newFakeYggdrasil fails the first failFirst requests with status and
// body. A zero failFirst fails every request; a zero status fails none.
func newFakeYggdrasil(t *testing.T, status int, body string, failFirst int32) *fakeYggdrasil {
	t.Helper()
	f := &fakeYggdrasil{status: status, body: body, failFirst: failFirst}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /authenticate", func(w http.ResponseWriter, r *http.Request) {
		if !f.intercept(w) {
			return
		}
		var req yggdrasilAuthRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.lastAuth = req
		f.mu.Unlock()
		f.respond(w, req.ClientToken)
	})
	mux.HandleFunc("POST /refresh", func(w http.ResponseWriter, r *http.Request) {
		if !f.intercept(w) {
			return
		}
		var req yggdrasilRefreshRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.AccessToken == "" {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"ForbiddenOperationException","errorMessage":"Invalid token."}`))
			return
		}
		f.respond(w, req.ClientToken)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeYggdrasil) intercept(w http.ResponseWriter) bool {
	n := f.calls.Add(1)
	if f.status != 0 && (f.failFirst == 0 || n <= f.failFirst) {
		w.WriteHeader(f.status)
		w.Write([]byte(f.body))
		return false
	}
	return true
}

func (f *fakeYggdrasil) respond(w http.ResponseWriter, clientToken string) {
	now := time.Now()
	json.NewEncoder(w).Encode(map[string]any{
		"accessToken":       MintMockToken("steve", 1, now, now.Add(24*time.Hour)),
		"clientToken":       clientToken,
		"availableProfiles": []map[string]string{{"id": "5627dd98e6be3c21b8a8e92344183641", "name": "Steve"}},
		"selectedProfile":   map[string]string{"id": "5627dd98e6be3c21b8a8e92344183641", "name": "Steve"},
		"user":              map[string]string{"id": "user-1", "username": "steve@example.com"},
	})
}

func newTestYggdrasil(t *testing.T, f *fakeYggdrasil, accountType core.AccountType) *YggdrasilProvider {
	t.Helper()
	var p *YggdrasilProvider
	if accountType == core.AccountTypeElyby {
		p = NewElybyProvider(YggdrasilConfig{AuthURL: f.srv.URL}, WithRetries(2))
	} else {
		p = NewMojangProvider(YggdrasilConfig{AuthURL: f.srv.URL}, WithRetries(2))
	}
	fastRetries(p.http)
	return p
}

func pendingMojang() core.AccountData {
	d := core.AccountData{InternalID: "acc", Type: core.AccountTypeMojang}
	d.LegacyToken.SetExtra(core.ExtraUserName, "steve@example.com")
	d.LegacyToken.SetExtra(core.ExtraClientToken, "client-1")
	return d
}

func TestYggdrasil_PasswordLogin(t *testing.T) {
	f := newFakeYggdrasil(t, 0, "", 0)
	p := newTestYggdrasil(t, f, core.AccountTypeMojang)

	flow, err := p.PasswordLogin("hunter2")
	require.NoError(t, err)
	r := runFlow(flow, pendingMojang())

	require.NotNil(t, r.update, "failed: %s %s", r.failure, r.reason)
	assert.Equal(t, 1, r.reports)
	sent := f.lastRequest()
	assert.Equal(t, "steve@example.com", sent.Username)
	assert.Equal(t, "hunter2", sent.Password)
	assert.Equal(t, "client-1", sent.ClientToken)
	assert.Equal(t, "Minecraft", sent.Agent.Name)

	u := r.update
	assert.Equal(t, core.ValidityCertain, u.Validity)
	require.NotNil(t, u.LegacyToken)
	assert.NotEmpty(t, u.LegacyToken.Value)
	assert.Equal(t, core.ValidityCertain, u.LegacyToken.Validity)
	assert.False(t, u.LegacyToken.ExpiresAt.IsZero())
	assert.Equal(t, "client-1", u.LegacyToken.ExtraValue(core.ExtraClientToken))
	assert.Equal(t, "steve@example.com", u.LegacyToken.ExtraValue(core.ExtraUserName))
	require.NotNil(t, u.Profile)
	assert.Equal(t, "Steve", u.Profile.Name)
	assert.True(t, u.Entitlement.OwnsGame)
	assert.Nil(t, u.NativeToken)
}

func TestYggdrasil_InteractiveUnsupported(t *testing.T) {
	p := NewMojangProvider(YggdrasilConfig{})
	_, err := p.InteractiveLogin()
	assert.ErrorIs(t, err, core.ErrUnsupportedOperation)
	assert.Equal(t, DefaultMojangAuthURL, p.config.AuthURL)
}

func TestYggdrasil_Refresh(t *testing.T) {
	f := newFakeYggdrasil(t, 0, "", 0)
	p := newTestYggdrasil(t, f, core.AccountTypeElyby)

	account := pendingMojang()
	account.Type = core.AccountTypeElyby
	account.LegacyToken.Value = "old-access"
	account.LegacyToken.Validity = core.ValidityAssumed

	flow, err := p.Refresh()
	require.NoError(t, err)
	r := runFlow(flow, account)

	require.NotNil(t, r.update, "failed: %s %s", r.failure, r.reason)
	assert.NotEqual(t, "old-access", r.update.LegacyToken.Value)
	assert.True(t, r.update.Entitlement.CanPlay)
}

func TestYggdrasil_RefreshWithoutTokenIsHard(t *testing.T) {
	f := newFakeYggdrasil(t, 0, "", 0)
	p := newTestYggdrasil(t, f, core.AccountTypeMojang)

	flow, err := p.Refresh()
	require.NoError(t, err)
	r := runFlow(flow, pendingMojang())

	assert.Equal(t, core.FailureHard, r.failure)
	assert.Zero(t, f.calls.Load())
}

func TestYggdrasil_FailureClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   core.FailureKind
	}{
		{
			name:   "invalid credentials",
			status: http.StatusForbidden,
			body:   `{"error":"ForbiddenOperationException","errorMessage":"Invalid credentials. Invalid username or password."}`,
			want:   core.FailureHard,
		},
		{
			name:   "migrated account",
			status: http.StatusGone,
			body:   `{"error":"ForbiddenOperationException","errorMessage":"Migrated"}`,
			want:   core.FailureMustMigrate,
		},
		{
			name:   "gone",
			status: http.StatusGone,
			body:   `{"error":"GoneException","errorMessage":"User not found"}`,
			want:   core.FailureGone,
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":"TooManyRequestsException"}`,
			want:   core.FailureSoft,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `oops`,
			want:   core.FailureSoft,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeYggdrasil(t, tt.status, tt.body, 0)
			p := newTestYggdrasil(t, f, core.AccountTypeMojang)

			flow, err := p.PasswordLogin("hunter2")
			require.NoError(t, err)
			r := runFlow(flow, pendingMojang())

			assert.Nil(t, r.update)
			assert.Equal(t, tt.want, r.failure, r.reason)
			assert.Equal(t, 1, r.reports)
		})
	}
}

func TestYggdrasil_RecoversAfterTransientError(t *testing.T) {
	f := newFakeYggdrasil(t, http.StatusServiceUnavailable, "", 1)
	p := newTestYggdrasil(t, f, core.AccountTypeMojang)

	flow, err := p.PasswordLogin("hunter2")
	require.NoError(t, err)
	r := runFlow(flow, pendingMojang())

	require.NotNil(t, r.update)
	assert.Equal(t, int32(2), f.calls.Load())
}

func TestYggdrasil_CancelledIsOffline(t *testing.T) {
	f := newFakeYggdrasil(t, 0, "", 0)
	p := newTestYggdrasil(t, f, core.AccountTypeMojang)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	flow, err := p.PasswordLogin("hunter2")
	require.NoError(t, err)
	r := runFlowContext(ctx, flow, pendingMojang())

	assert.Equal(t, core.FailureOffline, r.failure)
}

func TestYggdrasil_MissingPasswordIsHard(t *testing.T) {
	f := newFakeYggdrasil(t, 0, "", 0)
	p := newTestYggdrasil(t, f, core.AccountTypeMojang)

	flow, err := p.PasswordLogin("")
	require.NoError(t, err)
	r := runFlow(flow, pendingMojang())

	assert.Equal(t, core.FailureHard, r.failure)
}
