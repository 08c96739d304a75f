package providers

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"accountd/core"
)

// MockTokenLifetime is the lifetime of tokens minted by MockProvider.
const MockTokenLifetime = 24 * time.Hour

// MockInteractiveName is the profile name an interactive mock login yields.
const MockInteractiveName = "MockPlayer"

var mockSigningKey = []byte("mock-provider-signing-key")

// MockCalls counts the flows a MockProvider has run.
type MockCalls struct {
	Login       int
	Interactive int
	Refresh     int
}

type mockFailure struct {
	kind   core.FailureKind
	reason string
}

// MockProvider is a scripted provider for tests. It mints JWT access
// tokens with an exp claim and derives profile ids from user names.
type MockProvider struct {
	accountType core.AccountType
	now         func() time.Time

	mu        sync.Mutex
	passwords map[string]string
	failures  []mockFailure
	gate      chan struct{}
	calls     MockCalls
	issued    int
}

func NewMockProvider(t core.AccountType) *MockProvider {
	return &MockProvider{
		accountType: t,
		now:         time.Now,
		passwords:   make(map[string]string),
	}
}

// SetClock replaces the clock used for token timestamps.
func (m *MockProvider) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetPassword makes password logins for username require password. Users
// without a password accept any non-empty one.
func (m *MockProvider) SetPassword(username, password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passwords[username] = password
}

// FailNext queues a failure for the next flow that runs.
func (m *MockProvider) FailNext(kind core.FailureKind, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, mockFailure{kind: kind, reason: reason})
}

// Hold blocks every flow until release is called or the flow's context
// is done.
func (m *MockProvider) Hold() (release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gate := make(chan struct{})
	m.gate = gate
	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
		})
	}
}

func (m *MockProvider) Calls() MockCalls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockProvider) Type() core.AccountType { return m.accountType }

func (m *MockProvider) PasswordLogin(password string) (core.Flow, error) {
	if m.accountType.Native() {
		return nil, core.ErrUnsupportedOperation
	}
	return m.flow(func(c *MockCalls) { c.Login++ }, func(account core.AccountData) (string, *mockFailure) {
		username := account.UserName()
		if username == "" || password == "" {
			return "", &mockFailure{core.FailureHard, "user name and password are required"}
		}
		m.mu.Lock()
		want, ok := m.passwords[username]
		m.mu.Unlock()
		if ok && want != password {
			return "", &mockFailure{core.FailureHard, "invalid credentials"}
		}
		return username, nil
	}), nil
}

func (m *MockProvider) InteractiveLogin() (core.Flow, error) {
	if !m.accountType.Native() {
		return nil, core.ErrUnsupportedOperation
	}
	return m.flow(func(c *MockCalls) { c.Interactive++ }, func(account core.AccountData) (string, *mockFailure) {
		if name := account.ProfileName(); name != "" {
			return name, nil
		}
		return MockInteractiveName, nil
	}), nil
}

func (m *MockProvider) Refresh() (core.Flow, error) {
	return m.flow(func(c *MockCalls) { c.Refresh++ }, func(account core.AccountData) (string, *mockFailure) {
		credential := account.LegacyToken.Value
		if m.accountType.Native() {
			credential = account.NativeToken.RefreshValue
		}
		if credential == "" {
			return "", &mockFailure{core.FailureHard, errNoRefreshCredential.Error()}
		}
		name := account.ProfileName()
		if name == "" {
			name = account.UserName()
		}
		if name == "" {
			name = MockInteractiveName
		}
		return name, nil
	}), nil
}

func (m *MockProvider) flow(count func(*MockCalls), resolve func(core.AccountData) (string, *mockFailure)) core.Flow {
	return core.FlowFunc(func(ctx context.Context, account core.AccountData, r core.Reporter) {
		m.mu.Lock()
		count(&m.calls)
		gate := m.gate
		m.mu.Unlock()

		r.Progress("Contacting mock provider")
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				r.Failed(core.FailureOffline, "request cancelled: "+ctx.Err().Error())
				return
			}
		}

		if f := m.nextFailure(); f != nil {
			r.Failed(f.kind, f.reason)
			return
		}
		name, f := resolve(account)
		if f != nil {
			r.Failed(f.kind, f.reason)
			return
		}
		r.Succeeded(m.update(account, name))
	})
}

func (m *MockProvider) nextFailure() *mockFailure {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) == 0 {
		return nil
	}
	f := m.failures[0]
	m.failures = m.failures[1:]
	return &f
}

func (m *MockProvider) update(account core.AccountData, name string) core.Update {
	m.mu.Lock()
	m.issued++
	seq := m.issued
	now := m.now().UTC().Truncate(time.Second)
	m.mu.Unlock()

	profileID := MockProfileID(name)
	expiresAt := now.Add(MockTokenLifetime)

	legacy := account.LegacyToken.Clone()
	legacy.Value = MintMockToken(profileID, seq, now, expiresAt)
	legacy.RefreshValue = ""
	legacy.Validity = core.ValidityCertain
	legacy.IssuedAt = now
	legacy.ExpiresAt = expiresAt
	if legacy.ExtraValue(core.ExtraClientToken) == "" && !m.accountType.Native() {
		legacy.SetExtra(core.ExtraClientToken, core.NewClientToken())
	}
	if legacy.ExtraValue(core.ExtraUserName) == "" {
		legacy.SetExtra(core.ExtraUserName, name)
	}

	u := core.Update{
		LegacyToken: &legacy,
		Profile:     &core.Profile{ID: profileID, Name: name, Validity: core.ValidityCertain},
		Entitlement: &core.Entitlement{OwnsGame: true, CanPlay: true},
		Validity:    core.ValidityCertain,
	}
	if m.accountType.Native() {
		native := account.NativeToken.Clone()
		native.Value = "mock-ms-access-" + uuid.NewString()
		native.RefreshValue = "mock-ms-refresh-" + uuid.NewString()
		native.Validity = core.ValidityCertain
		native.IssuedAt = now
		native.ExpiresAt = now.Add(time.Hour)
		u.NativeToken = &native
	}
	return u
}

// MockProfileID is the profile id MockProvider assigns to name.
func MockProfileID(name string) string {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("mock-profile:"+name))
	return strings.ReplaceAll(id.String(), "-", "")
}

// MintMockToken returns a signed JWT whose exp claim is expiresAt.
func MintMockToken(subject string, seq int, issuedAt, expiresAt time.Time) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"seq": seq,
		"iat": issuedAt.Unix(),
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString(mockSigningKey)
	if err != nil {
		panic("mock token signing failed: " + err.Error())
	}
	return signed
}
