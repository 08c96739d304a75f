package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"accountd/core"
	"accountd/core/providers"
)

type mockProviders struct {
	msa    *providers.MockProvider
	mojang *providers.MockProvider
	elyby  *providers.MockProvider
}

func newMockRegistry() (*core.Registry, mockProviders) {
	m := mockProviders{
		msa:    providers.NewMockProvider(core.AccountTypeMSA),
		mojang: providers.NewMockProvider(core.AccountTypeMojang),
		elyby:  providers.NewMockProvider(core.AccountTypeElyby),
	}
	return core.NewRegistry(m.msa, m.mojang, m.elyby), m
}

// runTask starts t and waits for it to finish.
func runTask(t *testing.T, task *core.Task) error {
	t.Helper()
	require.NoError(t, task.Start(context.Background()))
	return waitTask(t, task)
}

func waitTask(t *testing.T, task *core.Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	select {
	case <-task.Done():
	case <-ctx.Done():
		t.Fatalf("task %s did not finish", task.ID())
	}
	return task.Err()
}

type eventLog struct {
	mu     sync.Mutex
	events []core.Event
}

func recordEvents(a *core.Account) *eventLog {
	l := &eventLog{}
	a.Subscribe(func(e core.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, e)
	})
	return l
}

func (l *eventLog) kinds() []core.EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]core.EventKind, 0, len(l.events))
	for _, e := range l.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// flowProvider serves one fixed flow for every operation.
type flowProvider struct {
	accountType core.AccountType
	flow        core.Flow
}

func (p flowProvider) Type() core.AccountType { return p.accountType }

func (p flowProvider) PasswordLogin(string) (core.Flow, error) { return p.flow, nil }

func (p flowProvider) InteractiveLogin() (core.Flow, error) { return p.flow, nil }

func (p flowProvider) Refresh() (core.Flow, error) { return p.flow, nil }

// restoredMojang is a Mojang record as loaded from storage, with both
// token slots populated.
func restoredMojang(t *testing.T, opts ...core.Option) *core.Account {
	t.Helper()
	issued := time.Now().UTC().Add(-time.Hour)
	a, err := core.RestoreAccount(core.AccountData{
		InternalID: "mojang0001",
		Type:       core.AccountTypeMojang,
		NativeToken: core.Token{
			Value:    "native-leftover",
			Validity: core.ValidityCertain,
			IssuedAt: issued,
		},
		LegacyToken: core.Token{
			Value:    "legacy-access",
			Validity: core.ValidityCertain,
			IssuedAt: issued,
			Extra:    map[string]string{core.ExtraUserName: "Steve", core.ExtraClientToken: "client-1"},
		},
		Profile:     core.Profile{ID: providers.MockProfileID("Steve"), Name: "Steve", Validity: core.ValidityCertain},
		Entitlement: core.Entitlement{OwnsGame: true, CanPlay: true},
		Validity:    core.ValidityCertain,
	}, opts...)
	require.NoError(t, err)
	return a
}

const (
	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)
