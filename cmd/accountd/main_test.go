package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"accountd/core"
)

// execute runs the CLI against deps and returns what it wrote to stdout.
func execute(t *testing.T, deps appDeps, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(deps)
	out := new(bytes.Buffer)
	errOut := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err != nil {
		t.Logf("stderr: %s", errOut.String())
	}
	return out.String(), err
}

func storeArgs(t *testing.T) []string {
	t.Helper()
	return []string{"--db-path", filepath.Join(t.TempDir(), "accounts.db"), "--mock-providers"}
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, err := execute(t, appDeps{}, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "accounts", "session"} {
		assert.Contains(t, out, sub, "help missing %q command", sub)
	}
}

func TestAccountsCommands(t *testing.T) {
	store := storeArgs(t)
	run := func(args ...string) string {
		t.Helper()
		out, err := execute(t, appDeps{}, append(args, store...)...)
		require.NoError(t, err)
		return out
	}

	out := run("accounts", "add", "local", "Alex", "--default")
	assert.Contains(t, out, "added local account")
	out = run("accounts", "add", "mojang", "Steve", "--password", "hunter2")
	assert.Contains(t, out, "added mojang account")

	var views []core.AccountView
	require.NoError(t, json.Unmarshal([]byte(run("accounts", "list", "-o", "json")), &views))
	require.Len(t, views, 2)
	assert.Equal(t, core.AccountTypeLocal, views[0].Type)
	assert.True(t, views[0].Default)
	assert.Equal(t, core.AccountTypeMojang, views[1].Type)
	assert.Equal(t, "Steve", views[1].Profile.Name)
	// Restored from storage and not verified by this process.
	assert.Equal(t, core.ValidityAssumed, views[1].Validity)

	table := run("accounts", "list")
	assert.Contains(t, table, "VALIDITY")
	assert.Contains(t, table, "Alex")

	assert.Equal(t, views[0].ID+"\n", run("accounts", "default"))

	var session core.SessionDescriptor
	require.NoError(t, json.Unmarshal([]byte(run("session", "--offline")), &session))
	assert.Equal(t, core.SessionPlayableOffline, session.Status)
	assert.Equal(t, "Alex", session.PlayerName)
	assert.Equal(t, core.OfflineProfileID("Alex"), session.ProfileUUID)

	out = run("session", "Steve", "-o", "yaml")
	var online map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &online))
	assert.Equal(t, string(core.SessionPlayableOnline), online["status"])
	assert.Equal(t, "Steve", online["player_name"])
	assert.NotEqual(t, core.NoSessionTicket, online["legacy_session_ticket"])

	assert.Contains(t, run("accounts", "refresh", "steve"), "refreshed Steve")

	assert.Contains(t, run("accounts", "remove", "Steve"), "removed "+views[1].ID)
	require.NoError(t, json.Unmarshal([]byte(run("accounts", "list", "-o", "json")), &views))
	assert.Len(t, views, 1)

	run("accounts", "default", "--clear")
	assert.Equal(t, "no default account\n", run("accounts", "default"))
}

func TestAccountsAdd_RequiresPassword(t *testing.T) {
	_, err := execute(t, appDeps{}, append([]string{"accounts", "add", "elyby", "Steve"}, storeArgs(t)...)...)
	assert.ErrorContains(t, err, "--password is required")
}

func TestAccountsAdd_InvalidType(t *testing.T) {
	_, err := execute(t, appDeps{}, append([]string{"accounts", "add", "google", "Steve"}, storeArgs(t)...)...)
	assert.Error(t, err)
}

func TestSession_NoDefaultAccount(t *testing.T) {
	_, err := execute(t, appDeps{}, append([]string{"session"}, storeArgs(t)...)...)
	assert.ErrorContains(t, err, "no default account")
}

func TestServe(t *testing.T) {
	addrs := make(chan net.Addr, 1)
	deps := appDeps{onListening: func(addr net.Addr) { addrs <- addr }}

	cmd := newRootCmd(deps)
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{"serve", "--db-type", "mock", "--mock-providers", "--listen", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	var addr net.Addr
	select {
	case addr = <-addrs:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not start listening")
	}

	resp, err := http.Get("http://" + addr.String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
