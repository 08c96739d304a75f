package integration_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	_ "modernc.org/sqlite"

	"accountd/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var client = &http.Client{Timeout: 10 * time.Second}

func doJSON(method, url string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return client.Do(req)
}

func createAccount(baseURL, accountType, username string) (*http.Response, error) {
	return doJSON(http.MethodPost, baseURL+"/accounts", map[string]string{
		"type":     accountType,
		"username": username,
	})
}

func login(baseURL, id, password string) (*http.Response, error) {
	return doJSON(http.MethodPost, baseURL+"/accounts/"+id+"/login", map[string]any{
		"password": password,
		"wait":     true,
	})
}

func refresh(baseURL, id string) (*http.Response, error) {
	return doJSON(http.MethodPost, baseURL+"/accounts/"+id+"/refresh?wait=true", nil)
}

func getAccount(baseURL, id string) (*http.Response, error) {
	return doJSON(http.MethodGet, baseURL+"/accounts/"+id, nil)
}

func listAccounts(baseURL string) (*http.Response, error) {
	return doJSON(http.MethodGet, baseURL+"/accounts", nil)
}

func deleteAccount(baseURL, id string) (*http.Response, error) {
	return doJSON(http.MethodDelete, baseURL+"/accounts/"+id, nil)
}

func getSession(baseURL, id string, online bool) (*http.Response, error) {
	return doJSON(http.MethodGet, fmt.Sprintf("%s/accounts/%s/session?online=%t", baseURL, id, online), nil)
}

func decode[T any](resp *http.Response) (*T, error) {
	defer resp.Body.Close()
	var result T
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseAccount(resp *http.Response) (*core.AccountView, error) {
	return decode[core.AccountView](resp)
}

func parseTask(resp *http.Response) (*core.TaskView, error) {
	return decode[core.TaskView](resp)
}

func parseSession(resp *http.Response) (*core.SessionDescriptor, error) {
	return decode[core.SessionDescriptor](resp)
}

func parseError(resp *http.Response) (*ErrorResponse, error) {
	return decode[ErrorResponse](resp)
}

func countAccounts(dbPath string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&count)
	return count, err
}

// storedToken returns the access token column of an account's token slot
// as written to disk.
func storedToken(dbPath, accountID, slot string) (string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return "", err
	}
	defer db.Close()

	var value string
	err = db.QueryRow("SELECT value FROM account_tokens WHERE account_id = ? AND slot = ?", accountID, slot).Scan(&value)
	return value, err
}

func freeAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}
	defer l.Close()
	return l.Addr().String(), nil
}

func waitForServer(baseURL string, maxAttempts int) error {
	probe := &http.Client{Timeout: 1 * time.Second}
	for i := 0; i < maxAttempts; i++ {
		resp, err := probe.Get(baseURL + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	return fmt.Errorf("server failed to start after %d attempts", maxAttempts)
}
