package errutil_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountd/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("ACCOUNT_TASK_ACTIVE").
		With("account_id", "abc").
		Errorf("task already running")

	errutil.LogError(logger, "login rejected", err, "action", "login")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "login rejected", entry["msg"])
	assert.Equal(t, "ACCOUNT_TASK_ACTIVE", entry["code"])
	assert.Equal(t, "login", entry["action"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "save failed", errors.New("disk full"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Contains(t, entry["error"], "disk full")
}

func TestCode(t *testing.T) {
	assert.Equal(t, "PROVIDER_NOT_FOUND", errutil.Code(oops.Code("PROVIDER_NOT_FOUND").Errorf("missing")))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	errutil.AssertErrorCode(t, oops.Code("X").Errorf("x"), "X")
}
