package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"commercepay/observability/logging"
)

func logEntries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestInstructionLogRedactsAPIKey(t *testing.T) {
	g := newTestGateway(t, nil)

	resp := g.signedRequest(http.MethodPost, "/v1/operators", map[string]any{
		"feePayer": hexKey(0x01),
		"owner":    hexKey(0x02),
	}, nil)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	require.False(t, logging.IsAllowlisted("api_key"),
		"api_key must not be allowlisted: %v", logging.RedactionAllowlist())

	var masked bool
	for _, entry := range logEntries(t, g.logBuf) {
		value, ok := entry["api_key"]
		if !ok {
			continue
		}
		require.Equal(t, logging.RedactedValue, value)
		masked = true
	}
	require.True(t, masked, "no log entry carried the masked api_key attribute")
	require.NotContains(t, g.logBuf.String(), testAPIKey)
}

func TestAuthFailureLogRedactsAPIKey(t *testing.T) {
	g := newTestGateway(t, nil)

	resp := g.signedRequest(http.MethodPost, "/v1/operators", map[string]any{
		"feePayer": hexKey(0x01),
		"owner":    hexKey(0x02),
	}, map[string]string{HeaderSignature: "deadbeef"})
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var masked bool
	for _, entry := range logEntries(t, g.logBuf) {
		if entry["msg"] != "authentication failed" {
			continue
		}
		require.Equal(t, logging.RedactedValue, entry["api_key"])
		masked = true
	}
	require.True(t, masked, "authentication failure was not logged")
	require.NotContains(t, g.logBuf.String(), testAPIKey)
}
