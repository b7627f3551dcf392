// ABOUTME: Tests for the stdio MCP adapter including tool listing and proxying.
// ABOUTME: Drives the adapter with JSON-RPC lines against a fake daemon.

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedLocator struct {
	url         string
	invalidated int
}

func (f *fixedLocator) BaseURL(context.Context, []string) (string, error) { return f.url, nil }
func (f *fixedLocator) Invalidate()                                       { f.invalidated++ }

// runAdapter feeds the given JSON-RPC lines through an adapter pointed at
// daemonURL and returns the decoded responses in order.
func runAdapter(t *testing.T, daemonURL string, lines ...string) []JSONRPCResponse {
	t.Helper()

	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	a := New(in, &out, slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.disc = &fixedLocator{url: daemonURL}

	require.NoError(t, a.Run(context.Background()))

	var responses []JSONRPCResponse
	dec := json.NewDecoder(&out)
	for dec.More() {
		var resp JSONRPCResponse
		require.NoError(t, dec.Decode(&resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestInitializeHandshake(t *testing.T) {
	resps := runAdapter(t, "http://unused",
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`,
	)
	require.Len(t, resps, 1)
	require.Nil(t, resps[0].Error)

	result := resps[0].Result.(map[string]any)
	assert.Equal(t, latestProtocolVersion, result["protocolVersion"])
	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "discord-bridge", info["name"])
}

func TestNotificationsGetNoResponse(t *testing.T) {
	resps := runAdapter(t, "http://unused",
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
	)
	require.Len(t, resps, 1, "only the ping is answered")
}

func TestToolsListExposesBridgeTools(t *testing.T) {
	resps := runAdapter(t, "http://unused",
		`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
	)
	require.Len(t, resps, 1)
	require.Nil(t, resps[0].Error)

	raw, err := json.Marshal(resps[0].Result)
	require.NoError(t, err)
	var result ListToolsResult
	require.NoError(t, json.Unmarshal(raw, &result))

	names := make([]string, len(result.Tools))
	for i, tl := range result.Tools {
		names[i] = tl.Name
		assert.True(t, json.Valid(tl.InputSchema), "schema for %s must be valid JSON", tl.Name)
	}
	assert.Contains(t, names, "post_to_thread")
	assert.Contains(t, names, "get_active_thread_id")
	assert.Contains(t, names, "ask_question")
	assert.Contains(t, names, "send_file_to_thread")
}

func TestToolCallProxiesToDaemon(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer daemon.Close()

	resps := runAdapter(t, daemon.URL,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"post_to_thread","arguments":{"threadId":"T1","message":"hi"}}}`,
	)
	require.Len(t, resps, 1)
	require.Nil(t, resps[0].Error)

	assert.Equal(t, "/api/post-to-thread", gotPath)
	assert.Equal(t, "T1", gotBody["threadId"])
	assert.Equal(t, "hi", gotBody["message"])

	raw, _ := json.Marshal(resps[0].Result)
	var result CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.False(t, result.IsError)
}

func TestDaemonDomainErrorBecomesToolError(t *testing.T) {
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"error":"thread not found"}`))
	}))
	defer daemon.Close()

	resps := runAdapter(t, daemon.URL,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"post_to_thread","arguments":{"threadId":"T1","message":"hi"}}}`,
	)
	require.Len(t, resps, 1)
	require.Nil(t, resps[0].Error, "domain failures are tool results, not protocol errors")

	raw, _ := json.Marshal(resps[0].Result)
	var result CallToolResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.True(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "thread not found", result.Content[0].Text)
}

func TestGetActiveThreadIDUsesGet(t *testing.T) {
	var gotMethod string
	daemon := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		_, _ = w.Write([]byte(`{"success":true,"threadId":"T1","chatId":"C1","method":"latest_unclaimed"}`))
	}))
	defer daemon.Close()

	resps := runAdapter(t, daemon.URL,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_active_thread_id"}}`,
	)
	require.Len(t, resps, 1)
	assert.Equal(t, http.MethodGet, gotMethod)
}

func TestUnknownToolRejected(t *testing.T) {
	resps := runAdapter(t, "http://unused",
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"launch_missiles"}}`,
	)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, JSONRPCInvalidParams, resps[0].Error.Code)
}

func TestUnknownMethodRejected(t *testing.T) {
	resps := runAdapter(t, "http://unused",
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
	)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, JSONRPCMethodNotFound, resps[0].Error.Code)
}

func TestMalformedLineYieldsParseError(t *testing.T) {
	resps := runAdapter(t, "http://unused", `{nope`)
	require.Len(t, resps, 1)
	require.NotNil(t, resps[0].Error)
	assert.Equal(t, JSONRPCParseError, resps[0].Error.Code)
}
