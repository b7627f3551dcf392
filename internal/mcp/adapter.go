// ABOUTME: MCP stdio adapter the IDE spawns to reach the bridge daemon.
// ABOUTME: Speaks JSON-RPC 2.0 on stdin/stdout and proxies tool calls over loopback HTTP.

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/cursor-discord-bridge/internal/discovery"
)

// latestProtocolVersion is the version we advertise in initialize responses.
const latestProtocolVersion = "2025-03-26"

// MaxRequestBodySize is the maximum allowed size for a single JSON-RPC line (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603
)

// ToolInfo represents an MCP tool definition.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result for tools/list.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// CallToolParams are the params for tools/call.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result for tools/call.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// Content represents content in a tool result.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// tool binds an MCP tool name to a daemon HTTP endpoint.
type tool struct {
	name        string
	description string
	schema      string
	path        string
	// timeout overrides the default per-call timeout; questions block on
	// a human and need far more than an HTTP round trip.
	timeout time.Duration
}

var toolTable = []tool{
	{
		name:        "post_to_thread",
		description: "Post a message to a Discord thread. Use the thread ID from the conversation's directive block.",
		path:        "/api/post-to-thread",
		schema: `{"type":"object","properties":{
			"threadId":{"type":"string","description":"Discord thread ID"},
			"message":{"type":"string","description":"Markdown message to post"}},
			"required":["threadId","message"]}`,
	},
	{
		name:        "get_active_thread_id",
		description: "Resolve the Discord thread bound to the current conversation.",
		path:        "/api/get-active-thread-id",
		schema:      `{"type":"object","properties":{}}`,
	},
	{
		name:        "send_file_to_thread",
		description: "Upload a file to a Discord thread. Prefer fileContentBase64; filePath only works when the daemon shares this filesystem.",
		path:        "/api/send-file-to-thread",
		schema: `{"type":"object","properties":{
			"threadId":{"type":"string"},
			"filePath":{"type":"string"},
			"fileContentBase64":{"type":"string"},
			"fileName":{"type":"string"},
			"description":{"type":"string"}},
			"required":["threadId"]}`,
	},
	{
		name:        "start_typing",
		description: "Show a typing indicator in a Discord thread while working.",
		path:        "/api/start-typing",
		schema:      `{"type":"object","properties":{"threadId":{"type":"string"}},"required":["threadId"]}`,
	},
	{
		name:        "stop_typing",
		description: "Clear the typing indicator in a Discord thread.",
		path:        "/api/stop-typing",
		schema:      `{"type":"object","properties":{"threadId":{"type":"string"}},"required":["threadId"]}`,
	},
	{
		name:        "create_thread",
		description: "Create a new Discord thread in the configured channel.",
		path:        "/api/create-thread",
		schema: `{"type":"object","properties":{
			"name":{"type":"string"},
			"conversationId":{"type":"string"}},
			"required":["name"]}`,
	},
	{
		name:        "rename_thread",
		description: "Rename a Discord thread.",
		path:        "/api/rename-thread",
		schema: `{"type":"object","properties":{
			"threadId":{"type":"string"},
			"name":{"type":"string"}},
			"required":["threadId","name"]}`,
	},
	{
		name:        "forward_user_prompt",
		description: "Mirror the user's IDE prompt into the Discord thread as a quote.",
		path:        "/api/forward-user-prompt",
		schema: `{"type":"object","properties":{
			"threadId":{"type":"string"},
			"prompt":{"type":"string"}},
			"required":["threadId","prompt"]}`,
	},
	{
		name:        "ask_question",
		description: "Ask the Discord thread a multiple-choice question and wait for an answer. A plain text reply overrides the buttons.",
		path:        "/api/ask-question",
		timeout:     10 * time.Minute,
		schema: `{"type":"object","properties":{
			"threadId":{"type":"string"},
			"question":{"type":"string"},
			"options":{"type":"array","items":{"type":"object","properties":{
				"id":{"type":"string"},"label":{"type":"string"},"description":{"type":"string"}},
				"required":["id","label"]}},
			"allowMultiple":{"type":"boolean"},
			"timeoutMs":{"type":"number"}},
			"required":["threadId","question","options"]}`,
	},
}

// daemonLocator is the slice of the discovery client the adapter needs.
type daemonLocator interface {
	BaseURL(ctx context.Context, workspaceFolders []string) (string, error)
	Invalidate()
}

// Adapter is the stdio-facing MCP server. It owns no bridge state; every
// tool call is proxied to whichever daemon serves this workspace.
type Adapter struct {
	disc       daemonLocator
	httpClient *http.Client
	logger     *slog.Logger

	in  io.Reader
	out io.Writer
	mu  sync.Mutex // serializes writes to out
}

// New creates an adapter reading JSON-RPC from in and writing to out.
// Logs must go elsewhere (stderr); stdout belongs to the protocol.
func New(in io.Reader, out io.Writer, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		disc:       discovery.NewClient(),
		httpClient: &http.Client{},
		logger:     logger.With("component", "mcp"),
		in:         in,
		out:        out,
	}
}

// Run reads newline-delimited JSON-RPC messages until in closes or ctx
// is cancelled.
func (a *Adapter) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(a.in)
	scanner.Buffer(make([]byte, 64*1024), MaxRequestBodySize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		a.dispatch(ctx, line)
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading stdin: %w", err)
	}
	return nil
}

func (a *Adapter) dispatch(ctx context.Context, line []byte) {
	var req JSONRPCRequest
	if err := json.Unmarshal(line, &req); err != nil {
		a.sendError(nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}
	if req.JSONRPC != "2.0" {
		a.sendError(req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	// Notifications get no response.
	if len(req.ID) == 0 || string(req.ID) == "null" {
		a.logger.Debug("notification", "method", req.Method)
		return
	}

	switch req.Method {
	case "initialize":
		a.handleInitialize(req)
	case "ping":
		a.sendResult(req.ID, map[string]any{})
	case "tools/list":
		a.handleToolsList(req)
	case "tools/call":
		a.handleToolsCall(ctx, req)
	default:
		a.sendError(req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

func (a *Adapter) handleInitialize(req JSONRPCRequest) {
	a.sendResult(req.ID, map[string]any{
		"protocolVersion": latestProtocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "discord-bridge",
			"version": "1.0.0",
		},
	})
}

func (a *Adapter) handleToolsList(req JSONRPCRequest) {
	result := ListToolsResult{Tools: make([]ToolInfo, len(toolTable))}
	for i, t := range toolTable {
		result.Tools[i] = ToolInfo{
			Name:        t.name,
			Description: t.description,
			InputSchema: json.RawMessage(compactSchema(t.schema)),
		}
	}
	a.sendResult(req.ID, result)
}

func (a *Adapter) handleToolsCall(ctx context.Context, req JSONRPCRequest) {
	var params CallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			a.sendError(req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}
	if params.Name == "" {
		a.sendError(req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	var def *tool
	for i := range toolTable {
		if toolTable[i].name == params.Name {
			def = &toolTable[i]
			break
		}
	}
	if def == nil {
		a.sendError(req.ID, JSONRPCInvalidParams, "tool not found", nil)
		return
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	timeout := 30 * time.Second
	if def.timeout > 0 {
		timeout = def.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := a.proxy(callCtx, def, args)
	if err != nil {
		a.logger.Warn("tool call failed", "tool", params.Name, "error", err)
		a.sendResult(req.ID, CallToolResult{
			Content: []Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		})
		return
	}

	var envelope struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	result := CallToolResult{Content: []Content{{Type: "text", Text: string(body)}}}
	if err := json.Unmarshal(body, &envelope); err == nil && !envelope.Success {
		result.IsError = true
		result.Content = []Content{{Type: "text", Text: envelope.Error}}
	}
	a.sendResult(req.ID, result)
}

// proxy forwards a tool call to the daemon, re-discovering once if the
// cached daemon is gone.
func (a *Adapter) proxy(ctx context.Context, def *tool, args json.RawMessage) ([]byte, error) {
	body, err := a.proxyOnce(ctx, def, args)
	if err != nil && isConnectionError(err) {
		a.disc.Invalidate()
		body, err = a.proxyOnce(ctx, def, args)
	}
	return body, err
}

func (a *Adapter) proxyOnce(ctx context.Context, def *tool, args json.RawMessage) ([]byte, error) {
	base, err := a.disc.BaseURL(ctx, discovery.FoldersFromEnv())
	if err != nil {
		return nil, err
	}

	method := http.MethodPost
	var reqBody io.Reader = bytes.NewReader(args)
	if def.name == "get_active_thread_id" {
		method = http.MethodGet
		reqBody = nil
	}

	req, err := http.NewRequestWithContext(ctx, method, base+def.path, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, MaxRequestBodySize))
}

func isConnectionError(err error) bool {
	if errors.Is(err, discovery.ErrNoDaemon) {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "connection refused") || strings.Contains(s, "connect:")
}

func (a *Adapter) sendResult(id json.RawMessage, result any) {
	a.write(JSONRPCResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (a *Adapter) sendError(id json.RawMessage, code int, message string, data any) {
	a.write(JSONRPCResponse{JSONRPC: "2.0", ID: id, Error: &JSONRPCError{Code: code, Message: message, Data: data}})
}

func (a *Adapter) write(resp JSONRPCResponse) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := json.NewEncoder(a.out).Encode(resp); err != nil {
		a.logger.Warn("failed to encode response", "error", err)
	}
}

// compactSchema strips the indentation used to keep schema literals
// readable in source.
func compactSchema(s string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
