// ABOUTME: Loopback HTTP surface driven by the out-of-process tool adapter
// ABOUTME: Binds the first free port in a fixed range; strict explicit thread-id policy

package rpc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/2389/cursor-discord-bridge/internal/config"
	"github.com/2389/cursor-discord-bridge/internal/discord"
	"github.com/2389/cursor-discord-bridge/internal/interact"
	"github.com/2389/cursor-discord-bridge/internal/metrics"
	"github.com/2389/cursor-discord-bridge/internal/registry"
	"github.com/2389/cursor-discord-bridge/internal/state"
)

// BasePort is the first port probed; the daemon binds the first free
// port in [BasePort, BasePort+PortRange).
const (
	BasePort  = 19876
	PortRange = 10
)

// ErrNoFreePort means every port in the range is taken.
var ErrNoFreePort = errors.New("no free port in RPC range")

// chatGateway is the slice of the Discord client the RPC surface drives.
type chatGateway interface {
	Connected() bool
	PostToThread(ctx context.Context, threadID, text string) error
	SendFile(ctx context.Context, threadID string, content []byte, name, description string) error
	StartTyping(threadID string) error
	StopTyping(threadID string)
	CreateThread(ctx context.Context, conversationID, workspaceLabel, name string) (*state.Mapping, error)
	RenameThread(ctx context.Context, threadID, name string) error
}

// threadResolver runs the three-strategy resolution protocol.
type threadResolver interface {
	Resolve(ctx context.Context) (*state.Mapping, string, error)
}

// questioner blocks until an interactive question resolves.
type questioner interface {
	AskQuestion(ctx context.Context, threadID, question string, options []interact.Option, allowMultiple bool, timeout time.Duration) (*interact.Response, error)
}

// deliverer injects a message into the IDE composer.
type deliverer interface {
	Deliver(ctx context.Context, conversationID, text, threadID string) error
}

// Server is the loopback HTTP endpoint. All callers are local; remote
// access is prevented by binding 127.0.0.1 only.
type Server struct {
	cfg      *config.Config
	gateway  chatGateway
	resolver threadResolver
	quest    questioner
	actuator deliverer
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// Reconnect, when set, re-establishes the gateway session.
	Reconnect func(ctx context.Context) error

	// Project, when set, supplies the stored channel binding for
	// /api/config.
	Project func(ctx context.Context) (*state.ProjectConfig, error)

	listener net.Listener
	srv      *http.Server
}

// New wires the RPC surface. Call Listen before Run.
func New(cfg *config.Config, gw chatGateway, res threadResolver, q questioner, act deliverer, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:      cfg,
		gateway:  gw,
		resolver: res,
		quest:    q,
		actuator: act,
		metrics:  m,
		logger:   slog.Default().With("component", "rpc"),
	}
	s.srv = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Listen binds the first free loopback port in the range.
func (s *Server) Listen() error {
	for port := BasePort; port < BasePort+PortRange; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			continue
		}
		s.listener = ln
		s.logger.Info("rpc listening", "addr", ln.Addr().String())
		return nil
	}
	return ErrNoFreePort
}

// Port returns the bound port. Valid after Listen.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(s.listener) }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("GET /api/get-active-thread-id", s.handleGetActiveThreadID)
	mux.HandleFunc("POST /api/post-to-thread", s.handlePostToThread)
	mux.HandleFunc("POST /api/send-file-to-thread", s.handleSendFile)
	mux.HandleFunc("POST /api/start-typing", s.handleStartTyping)
	mux.HandleFunc("POST /api/stop-typing", s.handleStopTyping)
	mux.HandleFunc("POST /api/create-thread", s.handleCreateThread)
	mux.HandleFunc("POST /api/rename-thread", s.handleRenameThread)
	mux.HandleFunc("POST /api/forward-user-prompt", s.handleForwardUserPrompt)
	mux.HandleFunc("POST /api/ask-question", s.handleAskQuestion)
	mux.HandleFunc("POST /api/reconnect", s.handleReconnect)
	mux.HandleFunc("POST /message", s.handleMessage)

	if s.metrics != nil && s.cfg.Metrics.Enabled {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}

	return s.withCORS(s.withMetrics(mux))
}

// withCORS allows any origin; the listener only accepts loopback
// connections, so this just unblocks browser-hosted local tools.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics != nil {
			s.metrics.RPCRequests.WithLabelValues(r.URL.Path).Inc()
		}
		next.ServeHTTP(w, r)
	})
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Success         bool   `json:"success"`
	Error           string `json:"error"`
	PermissionError bool   `json:"permissionError,omitempty"`
}

// failDomain reports a domain-level failure: HTTP 200, success=false.
func (s *Server) failDomain(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusOK, errorBody{
		Error:           err.Error(),
		PermissionError: errors.Is(err, discord.ErrPermissionDenied),
	})
}

// failPreflight reports a malformed request: HTTP 400.
func failPreflight(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// --- handlers ---

type healthBody struct {
	Status           string   `json:"status"`
	WorkspaceFolders []string `json:"workspaceFolders"`
	WorkspaceName    string   `json:"workspaceName"`
	DiscordConnected bool     `json:"discordConnected"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthBody{
		Status:           "ok",
		WorkspaceFolders: []string{s.cfg.Workspace.Root},
		WorkspaceName:    s.cfg.Workspace.Label,
		DiscordConnected: s.gateway.Connected(),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"success":              true,
		"workspaceName":        s.cfg.Workspace.Label,
		"messagePingMode":      s.cfg.Discord.MessagePingMode,
		"threadCreationNotify": s.cfg.Discord.ThreadCreationNotify,
		"implicitArchiveCount": s.cfg.Discord.ImplicitArchiveCount,
		"implicitArchiveHours": s.cfg.Discord.ImplicitArchiveHours,
	}
	if s.Project != nil {
		if pc, err := s.Project(r.Context()); err == nil {
			body["guildId"] = pc.GuildID
			body["channelId"] = pc.ChannelID
			body["channelName"] = pc.ChannelName
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleGetActiveThreadID(w http.ResponseWriter, r *http.Request) {
	mapping, method, err := s.resolver.Resolve(r.Context())
	if err != nil {
		if errors.Is(err, registry.ErrNoMappings) {
			s.failDomain(w, errors.New("no active conversation to bind to"))
			return
		}
		s.failDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"threadId": mapping.ThreadID,
		"chatId":   mapping.ConversationID,
		"method":   method,
	})
}

type postBody struct {
	ThreadID string `json:"threadId"`
	Message  string `json:"message"`
}

func (s *Server) handlePostToThread(w http.ResponseWriter, r *http.Request) {
	var body postBody
	if err := decodeBody(r, &body); err != nil {
		failPreflight(w, err.Error())
		return
	}
	if body.ThreadID == "" {
		failPreflight(w, "threadId is required")
		return
	}
	if body.Message == "" {
		failPreflight(w, "message is required")
		return
	}
	if err := s.gateway.PostToThread(r.Context(), body.ThreadID, body.Message); err != nil {
		s.failDomain(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.PostsSent.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type sendFileBody struct {
	ThreadID          string `json:"threadId"`
	FilePath          string `json:"filePath"`
	FileContentBase64 string `json:"fileContentBase64"`
	FileName          string `json:"fileName"`
	Description       string `json:"description"`
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	var body sendFileBody
	if err := decodeBody(r, &body); err != nil {
		failPreflight(w, err.Error())
		return
	}
	if body.ThreadID == "" {
		failPreflight(w, "threadId is required")
		return
	}

	var content []byte
	name := body.FileName
	switch {
	case body.FileContentBase64 != "":
		decoded, err := base64.StdEncoding.DecodeString(body.FileContentBase64)
		if err != nil {
			failPreflight(w, "fileContentBase64 is not valid base64")
			return
		}
		content = decoded
		if name == "" {
			name = "file"
		}
	case body.FilePath != "":
		// The path must exist on this host; a remote adapter has to
		// pre-read the file and send base64 instead.
		data, err := os.ReadFile(body.FilePath)
		if err != nil {
			s.failDomain(w, fmt.Errorf("file not readable on daemon host (use fileContentBase64 for remote files): %w", err))
			return
		}
		content = data
		if name == "" {
			name = filepath.Base(body.FilePath)
		}
	default:
		failPreflight(w, "filePath or fileContentBase64 is required")
		return
	}

	if err := s.gateway.SendFile(r.Context(), body.ThreadID, content, name, body.Description); err != nil {
		s.failDomain(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.FilesSent.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "fileName": name})
}

type typingBody struct {
	ThreadID string `json:"threadId"`
}

func (s *Server) handleStartTyping(w http.ResponseWriter, r *http.Request) {
	var body typingBody
	if err := decodeBody(r, &body); err != nil {
		failPreflight(w, err.Error())
		return
	}
	// A missing thread id is a no-op success: the adapter fires typing
	// opportunistically before it knows the thread.
	if body.ThreadID != "" {
		if err := s.gateway.StartTyping(body.ThreadID); err != nil {
			s.failDomain(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleStopTyping(w http.ResponseWriter, r *http.Request) {
	var body typingBody
	if err := decodeBody(r, &body); err != nil {
		failPreflight(w, err.Error())
		return
	}
	if body.ThreadID != "" {
		s.gateway.StopTyping(body.ThreadID)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type createThreadBody struct {
	ConversationID string `json:"conversationId"`
	Name           string `json:"name"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var body createThreadBody
	if err := decodeBody(r, &body); err != nil {
		failPreflight(w, err.Error())
		return
	}
	if body.Name == "" {
		failPreflight(w, "name is required")
		return
	}
	conversationID := body.ConversationID
	if conversationID == "" {
		// Ad-hoc threads get a synthetic conversation id so the
		// mapping registry stays total.
		conversationID = "rpc-" + shortuuid.New()
	}
	mapping, err := s.gateway.CreateThread(r.Context(), conversationID, s.cfg.Workspace.Label, body.Name)
	if err != nil {
		s.failDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"threadId":       mapping.ThreadID,
		"conversationId": mapping.ConversationID,
	})
}

type renameThreadBody struct {
	ThreadID string `json:"threadId"`
	Name     string `json:"name"`
}

func (s *Server) handleRenameThread(w http.ResponseWriter, r *http.Request) {
	var body renameThreadBody
	if err := decodeBody(r, &body); err != nil {
		failPreflight(w, err.Error())
		return
	}
	if body.ThreadID == "" {
		failPreflight(w, "threadId is required")
		return
	}
	if body.Name == "" {
		failPreflight(w, "name is required")
		return
	}
	if err := s.gateway.RenameThread(r.Context(), body.ThreadID, body.Name); err != nil {
		s.failDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type forwardPromptBody struct {
	ThreadID string `json:"threadId"`
	Prompt   string `json:"prompt"`
}

func (s *Server) handleForwardUserPrompt(w http.ResponseWriter, r *http.Request) {
	var body forwardPromptBody
	if err := decodeBody(r, &body); err != nil {
		failPreflight(w, err.Error())
		return
	}
	if body.ThreadID == "" {
		failPreflight(w, "threadId is required")
		return
	}
	if body.Prompt == "" {
		failPreflight(w, "prompt is required")
		return
	}
	formatted := "💬 **User prompt:**\n> " + body.Prompt
	if err := s.gateway.PostToThread(r.Context(), body.ThreadID, formatted); err != nil {
		s.failDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type askQuestionBody struct {
	ThreadID      string            `json:"threadId"`
	Question      string            `json:"question"`
	Options       []interact.Option `json:"options"`
	AllowMultiple bool              `json:"allowMultiple"`
	TimeoutMs     int               `json:"timeoutMs"`
}

func (s *Server) handleAskQuestion(w http.ResponseWriter, r *http.Request) {
	var body askQuestionBody
	if err := decodeBody(r, &body); err != nil {
		failPreflight(w, err.Error())
		return
	}
	if body.ThreadID == "" {
		failPreflight(w, "threadId is required")
		return
	}
	if body.Question == "" {
		failPreflight(w, "question is required")
		return
	}
	if len(body.Options) == 0 {
		failPreflight(w, "options are required")
		return
	}

	timeout := interact.DefaultTimeout
	if body.TimeoutMs > 0 {
		timeout = time.Duration(body.TimeoutMs) * time.Millisecond
	}

	if s.metrics != nil {
		s.metrics.QuestionsAsked.Inc()
	}
	resp, err := s.quest.AskQuestion(r.Context(), body.ThreadID, body.Question, body.Options, body.AllowMultiple, timeout)
	if err != nil {
		s.failDomain(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.QuestionsResolved.WithLabelValues(questionOutcome(resp)).Inc()
	}
	writeJSON(w, http.StatusOK, resp)
}

func questionOutcome(resp *interact.Response) string {
	switch {
	case !resp.Success:
		return "timeout"
	case resp.ResponseType == interact.ResponseText:
		return "text"
	default:
		return "option"
	}
}

type messageBody struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	ThreadID       string `json:"threadId"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body messageBody
	if err := decodeBody(r, &body); err != nil {
		failPreflight(w, err.Error())
		return
	}
	if body.ConversationID == "" {
		failPreflight(w, "conversationId is required")
		return
	}
	if body.Message == "" {
		failPreflight(w, "message is required")
		return
	}
	if err := s.actuator.Deliver(r.Context(), body.ConversationID, body.Message, body.ThreadID); err != nil {
		s.failDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if s.Reconnect == nil {
		s.failDomain(w, errors.New("reconnect not available"))
		return
	}
	if err := s.Reconnect(r.Context()); err != nil {
		s.failDomain(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
