// ABOUTME: Daemon orchestrator: wires every subsystem and supervises their run loops
// ABOUTME: One Bridge per workspace; shutdown stops watchers, typing, and the session

package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/2389/cursor-discord-bridge/internal/actuator"
	"github.com/2389/cursor-discord-bridge/internal/bus"
	"github.com/2389/cursor-discord-bridge/internal/composer"
	"github.com/2389/cursor-discord-bridge/internal/config"
	"github.com/2389/cursor-discord-bridge/internal/discord"
	"github.com/2389/cursor-discord-bridge/internal/interact"
	"github.com/2389/cursor-discord-bridge/internal/mcpconfig"
	"github.com/2389/cursor-discord-bridge/internal/metrics"
	"github.com/2389/cursor-discord-bridge/internal/namesync"
	"github.com/2389/cursor-discord-bridge/internal/registry"
	"github.com/2389/cursor-discord-bridge/internal/rpc"
	"github.com/2389/cursor-discord-bridge/internal/state"
	"github.com/2389/cursor-discord-bridge/internal/watcher"
)

// Bridge owns the full daemon: gateway client, watchers, interaction
// manager, actuator, and RPC surface, all bound to one workspace.
type Bridge struct {
	cfg    *config.Config
	store  state.Store
	convs  *composer.Store
	logger *slog.Logger

	bus      *bus.Bus
	metrics  *metrics.Metrics
	client   *discord.Client
	resolver *registry.Resolver
	watcher  *watcher.Watcher
	syncer   *namesync.Syncer
	interact *interact.Manager
	actuator *actuator.Actuator
	rpc      *rpc.Server
	router   *router
}

// New assembles a Bridge. Nothing connects or listens until Run.
func New(cfg *config.Config, st state.Store, convs *composer.Store) *Bridge {
	b := &Bridge{
		cfg:    cfg,
		store:  st,
		convs:  convs,
		logger: slog.Default().With("component", "bridge"),
	}

	b.bus = bus.New(nil)
	b.metrics = metrics.New()
	b.client = discord.NewClient(cfg, st, b.bus)
	b.resolver = registry.NewResolver(st)
	b.watcher = watcher.New(st, convs, b.client, b.resolver, cfg, b.metrics)
	b.syncer = namesync.New(st, convs, b.client,
		[]string{convs.DBPath(), convs.WALPath()},
		cfg.Cursor.NameSyncDebounce, cfg.Cursor.NameSyncPoll, cfg.Cursor.NameSyncWatchdog,
		b.metrics)
	b.interact = interact.NewManager(b.client)
	b.actuator = actuator.New(cfg)
	b.rpc = rpc.New(cfg, b.client, b.resolver, b.interact, b.actuator, b.metrics)
	b.rpc.Reconnect = b.reconnect
	b.rpc.Project = func(ctx context.Context) (*state.ProjectConfig, error) {
		return st.GetProjectConfig(ctx, cfg.Workspace.Label)
	}
	b.router = newRouter(st, b.client, b.interact, b.actuator, b.metrics)

	// Renames through the gateway invalidate the name cache.
	b.watcher.OnChatRemoved = func(conversationID string) {
		b.logger.Debug("conversation archived", "conversation_id", conversationID)
	}

	return b
}

// RPCPort returns the bound RPC port once Run has started listening.
func (b *Bridge) RPCPort() int { return b.rpc.Port() }

// token resolves the bot credential: config wins, then the stored
// secret from setup.
func (b *Bridge) token(ctx context.Context) (string, error) {
	if b.cfg.Discord.Token != "" {
		return b.cfg.Discord.Token, nil
	}
	tok, err := b.store.GetSecret(ctx, state.SecretBotToken)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return "", fmt.Errorf("no bot token configured; run setup or set DISCORD_BOT_TOKEN")
		}
		return "", err
	}
	return tok, nil
}

func (b *Bridge) reconnect(ctx context.Context) error {
	tok, err := b.token(ctx)
	if err != nil {
		return err
	}
	if err := b.client.Reconnect(ctx, tok); err != nil {
		return err
	}
	return b.selectConfiguredChannel(ctx)
}

// selectConfiguredChannel points the client at the per-workspace
// channel recorded during setup.
func (b *Bridge) selectConfiguredChannel(ctx context.Context) error {
	pc, err := b.store.GetProjectConfig(ctx, b.cfg.Workspace.Label)
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			b.logger.Warn("no channel configured for workspace; thread creation disabled until setup",
				"workspace", b.cfg.Workspace.Label)
			return nil
		}
		return err
	}
	return b.client.SelectChannel(pc.GuildID, pc.ChannelID)
}

// ensureMCPConfig registers this binary's mcp subcommand as the IDE's
// tool adapter. Best effort: a failure never stops the daemon.
func (b *Bridge) ensureMCPConfig() {
	if b.cfg.Cursor.DisableMCPConfig {
		return
	}
	path, err := mcpconfig.DefaultPath()
	if err != nil {
		b.logger.Warn("locating mcp.json", "error", err)
		return
	}
	exe, err := os.Executable()
	if err != nil {
		b.logger.Warn("resolving own executable for mcp.json", "error", err)
		return
	}
	changed, err := mcpconfig.Ensure(path, mcpconfig.ServerEntry{
		Command: exe,
		Args:    []string{"mcp"},
	})
	if err != nil {
		b.logger.Warn("updating mcp.json", "error", err)
		return
	}
	if changed {
		b.logger.Info("registered tool adapter; reload the IDE to pick it up", "path", path)
	}
}

// Run connects to Discord and supervises every subsystem until ctx is
// cancelled. Returns the first fatal error.
func (b *Bridge) Run(ctx context.Context) error {
	tok, err := b.token(ctx)
	if err != nil {
		return err
	}
	if err := b.client.Connect(ctx, tok); err != nil {
		return err
	}
	defer b.client.Close()

	if err := b.selectConfiguredChannel(ctx); err != nil {
		return err
	}
	if err := b.watcher.Load(ctx); err != nil {
		return err
	}
	if err := b.syncer.Seed(ctx); err != nil {
		b.logger.Warn("seeding name cache", "error", err)
	}
	if err := b.rpc.Listen(); err != nil {
		return err
	}
	b.ensureMCPConfig()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.watcher.Run(gctx) })
	g.Go(func() error { return b.syncer.Run(gctx) })
	g.Go(func() error { return b.router.run(gctx, b.bus) })
	g.Go(func() error { return b.rpc.Run(gctx) })

	b.logger.Info("bridge running",
		"workspace", b.cfg.Workspace.Label,
		"rpc_port", b.rpc.Port())

	err = g.Wait()
	b.bus.Close()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
