// ABOUTME: Entry point for the cursor-discord-bridge daemon
// ABOUTME: Runs the bridge, the interactive setup wizard, and version output

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/cursor-discord-bridge/internal/bridge"
	"github.com/2389/cursor-discord-bridge/internal/bus"
	"github.com/2389/cursor-discord-bridge/internal/composer"
	"github.com/2389/cursor-discord-bridge/internal/config"
	"github.com/2389/cursor-discord-bridge/internal/discord"
	"github.com/2389/cursor-discord-bridge/internal/mcp"
	"github.com/2389/cursor-discord-bridge/internal/state"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                                     _          _     _
  ___ _   _ _ __ ___  ___  _ __     | |__  _ __(_) __| | __ _  ___
 / __| | | | '__/ __|/ _ \| '__|____| '_ \| '__| |/ _' |/ _' |/ _ \
| (__| |_| | |  \__ \ (_) | | |_____| |_) | |  | | (_| | (_| |  __/
 \___|\__,_|_|  |___/\___/|_|       |_.__/|_|  |_|\__,_|\__, |\___|
                                                        |___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: cursor-discord-bridge <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  run      Start the bridge daemon for the current workspace")
		fmt.Println("  setup    Store the bot token and pick the Discord channel")
		fmt.Println("  mcp      Run the tool adapter on stdio (spawned by the IDE)")
		fmt.Println("  version  Print the version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "run":
		err = runServe(ctx)
	case "setup":
		err = runSetup(ctx)
	case "mcp":
		err = runMCP(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining working directory: %w", err)
	}
	return config.LoadOrDefault(config.DefaultPath(), wd)
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	dbPath, err := composer.Locate(cfg.Cursor.StorageDir, cfg.Workspace.Root)
	if err != nil {
		return fmt.Errorf("finding IDE storage (open the workspace in the IDE at least once): %w", err)
	}

	st, err := state.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer st.Close()

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Workspace: %s\n", cfg.Workspace.Root)
	green.Print("    ▶ ")
	fmt.Printf("IDE data:  %s\n", dbPath)
	green.Print("    ▶ ")
	fmt.Printf("State:     %s\n", cfg.DatabasePath())
	fmt.Println()

	logger.Info("starting cursor-discord-bridge",
		"workspace", cfg.Workspace.Root,
		"ide_db", dbPath,
	)

	b := bridge.New(cfg, st, composer.NewStore(dbPath))
	return b.Run(ctx)
}

// runSetup walks through token entry, guild and channel selection, and
// persists the result for this workspace.
func runSetup(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	st, err := state.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer st.Close()

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	reader := bufio.NewReader(os.Stdin)

	cyan.Println("cursor-discord-bridge setup")
	fmt.Println()

	token := cfg.Discord.Token
	if token == "" {
		token, _ = st.GetSecret(ctx, state.SecretBotToken)
	}
	if token != "" {
		fmt.Print("A bot token is already stored. Replace it? [y/N] ")
		if answer, _ := reader.ReadString('\n'); strings.TrimSpace(strings.ToLower(answer)) != "y" {
			green.Println("Keeping existing token.")
		} else {
			token = ""
		}
	}
	if token == "" {
		fmt.Print("Discord bot token: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("reading token: %w", err)
		}
		token = strings.TrimSpace(line)
		if token == "" {
			return fmt.Errorf("token cannot be empty")
		}
	}

	client := discord.NewClient(cfg, st, bus.New(nil))
	fmt.Println("Connecting to Discord...")
	if err := client.Connect(ctx, token); err != nil {
		return fmt.Errorf("connecting with that token: %w", err)
	}
	defer client.Close()
	green.Println("Connected.")

	if err := st.SetSecret(ctx, state.SecretBotToken, token); err != nil {
		return fmt.Errorf("storing token: %w", err)
	}

	guilds, err := client.ListGuilds(ctx)
	if err != nil {
		return fmt.Errorf("listing servers: %w", err)
	}
	if len(guilds) == 0 {
		yellow.Println("The bot is not in any server yet. Invite it with:")
		fmt.Println("  " + client.InviteURL())
		return fmt.Errorf("no servers available")
	}

	fmt.Println()
	fmt.Println("Servers:")
	for i, g := range guilds {
		fmt.Printf("  %d. %s\n", i+1, g.Name)
	}
	guild, err := pick(reader, "Server", len(guilds))
	if err != nil {
		return err
	}
	chosen := guilds[guild]

	report, err := client.CheckPermissions(ctx, chosen.ID)
	if err != nil {
		return fmt.Errorf("checking permissions: %w", err)
	}
	if !report.OK {
		yellow.Printf("The bot is missing permissions in %s: %s\n", chosen.Name, strings.Join(report.Missing, ", "))
		fmt.Println("Re-invite it with:")
		fmt.Println("  " + client.InviteURL())
		return fmt.Errorf("insufficient permissions")
	}

	channels, err := client.ListChannels(ctx, chosen.ID)
	if err != nil {
		return fmt.Errorf("listing channels: %w", err)
	}

	fmt.Println()
	fmt.Println("Channels:")
	for i, ch := range channels {
		fmt.Printf("  %d. #%s\n", i+1, ch.Name)
	}
	fmt.Printf("  %d. Create a new channel for this workspace\n", len(channels)+1)
	idx, err := pick(reader, "Channel", len(channels)+1)
	if err != nil {
		return err
	}

	var channelID, channelName string
	if idx < len(channels) {
		channelID, channelName = channels[idx].ID, channels[idx].Name
	} else {
		name := discord.SanitizeChannelName(cfg.Workspace.Label)
		created, err := client.CreateChannel(ctx, chosen.ID, name, "")
		if err != nil {
			return fmt.Errorf("creating channel: %w", err)
		}
		channelID, channelName = created.ID, created.Name
		green.Printf("Created #%s\n", channelName)
	}

	pc := &state.ProjectConfig{
		Workspace:   cfg.Workspace.Label,
		GuildID:     chosen.ID,
		GuildName:   chosen.Name,
		ChannelID:   channelID,
		ChannelName: channelName,
	}
	if err := st.SetProjectConfig(ctx, pc); err != nil {
		return fmt.Errorf("storing workspace config: %w", err)
	}

	fmt.Println()
	green.Printf("Done. Workspace %q will mirror into #%s on %s.\n", cfg.Workspace.Label, channelName, chosen.Name)
	fmt.Println("Start the daemon with: cursor-discord-bridge run")
	return nil
}

// runMCP serves the tool protocol on stdin/stdout. The IDE owns stdout,
// so logs go to stderr.
func runMCP(ctx context.Context) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)
	return mcp.New(os.Stdin, os.Stdout, logger).Run(ctx)
}

// pick reads a 1-based selection from stdin.
func pick(reader *bufio.Reader, what string, n int) (int, error) {
	fmt.Printf("%s [1-%d]: ", what, n)
	line, err := reader.ReadString('\n')
	if err != nil {
		return 0, fmt.Errorf("reading selection: %w", err)
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || idx < 1 || idx > n {
		return 0, fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	return idx - 1, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}
