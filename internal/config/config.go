// ABOUTME: Configuration loading and parsing for cursor-discord-bridge
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Notification modes for thread creation.
const (
	NotifySilent = "silent"
	NotifyPing   = "ping"
)

// Ping modes for outbound posts.
const (
	PingNever             = "never"
	PingOnRecentUserReply = "on_recent_user_message"
	PingAlways            = "always"
)

// Config represents the complete cursor-discord-bridge configuration.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Discord   DiscordConfig   `yaml:"discord"`
	Cursor    CursorConfig    `yaml:"cursor"`
	Database  DatabaseConfig  `yaml:"database"`
	Actuator  ActuatorConfig  `yaml:"actuator"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// WorkspaceConfig identifies the project this daemon instance serves.
type WorkspaceConfig struct {
	// Root is the absolute path of the workspace folder. Defaults to the
	// working directory the daemon was started in.
	Root string `yaml:"root"`
	// Label is the human-readable workspace name used in thread welcome
	// messages. Defaults to the base name of Root.
	Label string `yaml:"label"`
}

// DiscordConfig holds the bot credential and posting policy knobs.
type DiscordConfig struct {
	// Token may also come from $DISCORD_BOT_TOKEN or the stored secret;
	// the config value wins when set.
	Token string `yaml:"token"`

	InviteUserIDs        []string `yaml:"invite_user_ids"`
	ThreadCreationNotify string   `yaml:"thread_creation_notify"`
	MessagePingMode      string   `yaml:"message_ping_mode"`

	ImplicitArchiveCount int `yaml:"implicit_archive_count"`
	ImplicitArchiveHours int `yaml:"implicit_archive_hours"`

	// PingWindow bounds how old an in-thread user message may be and
	// still count as "recent" for on_recent_user_message pings.
	PingWindow    time.Duration `yaml:"-"`
	PingWindowRaw string        `yaml:"ping_window"`
}

// CursorConfig holds IDE storage access and watcher timing configuration.
type CursorConfig struct {
	// StorageDir overrides the platform workspaceStorage base directory.
	// Empty means auto-detect per OS.
	StorageDir string `yaml:"storage_dir"`

	// DisableMCPConfig stops the daemon from maintaining the
	// mcpServers entry in ~/.cursor/mcp.json.
	DisableMCPConfig bool `yaml:"disable_mcp_config"`

	WatchInterval    time.Duration `yaml:"-"`
	NameSyncDebounce time.Duration `yaml:"-"`
	NameSyncPoll     time.Duration `yaml:"-"`
	NameSyncWatchdog time.Duration `yaml:"-"`

	WatchIntervalRaw    string `yaml:"watch_interval"`
	NameSyncDebounceRaw string `yaml:"name_sync_debounce"`
	NameSyncPollRaw     string `yaml:"name_sync_poll"`
	NameSyncWatchdogRaw string `yaml:"name_sync_watchdog"`
}

// DatabaseConfig holds daemon state store configuration.
type DatabaseConfig struct {
	// Path of the bridge's own SQLite file. Empty means the per-workspace
	// default under the user data directory.
	Path string `yaml:"path"`
}

// ActuatorConfig holds keystroke-injection configuration.
type ActuatorConfig struct {
	// AppLabel is the window-title fragment used to focus the IDE.
	AppLabel string `yaml:"app_label"`
	// IDECommand is the IDE launcher binary used for deep links.
	IDECommand string `yaml:"ide_command"`
	// Deeplink is an optional URI template for opening a specific
	// conversation; "{id}" is replaced with the conversation id. Empty
	// skips the open step and relies on the focused composer.
	Deeplink string `yaml:"deeplink"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns a Config with every knob at its documented default,
// bound to the given workspace root.
func Default(workspaceRoot string) *Config {
	cfg := &Config{}
	cfg.Workspace.Root = workspaceRoot
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault behaves like Load but falls back to defaults when no file
// exists at path. The daemon is expected to run without a config file as
// long as a bot token is available from the environment or stored secret.
func LoadOrDefault(path, workspaceRoot string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(workspaceRoot), nil
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = workspaceRoot
		cfg.Workspace.Label = filepath.Base(workspaceRoot)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Root == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace.Root = wd
		}
	}
	if cfg.Workspace.Label == "" && cfg.Workspace.Root != "" {
		cfg.Workspace.Label = filepath.Base(cfg.Workspace.Root)
	}
	if cfg.Discord.Token == "" {
		cfg.Discord.Token = os.Getenv("DISCORD_BOT_TOKEN")
	}
	if cfg.Discord.ThreadCreationNotify == "" {
		cfg.Discord.ThreadCreationNotify = NotifySilent
	}
	if cfg.Discord.MessagePingMode == "" {
		cfg.Discord.MessagePingMode = PingNever
	}
	if cfg.Discord.ImplicitArchiveCount == 0 {
		cfg.Discord.ImplicitArchiveCount = 10
	}
	if cfg.Discord.ImplicitArchiveHours == 0 {
		cfg.Discord.ImplicitArchiveHours = 48
	}
	if cfg.Discord.PingWindow == 0 {
		cfg.Discord.PingWindow = 5 * time.Minute
	}
	if cfg.Cursor.WatchInterval == 0 {
		cfg.Cursor.WatchInterval = time.Second
	}
	if cfg.Cursor.NameSyncDebounce == 0 {
		cfg.Cursor.NameSyncDebounce = 500 * time.Millisecond
	}
	if cfg.Cursor.NameSyncPoll == 0 {
		cfg.Cursor.NameSyncPoll = 30 * time.Second
	}
	if cfg.Cursor.NameSyncWatchdog == 0 {
		cfg.Cursor.NameSyncWatchdog = time.Minute
	}
	if cfg.Actuator.AppLabel == "" {
		cfg.Actuator.AppLabel = "Cursor"
	}
	if cfg.Actuator.IDECommand == "" {
		cfg.Actuator.IDECommand = "cursor"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Validate checks that all fields hold permitted values.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root is required")
	}

	switch c.Discord.ThreadCreationNotify {
	case NotifySilent, NotifyPing:
	default:
		return fmt.Errorf("discord.thread_creation_notify must be %q or %q, got %q",
			NotifySilent, NotifyPing, c.Discord.ThreadCreationNotify)
	}

	switch c.Discord.MessagePingMode {
	case PingNever, PingOnRecentUserReply, PingAlways:
	default:
		return fmt.Errorf("discord.message_ping_mode must be one of %q, %q, %q, got %q",
			PingNever, PingOnRecentUserReply, PingAlways, c.Discord.MessagePingMode)
	}

	if c.Discord.ImplicitArchiveCount < 1 {
		return fmt.Errorf("discord.implicit_archive_count must be >= 1")
	}
	if c.Discord.ImplicitArchiveHours < 1 {
		return fmt.Errorf("discord.implicit_archive_hours must be >= 1")
	}
	if c.Cursor.WatchInterval < 100*time.Millisecond {
		return fmt.Errorf("cursor.watch_interval must be >= 100ms")
	}

	return nil
}

// DatabasePath returns the configured state store path, or the
// per-workspace default under the user data directory.
func (c *Config) DatabasePath() string {
	if c.Database.Path != "" {
		return c.Database.Path
	}
	return filepath.Join(DataDir(), workspaceSlug(c.Workspace.Root), "state.db")
}

// DataDir returns the base directory for bridge-owned data files.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "cursor-discord-bridge")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "cursor-discord-bridge")
	}
	return filepath.Join(home, ".local", "share", "cursor-discord-bridge")
}

// DefaultPath returns the config file location honoring
// $CURSOR_DISCORD_BRIDGE_CONFIG and XDG conventions.
func DefaultPath() string {
	if p := os.Getenv("CURSOR_DISCORD_BRIDGE_CONFIG"); p != "" {
		return p
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "cursor-discord-bridge", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "cursor-discord-bridge", "config.yaml")
}

// workspaceSlug produces a stable filesystem-safe identifier for a
// workspace root so two checkouts never share a state file.
func workspaceSlug(root string) string {
	base := filepath.Base(root)
	return fmt.Sprintf("%s-%08x", sanitizeSlug(base), fnv32(root))
}

func sanitizeSlug(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+('a'-'A'))
		default:
			out = append(out, '-')
		}
	}
	if len(out) == 0 {
		return "workspace"
	}
	return string(out)
}

func fnv32(s string) uint32 {
	const offset, prime = 2166136261, 16777619
	h := uint32(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Discord.PingWindowRaw, &cfg.Discord.PingWindow, "ping_window"},
		{cfg.Cursor.WatchIntervalRaw, &cfg.Cursor.WatchInterval, "watch_interval"},
		{cfg.Cursor.NameSyncDebounceRaw, &cfg.Cursor.NameSyncDebounce, "name_sync_debounce"},
		{cfg.Cursor.NameSyncPollRaw, &cfg.Cursor.NameSyncPoll, "name_sync_poll"},
		{cfg.Cursor.NameSyncWatchdogRaw, &cfg.Cursor.NameSyncWatchdog, "name_sync_watchdog"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
