// Package config handles configuration loading for cursor-discord-bridge.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; the daemon runs with
// no config file at all when $DISCORD_BOT_TOKEN (or a stored secret) supplies
// the credential.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CURSOR_DISCORD_BRIDGE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/cursor-discord-bridge/config.yaml
//  3. ~/.config/cursor-discord-bridge/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	discord:
//	  token: "${DISCORD_BOT_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	cursor:
//	  watch_interval: "1s"
//	  name_sync_debounce: "500ms"
//	  name_sync_poll: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Workspace binding:
//
//	workspace:
//	  root: "/home/me/src/project"   # defaults to the working directory
//	  label: "project"               # defaults to the base name of root
//
// Discord policy knobs:
//
//	discord:
//	  token: "${DISCORD_BOT_TOKEN}"
//	  invite_user_ids: ["189752134"]
//	  thread_creation_notify: "silent"      # silent, ping
//	  message_ping_mode: "never"            # never, on_recent_user_message, always
//	  implicit_archive_count: 10
//	  implicit_archive_hours: 48
//
// Actuator (keystroke injection into the IDE):
//
//	actuator:
//	  app_label: "Cursor"
//	  ide_command: "cursor"
//	  deeplink: ""   # optional URI template with {id}
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.DefaultPath(), workspaceRoot)
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
