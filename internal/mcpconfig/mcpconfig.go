// ABOUTME: Maintains the bridge's entry in the IDE's MCP server registration file
// ABOUTME: Atomic rewrite preserving servers owned by other tools

package mcpconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ServerName is the key this daemon owns inside mcpServers.
const ServerName = "discord-bridge"

// ServerEntry is one registered MCP server. Unknown fields from other
// tools' entries survive a rewrite because foreign entries are kept as
// raw JSON.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

type fileShape struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

// DefaultPath returns the IDE's global MCP registration file.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cursor", "mcp.json"), nil
}

// Ensure registers the adapter under ServerName, creating the file when
// missing. Entries owned by other tools are preserved byte for byte.
// Reports whether the file was modified.
func Ensure(path string, entry ServerEntry) (bool, error) {
	shape := fileShape{MCPServers: map[string]json.RawMessage{}}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &shape); err != nil {
			return false, fmt.Errorf("parsing %s: %w", path, err)
		}
		if shape.MCPServers == nil {
			shape.MCPServers = map[string]json.RawMessage{}
		}
	case os.IsNotExist(err):
		// First registration.
	default:
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	want, err := json.Marshal(entry)
	if err != nil {
		return false, err
	}
	if existing, ok := shape.MCPServers[ServerName]; ok && jsonEqual(existing, want) {
		return false, nil
	}
	shape.MCPServers[ServerName] = want

	if err := writeAtomic(path, &shape); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes the bridge's entry. Reports whether anything changed.
func Remove(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	var shape fileShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return false, fmt.Errorf("parsing %s: %w", path, err)
	}
	if _, ok := shape.MCPServers[ServerName]; !ok {
		return false, nil
	}
	delete(shape.MCPServers, ServerName)

	if err := writeAtomic(path, &shape); err != nil {
		return false, err
	}
	return true, nil
}

// writeAtomic renders the file and swaps it into place with a rename so
// the IDE never observes a half-written registry.
func writeAtomic(path string, shape *fileShape) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	out, err := json.MarshalIndent(shape, "", "  ")
	if err != nil {
		return err
	}
	out = append(out, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".mcp-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(out); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// jsonEqual compares two JSON documents structurally.
func jsonEqual(a, b []byte) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ae, err := json.Marshal(av)
	if err != nil {
		return false
	}
	be, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return string(ae) == string(be)
}
