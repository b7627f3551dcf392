// ABOUTME: Locates the IDE's per-workspace storage database on the host filesystem
// ABOUTME: Scans workspaceStorage folders and matches workspace.json folder URIs

package composer

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// ErrWorkspaceNotFound means no storage folder references the workspace.
var ErrWorkspaceNotFound = errors.New("no IDE storage found for workspace")

// StorageBaseDir returns the platform default workspaceStorage root.
func StorageBaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Cursor", "User", "workspaceStorage"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Cursor", "User", "workspaceStorage"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "Cursor", "User", "workspaceStorage"), nil
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "Cursor", "User", "workspaceStorage"), nil
		}
		return filepath.Join(home, ".config", "Cursor", "User", "workspaceStorage"), nil
	}
}

// Locate finds the state.vscdb for the given workspace root by scanning
// baseDir's hashed subfolders and matching each workspace.json folder
// URI. An empty baseDir means the platform default.
func Locate(baseDir, workspaceRoot string) (string, error) {
	if baseDir == "" {
		var err error
		baseDir, err = StorageBaseDir()
		if err != nil {
			return "", err
		}
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return "", fmt.Errorf("reading workspace storage %s: %w", baseDir, err)
	}

	want := filepath.Clean(workspaceRoot)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(baseDir, e.Name())
		folder, err := workspaceFolder(filepath.Join(dir, "workspace.json"))
		if err != nil {
			continue
		}
		if filepath.Clean(folder) != want {
			continue
		}
		dbPath := filepath.Join(dir, "state.vscdb")
		if _, err := os.Stat(dbPath); err != nil {
			continue
		}
		return dbPath, nil
	}
	return "", fmt.Errorf("%w: %s", ErrWorkspaceNotFound, workspaceRoot)
}

// workspaceFolder reads workspace.json and resolves its folder URI to a
// local path.
func workspaceFolder(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var meta struct {
		Folder string `json:"folder"`
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", err
	}
	if meta.Folder == "" {
		return "", errors.New("workspace.json has no folder")
	}
	return folderURIToPath(meta.Folder)
}

// folderURIToPath converts a file:// URI to a host path, tolerating
// plain paths and Windows drive-letter forms like /C:/work.
func folderURIToPath(raw string) (string, error) {
	if !strings.HasPrefix(raw, "file://") {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	p := u.Path
	if runtime.GOOS == "windows" && len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return p, nil
}
