// ABOUTME: Platform injector implementations: AppleScript, PowerShell, X tooling
// ABOUTME: All run external commands through a swappable runner

package actuator

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/2389/cursor-discord-bridge/internal/config"
)

func execRunner(ctx context.Context, stdin, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	return cmd.CombinedOutput()
}

// newPlatformInjector picks the injector for the current host OS.
func newPlatformInjector(cfg *config.Config) Injector {
	switch runtime.GOOS {
	case "darwin":
		return &darwinInjector{run: execRunner, cfg: cfg}
	case "windows":
		return &windowsInjector{run: execRunner, cfg: cfg}
	default:
		return &linuxInjector{run: execRunner, cfg: cfg}
	}
}

// deeplink expands the configured conversation URI template.
func deeplink(cfg *config.Config, conversationID string) string {
	if cfg.Actuator.Deeplink == "" {
		return ""
	}
	return strings.ReplaceAll(cfg.Actuator.Deeplink, "{id}", conversationID)
}

// --- darwin ---

type darwinInjector struct {
	run runner
	cfg *config.Config
}

// accessibility failures from osascript carry error -25211 or the
// "assistive access" phrasing, depending on macOS version.
func (d *darwinInjector) wrap(out []byte, err error) error {
	if err == nil {
		return nil
	}
	s := string(out)
	if strings.Contains(s, "assistive access") || strings.Contains(s, "-25211") || strings.Contains(s, "1002") {
		return fmt.Errorf("%w: grant the terminal Accessibility rights in System Settings > Privacy & Security > Accessibility", ErrAccessibilityDenied)
	}
	return fmt.Errorf("osascript: %s: %w", strings.TrimSpace(s), err)
}

func (d *darwinInjector) osascript(ctx context.Context, script string) error {
	out, err := d.run(ctx, "", "osascript", "-e", script)
	return d.wrap(out, err)
}

func (d *darwinInjector) FocusWindow(ctx context.Context, label string) error {
	script := fmt.Sprintf(`tell application %q to activate`, d.cfg.Actuator.AppLabel)
	if err := d.osascript(ctx, script); err != nil {
		return err
	}
	if label == "" {
		return nil
	}
	raise := fmt.Sprintf(`tell application "System Events" to tell process %q
	repeat with w in windows
		if name of w contains %q then
			perform action "AXRaise" of w
			exit repeat
		end if
	end repeat
end tell`, d.cfg.Actuator.AppLabel, label)
	return d.osascript(ctx, raise)
}

func (d *darwinInjector) OpenConversation(ctx context.Context, conversationID string) error {
	uri := deeplink(d.cfg, conversationID)
	if uri == "" {
		return nil
	}
	out, err := d.run(ctx, "", "open", uri)
	return d.wrap(out, err)
}

func (d *darwinInjector) FocusComposer(ctx context.Context) error {
	// Cmd+L opens the agent composer in the IDE.
	return d.osascript(ctx, `tell application "System Events" to keystroke "l" using {command down}`)
}

func (d *darwinInjector) Paste(ctx context.Context, text string) error {
	if err := d.wrap(d.run(ctx, text, "pbcopy")); err != nil {
		return err
	}
	return d.osascript(ctx, `tell application "System Events" to keystroke "v" using {command down}`)
}

func (d *darwinInjector) PressEnter(ctx context.Context) error {
	return d.osascript(ctx, `tell application "System Events" to key code 36`)
}

// --- windows ---

type windowsInjector struct {
	run runner
	cfg *config.Config
}

func (w *windowsInjector) powershell(ctx context.Context, script string) error {
	out, err := w.run(ctx, "", "powershell", "-NoProfile", "-Command", script)
	if err != nil {
		return fmt.Errorf("powershell: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (w *windowsInjector) FocusWindow(ctx context.Context, label string) error {
	script := fmt.Sprintf(`$p = Get-Process | Where-Object { $_.MainWindowTitle -like '*%s*' } | Select-Object -First 1
if ($p) {
	$sig = '[DllImport("user32.dll")] public static extern bool SetForegroundWindow(IntPtr hWnd);'
	Add-Type -MemberDefinition $sig -Name Win -Namespace Native
	[Native.Win]::SetForegroundWindow($p.MainWindowHandle) | Out-Null
}`, label)
	return w.powershell(ctx, script)
}

func (w *windowsInjector) OpenConversation(ctx context.Context, conversationID string) error {
	uri := deeplink(w.cfg, conversationID)
	if uri == "" {
		return nil
	}
	return w.powershell(ctx, fmt.Sprintf(`Start-Process %q`, uri))
}

func (w *windowsInjector) FocusComposer(ctx context.Context) error {
	return w.sendKeys(ctx, "^l")
}

func (w *windowsInjector) Paste(ctx context.Context, text string) error {
	setClip := fmt.Sprintf(`Set-Clipboard -Value @'
%s
'@`, text)
	if err := w.powershell(ctx, setClip); err != nil {
		return err
	}
	return w.sendKeys(ctx, "^v")
}

func (w *windowsInjector) PressEnter(ctx context.Context) error {
	return w.sendKeys(ctx, "{ENTER}")
}

func (w *windowsInjector) sendKeys(ctx context.Context, keys string) error {
	script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms
[System.Windows.Forms.SendKeys]::SendWait(%q)`, keys)
	return w.powershell(ctx, script)
}

// --- linux ---

type linuxInjector struct {
	run runner
	cfg *config.Config
}

func (l *linuxInjector) wrap(tool string, out []byte, err error) error {
	if err == nil {
		return nil
	}
	s := string(out)
	if strings.Contains(s, "Cannot open display") || strings.Contains(s, "failed to open display") {
		return fmt.Errorf("%w: xdotool needs an X11 session (Wayland requires XWayland)", ErrAccessibilityDenied)
	}
	return fmt.Errorf("%s: %s: %w", tool, strings.TrimSpace(s), err)
}

func (l *linuxInjector) FocusWindow(ctx context.Context, label string) error {
	out, err := l.run(ctx, "", "xdotool", "search", "--name", label, "windowactivate", "--sync")
	return l.wrap("xdotool", out, err)
}

func (l *linuxInjector) OpenConversation(ctx context.Context, conversationID string) error {
	uri := deeplink(l.cfg, conversationID)
	if uri == "" {
		return nil
	}
	out, err := l.run(ctx, "", "xdg-open", uri)
	return l.wrap("xdg-open", out, err)
}

func (l *linuxInjector) FocusComposer(ctx context.Context) error {
	out, err := l.run(ctx, "", "xdotool", "key", "ctrl+l")
	return l.wrap("xdotool", out, err)
}

func (l *linuxInjector) Paste(ctx context.Context, text string) error {
	if out, err := l.run(ctx, text, "xclip", "-selection", "clipboard"); err != nil {
		return l.wrap("xclip", out, err)
	}
	out, err := l.run(ctx, "", "xdotool", "key", "ctrl+v")
	return l.wrap("xdotool", out, err)
}

func (l *linuxInjector) PressEnter(ctx context.Context) error {
	out, err := l.run(ctx, "", "xdotool", "key", "Return")
	return l.wrap("xdotool", out, err)
}
