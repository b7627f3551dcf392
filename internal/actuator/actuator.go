// ABOUTME: Host-side keystroke injection delivering chat messages into the IDE composer
// ABOUTME: Focus window, open conversation, paste via clipboard, press Enter

package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/2389/cursor-discord-bridge/internal/config"
)

// ErrAccessibilityDenied means the host refused synthetic input. The
// message carries platform guidance for granting permission.
var ErrAccessibilityDenied = errors.New("accessibility permission denied")

// Injector abstracts the platform-specific input mechanism. One
// implementation exists per host OS; all run external tools through an
// injected runner so tests never touch the real desktop.
type Injector interface {
	// FocusWindow raises the IDE window whose title contains label.
	FocusWindow(ctx context.Context, label string) error
	// OpenConversation asks the IDE to switch to the given conversation.
	OpenConversation(ctx context.Context, conversationID string) error
	// FocusComposer moves keyboard focus into the agent composer input.
	FocusComposer(ctx context.Context) error
	// Paste stages text on the clipboard and issues the paste chord.
	Paste(ctx context.Context, text string) error
	// PressEnter submits the composer.
	PressEnter(ctx context.Context) error
}

// runner executes an external command, feeding stdin when non-empty,
// and returns combined output. Tests substitute a fake; production
// uses exec.CommandContext.
type runner func(ctx context.Context, stdin, name string, args ...string) ([]byte, error)

// Actuator drives an Injector through the fixed delivery sequence.
type Actuator struct {
	injector Injector
	cfg      *config.Config
	logger   *slog.Logger

	// settle separates injection steps so the IDE UI can catch up.
	settle func(time.Duration)
}

// New builds an Actuator around the platform injector for this host.
func New(cfg *config.Config) *Actuator {
	return NewWithInjector(cfg, newPlatformInjector(cfg))
}

// NewWithInjector is the constructor tests use.
func NewWithInjector(cfg *config.Config, inj Injector) *Actuator {
	return &Actuator{
		injector: inj,
		cfg:      cfg,
		logger:   slog.Default().With("component", "actuator"),
		settle:   time.Sleep,
	}
}

// Deliver types a message into the IDE conversation. When threadID is
// set, the text is wrapped in a directive block so the agent knows
// which thread to answer into.
func (a *Actuator) Deliver(ctx context.Context, conversationID, text, threadID string) error {
	label := a.cfg.Actuator.AppLabel
	if a.cfg.Workspace.Label != "" {
		label = a.cfg.Workspace.Label
	}

	if err := a.injector.FocusWindow(ctx, label); err != nil {
		return fmt.Errorf("focusing IDE window: %w", err)
	}
	a.settle(300 * time.Millisecond)

	if err := a.injector.OpenConversation(ctx, conversationID); err != nil {
		return fmt.Errorf("opening conversation: %w", err)
	}
	a.settle(400 * time.Millisecond)

	if err := a.injector.FocusComposer(ctx); err != nil {
		return fmt.Errorf("focusing composer: %w", err)
	}
	a.settle(200 * time.Millisecond)

	if err := a.injector.Paste(ctx, composeMessage(text, threadID)); err != nil {
		return fmt.Errorf("pasting message: %w", err)
	}
	a.settle(200 * time.Millisecond)

	if err := a.injector.PressEnter(ctx); err != nil {
		return fmt.Errorf("submitting composer: %w", err)
	}

	a.logger.Info("message delivered to composer", "conversation_id", conversationID)
	return nil
}

// composeMessage wraps the user text in a thread directive when a
// thread id is known, so the agent routes its reply correctly.
func composeMessage(text, threadID string) string {
	if threadID == "" {
		return text
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[Discord Thread: %s]\n\n", threadID)
	b.WriteString(text)
	b.WriteString("\n\nWhen you respond, use the post_to_thread tool with the thread ID above.")
	return b.String()
}
