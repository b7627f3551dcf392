// ABOUTME: Tests for the delivery sequence and the directive block
// ABOUTME: Uses a recording injector; no real desktop interaction

package actuator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/cursor-discord-bridge/internal/config"
)

type recordingInjector struct {
	steps  []string
	pasted string
	fail   map[string]error
}

func (r *recordingInjector) step(name string) error {
	r.steps = append(r.steps, name)
	if r.fail != nil {
		return r.fail[name]
	}
	return nil
}

func (r *recordingInjector) FocusWindow(ctx context.Context, label string) error {
	return r.step("focus:" + label)
}
func (r *recordingInjector) OpenConversation(ctx context.Context, id string) error {
	return r.step("open:" + id)
}
func (r *recordingInjector) FocusComposer(ctx context.Context) error { return r.step("composer") }
func (r *recordingInjector) Paste(ctx context.Context, text string) error {
	r.pasted = text
	return r.step("paste")
}
func (r *recordingInjector) PressEnter(ctx context.Context) error { return r.step("enter") }

func newTestActuator(inj Injector) *Actuator {
	cfg := config.Default("/tmp/demo")
	a := NewWithInjector(cfg, inj)
	a.settle = func(time.Duration) {}
	return a
}

func TestDeliverRunsFullSequence(t *testing.T) {
	inj := &recordingInjector{}
	a := newTestActuator(inj)

	require.NoError(t, a.Deliver(context.Background(), "C1", "hello", "T1"))
	assert.Equal(t, []string{"focus:demo", "open:C1", "composer", "paste", "enter"}, inj.steps)
}

func TestDirectiveBlockWrapsTextWhenThreadKnown(t *testing.T) {
	inj := &recordingInjector{}
	a := newTestActuator(inj)

	require.NoError(t, a.Deliver(context.Background(), "C1", "fix the bug", "T42"))
	assert.Contains(t, inj.pasted, "[Discord Thread: T42]")
	assert.Contains(t, inj.pasted, "fix the bug")
	assert.Contains(t, inj.pasted, "post_to_thread")
}

func TestNoDirectiveWithoutThread(t *testing.T) {
	inj := &recordingInjector{}
	a := newTestActuator(inj)

	require.NoError(t, a.Deliver(context.Background(), "C1", "plain", ""))
	assert.Equal(t, "plain", inj.pasted)
}

func TestDeliverStopsOnStepFailure(t *testing.T) {
	inj := &recordingInjector{fail: map[string]error{"composer": errors.New("boom")}}
	a := newTestActuator(inj)

	err := a.Deliver(context.Background(), "C1", "x", "")
	require.Error(t, err)
	assert.Equal(t, []string{"focus:demo", "open:C1", "composer"}, inj.steps, "no paste after a failed step")
}

func TestAccessibilityErrorIsRecognized(t *testing.T) {
	cfg := config.Default("/tmp/demo")
	inj := &darwinInjector{cfg: cfg, run: func(ctx context.Context, stdin, name string, args ...string) ([]byte, error) {
		return []byte("osascript is not allowed assistive access. (-25211)"), errors.New("exit status 1")
	}}

	err := inj.FocusComposer(context.Background())
	assert.ErrorIs(t, err, ErrAccessibilityDenied)
}

type commandCall struct {
	stdin string
	name  string
	args  []string
}

func recordingRunner(calls *[]commandCall) runner {
	return func(ctx context.Context, stdin, name string, args ...string) ([]byte, error) {
		*calls = append(*calls, commandCall{stdin: stdin, name: name, args: args})
		return nil, nil
	}
}

func TestDarwinPasteStagesClipboardViaRunner(t *testing.T) {
	var calls []commandCall
	inj := &darwinInjector{cfg: config.Default("/tmp/demo"), run: recordingRunner(&calls)}

	require.NoError(t, inj.Paste(context.Background(), "ship it"))

	require.Len(t, calls, 2)
	assert.Equal(t, "pbcopy", calls[0].name)
	assert.Equal(t, "ship it", calls[0].stdin, "clipboard text must reach pbcopy's stdin")
	assert.Equal(t, "osascript", calls[1].name)
}

func TestLinuxPasteStagesClipboardViaRunner(t *testing.T) {
	var calls []commandCall
	inj := &linuxInjector{cfg: config.Default("/tmp/demo"), run: recordingRunner(&calls)}

	require.NoError(t, inj.Paste(context.Background(), "ship it"))

	require.Len(t, calls, 2)
	assert.Equal(t, "xclip", calls[0].name)
	assert.Equal(t, []string{"-selection", "clipboard"}, calls[0].args)
	assert.Equal(t, "ship it", calls[0].stdin, "clipboard text must reach xclip's stdin")
	assert.Equal(t, "xdotool", calls[1].name)
}
