// ABOUTME: Interactive question manager: posts button prompts and awaits one resolution
// ABOUTME: Resolves on button click, free-text thread reply, or timeout, exactly once

package interact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	arikawadiscord "github.com/diamondburned/arikawa/v3/discord"
	"github.com/lithammer/shortuuid/v4"
)

// customIDPrefix marks component custom ids owned by this manager.
const customIDPrefix = "q:"

// submitOption is the reserved option id of the multi-select Submit button.
const submitOption = "submit"

// DefaultTimeout bounds how long a question waits for an answer.
const DefaultTimeout = 5 * time.Minute

// Response type strings reported to callers.
const (
	ResponseOption = "option"
	ResponseText   = "text"
)

// Option is one selectable answer.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Response is the single resolution of a question.
type Response struct {
	Success           bool     `json:"success"`
	ResponseType      string   `json:"responseType,omitempty"`
	SelectedOptionIDs []string `json:"selectedOptionIds,omitempty"`
	TextResponse      string   `json:"textResponse,omitempty"`
	Error             string   `json:"error,omitempty"`
}

// poster is the slice of the Discord client the manager needs.
type poster interface {
	PostComponents(threadID, content string, components arikawadiscord.ContainerComponents) (string, error)
	EditComponents(threadID, messageID, content string, components *arikawadiscord.ContainerComponents) error
	RespondUpdate(interactionID, token, content string, components *arikawadiscord.ContainerComponents) error
	RespondEphemeral(interactionID, token, content string) error
}

// ButtonPress is a component interaction routed to the manager.
type ButtonPress struct {
	InteractionID string
	Token         string
	ThreadID      string
	MessageID     string
	CustomID      string
}

// question is one open interactive prompt.
type question struct {
	id            string
	threadID      string
	messageID     string
	text          string
	options       []Option
	allowMultiple bool
	selected      map[string]bool
	done          chan *Response
	timer         *time.Timer
}

// Manager tracks open questions. A question resolves exactly once: the
// completion sink and timer are cleared atomically under the manager
// mutex.
type Manager struct {
	poster poster
	logger *slog.Logger

	mu         sync.Mutex
	byID       map[string]*question
	byThread   map[string]*question
	onResolved func(outcome string) // metrics hook, may be nil
}

// NewManager creates a Manager posting through the given client.
func NewManager(p poster) *Manager {
	return &Manager{
		poster:   p,
		logger:   slog.Default().With("component", "interact"),
		byID:     make(map[string]*question),
		byThread: make(map[string]*question),
	}
}

// SetResolutionHook installs a callback invoked with the outcome
// ("option", "text", "timeout") of every resolution.
func (m *Manager) SetResolutionHook(fn func(outcome string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onResolved = fn
}

// AskQuestion posts an interactive prompt into a thread and blocks
// until a button click, a free-text reply, the timeout, or ctx
// cancellation. At most one open question per thread; a newer ask
// replaces the older one by timing it out.
func (m *Manager) AskQuestion(ctx context.Context, threadID, text string, options []Option, allowMultiple bool, timeout time.Duration) (*Response, error) {
	if text == "" {
		return nil, fmt.Errorf("question text is required")
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("at least one option is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	q := &question{
		id:            shortuuid.New(),
		threadID:      threadID,
		text:          text,
		options:       options,
		allowMultiple: allowMultiple,
		selected:      make(map[string]bool),
		done:          make(chan *Response, 1),
	}

	// Register before posting so a button pressed the instant the
	// message renders already finds its question. Rolled back if the
	// post never lands.
	m.mu.Lock()
	if prev, ok := m.byThread[threadID]; ok {
		m.resolveLocked(prev, &Response{Success: false, Error: "superseded"}, "timeout")
	}
	q.timer = time.AfterFunc(timeout, func() { m.expire(q.id) })
	m.byID[q.id] = q
	m.byThread[threadID] = q
	m.mu.Unlock()

	// Placeholder post first: the final render embeds the question id,
	// and the edit confirms the message actually landed.
	messageID, err := m.poster.PostComponents(threadID, "…", nil)
	if err != nil {
		if !m.unregister(q) {
			return <-q.done, nil
		}
		return nil, fmt.Errorf("posting question placeholder: %w", err)
	}

	m.mu.Lock()
	q.messageID = messageID
	prompt := m.renderPrompt(q)
	components := m.renderButtons(q)
	m.mu.Unlock()

	if err := m.poster.EditComponents(threadID, messageID, prompt, &components); err != nil {
		if !m.unregister(q) {
			return <-q.done, nil
		}
		return nil, fmt.Errorf("rendering question: %w", err)
	}

	select {
	case resp := <-q.done:
		return resp, nil
	case <-ctx.Done():
		m.mu.Lock()
		m.resolveLocked(q, &Response{Success: false, Error: "cancelled"}, "timeout")
		m.mu.Unlock()
		return &Response{Success: false, Error: "cancelled"}, ctx.Err()
	}
}

// HandleButton routes a component interaction. Unknown question ids get
// an ephemeral "expired" reply.
func (m *Manager) HandleButton(press ButtonPress) {
	qid, optionID, ok := parseCustomID(press.CustomID)
	if !ok {
		return
	}

	m.mu.Lock()
	q, found := m.byID[qid]
	if !found {
		m.mu.Unlock()
		if err := m.poster.RespondEphemeral(press.InteractionID, press.Token, "This question has expired."); err != nil {
			m.logger.Debug("expired-question reply failed", "error", err)
		}
		return
	}

	if !q.allowMultiple {
		if !validOption(q, optionID) {
			m.mu.Unlock()
			return
		}
		q.selected = map[string]bool{optionID: true}
		resp := &Response{
			Success:           true,
			ResponseType:      ResponseOption,
			SelectedOptionIDs: []string{optionID},
		}
		m.resolveLocked(q, resp, ResponseOption)
		rendered := m.renderAnswered(q, "")
		m.mu.Unlock()

		if err := m.poster.RespondUpdate(press.InteractionID, press.Token, rendered, &arikawadiscord.ContainerComponents{}); err != nil {
			m.logger.Warn("updating answered question", "error", err)
		}
		return
	}

	// Multi-select: toggle options until Submit.
	if optionID == submitOption {
		if len(q.selected) == 0 {
			m.mu.Unlock()
			if err := m.poster.RespondEphemeral(press.InteractionID, press.Token, "Select at least one option first."); err != nil {
				m.logger.Debug("empty-submit reply failed", "error", err)
			}
			return
		}
		resp := &Response{
			Success:           true,
			ResponseType:      ResponseOption,
			SelectedOptionIDs: selectedIDs(q),
		}
		m.resolveLocked(q, resp, ResponseOption)
		rendered := m.renderAnswered(q, "")
		m.mu.Unlock()

		if err := m.poster.RespondUpdate(press.InteractionID, press.Token, rendered, &arikawadiscord.ContainerComponents{}); err != nil {
			m.logger.Warn("updating answered question", "error", err)
		}
		return
	}

	if !validOption(q, optionID) {
		m.mu.Unlock()
		return
	}
	q.selected[optionID] = !q.selected[optionID]
	if !q.selected[optionID] {
		delete(q.selected, optionID)
	}
	rendered := m.renderPrompt(q)
	components := m.renderButtons(q)
	m.mu.Unlock()

	if err := m.poster.RespondUpdate(press.InteractionID, press.Token, rendered, &components); err != nil {
		m.logger.Warn("updating selection markers", "error", err)
	}
}

// HandleThreadMessage resolves the thread's open question with a
// free-text answer. Reports whether a question consumed the message;
// consumed messages must not be forwarded to the IDE.
func (m *Manager) HandleThreadMessage(threadID, content string) bool {
	m.mu.Lock()
	q, found := m.byThread[threadID]
	if !found {
		m.mu.Unlock()
		return false
	}
	resp := &Response{
		Success:      true,
		ResponseType: ResponseText,
		TextResponse: content,
	}
	m.resolveLocked(q, resp, ResponseText)
	rendered := m.renderAnswered(q, content)
	threadID, messageID := q.threadID, q.messageID
	m.mu.Unlock()

	if err := m.poster.EditComponents(threadID, messageID, rendered, &arikawadiscord.ContainerComponents{}); err != nil {
		m.logger.Warn("re-rendering text-answered question", "error", err)
	}
	return true
}

// OpenQuestionCount reports how many questions are awaiting resolution.
func (m *Manager) OpenQuestionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// unregister rolls back a question whose prompt never landed. Reports
// false when the question already resolved, in which case the caller
// returns the buffered response instead of an error.
func (m *Manager) unregister(q *question) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, open := m.byID[q.id]; !open {
		return false
	}
	delete(m.byID, q.id)
	if m.byThread[q.threadID] == q {
		delete(m.byThread, q.threadID)
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	return true
}

// expire times out a question and disables its UI.
func (m *Manager) expire(questionID string) {
	m.mu.Lock()
	q, found := m.byID[questionID]
	if !found {
		m.mu.Unlock()
		return
	}
	m.resolveLocked(q, &Response{Success: false, Error: "timed out"}, "timeout")
	rendered := m.renderAnswered(q, "") + "\n⏰ timed out"
	threadID, messageID := q.threadID, q.messageID
	m.mu.Unlock()

	// The prompt may still be in flight when the timer fires.
	if messageID == "" {
		return
	}
	if err := m.poster.EditComponents(threadID, messageID, rendered, &arikawadiscord.ContainerComponents{}); err != nil {
		m.logger.Warn("re-rendering timed-out question", "error", err)
	}
}

// resolveLocked delivers the response and clears the record. Caller
// holds the mutex. Safe to call on an already-resolved question.
func (m *Manager) resolveLocked(q *question, resp *Response, outcome string) {
	if _, open := m.byID[q.id]; !open {
		return
	}
	delete(m.byID, q.id)
	if m.byThread[q.threadID] == q {
		delete(m.byThread, q.threadID)
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	select {
	case q.done <- resp:
	default:
	}
	if m.onResolved != nil {
		m.onResolved(outcome)
	}
}

// renderPrompt renders the live question: heading, numbered options
// with selection markers in multi mode, and the free-text hint.
func (m *Manager) renderPrompt(q *question) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", q.text)
	for i, opt := range q.options {
		marker := ""
		if q.allowMultiple {
			if q.selected[opt.ID] {
				marker = "✅ "
			} else {
				marker = "▫️ "
			}
		}
		fmt.Fprintf(&b, "%s%d. %s", marker, i+1, opt.Label)
		if opt.Description != "" {
			fmt.Fprintf(&b, " — %s", opt.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n_Click a button or reply with text._")
	return b.String()
}

// renderAnswered renders the closed question as a marker list with no
// buttons. A non-empty textAnswer is shown instead of selections.
func (m *Manager) renderAnswered(q *question, textAnswer string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", q.text)
	for _, opt := range q.options {
		marker := "▫️"
		if q.selected[opt.ID] {
			marker = "✅"
		}
		fmt.Fprintf(&b, "%s %s\n", marker, opt.Label)
	}
	if textAnswer != "" {
		fmt.Fprintf(&b, "\n💬 %s", textAnswer)
	}
	return b.String()
}

// renderButtons builds the action rows: one button per option (max 5
// per row) plus a Submit button in multi mode.
func (m *Manager) renderButtons(q *question) arikawadiscord.ContainerComponents {
	var rows arikawadiscord.ContainerComponents
	row := arikawadiscord.ActionRowComponent{}
	for _, opt := range q.options {
		style := arikawadiscord.PrimaryButtonStyle()
		if q.allowMultiple && q.selected[opt.ID] {
			style = arikawadiscord.SecondaryButtonStyle()
		}
		row = append(row, &arikawadiscord.ButtonComponent{
			Label:    opt.Label,
			CustomID: arikawadiscord.ComponentID(customIDPrefix + q.id + ":" + opt.ID),
			Style:    style,
		})
		if len(row) == 5 {
			r := row
			rows = append(rows, &r)
			row = arikawadiscord.ActionRowComponent{}
		}
	}
	if q.allowMultiple {
		row = append(row, &arikawadiscord.ButtonComponent{
			Label:    "Submit",
			CustomID: arikawadiscord.ComponentID(customIDPrefix + q.id + ":" + submitOption),
			Style:    arikawadiscord.SuccessButtonStyle(),
			Disabled: len(q.selected) == 0,
		})
		if len(row) > 5 {
			overflow := row[5:]
			head := row[:5]
			rows = append(rows, &head, &overflow)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, &row)
	}
	return rows
}

// parseCustomID splits "q:<questionID>:<optionID>".
func parseCustomID(customID string) (questionID, optionID string, ok bool) {
	if !strings.HasPrefix(customID, customIDPrefix) {
		return "", "", false
	}
	rest := strings.TrimPrefix(customID, customIDPrefix)
	idx := strings.LastIndex(rest, ":")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

func validOption(q *question, optionID string) bool {
	for _, opt := range q.options {
		if opt.ID == optionID {
			return true
		}
	}
	return false
}

func selectedIDs(q *question) []string {
	out := make([]string, 0, len(q.selected))
	for _, opt := range q.options {
		if q.selected[opt.ID] {
			out = append(out, opt.ID)
		}
	}
	return out
}
