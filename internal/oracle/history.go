package oracle

import "github.com/xiaot623/gogo/uxrunner/internal/adapter/llm"

// TurnKind identifies who produced a history turn.
type TurnKind string

const (
	TurnAssistant  TurnKind = "assistant"
	TurnToolResult TurnKind = "tool"
	TurnSystemNote TurnKind = "system"
	TurnUser       TurnKind = "user"
)

// Turn is one entry in a run's conversation with the oracle.
type Turn struct {
	Kind   TurnKind   `json:"kind"`
	Text   string     `json:"text,omitempty"`
	CallID string     `json:"call_id,omitempty"`
	Calls  []CallStub `json:"calls,omitempty"`
}

// CallStub is the replayable part of a tool call.
type CallStub struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// History is the append-only conversation of one run. It is owned by a single
// decision loop and is not safe for concurrent use.
type History struct {
	Turns []Turn `json:"turns"`
}

// AddDecision records the assistant side of a decision.
func (h *History) AddDecision(d *Decision) {
	if d == nil {
		return
	}
	if d.Kind == KindMessage {
		h.Turns = append(h.Turns, Turn{Kind: TurnAssistant, Text: d.Message})
		return
	}
	t := Turn{Kind: TurnAssistant, Text: d.Text}
	for _, c := range d.Calls {
		t.Calls = append(t.Calls, CallStub{ID: c.ID, Name: c.Name, Arguments: c.Arguments})
	}
	h.Turns = append(h.Turns, t)
}

// AddToolResult records the outcome of a tool call.
func (h *History) AddToolResult(callID, text string) {
	h.Turns = append(h.Turns, Turn{Kind: TurnToolResult, CallID: callID, Text: text})
}

// AddSystemNote records guidance for the oracle, such as a loop warning.
func (h *History) AddSystemNote(text string) {
	h.Turns = append(h.Turns, Turn{Kind: TurnSystemNote, Text: text})
}

// AddUser records a user-side text turn.
func (h *History) AddUser(text string) {
	h.Turns = append(h.Turns, Turn{Kind: TurnUser, Text: text})
}

// Len returns the number of turns.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Turns)
}

// Window returns the most recent turns, at most max. The window never starts with a
// tool result whose call fell outside it.
func (h *History) Window(max int) []Turn {
	if h == nil {
		return nil
	}
	turns := h.Turns
	if max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	for len(turns) > 0 && turns[0].Kind == TurnToolResult {
		turns = turns[1:]
	}
	return turns
}

// Messages renders turns as chat messages. Tool calls left without a result are
// answered with a placeholder so the transcript stays well formed.
func Messages(turns []Turn) []llm.ChatMessage {
	answered := make(map[string]bool)
	for _, t := range turns {
		if t.Kind == TurnToolResult {
			answered[t.CallID] = true
		}
	}

	out := make([]llm.ChatMessage, 0, len(turns))
	for _, t := range turns {
		switch t.Kind {
		case TurnAssistant:
			m := llm.ChatMessage{Role: "assistant", Content: t.Text}
			var pending []string
			for _, c := range t.Calls {
				m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
					ID:       c.ID,
					Type:     "function",
					Function: llm.ToolCallFunction{Name: c.Name, Arguments: c.Arguments},
				})
				if !answered[c.ID] {
					pending = append(pending, c.ID)
				}
			}
			out = append(out, m)
			for _, id := range pending {
				out = append(out, llm.ChatMessage{Role: "tool", ToolCallID: id, Content: "not executed"})
			}
		case TurnToolResult:
			out = append(out, llm.ChatMessage{Role: "tool", ToolCallID: t.CallID, Content: t.Text})
		case TurnSystemNote:
			out = append(out, llm.ChatMessage{Role: "system", Content: t.Text})
		default:
			out = append(out, llm.ChatMessage{Role: "user", Content: t.Text})
		}
	}
	return out
}
