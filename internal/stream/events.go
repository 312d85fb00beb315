package stream

// Event kinds carried on the chat stream. Each event is serialized as one
// line-delimited {"type": ...} JSON record in the SSE data field.
const (
	EventToken        = "token"
	EventToolCall     = "tool_call"
	EventToolResult   = "tool_result"
	EventConfirmation = "confirmation"
	EventInterrupted  = "interrupted"
	EventDone         = "done"
	EventError        = "error"
)

// ConfirmationPayload describes a destructive tool call awaiting approval.
// Args is tool-defined and validated by the tool service, not here.
type ConfirmationPayload struct {
	Type     string         `json:"type"`
	ToolName string         `json:"tool_name"`
	Args     map[string]any `json:"args"`
	Message  string         `json:"message"`
}

// Event is the tagged union over the fixed event kinds. Only the fields
// relevant to Type are populated; the rest are omitted from the wire.
type Event struct {
	Type           string               `json:"type"`
	Content        string               `json:"content,omitempty"`
	Name           string               `json:"name,omitempty"`
	Args           map[string]any       `json:"args,omitempty"`
	Result         string               `json:"result,omitempty"`
	Payload        *ConfirmationPayload `json:"payload,omitempty"`
	ConversationID string               `json:"conversation_id,omitempty"`
	Message        string               `json:"message,omitempty"`
}

func Token(content string) Event {
	return Event{Type: EventToken, Content: content}
}

func ToolCall(name string, args map[string]any) Event {
	return Event{Type: EventToolCall, Name: name, Args: args}
}

func ToolResult(name, result string) Event {
	return Event{Type: EventToolResult, Name: name, Result: result}
}

func Confirmation(toolName string, args map[string]any, prompt string) Event {
	return Event{
		Type: EventConfirmation,
		Payload: &ConfirmationPayload{
			Type:     EventConfirmation,
			ToolName: toolName,
			Args:     args,
			Message:  prompt,
		},
	}
}

func Interrupted(conversationID string) Event {
	return Event{Type: EventInterrupted, ConversationID: conversationID}
}

func Done(conversationID string) Event {
	return Event{Type: EventDone, ConversationID: conversationID}
}

func Error(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Terminal reports whether no further events follow on this stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventDone, EventError, EventInterrupted:
		return true
	}
	return false
}
