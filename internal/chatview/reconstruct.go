// Package chatview rebuilds the logical state of a conversation purely from
// its persisted message log, without consulting the turn runner. It is the
// server-side half of the reconstruction contract the web client follows.
package chatview

import (
	"strings"
	"time"

	"villaops_go_backend/internal/agent"
	"villaops_go_backend/internal/models"
	"villaops_go_backend/internal/tools"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Confirmation states derived for destructive tool calls.
const (
	ConfirmationPending   = "pending"
	ConfirmationApproved  = "approve"
	ConfirmationCancelled = "cancel"
)

// CallView is one tool invocation paired with its result, if any. Pairing is
// positional: the k-th tool row following an assistant message answers its
// k-th invocation with matching name. No correlation id is persisted.
type CallView struct {
	Name         string         `json:"name"`
	Args         map[string]any `json:"args"`
	Result       *string        `json:"result,omitempty"`
	Destructive  bool           `json:"destructive"`
	Confirmation string         `json:"confirmation,omitempty"`
}

// MessageView is a user or assistant message with tool rows folded into the
// owning assistant message's call list.
type MessageView struct {
	ID        uuid.UUID  `json:"id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []CallView `json:"tool_calls,omitempty"`
	ModelUsed string     `json:"model_used,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Build groups tool rows under the nearest preceding assistant message and
// derives confirmation state for destructive invocations. A destructive call
// with no paired result is pending only when its assistant message is the
// most recent message in the whole conversation.
func Build(messages []models.Message) []MessageView {
	views := make([]MessageView, 0, len(messages))
	var current *MessageView

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleUser:
			views = append(views, MessageView{
				ID:        msg.ID,
				Role:      msg.Role,
				Content:   msg.Content,
				CreatedAt: msg.CreatedAt,
			})
			current = nil

		case models.RoleAssistant:
			view := MessageView{
				ID:        msg.ID,
				Role:      msg.Role,
				Content:   msg.Content,
				ModelUsed: msg.ModelUsed,
				CreatedAt: msg.CreatedAt,
				ToolCalls: lo.Map(msg.ToolCalls(), func(call models.ToolCall, _ int) CallView {
					return CallView{
						Name:        call.Name,
						Args:        call.Args,
						Destructive: tools.DestructiveTools[call.Name],
					}
				}),
			}
			views = append(views, view)
			current = &views[len(views)-1]

		case models.RoleTool:
			if current == nil {
				continue // orphan tool row, nothing to pair with
			}
			name := ""
			if meta := msg.ToolResultMeta(); meta != nil {
				name = meta.Name
			}
			attachResult(current, name, msg.Content)
		}
	}

	markConfirmations(views, lastIsAssistant(messages))
	return views
}

// attachResult pairs a tool row with the first unresolved invocation of the
// same name, in invocation order.
func attachResult(view *MessageView, name, result string) {
	for i := range view.ToolCalls {
		call := &view.ToolCalls[i]
		if call.Result == nil && call.Name == name {
			call.Result = &result
			return
		}
	}
}

// markConfirmations derives approve/cancel for resolved destructive calls
// and flags unresolved ones on the final assistant message as pending.
func markConfirmations(views []MessageView, pendingAllowed bool) {
	for vi := range views {
		isLast := vi == len(views)-1
		for ci := range views[vi].ToolCalls {
			call := &views[vi].ToolCalls[ci]
			if !call.Destructive {
				continue
			}
			switch {
			case call.Result != nil && IsCancelled(*call.Result):
				call.Confirmation = ConfirmationCancelled
			case call.Result != nil:
				call.Confirmation = ConfirmationApproved
			case isLast && pendingAllowed:
				call.Confirmation = ConfirmationPending
			}
		}
	}
}

// IsCancelled reports whether a tool result text records a declined action.
// Resolution intent is not stored as a first-class field; this phrasing match
// against the runner's marker is the only signal.
func IsCancelled(result string) bool {
	return strings.Contains(result, agent.CancelledResultText)
}

func lastIsAssistant(messages []models.Message) bool {
	if len(messages) == 0 {
		return false
	}
	return messages[len(messages)-1].Role == models.RoleAssistant
}

// HasPendingConfirmation reports whether the conversation is interrupted
// awaiting a decision, the same predicate the resume endpoint enforces.
func HasPendingConfirmation(messages []models.Message) bool {
	views := Build(messages)
	if len(views) == 0 {
		return false
	}
	last := views[len(views)-1]
	for _, call := range last.ToolCalls {
		if call.Confirmation == ConfirmationPending {
			return true
		}
	}
	return false
}
