package chatview

import (
	"testing"

	"villaops_go_backend/internal/agent"
	"villaops_go_backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMsg(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content}
}

func assistantMsg(t *testing.T, content string, calls ...models.ToolCall) models.Message {
	t.Helper()
	msg := models.Message{Role: models.RoleAssistant, Content: content, ModelUsed: "test-model"}
	require.NoError(t, msg.SetToolCalls(calls))
	return msg
}

func toolMsg(t *testing.T, name, result string) models.Message {
	t.Helper()
	msg := models.Message{Role: models.RoleTool, Content: result}
	require.NoError(t, msg.SetToolResultMeta(models.ToolResultMeta{Name: name}))
	return msg
}

func TestBuildFoldsToolRowsIntoAssistantMessage(t *testing.T) {
	messages := []models.Message{
		userMsg("list my properties"),
		assistantMsg(t, "", models.ToolCall{Name: "property_list", Args: map[string]any{"city": "Porto"}}),
		toolMsg(t, "property_list", `[{"name":"Casa Azul"}]`),
		assistantMsg(t, "You have one property in Porto."),
	}

	views := Build(messages)
	require.Len(t, views, 3)

	assert.Equal(t, models.RoleUser, views[0].Role)
	require.Len(t, views[1].ToolCalls, 1)
	call := views[1].ToolCalls[0]
	assert.Equal(t, "property_list", call.Name)
	require.NotNil(t, call.Result)
	assert.Equal(t, `[{"name":"Casa Azul"}]`, *call.Result)
	assert.False(t, call.Destructive)
	assert.Empty(t, call.Confirmation)
	assert.Empty(t, views[2].ToolCalls)
}

func TestBuildPairsByPositionWithinSameName(t *testing.T) {
	messages := []models.Message{
		userMsg("check both cities"),
		assistantMsg(t, "",
			models.ToolCall{Name: "property_list", Args: map[string]any{"city": "Porto"}},
			models.ToolCall{Name: "property_list", Args: map[string]any{"city": "Faro"}},
		),
		toolMsg(t, "property_list", "porto result"),
		toolMsg(t, "property_list", "faro result"),
	}

	views := Build(messages)
	calls := views[1].ToolCalls
	require.Len(t, calls, 2)
	assert.Equal(t, "porto result", *calls[0].Result)
	assert.Equal(t, "faro result", *calls[1].Result)
}

func TestBuildPendingOnlyOnMostRecentMessage(t *testing.T) {
	pending := []models.Message{
		userMsg("delete it"),
		assistantMsg(t, "", models.ToolCall{Name: "property_delete", Args: map[string]any{"property_id": "p-1"}}),
	}

	views := Build(pending)
	require.Len(t, views, 2)
	call := views[1].ToolCalls[0]
	assert.True(t, call.Destructive)
	assert.Equal(t, ConfirmationPending, call.Confirmation)
	assert.True(t, HasPendingConfirmation(pending))

	// A later user message supersedes the unanswered confirmation.
	abandoned := append(pending, userMsg("never mind, what's the weather"))
	views = Build(abandoned)
	assert.Empty(t, views[1].ToolCalls[0].Confirmation)
	assert.False(t, HasPendingConfirmation(abandoned))
}

func TestBuildDerivesApproveAndCancel(t *testing.T) {
	approved := []models.Message{
		userMsg("delete it"),
		assistantMsg(t, "", models.ToolCall{Name: "property_delete", Args: map[string]any{"property_id": "p-1"}}),
		toolMsg(t, "property_delete", "Deleted property p-1"),
		assistantMsg(t, "Done."),
	}
	views := Build(approved)
	assert.Equal(t, ConfirmationApproved, views[1].ToolCalls[0].Confirmation)

	cancelled := []models.Message{
		userMsg("delete it"),
		assistantMsg(t, "", models.ToolCall{Name: "property_delete", Args: map[string]any{"property_id": "p-1"}}),
		toolMsg(t, "property_delete", agent.CancelledResultText),
		assistantMsg(t, "Understood, leaving it alone."),
	}
	views = Build(cancelled)
	assert.Equal(t, ConfirmationCancelled, views[1].ToolCalls[0].Confirmation)
	assert.False(t, HasPendingConfirmation(cancelled))
}

func TestBuildSkipsOrphanToolRows(t *testing.T) {
	messages := []models.Message{
		toolMsg(t, "property_list", "stray"),
		userMsg("hello"),
	}
	views := Build(messages)
	require.Len(t, views, 1)
	assert.Equal(t, models.RoleUser, views[0].Role)
}

func TestHasPendingConfirmationEmptyAndPlain(t *testing.T) {
	assert.False(t, HasPendingConfirmation(nil))
	assert.False(t, HasPendingConfirmation([]models.Message{
		userMsg("hi"),
		assistantMsg(t, "Hello!"),
	}))
}
