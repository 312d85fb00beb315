package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marshal(t *testing.T, ev Event) map[string]any {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	return decoded
}

func TestEventWireShapes(t *testing.T) {
	token := marshal(t, Token("Hel"))
	assert.Equal(t, map[string]any{"type": "token", "content": "Hel"}, token)

	call := marshal(t, ToolCall("property_list", map[string]any{"city": "Porto"}))
	assert.Equal(t, "tool_call", call["type"])
	assert.Equal(t, "property_list", call["name"])
	assert.Equal(t, map[string]any{"city": "Porto"}, call["args"])

	result := marshal(t, ToolResult("property_list", "[]"))
	assert.Equal(t, map[string]any{"type": "tool_result", "name": "property_list", "result": "[]"}, result)

	done := marshal(t, Done("c-1"))
	assert.Equal(t, map[string]any{"type": "done", "conversation_id": "c-1"}, done)

	errEv := marshal(t, Error("boom"))
	assert.Equal(t, map[string]any{"type": "error", "message": "boom"}, errEv)
}

func TestConfirmationCarriesNestedPayload(t *testing.T) {
	decoded := marshal(t, Confirmation("property_delete", map[string]any{"property_id": "p-1"}, "Approve or cancel?"))
	assert.Equal(t, "confirmation", decoded["type"])

	payload, ok := decoded["payload"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "confirmation", payload["type"])
	assert.Equal(t, "property_delete", payload["tool_name"])
	assert.Equal(t, map[string]any{"property_id": "p-1"}, payload["args"])
	assert.Equal(t, "Approve or cancel?", payload["message"])
}

func TestIrrelevantFieldsAreOmitted(t *testing.T) {
	decoded := marshal(t, Interrupted("c-2"))
	assert.Equal(t, map[string]any{"type": "interrupted", "conversation_id": "c-2"}, decoded)
}

func TestTerminal(t *testing.T) {
	assert.True(t, Done("c").Terminal())
	assert.True(t, Error("x").Terminal())
	assert.True(t, Interrupted("c").Terminal())
	assert.False(t, Token("t").Terminal())
	assert.False(t, ToolCall("n", nil).Terminal())
	assert.False(t, ToolResult("n", "r").Terminal())
	assert.False(t, Confirmation("n", nil, "m").Terminal())
}
