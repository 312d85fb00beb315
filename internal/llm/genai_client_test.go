package llm

import (
	"testing"

	"villaops_go_backend/internal/agent"
	"villaops_go_backend/internal/models"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitHistorySeedsThroughLastAssistant(t *testing.T) {
	history := []agent.ModelMessage{
		{Role: models.RoleUser, Content: "list properties"},
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{{Name: "property_list", Args: map[string]any{}}}},
		{Role: models.RoleTool, ToolName: "property_list", Content: "[]"},
	}

	prior, send, err := splitHistory(history)
	require.NoError(t, err)
	require.Len(t, prior, 2)
	assert.Equal(t, "user", prior[0].Role)
	assert.Equal(t, "model", prior[1].Role)

	require.Len(t, send, 1)
	fr, ok := send[0].(genai.FunctionResponse)
	require.True(t, ok)
	assert.Equal(t, "property_list", fr.Name)
	assert.Equal(t, map[string]any{"result": "[]"}, fr.Response)
}

func TestSplitHistoryFreshConversation(t *testing.T) {
	prior, send, err := splitHistory([]agent.ModelMessage{
		{Role: models.RoleUser, Content: "hello"},
	})
	require.NoError(t, err)
	assert.Empty(t, prior)
	require.Len(t, send, 1)
	assert.Equal(t, genai.Text("hello"), send[0])
}

func TestSplitHistoryRejectsAssistantTail(t *testing.T) {
	_, _, err := splitHistory([]agent.ModelMessage{
		{Role: models.RoleUser, Content: "hello"},
		{Role: models.RoleAssistant, Content: "Hi!"},
	})
	assert.Error(t, err)
}

func TestPartsForAssistantCarriesTextAndCalls(t *testing.T) {
	parts := partsFor(agent.ModelMessage{
		Role:    models.RoleAssistant,
		Content: "Deleting it now.",
		ToolCalls: []models.ToolCall{
			{Name: "property_delete", Args: map[string]any{"property_id": "p-1"}},
		},
	})
	require.Len(t, parts, 2)
	assert.Equal(t, genai.Text("Deleting it now."), parts[0])
	call, ok := parts[1].(genai.FunctionCall)
	require.True(t, ok)
	assert.Equal(t, "property_delete", call.Name)
}

func TestSchemaForConvertsNestedObjects(t *testing.T) {
	schema := schemaFor(map[string]any{
		"type":        "object",
		"description": "booking filter",
		"required":    []any{"property_id"},
		"properties": map[string]any{
			"property_id": map[string]any{"type": "string"},
			"nights":      map[string]any{"type": "integer"},
			"guests": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	})

	require.NotNil(t, schema)
	assert.Equal(t, genai.TypeObject, schema.Type)
	assert.Equal(t, "booking filter", schema.Description)
	assert.Equal(t, []string{"property_id"}, schema.Required)
	assert.Equal(t, genai.TypeString, schema.Properties["property_id"].Type)
	assert.Equal(t, genai.TypeInteger, schema.Properties["nights"].Type)
	assert.Equal(t, genai.TypeArray, schema.Properties["guests"].Type)
	assert.Equal(t, genai.TypeString, schema.Properties["guests"].Items.Type)
}

func TestSchemaForUnknownTypeDegradesToString(t *testing.T) {
	schema := schemaFor(map[string]any{"type": "anyOf"})
	assert.Equal(t, genai.TypeString, schema.Type)
	assert.Nil(t, schemaFor(nil))
}
