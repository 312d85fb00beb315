package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"villaops_go_backend/internal/agent"
	"villaops_go_backend/internal/models"
	"villaops_go_backend/internal/tools"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
)

// GenAIModelClient adapts a Gemini chat session to the agent.ModelClient
// contract. Tool calls arrive from the API as complete FunctionCall parts, so
// every delta carries either text or a fully formed call.
type GenAIModelClient struct {
	client    *genai.Client
	modelName string
}

func NewGenAIModelClient(client *genai.Client, modelName string) *GenAIModelClient {
	return &GenAIModelClient{client: client, modelName: modelName}
}

func (c *GenAIModelClient) ModelName() string {
	return c.modelName
}

func (c *GenAIModelClient) StartStream(ctx context.Context, history []agent.ModelMessage, defs []tools.Definition) (agent.ModelStream, error) {
	model := c.client.GenerativeModel(c.modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(SystemPrompt)},
	}
	if len(defs) > 0 {
		model.Tools = []*genai.Tool{{FunctionDeclarations: declarationsFor(defs)}}
	}

	prior, send, err := splitHistory(history)
	if err != nil {
		return nil, err
	}

	session := model.StartChat()
	session.History = prior

	responses := session.SendMessageStream(ctx, send...)
	return &genaiStream{iter: responses}, nil
}

// splitHistory seeds everything up to and including the last assistant
// message as session history; the trailing user/tool messages become the
// parts sent with this request.
func splitHistory(history []agent.ModelMessage) ([]*genai.Content, []genai.Part, error) {
	lastAssistant := -1
	for i, msg := range history {
		if msg.Role == models.RoleAssistant {
			lastAssistant = i
		}
	}

	var prior []*genai.Content
	for _, msg := range history[:lastAssistant+1] {
		prior = append(prior, contentFor(msg))
	}

	var send []genai.Part
	for _, msg := range history[lastAssistant+1:] {
		send = append(send, partsFor(msg)...)
	}
	if len(send) == 0 {
		return nil, nil, errors.New("model stream requires a trailing user or tool message")
	}
	return prior, send, nil
}

func contentFor(msg agent.ModelMessage) *genai.Content {
	role := "user"
	if msg.Role == models.RoleAssistant {
		role = "model"
	}
	return &genai.Content{Role: role, Parts: partsFor(msg)}
}

func partsFor(msg agent.ModelMessage) []genai.Part {
	var parts []genai.Part
	switch msg.Role {
	case models.RoleTool:
		parts = append(parts, genai.FunctionResponse{
			Name:     msg.ToolName,
			Response: map[string]any{"result": msg.Content},
		})
	case models.RoleAssistant:
		if msg.Content != "" {
			parts = append(parts, genai.Text(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			parts = append(parts, genai.FunctionCall{Name: call.Name, Args: call.Args})
		}
	default:
		parts = append(parts, genai.Text(msg.Content))
	}
	return parts
}

func declarationsFor(defs []tools.Definition) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(defs))
	for _, def := range defs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  schemaFor(def.InputSchema),
		})
	}
	return decls
}

// schemaFor converts the tool server's JSON Schema into a genai.Schema. Only
// the subset the tool server emits is handled; unknown types degrade to
// string.
func schemaFor(raw map[string]any) *genai.Schema {
	if raw == nil {
		return nil
	}
	schema := &genai.Schema{Type: typeFor(raw["type"])}
	if desc, ok := raw["description"].(string); ok {
		schema.Description = desc
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, propRaw := range props {
			if propMap, ok := propRaw.(map[string]any); ok {
				schema.Properties[name] = schemaFor(propMap)
			}
		}
	}
	if items, ok := raw["items"].(map[string]any); ok {
		schema.Items = schemaFor(items)
	}
	if required, ok := raw["required"].([]any); ok {
		for _, entry := range required {
			if name, ok := entry.(string); ok {
				schema.Required = append(schema.Required, name)
			}
		}
	}
	return schema
}

func typeFor(raw any) genai.Type {
	switch raw {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

type genaiStream struct {
	iter    *genai.GenerateContentResponseIterator
	pending []agent.Delta
}

func (s *genaiStream) Recv() (agent.Delta, error) {
	for len(s.pending) == 0 {
		resp, err := s.iter.Next()
		if err == iterator.Done {
			return agent.Delta{}, io.EOF
		}
		if err != nil {
			return agent.Delta{}, fmt.Errorf("model stream failed: %w", err)
		}
		s.pending = deltasFor(resp)
	}
	delta := s.pending[0]
	s.pending = s.pending[1:]
	return delta, nil
}

func (s *genaiStream) Close() {}

func deltasFor(resp *genai.GenerateContentResponse) []agent.Delta {
	var deltas []agent.Delta
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				if p != "" {
					deltas = append(deltas, agent.Delta{Text: string(p)})
				}
			case genai.FunctionCall:
				deltas = append(deltas, agent.Delta{
					Call: &models.ToolCall{Name: p.Name, Args: p.Args},
				})
			}
		}
		break // single-candidate requests
	}
	return deltas
}
