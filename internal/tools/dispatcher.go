package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DestructiveTools are the tool names that require human approval before
// execution. The turn runner interrupts instead of dispatching these.
var DestructiveTools = map[string]bool{
	"property_delete": true,
	"guest_delete":    true,
}

// Definition is a tool advertised by the tool server: name, description and
// the JSON Schema of its arguments. The schema is passed through to the model
// untouched; argument validation happens server-side.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Dispatcher executes named tools against the external tool service.
type Dispatcher interface {
	Definitions(ctx context.Context) ([]Definition, error)
	Dispatch(ctx context.Context, name string, args map[string]any) (string, error)
	IsDestructive(name string) bool
}

// HTTPDispatcher speaks the streamable-HTTP JSON-RPC dialect of the tool
// server: tools/list for discovery, tools/call for execution.
type HTTPDispatcher struct {
	serverURL string
	client    *http.Client
}

func NewHTTPDispatcher(serverURL string, timeout time.Duration) *HTTPDispatcher {
	return &HTTPDispatcher{
		serverURL: serverURL,
		client:    &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (d *HTTPDispatcher) Definitions(ctx context.Context) ([]Definition, error) {
	raw, err := d.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Tools []Definition `json:"tools"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tool list: %w", err)
	}
	log.Info().Int("count", len(result.Tools)).Msg("Loaded tool definitions")
	return result.Tools, nil
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	// Drop null arguments, the tool server treats missing params as unset.
	cleaned := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			cleaned[k] = v
		}
	}

	raw, err := d.call(ctx, "tools/call", map[string]any{
		"name":      name,
		"arguments": cleaned,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to decode tool result: %w", err)
	}
	if len(result.Content) == 0 {
		return "", nil
	}
	return result.Content[0].Text, nil
}

func (d *HTTPDispatcher) IsDestructive(name string) bool {
	return DestructiveTools[name]
}

func (d *HTTPDispatcher) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.serverURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool server unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tool server returned %d: %s", resp.StatusCode, string(payload))
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("failed to decode tool server response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("tool server error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}
