package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcServer(t *testing.T, handler func(t *testing.T, method string, params map[string]any) (any, *rpcError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string         `json:"jsonrpc"`
			ID      string         `json:"id"`
			Method  string         `json:"method"`
			Params  map[string]any `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.NotEmpty(t, req.ID)

		result, rpcErr := handler(t, req.Method, req.Params)
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestDefinitions(t *testing.T) {
	server := rpcServer(t, func(t *testing.T, method string, params map[string]any) (any, *rpcError) {
		assert.Equal(t, "tools/list", method)
		return map[string]any{
			"tools": []map[string]any{
				{
					"name":        "property_list",
					"description": "List properties",
					"inputSchema": map[string]any{"type": "object"},
				},
			},
		}, nil
	})
	defer server.Close()

	d := NewHTTPDispatcher(server.URL, time.Second)
	defs, err := d.Definitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "property_list", defs[0].Name)
	assert.Equal(t, map[string]any{"type": "object"}, defs[0].InputSchema)
}

func TestDispatchReturnsFirstContentText(t *testing.T) {
	server := rpcServer(t, func(t *testing.T, method string, params map[string]any) (any, *rpcError) {
		assert.Equal(t, "tools/call", method)
		assert.Equal(t, "property_list", params["name"])
		assert.Equal(t, map[string]any{"city": "Porto"}, params["arguments"])
		return map[string]any{
			"content": []map[string]any{{"type": "text", "text": "two properties"}},
		}, nil
	})
	defer server.Close()

	d := NewHTTPDispatcher(server.URL, time.Second)
	result, err := d.Dispatch(context.Background(), "property_list", map[string]any{"city": "Porto"})
	require.NoError(t, err)
	assert.Equal(t, "two properties", result)
}

func TestDispatchDropsNullArguments(t *testing.T) {
	server := rpcServer(t, func(t *testing.T, method string, params map[string]any) (any, *rpcError) {
		assert.Equal(t, map[string]any{"city": "Porto"}, params["arguments"])
		return map[string]any{"content": []map[string]any{{"type": "text", "text": "ok"}}}, nil
	})
	defer server.Close()

	d := NewHTTPDispatcher(server.URL, time.Second)
	_, err := d.Dispatch(context.Background(), "property_list", map[string]any{"city": "Porto", "guest_id": nil})
	require.NoError(t, err)
}

func TestDispatchSurfacesRPCError(t *testing.T) {
	server := rpcServer(t, func(t *testing.T, method string, params map[string]any) (any, *rpcError) {
		return nil, &rpcError{Code: -32602, Message: "unknown tool"}
	})
	defer server.Close()

	d := NewHTTPDispatcher(server.URL, time.Second)
	_, err := d.Dispatch(context.Background(), "nope", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestDispatchSurfacesHTTPFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down for maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(server.URL, time.Second)
	_, err := d.Dispatch(context.Background(), "property_list", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestIsDestructive(t *testing.T) {
	d := NewHTTPDispatcher("http://unused", time.Second)
	assert.True(t, d.IsDestructive("property_delete"))
	assert.True(t, d.IsDestructive("guest_delete"))
	assert.False(t, d.IsDestructive("property_list"))
	assert.False(t, d.IsDestructive("property_update"))
}
