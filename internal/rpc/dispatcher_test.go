package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chromamcp/internal/adapter/analyzer"
	"chromamcp/internal/adapter/memstore"
	"chromamcp/internal/tool"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, tool.RegisterAll(reg, tool.Deps{
		Store:      memstore.NewMemoryStore(nil),
		Classifier: analyzer.NewKeywordClassifier(nil),
	}))
	return NewDispatcher(reg, WithServerInfo(ServerInfo{Name: "chromamcp", Version: "test"}))
}

// roundTrip runs body through the dispatcher and decodes the marshalled
// response the way a client would see it.
func roundTrip(t *testing.T, d *Dispatcher, body string) map[string]any {
	t.Helper()
	resp := d.Handle(context.Background(), []byte(body))
	require.NotNil(t, resp, "expected a response for %s", body)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "2.0", out["jsonrpc"])
	return out
}

func errorCode(t *testing.T, resp map[string]any) float64 {
	t.Helper()
	e, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected an error response, got %v", resp)
	return e["code"].(float64)
}

func TestInitialize(t *testing.T) {
	d := newTestDispatcher(t)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"initialize","id":1}`)
	assert.Equal(t, float64(1), resp["id"])

	result := resp["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])

	caps := result["capabilities"].(map[string]any)
	tools := caps["tools"].(map[string]any)
	assert.NotEmpty(t, tools)
	assert.Contains(t, tools, "chroma_query_documents")
	assert.Equal(t, map[string]any{}, caps["resources"])
	assert.Equal(t, map[string]any{}, caps["prompts"])

	info := result["serverInfo"].(map[string]any)
	assert.Equal(t, "chromamcp", info["name"])
	assert.Equal(t, "test", info["version"])
}

func TestToolsList(t *testing.T) {
	d := newTestDispatcher(t)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/list","id":"list"}`)
	assert.Equal(t, "list", resp["id"])

	tools := resp["result"].(map[string]any)["tools"].([]any)
	names := map[string]bool{}
	for _, raw := range tools {
		entry := raw.(map[string]any)
		names[entry["name"].(string)] = true
		assert.NotEmpty(t, entry["description"])
		assert.IsType(t, map[string]any{}, entry["inputSchema"])
	}
	for _, want := range []string{
		"chroma_list_collections",
		"chroma_create_collection",
		"chroma_add_documents",
		"chroma_query_documents",
		"chroma_delete_collection",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestAddThenQueryThroughToolsCall(t *testing.T) {
	d := newTestDispatcher(t)

	roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","id":1,
		"params":{"name":"chroma_create_collection","arguments":{"collection_name":"c"}}}`)
	roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","id":2,
		"params":{"name":"chroma_add_documents","arguments":{"collection_name":"c","documents":["hello world","goodbye world"],"ids":["a","b"]}}}`)
	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","id":3,
		"params":{"name":"chroma_query_documents","arguments":{"collection_name":"c","query_texts":["hello world"],"n_results":1}}}`)

	result := resp["result"].(map[string]any)
	assert.Equal(t, false, result["isError"])

	content := result["content"].([]any)
	require.Len(t, content, 1)
	item := content[0].(map[string]any)
	assert.Equal(t, "text", item["type"])

	var query struct {
		IDs [][]string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal([]byte(item["text"].(string)), &query))
	assert.Equal(t, [][]string{{"a"}}, query.IDs)
}

func TestToolsCall_ToolErrorIsResult(t *testing.T) {
	d := newTestDispatcher(t)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"tools/call","id":9,
		"params":{"name":"chroma_add_documents","arguments":{"collection_name":"c","documents":[]}}}`)
	assert.Nil(t, resp["error"])

	result := resp["result"].(map[string]any)
	assert.Equal(t, true, result["isError"])
	text := result["content"].([]any)[0].(map[string]any)["text"]
	assert.Equal(t, "Error: The 'documents' list cannot be empty.", text)
}

func TestToolsCall_InvalidParams(t *testing.T) {
	d := newTestDispatcher(t)

	for _, body := range []string{
		`{"jsonrpc":"2.0","method":"tools/call","id":1}`,
		`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{}}`,
		`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":42}}`,
		`{"jsonrpc":"2.0","method":"tools/call","id":1,"params":{"name":"nope"}}`,
	} {
		resp := roundTrip(t, d, body)
		assert.Equal(t, float64(CodeInvalidParams), errorCode(t, resp), body)
		assert.Equal(t, float64(1), resp["id"])
	}
}

func TestDirectToolCall(t *testing.T) {
	d := newTestDispatcher(t)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"chroma_create_collection","id":5,"params":{"collection_name":"x"}}`)
	assert.Equal(t, "Created collection: x", resp["result"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"chroma_list_collections","id":6}`)
	assert.Equal(t, []any{"x"}, resp["result"])

	resp = roundTrip(t, d, `{"jsonrpc":"2.0","method":"chroma_query_documents","id":7,"params":{"collection_name":"x","query_texts":[]}}`)
	assert.Equal(t, float64(CodeInvalidParams), errorCode(t, resp))
	assert.Equal(t, "The 'query_texts' list cannot be empty.", resp["error"].(map[string]any)["message"])
}

func TestDirectToolCall_StoreFailureIsInternalError(t *testing.T) {
	d := newTestDispatcher(t)

	roundTrip(t, d, `{"jsonrpc":"2.0","method":"chroma_create_collection","id":1,"params":{"collection_name":"a"}}`)
	roundTrip(t, d, `{"jsonrpc":"2.0","method":"chroma_create_collection","id":2,"params":{"collection_name":"b"}}`)
	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"chroma_modify_collection","id":3,"params":{"collection_name":"a","new_name":"b"}}`)

	assert.Equal(t, float64(CodeInternalError), errorCode(t, resp))
	assert.Contains(t, resp["error"].(map[string]any)["message"], "Internal error")
}

func TestServerInfo(t *testing.T) {
	d := newTestDispatcher(t)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"server/info","id":1}`)
	result := resp["result"].(map[string]any)
	assert.Equal(t, "JSON-RPC 2.0", result["protocol"])
	assert.Equal(t, float64(13), result["total_services"])

	methods := result["methods"].([]any)
	assert.Equal(t, []any{"initialize", "tools/list", "tools/call", "server/info"}, methods[:4])
	assert.Len(t, methods, 17)
	assert.NotContains(t, result, "settings")
}

func TestServerInfo_Settings(t *testing.T) {
	d := NewDispatcher(tool.NewRegistry(), WithSettings(map[string]any{"chroma_host": "localhost"}))

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"server/info","id":1}`)
	result := resp["result"].(map[string]any)
	assert.Equal(t, map[string]any{"chroma_host": "localhost"}, result["settings"])
	assert.Equal(t, float64(0), result["total_services"])
}

func TestEnvelopeErrors(t *testing.T) {
	d := newTestDispatcher(t)

	tests := []struct {
		name   string
		body   string
		code   int
		wantID any
	}{
		{"malformed body", `not json`, CodeParseError, nil},
		{"truncated object", `{"jsonrpc":"2.0",`, CodeParseError, nil},
		{"wrong version", `{"jsonrpc":"1.0","method":"ping","id":7}`, CodeInvalidRequest, float64(7)},
		{"missing version", `{"method":"initialize","id":"a"}`, CodeInvalidRequest, "a"},
		{"missing method", `{"jsonrpc":"2.0","id":2}`, CodeInvalidRequest, float64(2)},
		{"non-string method", `{"jsonrpc":"2.0","method":5,"id":3}`, CodeInvalidRequest, float64(3)},
		{"array body", `[1,2]`, CodeInvalidRequest, nil},
		{"unknown method", `{"jsonrpc":"2.0","method":"does_not_exist","id":"x"}`, CodeMethodNotFound, "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, d, tt.body)
			assert.Equal(t, float64(tt.code), errorCode(t, resp))
			id, present := resp["id"]
			assert.True(t, present, "id must always be present")
			assert.Equal(t, tt.wantID, id)
		})
	}
}

func TestIDEchoedVerbatim(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":{"nested":[1,2]}}`))
	require.NotNil(t, resp)
	assert.JSONEq(t, `{"nested":[1,2]}`, string(resp.ID))

	resp = d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":null}`))
	require.NotNil(t, resp, "a null id is not a notification")
	assert.Equal(t, "null", string(resp.ID))
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	d := newTestDispatcher(t)

	assert.Nil(t, d.Handle(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)))
	assert.Nil(t, d.Handle(context.Background(),
		[]byte(`{"jsonrpc":"2.0","method":"chroma_create_collection","params":{"collection_name":"n"}}`)))

	// The notification still ran.
	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"chroma_list_collections","id":1}`)
	assert.Equal(t, []any{"n"}, resp["result"])
}

type panicTool struct{}

func (panicTool) Definition() mcp.Tool { return mcp.NewTool("explode") }

func (panicTool) Invoke(context.Context, json.RawMessage) (any, error) {
	panic(errors.New("boom"))
}

func TestPanicBecomesInternalError(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(panicTool{}))
	d := NewDispatcher(reg)

	resp := roundTrip(t, d, `{"jsonrpc":"2.0","method":"explode","id":1}`)
	assert.Equal(t, float64(CodeInternalError), errorCode(t, resp))
	assert.Contains(t, resp["error"].(map[string]any)["message"], "boom")
}
