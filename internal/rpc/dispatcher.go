package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/mark3labs/mcp-go/mcp"

	"chromamcp/internal/tool"
)

// ProtocolVersion is the MCP revision advertised on initialize.
const ProtocolVersion = "2024-11-05"

// Meta-methods handled by the dispatcher itself.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
	MethodServerInfo = "server/info"
)

type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type Capabilities struct {
	Tools     map[string]mcp.Tool `json:"tools"`
	Resources map[string]any      `json:"resources"`
	Prompts   map[string]any      `json:"prompts"`
}

type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Instructions    string       `json:"instructions"`
}

type ToolsListResult struct {
	Tools []mcp.Tool `json:"tools"`
}

type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult always carries isError, including when it is false.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError"`
}

type ServerInfoResult struct {
	Name          string            `json:"name"`
	Version       string            `json:"version"`
	Protocol      string            `json:"protocol"`
	TotalServices int               `json:"total_services"`
	Services      map[string]string `json:"services"`
	Methods       []string          `json:"methods"`
	Settings      map[string]any    `json:"settings,omitempty"`
}

type callParams struct {
	Name      *string         `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Dispatcher routes JSON-RPC envelopes to MCP meta-methods or to tools.
type Dispatcher struct {
	registry *tool.Registry
	info     ServerInfo
	settings map[string]any
	logger   *slog.Logger
}

type Option func(*Dispatcher)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = logger }
}

func WithServerInfo(info ServerInfo) Option {
	return func(d *Dispatcher) { d.info = info }
}

// WithSettings adds informational settings to the server/info result.
func WithSettings(settings map[string]any) Option {
	return func(d *Dispatcher) { d.settings = settings }
}

func NewDispatcher(registry *tool.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		info:     ServerInfo{Name: "chromamcp", Version: "dev"},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Info() ServerInfo {
	return d.info
}

// Methods lists every callable method name: the meta-methods first, then
// the tools in name order.
func (d *Dispatcher) Methods() []string {
	methods := []string{MethodInitialize, MethodToolsList, MethodToolsCall, MethodServerInfo}
	for _, t := range d.registry.List() {
		methods = append(methods, t.Definition().Name)
	}
	return methods
}

// Handle processes one request body. It returns nil when the request was a
// notification and no response must be written.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) *Response {
	req, id, rerr := decodeRequest(body)
	if rerr != nil {
		d.logger.Debug("rejected request", "code", rerr.Code, "error", rerr.Message)
		return failure(id, rerr)
	}

	result, rerr := d.dispatch(ctx, req)
	if req.IsNotification() {
		if rerr != nil {
			d.logger.Debug("notification failed", "method", req.Method, "error", rerr.Message)
		}
		return nil
	}
	if rerr != nil {
		return failure(req.ID, rerr)
	}
	return success(req.ID, result)
}

func (d *Dispatcher) dispatch(ctx context.Context, req *Request) (result any, rerr *Error) {
	defer func() {
		if p := recover(); p != nil {
			d.logger.Error("panic while handling request",
				"method", req.Method,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			result, rerr = nil, newError(CodeInternalError, "Internal error: %v", p)
		}
	}()

	d.logger.Debug("handling request", "method", req.Method)

	switch req.Method {
	case MethodInitialize:
		return d.initialize(), nil
	case MethodToolsList:
		return ToolsListResult{Tools: d.registry.Descriptors()}, nil
	case MethodToolsCall:
		return d.callTool(ctx, req.Params)
	case MethodServerInfo:
		return d.serverInfo(), nil
	}

	t, ok := d.registry.Lookup(req.Method)
	if !ok {
		return nil, newError(CodeMethodNotFound, "Method '%s' not found", req.Method)
	}

	out, err := t.Invoke(ctx, req.Params)
	if err != nil {
		if tool.IsInvalidArgument(err) {
			return nil, newError(CodeInvalidParams, "%s", err.Error())
		}
		d.logger.Error("tool failed", "tool", req.Method, "error", err)
		return nil, newError(CodeInternalError, "Internal error: %s", err.Error())
	}
	return out, nil
}

func (d *Dispatcher) initialize() InitializeResult {
	descriptors := d.registry.Descriptors()
	tools := make(map[string]mcp.Tool, len(descriptors))
	for _, desc := range descriptors {
		tools[desc.Name] = desc
	}

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: Capabilities{
			Tools:     tools,
			Resources: map[string]any{},
			Prompts:   map[string]any{},
		},
		ServerInfo:   d.info,
		Instructions: fmt.Sprintf("%s with %d available tools.", d.info.Name, len(descriptors)),
	}
}

func (d *Dispatcher) serverInfo() ServerInfoResult {
	services := make(map[string]string, d.registry.Len())
	for _, t := range d.registry.List() {
		def := t.Definition()
		services[def.Name] = def.Description
	}

	return ServerInfoResult{
		Name:          d.info.Name,
		Version:       d.info.Version,
		Protocol:      "JSON-RPC " + Version,
		TotalServices: len(services),
		Services:      services,
		Methods:       d.Methods(),
		Settings:      d.settings,
	}
}

// callTool reports tool failures inside the result rather than as an RPC
// error, so clients can hand them back to the model.
func (d *Dispatcher) callTool(ctx context.Context, params json.RawMessage) (any, *Error) {
	if params == nil {
		return nil, newError(CodeInvalidParams, "Invalid params: missing params for tools/call")
	}

	var p callParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, newError(CodeInvalidParams, "Invalid params: %v", err)
	}
	if p.Name == nil || *p.Name == "" {
		return nil, newError(CodeInvalidParams, "Invalid params: missing tool name")
	}

	t, ok := d.registry.Lookup(*p.Name)
	if !ok {
		return nil, newError(CodeInvalidParams, "Invalid params: unknown tool '%s'", *p.Name)
	}

	out, err := t.Invoke(ctx, p.Arguments)
	if err != nil {
		if !tool.IsInvalidArgument(err) {
			d.logger.Warn("tool call failed", "tool", *p.Name, "error", err)
		}
		return CallToolResult{
			Content: []Content{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		}, nil
	}

	text, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, newError(CodeInternalError, "Internal error: failed to encode result: %v", err)
	}
	return CallToolResult{
		Content: []Content{{Type: "text", Text: string(text)}},
	}, nil
}
