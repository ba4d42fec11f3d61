// File: internal/mcp/client.go
package mcp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/config"
)

// Options tunes the protocol client.
type Options struct {
	ProtocolVersion  string
	ClientName       string
	ClientVersion    string
	HandshakeTimeout time.Duration
	CallTimeout      time.Duration
}

// OptionsFrom maps the tool server configuration onto client options.
func OptionsFrom(cfg config.ToolServerConfig) Options {
	return Options{
		ProtocolVersion:  cfg.ProtocolVersion,
		ClientName:       cfg.ClientName,
		ClientVersion:    cfg.ClientVersion,
		HandshakeTimeout: cfg.HandshakeTimeout,
		CallTimeout:      cfg.CallTimeout,
	}
}

func (o Options) withDefaults() Options {
	if o.ProtocolVersion == "" {
		o.ProtocolVersion = "2024-11-05"
	}
	if o.ClientName == "" {
		o.ClientName = "wabe"
	}
	if o.ClientVersion == "" {
		o.ClientVersion = "1.0.0"
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 5 * time.Second
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 60 * time.Second
	}
	return o
}

// Client speaks JSON-RPC to one tool server. Each Client owns its id
// sequence and tool cache; nothing is shared between instances.
type Client struct {
	transport Transport
	opts      Options
	logger    *zap.Logger

	nextID atomic.Int64
	// exchangeMu keeps one request in flight so responses are read in order.
	exchangeMu sync.Mutex

	mu          sync.RWMutex
	initialized bool
	server      ServerInfo
	tools       []ToolSchema
	toolIndex   map[string]ToolSchema
}

// NewClient wraps a transport. Initialize must succeed before tools can be called.
func NewClient(transport Transport, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		transport: transport,
		opts:      opts.withDefaults(),
		logger:    logger.Named("mcp_client"),
		toolIndex: make(map[string]ToolSchema),
	}
}

// Initialize performs the capability handshake and discovers the tool catalogue.
// On any failure the client stays not-ready.
func (c *Client) Initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: c.opts.ProtocolVersion,
		Capabilities:    map[string]interface{}{},
		ClientInfo:      clientInfo{Name: c.opts.ClientName, Version: c.opts.ClientVersion},
	}
	raw, err := c.request(ctx, MethodInitialize, params, c.opts.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}

	var info ServerInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("failed to decode initialize result: %w", err)
	}

	if err := c.notify(ctx, MethodInitialized, nil); err != nil {
		return fmt.Errorf("failed to send initialized notification: %w", err)
	}

	tools, err := c.fetchTools(ctx)
	if err != nil {
		return fmt.Errorf("tool discovery failed: %w", err)
	}

	c.mu.Lock()
	c.server = info
	c.storeTools(tools)
	c.initialized = true
	c.mu.Unlock()

	c.logger.Info("Tool server handshake complete",
		zap.String("server", info.ServerInfo.Name),
		zap.String("server_version", info.ServerInfo.Version),
		zap.String("protocol_version", info.ProtocolVersion),
		zap.Int("tools", len(tools)),
	)
	return nil
}

// Initialized reports whether the handshake has completed.
func (c *Client) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// ServerInfo returns what the server reported during the handshake.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}

// ListTools returns the cached catalogue. forceRefresh re-queries the server
// and replaces the cache.
func (c *Client) ListTools(ctx context.Context, forceRefresh bool) ([]ToolSchema, error) {
	c.mu.RLock()
	ready := c.initialized
	cached := c.tools
	c.mu.RUnlock()

	if !ready {
		return nil, ErrNotInitialized
	}
	if !forceRefresh {
		return cached, nil
	}

	tools, err := c.fetchTools(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.storeTools(tools)
	c.mu.Unlock()
	return tools, nil
}

// Tool looks up a cached schema by name.
func (c *Client) Tool(name string) (ToolSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.toolIndex[name]
	return t, ok
}

// ValidateArguments checks args against the cached schema without a round-trip.
func (c *Client) ValidateArguments(name string, args map[string]interface{}) error {
	schema, ok := c.Tool(name)
	if !ok {
		return &ValidationError{Kind: UnknownTool, Tool: name}
	}
	return schema.Validate(args)
}

// CallTool validates and dispatches a tool invocation.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error) {
	if !c.Initialized() {
		return nil, ErrNotInitialized
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	if err := c.ValidateArguments(name, args); err != nil {
		return nil, err
	}

	raw, err := c.request(ctx, MethodToolsCall, toolsCallParams{Name: name, Arguments: args}, c.opts.CallTimeout)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	return decodeToolResult(raw)
}

// Close closes the underlying transport.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	return c.transport.Close(ctx)
}

func (c *Client) fetchTools(ctx context.Context) ([]ToolSchema, error) {
	raw, err := c.request(ctx, MethodToolsList, map[string]interface{}{}, c.opts.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode tools/list result: %w", err)
	}
	return result.Tools, nil
}

// storeTools must be called with c.mu held for writing.
func (c *Client) storeTools(tools []ToolSchema) {
	c.tools = tools
	c.toolIndex = make(map[string]ToolSchema, len(tools))
	for _, t := range tools {
		c.toolIndex[t.Name] = t
	}
}

func (c *Client) notify(ctx context.Context, method string, params interface{}) error {
	line, err := json.Marshal(Request{JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return err
	}
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	return c.transport.WriteLine(ctx, line)
}

// request sends one request and reads until the response carrying its id.
// Notifications and responses to other ids are dropped.
func (c *Client) request(ctx context.Context, method string, params interface{}, timeout time.Duration) (json.RawMessage, error) {
	id := c.nextID.Add(1)
	line, err := json.Marshal(Request{JSONRPC: jsonRPCVersion, ID: &id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	if err := c.transport.WriteLine(ctx, line); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%s (id %d): %w", method, id, ErrTimeout)
		}
		data, err := c.transport.ReadLine(ctx, remaining)
		if err != nil {
			return nil, fmt.Errorf("%s (id %d): %w", method, id, err)
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Debug("Discarding undecodable line from tool server", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		if resp.ID == nil {
			c.logger.Debug("Ignoring server notification", zap.String("method", resp.Method))
			continue
		}
		if *resp.ID != id {
			c.logger.Debug("Dropping response for another request", zap.Int64("got", *resp.ID), zap.Int64("want", id))
			continue
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	}
}
