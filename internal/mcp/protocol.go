// File: internal/mcp/protocol.go
package mcp

import (
	"encoding/base64"
	"strings"

	json "github.com/json-iterator/go"
)

const jsonRPCVersion = "2.0"

// Method names used by the client.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// Request is an outbound JSON-RPC 2.0 message. A nil ID marks a notification.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      *int64      `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// Response is an inbound JSON-RPC 2.0 message. Server-initiated
// notifications decode into this too, with a nil ID and a Method.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// ServerInfo captures what the server reported during the handshake.
type ServerInfo struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ServerInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"serverInfo"`
}

type initializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities"`
	ClientInfo      clientInfo             `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsListResult struct {
	Tools []ToolSchema `json:"tools"`
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Content is one element of a tool result's content array.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// ToolResult is the decoded result of a tools/call.
type ToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
	// Raw keeps the undecoded result for servers that return bespoke shapes.
	Raw json.RawMessage `json:"-"`
}

// Text joins all text content items with newlines.
func (r *ToolResult) Text() string {
	if r == nil {
		return ""
	}
	var parts []string
	for _, c := range r.Content {
		if c.Type == "text" && c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ImageData returns the decoded bytes of the first image in the result.
// Besides the content array it understands the flat data, screenshot and
// image keys some servers emit.
func (r *ToolResult) ImageData() ([]byte, bool) {
	if r == nil {
		return nil, false
	}
	for _, c := range r.Content {
		if c.Type == "image" && c.Data != "" {
			if b, err := base64.StdEncoding.DecodeString(c.Data); err == nil {
				return b, true
			}
		}
	}
	if len(r.Raw) == 0 {
		return nil, false
	}
	var flat map[string]interface{}
	if err := json.Unmarshal(r.Raw, &flat); err != nil {
		return nil, false
	}
	for _, key := range []string{"data", "screenshot", "image"} {
		if s, ok := flat[key].(string); ok && s != "" {
			if b, err := base64.StdEncoding.DecodeString(s); err == nil {
				return b, true
			}
		}
	}
	return nil, false
}

func decodeToolResult(raw json.RawMessage) (*ToolResult, error) {
	result := &ToolResult{Raw: raw}
	if len(raw) == 0 || string(raw) == "null" {
		return result, nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		// Unknown shape; callers can still inspect Raw.
		result.Content = nil
	}
	return result, nil
}
