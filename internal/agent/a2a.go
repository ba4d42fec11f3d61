// File: internal/agent/a2a.go
package agent

import (
	"strings"

	json "github.com/json-iterator/go"
)

// Wire types for the subset of the agent-to-agent JSON-RPC protocol the
// harness speaks: message/send with text and inline file parts.

const (
	methodMessageSend = "message/send"
	roleUser          = "user"
	stateCompleted    = "completed"
)

// Card is the discovery document served by an agent.
type Card struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Version     string `json:"version,omitempty"`
}

type filePayload struct {
	Bytes    string `json:"bytes"`
	MimeType string `json:"mimeType,omitempty"`
	Name     string `json:"name,omitempty"`
}

type part struct {
	Kind string          `json:"kind"`
	Text string          `json:"text,omitempty"`
	File *filePayload    `json:"file,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type message struct {
	Kind      string `json:"kind"`
	Role      string `json:"role"`
	MessageID string `json:"messageId"`
	ContextID string `json:"contextId,omitempty"`
	Parts     []part `json:"parts"`
}

type sendParams struct {
	Message message `json:"message"`
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type taskStatus struct {
	State   string   `json:"state"`
	Message *message `json:"message,omitempty"`
}

type artifact struct {
	Parts []part `json:"parts"`
}

// sendResult covers both result shapes: a direct message or a task.
type sendResult struct {
	Kind      string      `json:"kind"`
	ContextID string      `json:"contextId"`
	Parts     []part      `json:"parts,omitempty"`
	Status    *taskStatus `json:"status,omitempty"`
	Artifacts []artifact  `json:"artifacts,omitempty"`
}

// text merges the reply into one string. Task replies contribute the status
// message followed by every artifact.
func (r *sendResult) text() string {
	if r.Kind != "task" && r.Status == nil {
		return mergeParts(r.Parts)
	}
	var sb strings.Builder
	if r.Status != nil && r.Status.Message != nil {
		sb.WriteString(mergeParts(r.Status.Message.Parts))
	}
	for _, a := range r.Artifacts {
		sb.WriteString(mergeParts(a.Parts))
	}
	return sb.String()
}

func mergeParts(parts []part) string {
	chunks := make([]string, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case "text":
			chunks = append(chunks, p.Text)
		case "data":
			if len(p.Data) > 0 {
				chunks = append(chunks, string(p.Data))
			}
		}
	}
	return strings.Join(chunks, "\n")
}
