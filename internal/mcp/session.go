// File: internal/mcp/session.go
package mcp

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/config"
)

// Session is a ready client bound to the tool server process it launched.
type Session struct {
	*Client
	process *ProcessTransport
}

// Launch starts a tool server, performs the handshake and discovers tools.
// On failure everything that was started is torn down.
func Launch(ctx context.Context, cfg config.ToolServerConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	process, err := StartProcess(ctx, ProcessConfigFrom(cfg), logger)
	if err != nil {
		return nil, err
	}

	client := NewClient(process, OptionsFrom(cfg), logger)
	if err := client.Initialize(ctx); err != nil {
		_ = process.Close(context.Background())
		if stderr := process.Stderr(); stderr != "" {
			return nil, fmt.Errorf("%w (stderr: %s)", err, stderr)
		}
		return nil, err
	}
	return &Session{Client: client, process: process}, nil
}

// Stderr returns the tail of the tool server's standard error.
func (s *Session) Stderr() string { return s.process.Stderr() }
