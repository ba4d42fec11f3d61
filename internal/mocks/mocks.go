// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/Dimmmas28/wabe/internal/agent"
	"github.com/Dimmmas28/wabe/internal/config"
	"github.com/Dimmmas28/wabe/internal/mcp"
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Database() config.DatabaseConfig {
	args := m.Called()
	return args.Get(0).(config.DatabaseConfig)
}

func (m *MockConfig) ToolServer() config.ToolServerConfig {
	args := m.Called()
	return args.Get(0).(config.ToolServerConfig)
}

func (m *MockConfig) Harness() config.HarnessConfig {
	args := m.Called()
	return args.Get(0).(config.HarnessConfig)
}

func (m *MockConfig) Backoff() config.BackoffConfig {
	args := m.Called()
	return args.Get(0).(config.BackoffConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) Screenshot() config.ScreenshotConfig {
	args := m.Called()
	return args.Get(0).(config.ScreenshotConfig)
}

// --- Setters ---

func (m *MockConfig) SetHarnessMaxParallelTasks(n int) {
	m.Called(n)
}

func (m *MockConfig) SetHarnessMaxSteps(n int) {
	m.Called(n)
}

func (m *MockConfig) SetHarnessOutputDir(dir string) {
	m.Called(dir)
}

func (m *MockConfig) SetAgentURL(url string) {
	m.Called(url)
}

// NewMockConfigFrom returns a MockConfig whose getters answer from cfg.
// Setter expectations are left to the caller.
func NewMockConfigFrom(cfg *config.Config) *MockConfig {
	m := new(MockConfig)
	m.On("Logger").Return(cfg.Logger()).Maybe()
	m.On("Database").Return(cfg.Database()).Maybe()
	m.On("ToolServer").Return(cfg.ToolServer()).Maybe()
	m.On("Harness").Return(cfg.Harness()).Maybe()
	m.On("Backoff").Return(cfg.Backoff()).Maybe()
	m.On("Agent").Return(cfg.Agent()).Maybe()
	m.On("Screenshot").Return(cfg.Screenshot()).Maybe()
	return m
}

// -- Agent Mock --

// MockAgentClient mocks agent.Client.
type MockAgentClient struct {
	mock.Mock
}

func (m *MockAgentClient) Send(ctx context.Context, msg agent.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

// -- Tool Caller Mock --

// MockToolCaller mocks the protocol client surface used by the browser facade.
type MockToolCaller struct {
	mock.Mock
}

func (m *MockToolCaller) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.ToolResult, error) {
	ret := m.Called(ctx, name, args)
	var res *mcp.ToolResult
	if v := ret.Get(0); v != nil {
		res = v.(*mcp.ToolResult)
	}
	return res, ret.Error(1)
}

func (m *MockToolCaller) ListTools(ctx context.Context, forceRefresh bool) ([]mcp.ToolSchema, error) {
	ret := m.Called(ctx, forceRefresh)
	var tools []mcp.ToolSchema
	if v := ret.Get(0); v != nil {
		tools = v.([]mcp.ToolSchema)
	}
	return tools, ret.Error(1)
}

func (m *MockToolCaller) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
