// File: internal/agent/client.go
package agent

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Dimmmas28/wabe/internal/config"
)

var cardPaths = []string{"/.well-known/agent-card.json", "/.well-known/agent.json"}

// ErrStatus is returned when the agent answers with a task that did not complete.
var ErrStatus = errors.New("agent task not completed")

// Attachment is an inline file sent alongside the message text.
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// Message is one turn sent to the agent under test.
type Message struct {
	Text  string
	Image *Attachment
	// NewConversation drops the stored conversation id before sending.
	NewConversation bool
}

// Client sends a message to the agent under test and returns its reply text.
type Client interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// HTTPError is a non-2xx reply from the agent endpoint.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("agent returned status %d: %s", e.StatusCode, e.Body)
}

// RateLimited reports whether the agent asked us to slow down.
func (e *HTTPError) RateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// RPCError is a JSON-RPC error object returned by the agent.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("agent rpc error %d: %s", e.Code, e.Message)
}

// HTTPClient talks to an agent over HTTP JSON-RPC. A client keeps one
// conversation id, so each task owns its own client.
type HTTPClient struct {
	baseURL       string
	httpClient    *http.Client
	limiter       *rate.Limiter
	maxRetries    uint64
	retryInterval time.Duration
	logger        *zap.Logger

	mu        sync.Mutex
	card      *Card
	endpoint  string
	contextID string
}

// NewHTTPClient initializes the client.
func NewHTTPClient(cfg config.AgentConfig, logger *zap.Logger) (*HTTPClient, error) {
	if cfg.URL == "" {
		return nil, errors.New("agent URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 2 * time.Second
	}

	return &HTTPClient{
		baseURL:       strings.TrimRight(cfg.URL, "/"),
		httpClient:    &http.Client{Timeout: cfg.RequestTimeout},
		limiter:       rate.NewLimiter(limit, burst),
		maxRetries:    cfg.MaxRetries,
		retryInterval: retryInterval,
		logger:        logger.Named("agent_client"),
	}, nil
}

// ContextID returns the conversation id assigned by the agent, if any.
func (c *HTTPClient) ContextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contextID
}

// Card fetches and caches the agent's discovery document.
func (c *HTTPClient) Card(ctx context.Context) (*Card, error) {
	c.mu.Lock()
	if c.card != nil {
		card := c.card
		c.mu.Unlock()
		return card, nil
	}
	c.mu.Unlock()

	var lastErr error
	for _, path := range cardPaths {
		card, err := c.fetchCard(ctx, c.baseURL+path)
		if err == nil {
			c.mu.Lock()
			c.card = card
			c.mu.Unlock()
			return card, nil
		}
		lastErr = err
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusNotFound {
			break
		}
	}
	return nil, fmt.Errorf("failed to resolve agent card: %w", lastErr)
}

func (c *HTTPClient) fetchCard(ctx context.Context, url string) (*Card, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	var card Card
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("failed to decode agent card: %w", err)
	}
	return &card, nil
}

// resolveEndpoint returns the JSON-RPC endpoint, falling back to the base
// URL when the agent publishes no card.
func (c *HTTPClient) resolveEndpoint(ctx context.Context) string {
	c.mu.Lock()
	if c.endpoint != "" {
		ep := c.endpoint
		c.mu.Unlock()
		return ep
	}
	c.mu.Unlock()

	ep := c.baseURL
	card, err := c.Card(ctx)
	if err != nil {
		c.logger.Debug("Agent card unavailable, posting to base URL", zap.Error(err))
	} else if card.URL != "" {
		ep = card.URL
	}

	c.mu.Lock()
	c.endpoint = ep
	c.mu.Unlock()
	return ep
}

// Send delivers one message and returns the merged reply text. Rate limits
// and server faults are retried with exponential backoff; the final error
// still reports RateLimited when the agent kept refusing.
func (c *HTTPClient) Send(ctx context.Context, msg Message) (string, error) {
	if msg.NewConversation {
		c.mu.Lock()
		c.contextID = ""
		c.mu.Unlock()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	body, err := json.Marshal(c.buildRequest(msg))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}
	endpoint := c.resolveEndpoint(ctx)

	var result sendResult
	operation := func() error {
		res, err := c.post(ctx, endpoint, body)
		if err != nil {
			return err
		}
		result = *res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.maxRetries), ctx)

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Agent request failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return "", err
	}

	if result.Status != nil && result.Status.State != "" && result.Status.State != stateCompleted {
		return "", fmt.Errorf("%w: task state %q: %s", ErrStatus, result.Status.State, result.text())
	}

	if result.ContextID != "" {
		c.mu.Lock()
		c.contextID = result.ContextID
		c.mu.Unlock()
	}
	return result.text(), nil
}

func (c *HTTPClient) buildRequest(msg Message) rpcRequest {
	parts := []part{{Kind: "text", Text: msg.Text}}
	if msg.Image != nil && len(msg.Image.Data) > 0 {
		parts = append(parts, part{Kind: "file", File: &filePayload{
			Bytes:    base64.StdEncoding.EncodeToString(msg.Image.Data),
			MimeType: msg.Image.MimeType,
			Name:     msg.Image.Name,
		}})
	}
	return rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  methodMessageSend,
		Params: sendParams{Message: message{
			Kind:      "message",
			Role:      roleUser,
			MessageID: strings.ReplaceAll(uuid.NewString(), "-", ""),
			ContextID: c.ContextID(),
			Parts:     parts,
		}},
	}
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, body []byte) (*sendResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		c.logger.Warn("Network error during agent request", zap.Error(err))
		return nil, fmt.Errorf("failed to execute HTTP request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.handleHTTPError(resp.StatusCode, respBody)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
	}
	if rpcResp.Error != nil {
		return nil, backoff.Permanent(rpcResp.Error)
	}
	var result sendResult
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode message result: %w", err))
	}

	c.logger.Debug("Agent reply received", zap.Duration("duration", time.Since(start)), zap.String("kind", result.Kind))
	return &result, nil
}

func (c *HTTPClient) handleHTTPError(status int, body []byte) error {
	err := &HTTPError{StatusCode: status, Body: truncate(string(body), 500)}
	c.logger.Warn("Agent returned error status", zap.Int("status", status))

	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusBadGateway:
		return err
	default:
		return backoff.Permanent(err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
