package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sparringlabs/sparring/types"
)

// defaultHTTPTimeout bounds a single agent invocation over HTTP.
const defaultHTTPTimeout = 120 * time.Second

// HTTPAgent invokes a remote participant over HTTP.
//
// The request body is the JSON-encoded Request; the endpoint must reply with
// a JSON object carrying at least a "content" field. The reply's role claim,
// if any, is discarded: the message role is always the role this side of the
// conversation represents.
type HTTPAgent struct {
	role     string
	endpoint string
	client   *http.Client
}

// HTTPOption configures an HTTPAgent.
type HTTPOption func(*HTTPAgent)

// WithHTTPClient sets a custom HTTP client, e.g. to control timeouts or transport.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(a *HTTPAgent) {
		a.client = client
	}
}

// NewHTTPAgent creates an agent that POSTs each invocation to the given endpoint.
func NewHTTPAgent(role, endpoint string, opts ...HTTPOption) *HTTPAgent {
	a := &HTTPAgent{
		role:     role,
		endpoint: endpoint,
		client:   &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// httpRequestBody is the wire form of an invocation request.
type httpRequestBody struct {
	Instructions string          `json:"instructions,omitempty"`
	Context      map[string]any  `json:"context,omitempty"`
	Messages     []types.Message `json:"messages"`
}

// httpResponseBody is the wire form of an invocation response.
type httpResponseBody struct {
	Content string         `json:"content"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Invoke POSTs the request to the configured endpoint and normalizes the reply.
func (a *HTTPAgent) Invoke(ctx context.Context, req Request) (types.Message, error) {
	body, err := json.Marshal(httpRequestBody{
		Instructions: req.Instructions,
		Context:      req.Context,
		Messages:     req.Messages,
	})
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to encode agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return types.Message{}, fmt.Errorf("agent endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Message{}, fmt.Errorf("failed to read agent response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return types.Message{}, fmt.Errorf("agent endpoint returned status %d: %s", resp.StatusCode, string(data))
	}

	var out httpResponseBody
	if err := json.Unmarshal(data, &out); err != nil {
		return types.Message{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if out.Content == "" {
		return types.Message{}, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	msg := types.Message{
		Role:      a.role,
		Content:   out.Content,
		Meta:      out.Meta,
		Timestamp: time.Now(),
	}
	return msg, nil
}
