// Package anthropic implements the completion side of the LLM Gateway
// against Anthropic's Messages API. Anthropic offers no embedding
// endpoint, so this client only ever backs Complete.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

const (
	defaultBaseURL       = "https://api.anthropic.com"
	defaultTimeout       = 120 * time.Second
	anthropicVersion     = "2023-06-01"
	defaultMaxTokens     = 1024
)

// Client is a minimal hand-rolled HTTP client for the Messages API; no
// first-party Anthropic Go SDK is available in the reference stack.
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

// New constructs a Client for apiKey.
func New(apiKey string) *Client {
	return &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
	}
}

type messagesRequest struct {
	Model       string            `json:"model"`
	Messages    []messagesMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens"`
	System      string            `json:"system,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	StopSeqs    []string          `json:"stop_sequences,omitempty"`
}

type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Complete sends messages to the given model and returns the concatenated
// text content of the reply.
func (c *Client) Complete(ctx context.Context, model string, messages []driven.ChatMessage, opts driven.CompleteOptions) (string, error) {
	var system string
	var apiMessages []messagesMessage
	for _, m := range messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		apiMessages = append(apiMessages, messagesMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	reqBody := messagesRequest{
		Model:     model,
		Messages:  apiMessages,
		MaxTokens: maxTokens,
		System:    system,
	}
	if opts.Temperature > 0 {
		reqBody.Temperature = opts.Temperature
	}
	if len(opts.StopWords) > 0 {
		reqBody.StopSeqs = opts.StopWords
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return "", &StatusError{Code: resp.StatusCode, Message: string(raw)}
		}
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", &StatusError{Code: resp.StatusCode, Message: parsed.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{Code: resp.StatusCode, Message: string(raw)}
	}

	var out strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return out.String(), nil
}

// StatusError carries the HTTP status code so the gateway's retry
// predicate can distinguish transient (429/5xx) from fatal failures.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("anthropic: status %d: %s", e.Code, e.Message)
}
