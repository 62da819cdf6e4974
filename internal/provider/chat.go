// HTTP chat-completions transport.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/modguard/filter-gateway/internal/config"
)

// chatRequest is the OpenAI-compatible chat completions request body. Every
// configured tier endpoint speaks this shape.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ChatProvider calls a chat-completions endpoint and parses the single
// response message into an Analysis.
type ChatProvider struct {
	tier   string
	cfg    config.ProviderConfig
	client *http.Client
}

// NewChatProvider builds a provider for one tier. The HTTP client carries no
// timeout of its own; each call is bounded by a per-request context.
func NewChatProvider(tier string, cfg config.ProviderConfig) *ChatProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 || cfg.MaxTokens > DefaultMaxTokens {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &ChatProvider{tier: tier, cfg: cfg, client: &http.Client{}}
}

func (p *ChatProvider) Name() string { return "chat/" + p.tier }

func (p *ChatProvider) AnalyzeText(ctx context.Context, in Input) (*Analysis, error) {
	raw, err := p.complete(ctx, chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(in.Config)},
			{Role: "user", Content: userPrompt(in.Text, in.History)},
		},
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: 0.0,
	})
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(raw)
}

// complete posts the request and returns the first choice's content.
func (p *ChatProvider) complete(ctx context.Context, cr chatRequest) (string, error) {
	body, err := json.Marshal(cr)
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	respBody, err := doPost(ctx, p.client, p.cfg, body)
	if err != nil {
		return "", err
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse chat response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// doPost issues one authenticated POST and returns the body, size-limited.
// Shared by the chat and streaming transports.
func doPost(ctx context.Context, client *http.Client, cfg config.ProviderConfig, body []byte) ([]byte, error) {
	resp, err := postRaw(ctx, client, cfg, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}
	return respBody, nil
}

// postRaw issues the POST and checks the status, leaving the body open for
// the caller. Error bodies are truncated before inclusion in the error.
func postRaw(ctx context.Context, client *http.Client, cfg config.ProviderConfig, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen+1))
		resp.Body.Close()
		msg := string(errBody)
		if len(msg) > maxErrorBodyLen {
			msg = msg[:maxErrorBodyLen] + "... (truncated)"
		}
		return nil, fmt.Errorf("provider API returned status %d: %s", resp.StatusCode, msg)
	}
	return resp, nil
}

var _ Provider = (*ChatProvider)(nil)
