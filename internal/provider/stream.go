// SSE streaming transport.
package provider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/modguard/filter-gateway/internal/config"
)

// StreamProvider speaks the streaming variant of the chat-completions
// protocol. The verdict is a single small JSON object, so the stream is
// accumulated to completion before parsing; streaming buys nothing for
// latency here but some endpoints only serve this mode.
type StreamProvider struct {
	tier   string
	cfg    config.ProviderConfig
	client *http.Client
}

func NewStreamProvider(tier string, cfg config.ProviderConfig) *StreamProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens == 0 || cfg.MaxTokens > DefaultMaxTokens {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &StreamProvider{tier: tier, cfg: cfg, client: &http.Client{}}
}

func (p *StreamProvider) Name() string { return "stream/" + p.tier }

func (p *StreamProvider) AnalyzeText(ctx context.Context, in Input) (*Analysis, error) {
	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(in.Config)},
			{Role: "user", Content: userPrompt(in.Text, in.History)},
		},
		MaxTokens:   p.cfg.MaxTokens,
		Temperature: 0.0,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stream request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := postRaw(ctx, p.client, p.cfg, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := accumulateSSE(resp)
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(raw)
}

// accumulateSSE concatenates delta content from "data:" events until the
// stream ends or the [DONE] sentinel arrives.
func accumulateSSE(resp *http.Response) (string, error) {
	var b strings.Builder
	total := 0

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "[DONE]" {
			if payload == "[DONE]" {
				break
			}
			continue
		}
		chunk := gjson.Get(payload, "choices.0.delta.content")
		if !chunk.Exists() {
			// Some servers send the final message in full on the last event.
			chunk = gjson.Get(payload, "choices.0.message.content")
		}
		total += len(chunk.String())
		if total > maxResponseSize {
			return "", fmt.Errorf("stream exceeded %d bytes", maxResponseSize)
		}
		b.WriteString(chunk.String())
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stream: %w", err)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("stream produced no content")
	}
	return b.String(), nil
}

var _ Provider = (*StreamProvider)(nil)
