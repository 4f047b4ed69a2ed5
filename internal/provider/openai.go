package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAICompat streams chat completions from any OpenAI-compatible endpoint.
// It is deliberately generic: base URL, key, and model come from config, and
// no vendor SDK is involved.
type OpenAICompat struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	http      *http.Client
}

func NewOpenAICompat(apiKey, baseURL, model string, maxTokens int) *OpenAICompat {
	return &OpenAICompat{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		model:     model,
		maxTokens: maxTokens,
		http:      &http.Client{Timeout: 120 * time.Second},
	}
}

func (c *OpenAICompat) Name() string    { return "openai-compatible" }
func (c *OpenAICompat) ModelID() string { return c.model }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
}

type chatStreamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

func (c *OpenAICompat) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	system := req.System
	if proto := ToolProtocol(req.Tools); proto != "" {
		system = system + "\n\n" + proto
	}

	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: RoleSystem, Content: system})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}
	body := chatRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: maxTokens,
		Stream:    true,
		StreamOptions: &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	ch := make(chan StreamEvent, 8)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}
			var frame chatStreamFrame
			if err := json.Unmarshal([]byte(data), &frame); err != nil {
				continue
			}
			if frame.Usage != nil {
				ev := StreamEvent{Usage: &Usage{
					InputTokens:  frame.Usage.PromptTokens,
					OutputTokens: frame.Usage.CompletionTokens,
				}}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
			if len(frame.Choices) > 0 && frame.Choices[0].Delta.Content != "" {
				select {
				case ch <- StreamEvent{Chunk: frame.Choices[0].Delta.Content}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			select {
			case ch <- StreamEvent{Err: fmt.Errorf("provider stream: %w", err)}:
			case <-ctx.Done():
			}
		}
	}()
	return ch, nil
}
