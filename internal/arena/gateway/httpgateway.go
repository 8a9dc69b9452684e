package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPGateway talks to an OpenAI-compatible chat/completions endpoint,
// the same request shape the reference server's proxy handler forwards
// (internal/proxy/handler.go): POST {baseURL}/chat/completions with a
// bearer key, JSON body, optional "stream": true.
type HTTPGateway struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: 0},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	ResponseFmt *responseFmt  `json:"response_format,omitempty"`
}

type responseFmt struct {
	Type       string         `json:"type"`
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
	Delta   chatMessage `json:"delta"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (g *HTTPGateway) buildRequest(modelID, prompt string, opts Opts, stream bool) chatRequest {
	req := chatRequest{
		Model:       modelID,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stream:      stream,
	}
	if opts.Structured {
		req.ResponseFmt = &responseFmt{Type: "json_schema", JSONSchema: opts.Schema}
	}
	return req
}

func (g *HTTPGateway) Invoke(ctx context.Context, modelID, prompt string, opts Opts) (string, Usage, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.deadlineOrDefault())
	defer cancel()

	body, err := json.Marshal(g.buildRequest(modelID, prompt, opts, false))
	if err != nil {
		return "", Usage{}, &ModelError{Kind: ErrKindInvalid, ModelID: modelID, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", Usage{}, &ModelError{Kind: ErrKindInvalid, ModelID: modelID, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", Usage{}, &ModelError{Kind: ErrKindTimeout, ModelID: modelID, Err: err}
		}
		return "", Usage{}, &ModelError{Kind: ErrKindProviderError, ModelID: modelID, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", Usage{}, &ModelError{Kind: ErrKindProviderError, ModelID: modelID, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", Usage{}, &ModelError{Kind: ErrKindRateLimited, ModelID: modelID, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return "", Usage{}, &ModelError{Kind: ErrKindProviderError, ModelID: modelID, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", Usage{}, &ModelError{Kind: ErrKindInvalid, ModelID: modelID, Err: err}
	}
	if parsed.Error != nil {
		kind := ErrKindProviderError
		if strings.Contains(strings.ToLower(parsed.Error.Type), "content") {
			kind = ErrKindContentFiltered
		}
		return "", Usage{}, &ModelError{Kind: kind, ModelID: modelID, Err: fmt.Errorf("%s", parsed.Error.Message)}
	}
	if len(parsed.Choices) == 0 {
		return "", Usage{}, &ModelError{Kind: ErrKindInvalid, ModelID: modelID, Err: fmt.Errorf("no choices returned")}
	}
	text := parsed.Choices[0].Message.Content
	if opts.Structured {
		var js any
		if err := json.Unmarshal([]byte(text), &js); err != nil {
			return "", Usage{}, &ModelError{Kind: ErrKindInvalid, ModelID: modelID, Err: fmt.Errorf("structured output did not parse as JSON: %w", err)}
		}
	}
	return text, Usage{PromptTokens: parsed.Usage.PromptTokens, CompletionTokens: parsed.Usage.CompletionTokens}, nil
}

// Stream opens a server-sent-events chat/completions stream and relays
// each delta on the returned channel until the provider sends "[DONE]"
// or ctx is cancelled. The channel is closed after the terminal delta.
func (g *HTTPGateway) Stream(ctx context.Context, modelID, prompt string, opts Opts) (<-chan Delta, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.deadlineOrDefault())

	body, err := json.Marshal(g.buildRequest(modelID, prompt, opts, true))
	if err != nil {
		cancel()
		return nil, &ModelError{Kind: ErrKindInvalid, ModelID: modelID, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, &ModelError{Kind: ErrKindInvalid, ModelID: modelID, Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.HTTPClient.Do(httpReq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, &ModelError{Kind: ErrKindTimeout, ModelID: modelID, Err: err}
		}
		return nil, &ModelError{Kind: ErrKindProviderError, ModelID: modelID, Err: err}
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		resp.Body.Close()
		cancel()
		return nil, &ModelError{Kind: ErrKindRateLimited, ModelID: modelID, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		cancel()
		return nil, &ModelError{Kind: ErrKindProviderError, ModelID: modelID, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	out := make(chan Delta, 8)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(out)

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				out <- Delta{Final: true}
				return
			}
			var chunk chatResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			select {
			case out <- Delta{Text: chunk.Choices[0].Delta.Content}:
			case <-ctx.Done():
				out <- Delta{Final: true, Err: &ModelError{Kind: ErrKindTimeout, ModelID: modelID, Err: ctx.Err()}}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Delta{Final: true, Err: &ModelError{Kind: ErrKindProviderError, ModelID: modelID, Err: err}}
			return
		}
		out <- Delta{Final: true}
	}()
	return out, nil
}
