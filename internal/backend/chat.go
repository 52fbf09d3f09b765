package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/af-corp/refinery/internal/config"
	"github.com/af-corp/refinery/internal/types"
)

// ChatAdapter talks to OpenAI-compatible chat completion APIs.
type ChatAdapter struct {
	id     string
	cfg    config.BackendConfig
	client *http.Client
}

func NewChatAdapter(id string, cfg config.BackendConfig, client *http.Client) *ChatAdapter {
	if client == nil {
		client = newHTTPClient(cfg)
	}
	return &ChatAdapter{id: id, cfg: cfg, client: client}
}

func (a *ChatAdapter) ID() string { return a.id }

func (a *ChatAdapter) Refine(ctx context.Context, req *types.RefineRequest) (*types.RefineResult, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	body := chatRequestBody{
		Model: a.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: refineInstruction},
			{Role: "user", Content: payload},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend %s returned status %d: %s", a.id, resp.StatusCode, string(respBody))
	}

	var chatResp chatResponseBody
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("unmarshal chat response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("backend %s returned no choices", a.id)
	}

	result, err := parseReply(chatResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	result.OutputUnits = chatResp.Usage.CompletionTokens
	return result, nil
}

// HealthCheck probes the models listing endpoint.
func (a *ChatAdapter) HealthCheck(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+"/models", nil)
	if err != nil {
		return false
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequestBody struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponseBody struct {
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
