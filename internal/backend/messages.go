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

const messagesAPIVersion = "2023-06-01"

// defaultMaxOutputUnits caps the reply size when the request carries no
// estimate; the messages API requires an explicit limit.
const defaultMaxOutputUnits = 4096

// MessagesAdapter talks to Anthropic-style messages APIs.
type MessagesAdapter struct {
	id     string
	cfg    config.BackendConfig
	client *http.Client
}

func NewMessagesAdapter(id string, cfg config.BackendConfig, client *http.Client) *MessagesAdapter {
	if client == nil {
		client = newHTTPClient(cfg)
	}
	return &MessagesAdapter{id: id, cfg: cfg, client: client}
}

func (a *MessagesAdapter) ID() string { return a.id }

func (a *MessagesAdapter) Refine(ctx context.Context, req *types.RefineRequest) (*types.RefineResult, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	maxOutput := defaultMaxOutputUnits
	if req.EstimatedOutputUnits > 0 {
		maxOutput = req.EstimatedOutputUnits
	}

	body := messagesRequestBody{
		Model:     a.cfg.Model,
		System:    refineInstruction,
		MaxTokens: maxOutput,
		Messages: []messagesMessage{
			{Role: "user", Content: payload},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal messages request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", messagesAPIVersion)
	for k, v := range a.cfg.Headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("messages request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read messages response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend %s returned status %d: %s", a.id, resp.StatusCode, string(respBody))
	}

	var msgResp messagesResponseBody
	if err := json.Unmarshal(respBody, &msgResp); err != nil {
		return nil, fmt.Errorf("unmarshal messages response: %w", err)
	}

	var content string
	for _, block := range msgResp.Content {
		if block.Type == "text" {
			content = block.Text
			break
		}
	}
	if content == "" {
		return nil, fmt.Errorf("backend %s returned no text content", a.id)
	}

	result, err := parseReply(content)
	if err != nil {
		return nil, err
	}
	result.OutputUnits = msgResp.Usage.OutputTokens
	return result, nil
}

// HealthCheck sends a minimal one-unit message; the messages API has no
// cheap unauthenticated probe endpoint.
func (a *MessagesAdapter) HealthCheck(ctx context.Context) bool {
	body := messagesRequestBody{
		Model:     a.cfg.Model,
		MaxTokens: 1,
		Messages:  []messagesMessage{{Role: "user", Content: "ping"}},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return false
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/messages", bytes.NewReader(data))
	if err != nil {
		return false
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", messagesAPIVersion)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type messagesMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequestBody struct {
	Model     string            `json:"model"`
	System    string            `json:"system,omitempty"`
	MaxTokens int               `json:"max_tokens"`
	Messages  []messagesMessage `json:"messages"`
}

type messagesResponseBody struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
