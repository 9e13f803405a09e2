package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is the advisory text-improvement assistant. Failures here are never
// fatal to scheduling; callers fall back to the original text.
type Client interface {
	Improve(ctx context.Context, prompt string) (string, error)
}

type AssistClient struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *AssistClient {
	return &AssistClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type improveRequest struct {
	Prompt string `json:"prompt"`
}

type improveResponse struct {
	Generated struct {
		Content string `json:"content"`
	} `json:"generated"`
}

func (c *AssistClient) Improve(ctx context.Context, prompt string) (string, error) {
	jsonData, err := json.Marshal(improveRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("improve failed with status %d", resp.StatusCode)
	}

	var result improveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if result.Generated.Content == "" {
		return "", fmt.Errorf("assistant returned no content")
	}

	return result.Generated.Content, nil
}
