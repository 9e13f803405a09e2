package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client is the workspace messaging API consumed by the scheduling core.
// Tokens are opaque bearer strings supplied per call; the client holds no
// credentials of its own.
type Client interface {
	ListChannels(ctx context.Context, token string) ([]Channel, error)
	PostMessage(ctx context.Context, token, channelID, text, username string) (string, error)
}

type SlackClient struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *SlackClient {
	return &SlackClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *SlackClient) ListChannels(ctx context.Context, token string) ([]Channel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/conversations.list", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer resp.Body.Close()

	var result listChannelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode channel list: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !result.OK {
		return nil, fmt.Errorf("channel list failed with status %d: %s", resp.StatusCode, result.Error)
	}

	return result.Channels, nil
}

// PostMessage posts text into a channel and returns the message id assigned
// by the workspace.
func (c *SlackClient) PostMessage(ctx context.Context, token, channelID, text, username string) (string, error) {
	payload := postMessageRequest{
		Channel:  channelID,
		Text:     text,
		Username: username,
		AsUser:   username == "",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat.postMessage", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()

	var result postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || !result.OK {
		return "", fmt.Errorf("post message failed with status %d: %s", resp.StatusCode, result.Error)
	}

	return result.Timestamp, nil
}
