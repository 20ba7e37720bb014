// Package chat talks to a hosted chatbot for conversational replies.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultAPIURL is the Chatbase chat endpoint.
const DefaultAPIURL = "https://www.chatbase.co/api/v1/chat"

// maxHistory bounds how many earlier turns are forwarded with a message.
const maxHistory = 20

// ErrNotConfigured is returned when no API key or bot id is set.
var ErrNotConfigured = errors.New("chat backend not configured")

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator produces an assistant reply for a user message.
type Generator interface {
	Reply(ctx context.Context, message string, history []Message) (string, error)
}

// Config configures a Client.
type Config struct {
	APIKey  string
	BotID   string
	APIURL  string
	Timeout time.Duration
	Retry   RetryConfig
}

// Client is a Chatbase-compatible chat client.
type Client struct {
	apiKey     string
	botID      string
	apiURL     string
	httpClient *http.Client
	retry      RetryConfig
}

// NewClient creates a client. Zero fields in cfg take defaults.
func NewClient(cfg Config) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &Client{
		apiKey:     cfg.APIKey,
		botID:      cfg.BotID,
		apiURL:     cfg.APIURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retry:      cfg.Retry,
	}
}

type request struct {
	ChatbotID string    `json:"chatbotId"`
	Stream    bool      `json:"stream"`
	Messages  []Message `json:"messages"`
}

type response struct {
	Text    string `json:"text"`
	Message string `json:"message"`
}

// Reply sends message, preceded by up to the last 20 history turns, and
// returns the assistant text.
func (c *Client) Reply(ctx context.Context, message string, history []Message) (string, error) {
	if c.apiKey == "" || c.botID == "" {
		return "", ErrNotConfigured
	}

	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	msgs := make([]Message, 0, len(history)+1)
	for _, m := range history {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		msgs = append(msgs, m)
	}
	msgs = append(msgs, Message{Role: "user", Content: message})

	bodyBytes, err := json.Marshal(request{ChatbotID: c.botID, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var result response
	err = WithRetry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(bodyBytes))
		if err != nil {
			return permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("sending request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			err := fmt.Errorf("chat API error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			if IsRetryableHTTPStatus(resp.StatusCode) {
				return err
			}
			return permanent(err)
		}

		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	text := result.Text
	if text == "" {
		text = result.Message
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty response from chat API")
	}
	return text, nil
}
