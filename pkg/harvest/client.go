package harvest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the DeepInfra OpenAI-compatible endpoint the harvester
// was originally run against. Any server speaking the same chat completions
// dialect works.
const DefaultBaseURL = "https://api.deepinfra.com/v1/openai"

// ClientConfig holds the connection and sampling parameters for a Client.
type ClientConfig struct {
	// BaseURL is the API root, without the /chat/completions suffix.
	BaseURL string `json:"base_url"`

	// APIKey is sent as a bearer token. Empty is allowed for local servers.
	APIKey string `json:"api_key"`

	// Model is the provider-side model identifier.
	Model string `json:"model"`

	// Temperature above 1 keeps the phrasing varied across thousands of
	// requests for the same prompt.
	Temperature float64 `json:"temperature"`

	// MaxTokens caps each completion. Proverbs are short by definition.
	MaxTokens int `json:"max_tokens"`

	// Timeout bounds a single request.
	Timeout time.Duration `json:"-"`
}

// Client is a minimal OpenAI-compatible chat completions client.
type Client struct {
	httpClient *http.Client
	config     ClientConfig
	logger     *slog.Logger
}

// NewClient creates a client with the given configuration. Zero values fall
// back to the DeepInfra endpoint and the sampling parameters the proverb
// corpus was originally harvested with.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Temperature == 0 {
		config.Temperature = 1.1
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 60
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: config.Timeout},
		config:     config,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the client. By default, logs are discarded.
func (c *Client) SetLogger(logger *slog.Logger) {
	c.logger = logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat completion request and returns the trimmed content
// of the first choice.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("could not encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("could not build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("could not read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion endpoint returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("could not decode completion response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("completion endpoint returned error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("completion response contained no choices")
	}

	return strings.TrimSpace(decoded.Choices[0].Message.Content), nil
}
