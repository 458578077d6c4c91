package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/coachvisio/coachvisio/internal/persona"
)

// Client talks to the OpenAI chat-completion API for both the streamed
// persona replies and the end-of-session summary.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
	config  *Config
}

// Config holds completion configuration
type Config struct {
	APIKey       string        `json:"api_key"`
	BaseURL      string        `json:"base_url"`
	ChatModel    string        `json:"chat_model"`
	SummaryModel string        `json:"summary_model"`
	Timeout      time.Duration `json:"timeout"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		BaseURL:      "https://api.openai.com/v1",
		ChatModel:    "gpt-4o-mini",
		SummaryModel: "gpt-4o-mini",
		Timeout:      60 * time.Second,
	}
}

// summaryPrompt is the fixed rubric for the end-of-session report.
const summaryPrompt = `Tu es un évaluateur bienveillant d'entretien simulé.
Fais une synthèse claire et structurée en français, au format suivant :

### Forces observées
- …

### Axes d’amélioration
- …

### Recommandations concrètes
- …`

// NewClient creates a completion client.
func NewClient(logger zerolog.Logger, config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}

	return &Client{
		apiKey:  config.APIKey,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger.With().Str("component", "ai").Logger(),
		config:  config,
	}
}

// Available reports whether the client has an API key configured.
func (c *Client) Available() bool {
	return c.apiKey != ""
}

// StreamReply requests a streamed in-character reply for the latest user
// message. onDelta is invoked for every text fragment, in arrival order, and
// the full accumulated text is returned on success. A non-success status is
// reported as *StatusError, distinct from transport failures.
func (c *Client) StreamReply(ctx context.Context, p persona.Persona, lastUserMessage string, onDelta func(string)) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	lastUserMessage = strings.TrimSpace(lastUserMessage)
	if lastUserMessage == "" {
		return "", ErrEmptyMessage
	}

	reqBody := chatRequest{
		Model:       c.config.ChatModel,
		Temperature: 0.6,
		Stream:      true,
		Messages: []chatMessage{
			{Role: "system", Content: p.Prompt},
			{
				Role: "user",
				Content: "Contexte: entretien simulé chronométré.\n" +
					"Consignes: sois bref, utile, et pose au plus UNE question de relance pertinente.\n" +
					"Message de l'utilisateur: " + lastUserMessage,
			},
		},
	}

	resp, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var full strings.Builder
	sse := newSSEReader(resp.Body)
	for {
		event, err := sse.readEvent()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read stream: %w", err)
		}

		data := strings.TrimSpace(event.Data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Warn().Err(err).Msg("Skipping malformed stream chunk")
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	c.logger.Debug().Str("persona", string(p.ID)).Int("chars", full.Len()).Msg("Reply stream complete")
	return full.String(), nil
}

// Summarize turns the ordered role-tagged transcript into the structured
// French report.
func (c *Client) Summarize(ctx context.Context, transcript []TranscriptEntry) (string, error) {
	if c.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	raw, err := json.Marshal(transcript)
	if err != nil {
		return "", fmt.Errorf("marshal transcript: %w", err)
	}

	reqBody := chatRequest{
		Model:       c.config.SummaryModel,
		Temperature: 0.5,
		Messages: []chatMessage{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: string(raw)},
		},
	}

	resp, err := c.post(ctx, "/chat/completions", reqBody)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode summary response: %w", err)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", ErrEmptySummary
	}

	return parsed.Choices[0].Message.Content, nil
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	return resp, nil
}
