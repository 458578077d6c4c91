package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// OpenAI voices used by the persona catalog.
const (
	VoiceAlloy   = "alloy"   // Neutral, balanced
	VoiceEcho    = "echo"    // Male, warm
	VoiceOnyx    = "onyx"    // Male, deep
	VoiceNova    = "nova"    // Female, warm and natural
	VoiceSage    = "sage"    // Calm, even
	VoiceShimmer = "shimmer" // Female, clear and bright
)

// pcmSampleRate is the sample rate of OpenAI's raw PCM response format,
// 16-bit little-endian mono. PCM is requested so the viseme driver can
// analyze the samples directly.
const pcmSampleRate = 24000

// OpenAIProvider implements TTS using OpenAI's speech API.
type OpenAIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
	config  *OpenAIConfig
}

// OpenAIConfig holds OpenAI TTS configuration
type OpenAIConfig struct {
	APIKey       string        `json:"api_key"`
	BaseURL      string        `json:"base_url"`
	Model        string        `json:"model"`
	DefaultVoice string        `json:"default_voice"`
	Timeout      time.Duration `json:"timeout"`
}

// DefaultOpenAIConfig returns sensible defaults
func DefaultOpenAIConfig() *OpenAIConfig {
	return &OpenAIConfig{
		BaseURL:      "https://api.openai.com/v1",
		Model:        "gpt-4o-mini-tts",
		DefaultVoice: VoiceAlloy,
		Timeout:      30 * time.Second,
	}
}

// NewOpenAIProvider creates a new OpenAI TTS provider
func NewOpenAIProvider(logger zerolog.Logger, config *OpenAIConfig) *OpenAIProvider {
	if config == nil {
		config = DefaultOpenAIConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	return &OpenAIProvider{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger.With().Str("provider", "openai-tts").Logger(),
		config:  config,
	}
}

// Name returns the provider identifier
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Available reports whether an API key is configured.
func (p *OpenAIProvider) Available() bool {
	return p.apiKey != ""
}

// openAITTSRequest is the request format for the OpenAI speech API
type openAITTSRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// Synthesize converts text to audio.
func (p *OpenAIProvider) Synthesize(ctx context.Context, req *SynthesizeRequest) (*SynthesizeResponse, error) {
	if p.apiKey == "" {
		return nil, ErrProviderUnavailable
	}

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyText
	}

	startTime := time.Now()

	voice := req.Voice
	if voice == "" {
		voice = p.config.DefaultVoice
	}

	ttsReq := openAITTSRequest{
		Model:          p.config.Model,
		Input:          buildSSML(text, req.Rate, req.Pitch, req.Style),
		Voice:          voice,
		ResponseFormat: "pcm",
	}

	body, err := json.Marshal(ttsReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	p.logger.Debug().
		Str("voice", voice).
		Str("model", p.config.Model).
		Int("textLen", len(text)).
		Msg("Sending TTS request")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("speech API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}

	duration := time.Duration(len(audio)/2) * time.Second / pcmSampleRate

	p.logger.Debug().
		Int("bytes", len(audio)).
		Dur("duration", duration).
		Dur("took", time.Since(startTime)).
		Msg("TTS synthesis complete")

	return &SynthesizeResponse{
		Audio:          audio,
		Format:         "pcm",
		SampleRate:     pcmSampleRate,
		Duration:       duration,
		ProcessingTime: time.Since(startTime),
		Voice:          voice,
		Provider:       p.Name(),
	}, nil
}

// buildSSML wraps the text in a prosody element, with an optional emphasis
// level matching the original speech route.
func buildSSML(text, rate, pitch, style string) string {
	if rate == "" {
		rate = "1.0"
	}
	if pitch == "" {
		pitch = "0%"
	}
	if style != "" {
		return fmt.Sprintf(`<speak><prosody rate="%s" pitch="%s"><emphasis level="%s">%s</emphasis></prosody></speak>`,
			rate, pitch, style, text)
	}
	return fmt.Sprintf(`<speak><prosody rate="%s" pitch="%s">%s</prosody></speak>`, rate, pitch, text)
}
