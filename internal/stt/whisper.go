package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// WhisperRecognizer transcribes captured speech segments with OpenAI's
// transcription API. Each Start yields a session that consumes segments from
// the configured Source until the source closes, the session is stopped, or
// an empty transcription ends it with ErrNoSpeech.
type WhisperRecognizer struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
	config  *WhisperConfig
	source  Source
}

// WhisperConfig holds transcription configuration
type WhisperConfig struct {
	APIKey   string        `json:"api_key"`
	BaseURL  string        `json:"base_url"`
	Model    string        `json:"model"`
	Language string        `json:"language"` // ISO-639-1, e.g. "fr"
	Timeout  time.Duration `json:"timeout"`
}

// DefaultWhisperConfig returns sensible defaults
func DefaultWhisperConfig() *WhisperConfig {
	return &WhisperConfig{
		BaseURL:  "https://api.openai.com/v1",
		Model:    "whisper-1",
		Language: "fr",
		Timeout:  30 * time.Second,
	}
}

// NewWhisperRecognizer creates a recognizer reading segments from source.
func NewWhisperRecognizer(logger zerolog.Logger, config *WhisperConfig, source Source) *WhisperRecognizer {
	if config == nil {
		config = DefaultWhisperConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	return &WhisperRecognizer{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(config.BaseURL, "/"),
		client:  &http.Client{Timeout: config.Timeout},
		logger:  logger.With().Str("provider", "whisper").Logger(),
		config:  config,
		source:  source,
	}
}

// Name returns the provider identifier
func (r *WhisperRecognizer) Name() string {
	return "whisper"
}

// Available reports whether recognition can run at all.
func (r *WhisperRecognizer) Available() bool {
	return r.apiKey != "" && r.source != nil
}

// Start begins a continuous recognition session.
func (r *WhisperRecognizer) Start(ctx context.Context) (Session, error) {
	if !r.Available() {
		return nil, ErrUnavailable
	}

	s := &whisperSession{
		results: make(chan Result),
		stop:    make(chan struct{}),
	}
	go s.run(ctx, r)
	return s, nil
}

type whisperSession struct {
	results  chan Result
	stop     chan struct{}
	stopOnce sync.Once

	mu  sync.Mutex
	err error
}

func (s *whisperSession) Results() <-chan Result { return s.results }

func (s *whisperSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *whisperSession) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *whisperSession) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *whisperSession) run(ctx context.Context, r *WhisperRecognizer) {
	defer close(s.results)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case segment, ok := <-r.source.Segments():
			if !ok {
				// Source closed: natural end of the session.
				return
			}

			text, err := r.transcribe(ctx, segment)
			if err != nil {
				s.fail(err)
				return
			}
			if strings.TrimSpace(text) == "" {
				s.fail(ErrNoSpeech)
				return
			}

			select {
			case s.results <- Result{Text: strings.TrimSpace(text), Final: true}:
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// transcriptionResponse is the API response format
type transcriptionResponse struct {
	Text string `json:"text"`
}

func (r *WhisperRecognizer) transcribe(ctx context.Context, audio []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "speech.wav")
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	_ = writer.WriteField("model", r.config.Model)
	if r.config.Language != "" {
		_ = writer.WriteField("language", r.config.Language)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("transcription API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var parsed transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	r.logger.Debug().
		Int("bytes", len(audio)).
		Dur("took", time.Since(start)).
		Msg("Segment transcribed")

	return parsed.Text, nil
}
