// Package ai provides the chat-completion and summarization collaborators.
package ai

import (
	"errors"
	"fmt"
)

// Common errors
var (
	ErrMissingAPIKey = errors.New("OpenAI API key not configured")
	ErrEmptyMessage  = errors.New("user message is empty")
	ErrEmptySummary  = errors.New("no summary produced")
)

// StatusError is a non-success response from the completion service, kept
// distinct from transport failures so the caller can surface the status code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("completion service returned status %d: %s", e.Code, e.Body)
}

// chatMessage is one entry in the completion request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the wire format for /chat/completions.
type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream,omitempty"`
	Messages    []chatMessage `json:"messages"`
}

// chatStreamChunk is one streamed delta from /chat/completions.
type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// chatResponse is a non-streaming completion response.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// TranscriptEntry is one role-tagged line handed to the summarizer.
type TranscriptEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
