// Package orchestrator drives a simulated interview session: it owns the
// message history, submits conversational turns to the AI backend, speaks the
// replies, reacts to dictation silence, and produces the end-of-session
// summary exactly once.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/coachvisio/coachvisio/internal/ai"
	"github.com/coachvisio/coachvisio/internal/audio"
	"github.com/coachvisio/coachvisio/internal/bus"
	"github.com/coachvisio/coachvisio/internal/persona"
	"github.com/coachvisio/coachvisio/internal/timer"
	"github.com/coachvisio/coachvisio/internal/tts"
	"github.com/coachvisio/coachvisio/internal/viseme"
)

// Role classifies transcript entries.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

// Message is one transcript entry. An in-flight assistant message starts with
// empty content and only ever grows, until it is finalized or converted to an
// error.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

var (
	// ErrSessionNotRunning gates turns outside a running countdown.
	ErrSessionNotRunning = errors.New("session timer is not running")

	// ErrTurnInFlight rejects a second turn while one is still streaming.
	ErrTurnInFlight = errors.New("a turn is already in flight")
)

const silencePrompt = "L'utilisateur reste silencieux depuis 10 secondes."

// Streamer produces an assistant reply as an ordered stream of text deltas.
type Streamer interface {
	StreamReply(ctx context.Context, p persona.Persona, lastUserMessage string, onDelta func(string)) (string, error)
}

// Summarizer turns a session transcript into the written debrief.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []ai.TranscriptEntry) (string, error)
}

// Orchestrator is the conversational state machine for one session.
type Orchestrator struct {
	mu     sync.Mutex
	logger zerolog.Logger

	events     *bus.Bus
	timer      *timer.Timer
	streamer   Streamer
	summarizer Summarizer
	speaker    tts.Provider
	driver     *viseme.Driver

	persona  persona.Persona
	messages []Message

	inFlight        bool
	summaryDone     bool
	summaryInFlight bool
	summary         string

	playback      *audio.Playback
	speechHandled chan struct{}
}

// New wires an orchestrator. speaker and driver may be nil; replies are then
// text-only.
func New(events *bus.Bus, t *timer.Timer, streamer Streamer, summarizer Summarizer, speaker tts.Provider, driver *viseme.Driver, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		events:     events,
		timer:      t,
		streamer:   streamer,
		summarizer: summarizer,
		speaker:    speaker,
		driver:     driver,
		persona:    persona.Get(persona.DefaultID),
	}
}

// SetPersona selects the interlocutor for the session. Ignored while a turn
// is streaming.
func (o *Orchestrator) SetPersona(id persona.ID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight {
		return
	}
	o.persona = persona.Get(id)
}

// Persona returns the active interlocutor.
func (o *Orchestrator) Persona() persona.Persona {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.persona
}

// Messages returns a copy of the transcript.
func (o *Orchestrator) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Summary returns the generated debrief, if any.
func (o *Orchestrator) Summary() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.summary, o.summaryDone && o.summary != ""
}

// SubmitTurn sends a user message and streams the assistant reply into the
// transcript. It blocks until the stream completes; the spoken rendition of
// the reply then proceeds asynchronously. Failures are surfaced as an
// error-role transcript entry rather than retried.
func (o *Orchestrator) SubmitTurn(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	o.mu.Lock()
	if o.timer.State() != timer.StateRunning {
		o.mu.Unlock()
		return ErrSessionNotRunning
	}
	if o.inFlight {
		o.mu.Unlock()
		return ErrTurnInFlight
	}
	o.inFlight = true

	user := Message{ID: uuid.NewString(), Role: RoleUser, Content: text}
	o.messages = append(o.messages, user)
	o.mu.Unlock()

	o.events.Publish(bus.Event{Type: bus.EventUserMessage, Data: map[string]any{
		"id":      user.ID,
		"content": user.Content,
	}})

	return o.streamTurn(ctx, text,
		"[Erreur %d] Impossible de générer la réponse.",
		"[Erreur réseau] Impossible de contacter le serveur.")
}

// HandleSilence reacts to the dictation silence callback: it prompts the
// assistant with a synthetic message so the conversation re-engages, without
// adding a visible user entry. Called outside a running session or while a
// turn is in flight it does nothing.
func (o *Orchestrator) HandleSilence(ctx context.Context) {
	o.mu.Lock()
	if o.timer.State() != timer.StateRunning || o.inFlight {
		o.mu.Unlock()
		return
	}
	o.inFlight = true
	o.mu.Unlock()

	o.logger.Debug().Msg("silence detected, prompting assistant")
	if err := o.streamTurn(ctx, silencePrompt,
		"[Erreur %d] Impossible de relancer la conversation.",
		"[Erreur réseau] Impossible de relancer la conversation."); err != nil {
		o.logger.Warn().Err(err).Msg("silence re-prompt failed")
	}
}

// streamTurn appends the placeholder assistant message, consumes the delta
// stream and finalizes or errors the placeholder. The in-flight flag must be
// held by the caller; streamTurn releases it.
func (o *Orchestrator) streamTurn(ctx context.Context, prompt, statusFormat, transportText string) error {
	o.mu.Lock()
	p := o.persona
	placeholder := Message{ID: uuid.NewString(), Role: RoleAssistant}
	o.messages = append(o.messages, placeholder)
	idx := len(o.messages) - 1
	o.mu.Unlock()

	final, err := o.streamer.StreamReply(ctx, p, prompt, func(delta string) {
		o.mu.Lock()
		if !o.holdsLocked(idx, placeholder.ID) {
			o.mu.Unlock()
			return
		}
		o.messages[idx].Content += delta
		o.mu.Unlock()
		o.events.Publish(bus.Event{Type: bus.EventAssistantDelta, Data: map[string]any{
			"id":    placeholder.ID,
			"delta": delta,
		}})
	})

	o.mu.Lock()
	o.inFlight = false
	if !o.holdsLocked(idx, placeholder.ID) {
		// The session was reset while the stream was in flight.
		o.mu.Unlock()
		return err
	}
	if err != nil {
		content := errorText(err, statusFormat, transportText)
		o.messages[idx].Role = RoleError
		o.messages[idx].Content = content
		o.mu.Unlock()
		o.logger.Error().Err(err).Msg("assistant turn failed")
		o.events.Publish(bus.Event{Type: bus.EventErrorMessage, Data: map[string]any{
			"id":      placeholder.ID,
			"content": content,
		}})
		return err
	}
	o.messages[idx].Content = final
	voice := p.Voice
	o.mu.Unlock()

	o.events.Publish(bus.Event{Type: bus.EventAssistantDone, Data: map[string]any{
		"id":      placeholder.ID,
		"content": final,
	}})

	go o.speak(final, voice)
	return nil
}

// speak synthesizes and plays the reply, attaching the viseme driver for the
// duration of the playback. Speech failures are logged only; the text reply
// already stands.
func (o *Orchestrator) speak(text, voice string) {
	if o.speaker == nil || !o.speaker.Available() {
		return
	}

	resp, err := o.speaker.Synthesize(context.Background(), &tts.SynthesizeRequest{
		Text:  text,
		Voice: voice,
	})
	if err != nil {
		o.logger.Warn().Err(err).Msg("speech synthesis failed")
		return
	}

	pb := audio.NewPlayback(resp.Audio, resp.SampleRate)

	o.mu.Lock()
	prev, prevHandled := o.playback, o.speechHandled
	handled := make(chan struct{})
	o.playback, o.speechHandled = pb, handled
	o.mu.Unlock()

	// Let the previous playback finish its ended notification before the
	// new started one, so started/ended always pair up in order.
	if prev != nil {
		prev.Stop()
		<-prevHandled
	}

	o.events.Publish(bus.Event{Type: bus.EventSpeakingStarted, Data: map[string]any{
		"duration_ms": resp.Duration.Milliseconds(),
	}})
	if o.driver != nil {
		o.driver.Attach(pb)
	}
	pb.Play()

	go func() {
		<-pb.Done()
		if o.driver != nil {
			o.driver.Detach()
		}
		o.events.Publish(bus.Event{Type: bus.EventSpeakingEnded, Data: nil})
		close(handled)
	}()
}

// StopSpeech interrupts any playing reply and waits for its ended
// notification.
func (o *Orchestrator) StopSpeech() {
	o.mu.Lock()
	pb, handled := o.playback, o.speechHandled
	o.playback, o.speechHandled = nil, nil
	o.mu.Unlock()

	if pb != nil {
		pb.Stop()
		<-handled
	}
}

// FinishSession generates the end-of-session summary, exactly once per
// session: repeated finished notifications while a summary is in flight or
// already produced are ignored. elapsedSeconds is the total session length
// reported by the timer.
func (o *Orchestrator) FinishSession(ctx context.Context, elapsedSeconds int) {
	o.mu.Lock()
	if o.summaryDone || o.summaryInFlight {
		o.mu.Unlock()
		return
	}
	o.summaryInFlight = true
	transcript := make([]ai.TranscriptEntry, 0, len(o.messages))
	for _, m := range o.messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		transcript = append(transcript, ai.TranscriptEntry{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	p := o.persona
	o.mu.Unlock()

	summary, err := o.summarizer.Summarize(ctx, transcript)

	o.mu.Lock()
	o.summaryInFlight = false
	o.summaryDone = true
	if err != nil {
		content := errorText(err,
			"[Erreur %d] Impossible de générer la synthèse.",
			"[Erreur réseau] Impossible de générer la synthèse.")
		o.messages = append(o.messages, Message{ID: uuid.NewString(), Role: RoleError, Content: content})
		o.mu.Unlock()
		o.logger.Error().Err(err).Msg("summary generation failed")
		o.events.Publish(bus.Event{Type: bus.EventErrorMessage, Data: map[string]any{
			"content": content,
		}})
		return
	}
	o.summary = summary
	o.mu.Unlock()

	o.logger.Info().Str("persona", string(p.ID)).Int("elapsed_s", elapsedSeconds).Msg("summary ready")
	o.events.Publish(bus.Event{Type: bus.EventSummaryReady, Data: map[string]any{
		"summary":         summary,
		"persona":         string(p.ID),
		"personaLabel":    p.Label,
		"durationSeconds": elapsedSeconds,
	}})
}

// Clear returns the orchestrator to its initial state: empty transcript,
// idle timer, no summary, nothing speaking.
func (o *Orchestrator) Clear() {
	o.StopSpeech()

	o.mu.Lock()
	o.messages = nil
	o.inFlight = false
	o.summaryDone = false
	o.summaryInFlight = false
	o.summary = ""
	o.mu.Unlock()

	o.timer.Reset()
	o.events.Publish(bus.Event{Type: bus.EventSessionReset, Data: nil})
}

// holdsLocked reports whether the transcript still contains the placeholder
// at idx, i.e. the session was not reset under a live stream.
func (o *Orchestrator) holdsLocked(idx int, id string) bool {
	return idx < len(o.messages) && o.messages[idx].ID == id
}

// errorText converts a turn failure into the transcript entry shown to the
// user: HTTP failures carry the status code, everything else reads as a
// network error.
func errorText(err error, statusFormat, transportText string) string {
	var se *ai.StatusError
	if errors.As(err, &se) {
		return fmt.Sprintf(statusFormat, se.Code)
	}
	return transportText
}
