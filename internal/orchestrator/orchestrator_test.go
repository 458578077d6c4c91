package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachvisio/coachvisio/internal/ai"
	"github.com/coachvisio/coachvisio/internal/bus"
	"github.com/coachvisio/coachvisio/internal/persona"
	"github.com/coachvisio/coachvisio/internal/timer"
)

// fakeStreamer replays scripted chunks, or fails with err. release, when
// set, holds the stream open until closed.
type fakeStreamer struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	release chan struct{}
	prompts []string
}

func (f *fakeStreamer) StreamReply(_ context.Context, _ persona.Persona, prompt string, onDelta func(string)) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}
	if f.err != nil {
		return "", f.err
	}
	var sb strings.Builder
	for _, c := range f.chunks {
		sb.WriteString(c)
		onDelta(c)
	}
	return sb.String(), nil
}

type fakeSummarizer struct {
	mu      sync.Mutex
	calls   int
	summary string
	err     error
}

func (f *fakeSummarizer) Summarize(_ context.Context, _ []ai.TranscriptEntry) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func (f *fakeSummarizer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recorder struct {
	mu     sync.Mutex
	events []bus.Event
}

func (r *recorder) record(e bus.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) ofType(t bus.EventType) []bus.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bus.Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestOrchestrator(streamer Streamer, summarizer Summarizer) (*Orchestrator, *timer.Timer, *bus.Bus, *recorder) {
	events := bus.New()
	rec := &recorder{}
	events.SubscribeMultiple([]bus.EventType{
		bus.EventUserMessage, bus.EventAssistantDelta, bus.EventAssistantDone,
		bus.EventErrorMessage, bus.EventSummaryReady, bus.EventSessionReset,
	}, rec.record)

	tm := timer.New(time.Minute, timer.WithTick(time.Hour))
	o := New(events, tm, streamer, summarizer, nil, nil, zerolog.Nop())
	return o, tm, events, rec
}

func TestSubmitTurn_StreamsInOrder(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"Bonj", "our", ", ça va?"}}
	o, tm, _, rec := newTestOrchestrator(streamer, &fakeSummarizer{})
	tm.Start()
	defer tm.Stop()

	require.NoError(t, o.SubmitTurn(context.Background(), "Bonjour"))

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "Bonjour", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Bonjour, ça va?", msgs[1].Content)

	deltas := rec.ofType(bus.EventAssistantDelta)
	require.Len(t, deltas, 3)
	assert.Equal(t, "Bonj", deltas[0].Data["delta"])
	assert.Equal(t, "our", deltas[1].Data["delta"])
	assert.Equal(t, ", ça va?", deltas[2].Data["delta"])

	done := rec.ofType(bus.EventAssistantDone)
	require.Len(t, done, 1)
	assert.Equal(t, "Bonjour, ça va?", done[0].Data["content"])
}

func TestSubmitTurn_RequiresRunningTimer(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(&fakeStreamer{}, &fakeSummarizer{})

	err := o.SubmitTurn(context.Background(), "Bonjour")
	assert.ErrorIs(t, err, ErrSessionNotRunning)
	assert.Empty(t, o.Messages())
}

func TestSubmitTurn_EmptyInputIgnored(t *testing.T) {
	o, tm, _, _ := newTestOrchestrator(&fakeStreamer{}, &fakeSummarizer{})
	tm.Start()
	defer tm.Stop()

	require.NoError(t, o.SubmitTurn(context.Background(), "   "))
	assert.Empty(t, o.Messages())
}

func TestSubmitTurn_SingleInFlight(t *testing.T) {
	release := make(chan struct{})
	streamer := &fakeStreamer{chunks: []string{"ok"}, release: release}
	o, tm, _, _ := newTestOrchestrator(streamer, &fakeSummarizer{})
	tm.Start()
	defer tm.Stop()

	first := make(chan error, 1)
	go func() { first <- o.SubmitTurn(context.Background(), "premier") }()

	// Wait until the first turn holds the in-flight flag.
	require.Eventually(t, func() bool {
		streamer.mu.Lock()
		defer streamer.mu.Unlock()
		return len(streamer.prompts) == 1
	}, time.Second, time.Millisecond)

	err := o.SubmitTurn(context.Background(), "deuxième")
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(release)
	require.NoError(t, <-first)

	// Exactly one user message and one assistant message.
	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "premier", msgs[0].Content)
}

func TestSubmitTurn_StatusErrorBecomesErrorMessage(t *testing.T) {
	streamer := &fakeStreamer{err: &ai.StatusError{Code: 500}}
	o, tm, _, rec := newTestOrchestrator(streamer, &fakeSummarizer{})
	tm.Start()
	defer tm.Stop()

	err := o.SubmitTurn(context.Background(), "Bonjour")
	require.Error(t, err)

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleError, msgs[1].Role)
	assert.Equal(t, "[Erreur 500] Impossible de générer la réponse.", msgs[1].Content)
	require.Len(t, rec.ofType(bus.EventErrorMessage), 1)

	// A failed turn releases the in-flight flag.
	streamer.err = nil
	streamer.chunks = []string{"reprise"}
	require.NoError(t, o.SubmitTurn(context.Background(), "Encore"))
}

func TestSubmitTurn_TransportErrorBecomesNetworkMessage(t *testing.T) {
	streamer := &fakeStreamer{err: errors.New("connection refused")}
	o, tm, _, _ := newTestOrchestrator(streamer, &fakeSummarizer{})
	tm.Start()
	defer tm.Stop()

	require.Error(t, o.SubmitTurn(context.Background(), "Bonjour"))

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleError, msgs[1].Role)
	assert.Equal(t, "[Erreur réseau] Impossible de contacter le serveur.", msgs[1].Content)
}

func TestHandleSilence_NoVisibleUserMessage(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"Vous êtes toujours là ?"}}
	o, tm, _, rec := newTestOrchestrator(streamer, &fakeSummarizer{})
	tm.Start()
	defer tm.Stop()

	o.HandleSilence(context.Background())

	msgs := o.Messages()
	require.Len(t, msgs, 1, "only the assistant reply is visible")
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Empty(t, rec.ofType(bus.EventUserMessage))

	streamer.mu.Lock()
	defer streamer.mu.Unlock()
	require.Len(t, streamer.prompts, 1)
	assert.Equal(t, "L'utilisateur reste silencieux depuis 10 secondes.", streamer.prompts[0])
}

func TestHandleSilence_ErrorUsesRelanceText(t *testing.T) {
	streamer := &fakeStreamer{err: &ai.StatusError{Code: 503}}
	o, tm, _, _ := newTestOrchestrator(streamer, &fakeSummarizer{})
	tm.Start()
	defer tm.Stop()

	o.HandleSilence(context.Background())

	msgs := o.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "[Erreur 503] Impossible de relancer la conversation.", msgs[0].Content)
}

func TestHandleSilence_IgnoredOutsideRunningSession(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"?"}}
	o, _, _, _ := newTestOrchestrator(streamer, &fakeSummarizer{})

	o.HandleSilence(context.Background())
	assert.Empty(t, o.Messages())
}

func TestFinishSession_ExactlyOnce(t *testing.T) {
	summarizer := &fakeSummarizer{summary: "### Forces observées\n- clarté"}
	o, tm, _, rec := newTestOrchestrator(&fakeStreamer{chunks: []string{"ok"}}, summarizer)
	tm.Start()
	require.NoError(t, o.SubmitTurn(context.Background(), "Bonjour"))
	tm.Stop()

	o.FinishSession(context.Background(), 60)
	o.FinishSession(context.Background(), 60)
	o.FinishSession(context.Background(), 60)

	assert.Equal(t, 1, summarizer.callCount(), "summary must generate exactly once")

	summary, ok := o.Summary()
	require.True(t, ok)
	assert.Contains(t, summary, "Forces observées")

	ready := rec.ofType(bus.EventSummaryReady)
	require.Len(t, ready, 1)
	assert.Equal(t, 60, ready[0].Data["durationSeconds"])
	assert.Equal(t, string(persona.DefaultID), ready[0].Data["persona"])
}

func TestFinishSession_ConcurrentCallsSingleSummary(t *testing.T) {
	summarizer := &fakeSummarizer{summary: "bilan"}
	o, _, _, _ := newTestOrchestrator(&fakeStreamer{}, summarizer)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.FinishSession(context.Background(), 42)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, summarizer.callCount())
}

func TestFinishSession_ErrorAppendsMessage(t *testing.T) {
	summarizer := &fakeSummarizer{err: &ai.StatusError{Code: 500}}
	o, _, _, rec := newTestOrchestrator(&fakeStreamer{}, summarizer)

	o.FinishSession(context.Background(), 30)

	msgs := o.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleError, msgs[0].Role)
	assert.Equal(t, "[Erreur 500] Impossible de générer la synthèse.", msgs[0].Content)
	assert.Empty(t, rec.ofType(bus.EventSummaryReady))

	// A failed summary still counts as done; no silent retry.
	o.FinishSession(context.Background(), 30)
	assert.Equal(t, 1, summarizer.callCount())
}

func TestClear_ResetsEverything(t *testing.T) {
	summarizer := &fakeSummarizer{summary: "bilan"}
	o, tm, _, rec := newTestOrchestrator(&fakeStreamer{chunks: []string{"ok"}}, summarizer)
	tm.Start()
	require.NoError(t, o.SubmitTurn(context.Background(), "Bonjour"))
	tm.Stop()
	o.FinishSession(context.Background(), 60)

	o.Clear()

	assert.Empty(t, o.Messages())
	_, ok := o.Summary()
	assert.False(t, ok)
	assert.Equal(t, timer.StateIdle, tm.State())
	require.Len(t, rec.ofType(bus.EventSessionReset), 1)

	// A fresh session can summarize again.
	o.FinishSession(context.Background(), 10)
	assert.Equal(t, 2, summarizer.callCount())
}

func TestSetPersona(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(&fakeStreamer{}, &fakeSummarizer{})

	o.SetPersona(persona.Client)
	assert.Equal(t, persona.Client, o.Persona().ID)

	// Unknown ids resolve to the default upstream; SetPersona itself takes
	// a valid id.
	o.SetPersona(persona.Conflit)
	assert.Equal(t, persona.Conflit, o.Persona().ID)
}

func TestEndToEnd_ShortSession(t *testing.T) {
	streamer := &fakeStreamer{chunks: []string{"Très bien, ", "continuons."}}
	summarizer := &fakeSummarizer{summary: fmt.Sprintf("### Forces observées\nFace au %s, bonne écoute.", persona.Get(persona.DefaultID).Label)}

	events := bus.New()
	rec := &recorder{}
	events.SubscribeMultiple([]bus.EventType{bus.EventSummaryReady}, rec.record)

	tm := timer.New(200*time.Millisecond, timer.WithTick(5*time.Millisecond))
	o := New(events, tm, streamer, summarizer, nil, nil, zerolog.Nop())

	finished := make(chan int, 2)
	tm.OnStop(func(elapsed int) {
		o.FinishSession(context.Background(), elapsed)
		finished <- elapsed
	})

	tm.Start()
	require.NoError(t, o.SubmitTurn(context.Background(), "Bonjour"))

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("session never expired")
	}

	summary, ok := o.Summary()
	require.True(t, ok)
	assert.Contains(t, summary, persona.Get(persona.DefaultID).Label)
	require.Len(t, rec.ofType(bus.EventSummaryReady), 1)
}
