package dictation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coachvisio/coachvisio/internal/stt"
)

// fakeSession feeds scripted results and terminates with a chosen error.
type fakeSession struct {
	results chan stt.Result
	err     error
	stopped chan struct{}
	once    sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		results: make(chan stt.Result, 8),
		stopped: make(chan struct{}),
	}
}

func (s *fakeSession) Results() <-chan stt.Result { return s.results }
func (s *fakeSession) Err() error                 { return s.err }

func (s *fakeSession) Stop() {
	s.once.Do(func() {
		close(s.stopped)
		close(s.results)
	})
}

func (s *fakeSession) emit(text string) {
	s.results <- stt.Result{Text: text, Final: true}
}

func (s *fakeSession) end(err error) {
	s.err = err
	s.once.Do(func() {
		close(s.stopped)
		close(s.results)
	})
}

// fakeRecognizer hands out sessions in order and records each start.
type fakeRecognizer struct {
	mu        sync.Mutex
	sessions  []*fakeSession
	starts    []time.Time
	available bool
}

func (r *fakeRecognizer) Name() string    { return "fake" }
func (r *fakeRecognizer) Available() bool { return r.available }

func (r *fakeRecognizer) Start(context.Context) (stt.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := newFakeSession()
	r.sessions = append(r.sessions, sess)
	r.starts = append(r.starts, time.Now())
	return sess, nil
}

func (r *fakeRecognizer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *fakeRecognizer) session(i int) *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[i]
}

func testConfig() Config {
	return Config{
		SilenceWindow: 60 * time.Millisecond,
		RestartMin:    10 * time.Millisecond,
		RestartMax:    40 * time.Millisecond,
	}
}

func TestController_TranscriptForwarded(t *testing.T) {
	rec := &fakeRecognizer{available: true}
	c := New(rec, testConfig(), zerolog.Nop())
	defer c.Close()

	var mu sync.Mutex
	var got []string
	c.OnTranscript(func(text string) {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
	})

	c.Activate()
	require.True(t, c.Active())
	require.Equal(t, 1, rec.count())

	rec.session(0).emit("bonjour")
	rec.session(0).emit("je vous remercie")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2 && got[0] == "bonjour" && got[1] == "je vous remercie"
	}, time.Second, 5*time.Millisecond)
}

func TestController_SilenceRepeats(t *testing.T) {
	rec := &fakeRecognizer{available: true}
	c := New(rec, testConfig(), zerolog.Nop())
	defer c.Close()

	var fired sync.WaitGroup
	fired.Add(3)
	var mu sync.Mutex
	count := 0
	c.OnSilence(func() {
		mu.Lock()
		count++
		if count <= 3 {
			fired.Done()
		}
		mu.Unlock()
	})

	c.Activate()

	done := make(chan struct{})
	go func() { fired.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("silence callback did not repeat")
	}
}

func TestController_SilenceStopsOnDeactivate(t *testing.T) {
	rec := &fakeRecognizer{available: true}
	c := New(rec, testConfig(), zerolog.Nop())
	defer c.Close()

	var mu sync.Mutex
	count := 0
	c.OnSilence(func() {
		mu.Lock()
		count++
		mu.Unlock()
	})

	c.Activate()
	c.Deactivate()
	c.Deactivate() // idempotent

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "silence must not fire after deactivation")
}

func TestController_SuspendResumeForAssistantSpeech(t *testing.T) {
	rec := &fakeRecognizer{available: true}
	c := New(rec, testConfig(), zerolog.Nop())
	defer c.Close()

	c.Activate()
	require.Equal(t, 1, rec.count())

	c.HandleSpeakingStarted()
	assert.True(t, c.Active(), "speaking must not leave dictation mode")
	assert.True(t, c.Suspended())
	select {
	case <-rec.session(0).stopped:
	case <-time.After(time.Second):
		t.Fatal("capture session not stopped on speaking start")
	}

	// Repeated starts are no-ops.
	c.HandleSpeakingStarted()
	assert.Equal(t, 1, rec.count())

	c.HandleSpeakingEnded()
	assert.False(t, c.Suspended())
	require.Equal(t, 2, rec.count(), "capture must resume with a fresh session")

	// An end without a prior start is a no-op.
	c.HandleSpeakingEnded()
	assert.Equal(t, 2, rec.count())
}

func TestController_SpeakingEndedWithoutStartIsNoop(t *testing.T) {
	rec := &fakeRecognizer{available: true}
	c := New(rec, testConfig(), zerolog.Nop())
	defer c.Close()

	c.Activate()
	c.HandleSpeakingEnded()
	assert.Equal(t, 1, rec.count())
}

func TestController_RestartsAfterNaturalEnd(t *testing.T) {
	rec := &fakeRecognizer{available: true}
	c := New(rec, testConfig(), zerolog.Nop())
	defer c.Close()

	c.Activate()
	rec.session(0).end(nil)

	assert.Eventually(t, func() bool {
		return rec.count() >= 2
	}, time.Second, 5*time.Millisecond, "session must restart after a natural end")
}

func TestController_RestartsAfterNoSpeech(t *testing.T) {
	rec := &fakeRecognizer{available: true}
	c := New(rec, testConfig(), zerolog.Nop())
	defer c.Close()

	c.Activate()
	rec.session(0).end(stt.ErrNoSpeech)

	assert.Eventually(t, func() bool {
		return rec.count() >= 2
	}, time.Second, 5*time.Millisecond, "no-speech must restart, not deactivate")
	assert.True(t, c.Active())
}

func TestController_FatalErrorDeactivates(t *testing.T) {
	rec := &fakeRecognizer{available: true}
	c := New(rec, testConfig(), zerolog.Nop())
	defer c.Close()

	notices := make(chan string, 1)
	c.OnNotice(func(n string) { notices <- n })

	c.Activate()
	rec.session(0).end(context.DeadlineExceeded)

	select {
	case n := <-notices:
		assert.Equal(t, noticeInterrupted, n)
	case <-time.After(time.Second):
		t.Fatal("expected interruption notice")
	}
	assert.Eventually(t, func() bool { return !c.Active() }, time.Second, 5*time.Millisecond)
}

func TestController_UnavailableCapabilityNoticeOnce(t *testing.T) {
	rec := &fakeRecognizer{available: false}
	c := New(rec, testConfig(), zerolog.Nop())
	defer c.Close()

	var mu sync.Mutex
	var notices []string
	c.OnNotice(func(n string) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})

	c.Activate()
	c.Activate()
	c.Activate()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 1, "capability notice must show once")
	assert.Equal(t, noticeUnavailable, notices[0])
	assert.False(t, c.Active())
	assert.Equal(t, 0, rec.count())
}

func TestController_NilRecognizer(t *testing.T) {
	c := New(nil, testConfig(), zerolog.Nop())
	defer c.Close()

	notices := make(chan string, 1)
	c.OnNotice(func(n string) { notices <- n })

	c.Activate()
	select {
	case n := <-notices:
		assert.Equal(t, noticeUnavailable, n)
	case <-time.After(time.Second):
		t.Fatal("expected unavailable notice")
	}
	assert.False(t, c.Active())
}

func TestController_TranscriptResetsRestartBackoff(t *testing.T) {
	rec := &fakeRecognizer{available: true}
	cfg := testConfig()
	c := New(rec, cfg, zerolog.Nop())
	defer c.Close()

	c.Activate()

	// Two resultless endings double the debounce.
	rec.session(0).end(nil)
	assert.Eventually(t, func() bool { return rec.count() >= 2 }, time.Second, time.Millisecond)
	rec.session(1).end(nil)
	assert.Eventually(t, func() bool { return rec.count() >= 3 }, time.Second, time.Millisecond)

	// A result resets the delay to the floor.
	rec.session(2).emit("encore là")
	time.Sleep(10 * time.Millisecond)
	rec.session(2).end(nil)
	assert.Eventually(t, func() bool { return rec.count() >= 4 }, time.Second, time.Millisecond)
}
