// Package server exposes the session over HTTP and websocket: REST routes
// mirroring the frontend's API surface, plus a websocket feed of bus events
// and inbound session commands.
package server

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coachvisio/coachvisio/internal/ai"
	"github.com/coachvisio/coachvisio/internal/bus"
	"github.com/coachvisio/coachvisio/internal/config"
	"github.com/coachvisio/coachvisio/internal/dictation"
	"github.com/coachvisio/coachvisio/internal/orchestrator"
	"github.com/coachvisio/coachvisio/internal/report"
	"github.com/coachvisio/coachvisio/internal/stt"
	"github.com/coachvisio/coachvisio/internal/timebudget"
	"github.com/coachvisio/coachvisio/internal/timer"
	"github.com/coachvisio/coachvisio/internal/tts"
)

// Server ties the session components to the HTTP surface.
type Server struct {
	logger zerolog.Logger
	cfg    *config.Config

	events  *bus.Bus
	ai      *ai.Client
	speaker tts.Provider
	orch    *orchestrator.Orchestrator
	timer   *timer.Timer
	dict    *dictation.Controller
	mic     *stt.ChannelSource
	reports *report.Store
	budget  *timebudget.Budget

	hub      *wsHub
	upgrader websocket.Upgrader
	srv      *http.Server
	seq      atomic.Int64
}

// Deps collects the collaborators the server routes to.
type Deps struct {
	Events  *bus.Bus
	AI      *ai.Client
	Speaker tts.Provider
	Orch    *orchestrator.Orchestrator
	Timer   *timer.Timer
	Dict    *dictation.Controller
	Mic     *stt.ChannelSource
	Reports *report.Store
	Budget  *timebudget.Budget
}

// New builds the server and subscribes its websocket hub to the bus.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	s := &Server{
		logger:  logger,
		cfg:     cfg,
		events:  deps.Events,
		ai:      deps.AI,
		speaker: deps.Speaker,
		orch:    deps.Orch,
		timer:   deps.Timer,
		dict:    deps.Dict,
		mic:     deps.Mic,
		reports: deps.Reports,
		budget:  deps.Budget,
		hub:     newWSHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Same-origin frontend only.
			CheckOrigin: sameOrigin,
		},
	}

	s.events.SubscribeMultiple([]bus.EventType{
		bus.EventTimerState, bus.EventTimerTick, bus.EventTimerStopped,
		bus.EventUserMessage, bus.EventAssistantDelta, bus.EventAssistantDone,
		bus.EventErrorMessage,
		bus.EventSpeakingStarted, bus.EventSpeakingEnded,
		bus.EventTranscript, bus.EventSilence, bus.EventDictationNotice,
		bus.EventMouthWeight,
		bus.EventSummaryReady, bus.EventSessionReset,
	}, s.hub.broadcast)

	s.srv = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Post("/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Route("/api", func(r chi.Router) {
			r.Post("/chat", s.handleChat)
			r.Post("/chat-summary", s.handleSummary)
			r.Post("/speech", s.handleSpeech)
			r.Get("/personas", s.handlePersonas)
			r.Get("/personas/{id}", s.handlePersonaGet)
			r.Get("/session", s.handleSession)
			r.Get("/reports", s.handleReportsList)
			r.Post("/reports", s.handleReportsCreate)
			r.Get("/reports/{id}", s.handleReportGet)
		})

		r.Get("/ws/session", s.handleWS)
	})

	return r
}

// sameOrigin accepts requests without an Origin header (non-browser clients)
// and browser requests whose Origin host matches the request host.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	return s.srv.ListenAndServe()
}

// Shutdown drains connections and closes the websocket hub.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
		next.ServeHTTP(w, r)
	})
}

// requireSession gates everything behind the single session cookie.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(s.cfg.Auth.CookieName)
		if err != nil || c.Value != "active" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Non authentifié"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
