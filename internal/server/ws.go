package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/coachvisio/coachvisio/internal/bus"
	"github.com/coachvisio/coachvisio/internal/orchestrator"
	"github.com/coachvisio/coachvisio/internal/persona"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 45 * time.Second

	// Mouth-weight frames arrive at animation rate; a slow client drops
	// frames instead of stalling the bus.
	wsSendBuffer = 128
)

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// wsHub fans bus events out to every connected frontend.
type wsHub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	logger  zerolog.Logger
}

func newWSHub(logger zerolog.Logger) *wsHub {
	return &wsHub{
		clients: make(map[*wsClient]struct{}),
		logger:  logger,
	}
}

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

// broadcast is the bus handler: it serializes the event once and offers it to
// every client without blocking.
func (h *wsHub) broadcast(event bus.Event) {
	payload, err := json.Marshal(map[string]any{
		"type": event.Type,
		"data": event.Data,
	})
	if err != nil {
		return
	}

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Drop for slow consumers.
		}
	}
	h.mu.Unlock()
}

type wsCommand struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Persona string `json:"persona,omitempty"`
}

// handleWS upgrades the connection and bridges it to the session: outbound
// bus events as JSON text frames, inbound commands as JSON text frames and
// microphone audio as binary frames.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
	}
	s.hub.add(client)
	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("session client connected")

	go s.writePump(client)
	s.readPump(client)
}

func (s *Server) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readPump(c *wsClient) {
	defer func() {
		s.hub.remove(c)
		_ = c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		kind, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("websocket read failed")
			}
			return
		}

		switch kind {
		case websocket.BinaryMessage:
			// Microphone audio segment for dictation.
			if s.mic != nil {
				s.mic.Push(payload)
			}
		case websocket.TextMessage:
			var cmd wsCommand
			if err := json.Unmarshal(payload, &cmd); err != nil {
				s.logger.Debug().Err(err).Msg("bad websocket command")
				continue
			}
			s.dispatch(cmd)
		}
	}
}

func (s *Server) dispatch(cmd wsCommand) {
	switch cmd.Type {
	case "timer.start":
		if s.budget.Exhausted() {
			s.events.Publish(bus.Event{Type: bus.EventErrorMessage, Data: map[string]any{
				"content": "Temps de simulation épuisé.",
			}})
			return
		}
		s.timer.Start()
	case "timer.pause":
		s.timer.Pause()
	case "timer.stop":
		s.timer.Stop()
	case "session.reset":
		s.orch.Clear()
	case "persona.select":
		s.orch.SetPersona(persona.Resolve(cmd.Persona).ID)
	case "turn.submit":
		go func() {
			err := s.orch.SubmitTurn(context.Background(), cmd.Text)
			if err != nil && (errors.Is(err, orchestrator.ErrSessionNotRunning) || errors.Is(err, orchestrator.ErrTurnInFlight)) {
				s.logger.Debug().Err(err).Msg("turn rejected")
			}
		}()
	case "dictation.start":
		s.dict.Activate()
	case "dictation.stop":
		s.dict.Deactivate()
	default:
		s.logger.Debug().Str("type", cmd.Type).Msg("unknown websocket command")
	}
}
