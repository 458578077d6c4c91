package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coachvisio/coachvisio/internal/ai"
	"github.com/coachvisio/coachvisio/internal/audio"
	"github.com/coachvisio/coachvisio/internal/persona"
	"github.com/coachvisio/coachvisio/internal/report"
	"github.com/coachvisio/coachvisio/internal/tts"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleLogin checks the fixed credential pair and sets the session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Redirect(w, r, "/login?error=1", http.StatusSeeOther)
		return
	}

	user := r.PostFormValue("identifiant")
	pass := r.PostFormValue("motdepasse")
	if user != s.cfg.Auth.Username || pass != s.cfg.Auth.Password {
		http.Redirect(w, r, "/login?error=1", http.StatusSeeOther)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.cfg.Auth.CookieName,
		Value:    "active",
		Path:     "/",
		MaxAge:   60 * 60 * 24,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type chatBody struct {
	Persona         string `json:"persona"`
	LastUserMessage string `json:"lastUserMessage"`
}

// handleChat streams the assistant reply as raw text chunks.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if !s.ai.Available() {
		http.Error(w, "OPENAI_API_KEY manquant côté serveur.", http.StatusInternalServerError)
		return
	}

	var body chatBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Corps de requête invalide (JSON).", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.LastUserMessage) == "" {
		http.Error(w, "Message utilisateur manquant.", http.StatusBadRequest)
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")

	started := false
	_, err := s.ai.StreamReply(r.Context(), persona.Resolve(body.Persona), body.LastUserMessage, func(delta string) {
		started = true
		_, _ = io.WriteString(w, delta)
		if flusher != nil {
			flusher.Flush()
		}
	})
	if err != nil && !started {
		var se *ai.StatusError
		if errors.As(err, &se) {
			http.Error(w, "Erreur côté modèle.", se.Code)
			return
		}
		http.Error(w, "Erreur côté modèle.", http.StatusBadGateway)
		return
	}
	if err != nil {
		// The stream broke mid-reply; nothing more to send.
		s.logger.Warn().Err(err).Msg("chat stream interrupted")
	}
}

type summaryBody struct {
	Transcript []ai.TranscriptEntry `json:"transcript"`
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var body summaryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Transcript == nil {
		http.Error(w, "Transcript invalide", http.StatusBadRequest)
		return
	}

	summary, err := s.ai.Summarize(r.Context(), body.Transcript)
	if errors.Is(err, ai.ErrEmptySummary) {
		writeJSON(w, http.StatusOK, map[string]string{"summary": "⚠️ Aucune synthèse produite."})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"summary": "⚠️ Erreur côté serveur : " + err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

type speechBody struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Rate  string `json:"rate"`
	Pitch string `json:"pitch"`
	Style string `json:"style"`
}

// handleSpeech synthesizes speech and returns it as a WAV payload.
func (s *Server) handleSpeech(w http.ResponseWriter, r *http.Request) {
	if s.speaker == nil || !s.speaker.Available() {
		http.Error(w, "OPENAI_API_KEY manquant côté serveur.", http.StatusInternalServerError)
		return
	}

	var body speechBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Corps de requête invalide (JSON).", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Text) == "" {
		http.Error(w, "Texte à convertir manquant.", http.StatusBadRequest)
		return
	}

	resp, err := s.speaker.Synthesize(r.Context(), &tts.SynthesizeRequest{
		Text:  body.Text,
		Voice: body.Voice,
		Rate:  body.Rate,
		Pitch: body.Pitch,
		Style: body.Style,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("Erreur côté modèle: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	_, _ = w.Write(audio.WAVFromPCM16(resp.Audio, resp.SampleRate, 1))
}

func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"personas": persona.All()})
}

// handlePersonaGet resolves one catalog entry; unknown ids fall back to the
// default persona rather than 404, matching form handling elsewhere.
func (s *Server) handlePersonaGet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"persona": persona.Resolve(chi.URLParam(r, "id"))})
}

// handleSession returns a snapshot for frontend reconnects.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	summary, _ := s.orch.Summary()
	writeJSON(w, http.StatusOK, map[string]any{
		"timerState":       s.timer.State(),
		"remainingSeconds": s.timer.RemainingSeconds(),
		"budgetSeconds":    int(s.budget.Remaining().Seconds()),
		"persona":          s.orch.Persona().ID,
		"messages":         s.orch.Messages(),
		"summary":          summary,
		"dictationActive":  s.dict.Active(),
	})
}

func (s *Server) handleReportsList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"reports": s.reports.List()})
}

// handleReportsCreate stores a client-provided PDF with its metadata.
func (s *Server) handleReportsCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Fichier manquant"})
		return
	}

	personaID := r.FormValue("persona")
	if !persona.IsID(personaID) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Persona invalide"})
		return
	}

	durationSeconds, err := strconv.Atoi(r.FormValue("durationSeconds"))
	if err != nil || durationSeconds < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Durée invalide"})
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Fichier manquant"})
		return
	}
	defer file.Close()

	pdf, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Fichier manquant"})
		return
	}

	fileName := strings.TrimSpace(r.FormValue("fileName"))
	if fileName == "" {
		fileName = header.Filename
	}
	if fileName == "" {
		fileName = report.FileName(time.Now(), int(s.seq.Add(1)), persona.ID(personaID))
	}

	rec, err := s.reports.Save(personaID, durationSeconds, fileName, pdf)
	if err != nil {
		s.logger.Error().Err(err).Msg("report save failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Enregistrement impossible"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"report": rec})
}

// handleReportGet serves a stored PDF, inline by default, as an attachment
// with ?download=1.
func (s *Server) handleReportGet(w http.ResponseWriter, r *http.Request) {
	rec, path, err := s.reports.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Rapport introuvable"})
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Rapport introuvable"})
		return
	}

	disposition := "inline"
	if r.URL.Query().Get("download") == "1" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, rec.FileName))
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}
