// CoachVisio backend: a simulated spoken job-interview coach. It pairs a
// streaming AI interlocutor with speech synthesis, continuous dictation, a
// viseme-driven 3D avatar mouth and a timed session that ends in a written
// debrief.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/coachvisio/coachvisio/internal/ai"
	"github.com/coachvisio/coachvisio/internal/avatar"
	"github.com/coachvisio/coachvisio/internal/bus"
	"github.com/coachvisio/coachvisio/internal/config"
	"github.com/coachvisio/coachvisio/internal/dictation"
	"github.com/coachvisio/coachvisio/internal/logging"
	"github.com/coachvisio/coachvisio/internal/orchestrator"
	"github.com/coachvisio/coachvisio/internal/report"
	"github.com/coachvisio/coachvisio/internal/server"
	"github.com/coachvisio/coachvisio/internal/stt"
	"github.com/coachvisio/coachvisio/internal/timebudget"
	"github.com/coachvisio/coachvisio/internal/timer"
	"github.com/coachvisio/coachvisio/internal/tts"
	"github.com/coachvisio/coachvisio/internal/viseme"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "coachvisio:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.LogDir = cfg.LogDir
	logs, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logs.Close()

	events := bus.New()

	// Avatar model; a missing asset degrades to a mouthless avatar rather
	// than failing startup.
	avatarLog := logs.Component("avatar")
	model, err := avatar.Load(cfg.Avatar.ModelPath, cfg.Avatar.MouthTarget, avatarLog)
	if err != nil {
		avatarLog.Warn().Err(err).Str("path", cfg.Avatar.ModelPath).Msg("avatar model unavailable")
		model = avatar.Empty(avatarLog)
	}

	driver := viseme.New(model, events, viseme.Config{
		FFTSize:    cfg.Viseme.FFTSize,
		BandLowHz:  cfg.Viseme.BandLowHz,
		BandHighHz: cfg.Viseme.BandHighHz,
		NoiseFloor: cfg.Viseme.NoiseFloor,
		Gain:       cfg.Viseme.Gain,
		Smoothing:  cfg.Viseme.Smoothing,
		FrameRate:  cfg.Viseme.FrameRate,
	}, logs.Component("viseme"))

	aiClient := ai.NewClient(logs.Component("ai"), &ai.Config{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		ChatModel:    cfg.OpenAI.ChatModel,
		SummaryModel: cfg.OpenAI.SummaryModel,
		Timeout:      cfg.OpenAI.Timeout,
	})

	speaker := tts.NewOpenAIProvider(logs.Component("tts"), &tts.OpenAIConfig{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		Model:        cfg.OpenAI.TTSModel,
		DefaultVoice: tts.VoiceAlloy,
		Timeout:      cfg.OpenAI.Timeout,
	})

	mic := stt.NewChannelSource(32)
	recognizer := stt.NewWhisperRecognizer(logs.Component("stt"), &stt.WhisperConfig{
		APIKey:   cfg.OpenAI.APIKey,
		BaseURL:  cfg.OpenAI.BaseURL,
		Model:    cfg.OpenAI.STTModel,
		Language: cfg.Dictation.Language,
		Timeout:  cfg.OpenAI.Timeout,
	}, mic)

	sessionTimer := timer.New(cfg.Timer.Duration, timer.WithTick(cfg.Timer.Tick))
	budget := timebudget.Load(cfg.Budget.File, cfg.Budget.Total, logs.Component("budget"))

	orch := orchestrator.New(events, sessionTimer, aiClient, aiClient, speaker, driver, logs.Component("orchestrator"))

	dict := dictation.New(recognizer, dictation.Config{
		SilenceWindow: cfg.Dictation.SilenceWindow,
		RestartMin:    cfg.Dictation.RestartMin,
		RestartMax:    cfg.Dictation.RestartMax,
	}, logs.Component("dictation"))
	defer dict.Close()

	wire(events, orch, dict, sessionTimer, budget, logs)

	reports, err := report.NewStore(cfg.Reports.Dir, logs.Component("reports"))
	if err != nil {
		return fmt.Errorf("init report store: %w", err)
	}
	archiveReports(events, orch, reports, logs)

	// Live tuning of the mouth mapping.
	config.Watch(v, func(fresh *config.Config) {
		driver.Retune(viseme.Config{
			NoiseFloor: fresh.Viseme.NoiseFloor,
			Gain:       fresh.Viseme.Gain,
			Smoothing:  fresh.Viseme.Smoothing,
		})
	})

	srv := server.New(cfg, server.Deps{
		Events:  events,
		AI:      aiClient,
		Speaker: speaker,
		Orch:    orch,
		Timer:   sessionTimer,
		Dict:    dict,
		Mic:     mic,
		Reports: reports,
		Budget:  budget,
	}, logs.Component("server"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		rootLog := logs.Zerolog()
		rootLog.Info().Str("signal", s.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	orch.StopSpeech()
	sessionTimer.Stop()
	if err := budget.Persist(); err != nil {
		rootLog := logs.Zerolog()
		rootLog.Warn().Err(err).Msg("budget persist failed")
	}
	return srv.Shutdown(ctx)
}

// wire connects the session components through the bus and the timer
// callbacks.
func wire(events *bus.Bus, orch *orchestrator.Orchestrator, dict *dictation.Controller, sessionTimer *timer.Timer, budget *timebudget.Budget, logs *logging.Logger) {
	log := logs.Component("session")

	// Dictation pauses while the assistant speaks and resumes after.
	events.Subscribe(bus.EventSpeakingStarted, func(bus.Event) {
		dict.HandleSpeakingStarted()
	})
	events.Subscribe(bus.EventSpeakingEnded, func(bus.Event) {
		dict.HandleSpeakingEnded()
	})

	dict.OnTranscript(func(text string) {
		events.Publish(bus.Event{Type: bus.EventTranscript, Data: map[string]any{"text": text}})
		go func() {
			if err := orch.SubmitTurn(context.Background(), text); err != nil {
				log.Debug().Err(err).Msg("dictated turn rejected")
			}
		}()
	})
	dict.OnSilence(func() {
		events.Publish(bus.Event{Type: bus.EventSilence, Data: nil})
		go orch.HandleSilence(context.Background())
	})
	dict.OnNotice(func(notice string) {
		events.Publish(bus.Event{Type: bus.EventDictationNotice, Data: map[string]any{"notice": notice}})
	})

	// The allowance burns by wall-clock stretches while the timer runs, and
	// every stretch boundary is persisted so reloads cannot refund it.
	sessionTimer.OnStateChange(func(state timer.State) {
		events.Publish(bus.Event{Type: bus.EventTimerState, Data: map[string]any{"state": string(state)}})
		switch state {
		case timer.StateRunning:
			budget.BeginRun()
		case timer.StatePaused, timer.StateFinished:
			budget.EndRun()
			if err := budget.Persist(); err != nil {
				log.Warn().Err(err).Msg("budget persist failed")
			}
		}
		if state == timer.StateFinished {
			dict.Deactivate()
		}
	})
	sessionTimer.OnTick(func(remainingSeconds int) {
		events.Publish(bus.Event{Type: bus.EventTimerTick, Data: map[string]any{
			"remainingSeconds": remainingSeconds,
		}})
	})
	sessionTimer.OnStop(func(elapsedSeconds int) {
		events.Publish(bus.Event{Type: bus.EventTimerStopped, Data: map[string]any{
			"elapsedSeconds": elapsedSeconds,
		}})
		go orch.FinishSession(context.Background(), elapsedSeconds)
	})
}

// archiveReports renders and stores a PDF debrief whenever a summary lands.
func archiveReports(events *bus.Bus, orch *orchestrator.Orchestrator, reports *report.Store, logs *logging.Logger) {
	log := logs.Component("reports")
	sequence := 0

	events.Subscribe(bus.EventSummaryReady, func(event bus.Event) {
		summary, _ := event.Data["summary"].(string)
		durationSeconds, _ := event.Data["durationSeconds"].(int)
		p := orch.Persona()

		var transcript []report.Entry
		for _, m := range orch.Messages() {
			transcript = append(transcript, report.Entry{Role: string(m.Role), Content: m.Content})
		}

		pdf, err := report.BuildPDF(report.Session{
			Persona:         p,
			DurationSeconds: durationSeconds,
			Summary:         summary,
			Transcript:      transcript,
		})
		if err != nil {
			log.Error().Err(err).Msg("report render failed")
			events.Publish(bus.Event{Type: bus.EventErrorMessage, Data: map[string]any{
				"content": "[Erreur] Impossible de générer le bilan PDF.",
			}})
			return
		}

		sequence++
		fileName := report.FileName(time.Now(), sequence, p.ID)
		if _, err := reports.Save(string(p.ID), durationSeconds, fileName, pdf); err != nil {
			log.Error().Err(err).Msg("report save failed")
			events.Publish(bus.Event{Type: bus.EventErrorMessage, Data: map[string]any{
				"content": "[Erreur] Impossible d'enregistrer le bilan.",
			}})
		}
	})
}
