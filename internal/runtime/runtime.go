package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/studentpilot/interviewd/internal/analysis"
	"github.com/studentpilot/interviewd/internal/backend"
	"github.com/studentpilot/interviewd/internal/bus"
	"github.com/studentpilot/interviewd/internal/config"
	"github.com/studentpilot/interviewd/internal/history"
	"github.com/studentpilot/interviewd/internal/interview"
	"github.com/studentpilot/interviewd/internal/media"
	"github.com/studentpilot/interviewd/internal/natsserver"
	"github.com/studentpilot/interviewd/internal/protocol"
	"github.com/studentpilot/interviewd/internal/stt"
	"github.com/studentpilot/interviewd/internal/tts"
)

// Runtime owns the daemon's lifecycle: telemetry, the message bus, the
// audio pipeline, and the HTTP health surface. Start blocks until the
// context is cancelled, then tears everything down in reverse order.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	if r.cfg.Bus.Embedded {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		defer embedded.Shutdown()
	}

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect bus: %w", err)
	}
	defer busClient.Close()

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	registry, err := media.NewRegistry(ctx, r.cfg.Media, busClient, r.logger)
	if err != nil {
		return fmt.Errorf("start media registry: %w", err)
	}
	defer registry.Close()

	client, err := backend.New(r.cfg.Backend)
	if err != nil {
		return fmt.Errorf("build backend client: %w", err)
	}

	events := &busEvents{bus: busClient, log: r.logger.With(slog.String("component", "events"))}

	recognizer, err := stt.NewRecognizer(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("build recognizer: %w", err)
	}
	var onPartial func(text string)
	if r.cfg.STT.PublishInterim {
		onPartial = func(text string) {
			events.publish(protocol.SubjectTranscriptPartial, protocol.Transcript{
				Text:      text,
				Partial:   true,
				Timestamp: time.Now().UTC(),
			})
		}
	}
	listener := stt.NewListener(recognizer, r.cfg.STT, r.logger, onPartial)

	speaker, err := r.buildSpeaker(client, events)
	if err != nil {
		return fmt.Errorf("build speaker: %w", err)
	}

	// The monitor's triggers resolve the active session through the
	// manager, and the manager needs the monitor as its meter; the
	// closure breaks the cycle.
	var manager *interview.Manager
	monitor := r.buildMonitor(events, func() *interview.Coordinator {
		if manager == nil {
			return nil
		}
		return manager.Active()
	})
	manager = interview.NewManager(interview.Options{
		Config:   r.cfg.Interview,
		Backend:  client,
		Speaker:  speaker,
		Listener: listener,
		Meter:    monitor,
		Events:   events,
		Recorder: store,
		Media:    registry,
		Logger:   r.logger,
	})
	defer manager.Close()

	pipe := &pipeline{
		log:         r.logger.With(slog.String("component", "pipeline")),
		bus:         busClient,
		events:      events,
		broadcaster: media.NewBroadcaster(),
		monitor:     monitor,
		listener:    listener,
		manager:     manager,
	}
	if err := pipe.start(ctx); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	defer pipe.stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	interviews := func(w http.ResponseWriter, req *http.Request) {
		handleInterviewList(w, req, store)
	}
	mux.HandleFunc("/interviews", interviews)
	mux.HandleFunc("/interviews/", interviews)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// buildSpeaker assembles the synthesis fallback chain: remote service
// first, then a local engine, with text-only display as the floor the
// Speaker provides on its own.
func (r *Runtime) buildSpeaker(client backend.Client, events *busEvents) (*tts.Speaker, error) {
	var tiers []tts.Tier
	if r.cfg.TTS.RemoteEnabled {
		tiers = append(tiers, tts.Tier{
			Name:  "remote",
			Synth: tts.NewRemoteSynth(client.Speech, r.cfg.TTS.SampleRate, r.cfg.TTS.Channels),
		})
	}
	if r.cfg.TTS.LocalCommand != "" {
		local, err := tts.NewExecSynth(r.cfg.TTS.LocalCommand, r.cfg.TTS.SampleRate, r.cfg.TTS.Channels)
		if err != nil {
			return nil, err
		}
		tiers = append(tiers, tts.Tier{Name: "local", Synth: local})
	}
	if len(tiers) == 0 {
		tiers = append(tiers, tts.Tier{
			Name:  "mock",
			Synth: tts.NewMockSynthesizer(r.cfg.TTS.SampleRate, r.cfg.TTS.Channels),
		})
	}
	sink := &busSink{events: events}
	return tts.NewSpeaker(tiers, sink, r.cfg.TTS.Voices, r.logger), nil
}

// buildMonitor wires the analysis loop's triggers to the session manager:
// sustained voice during playback interrupts the question, a long quiet
// stretch during capture stops the turn.
func (r *Runtime) buildMonitor(events *busEvents, active func() *interview.Coordinator) *analysis.Monitor {
	loopCfg := analysis.ConfigFrom(r.cfg.Audio)
	cal := analysis.NewCalibration(loopCfg)
	monitor := analysis.NewMonitor(loopCfg, cal, analysis.Callbacks{
		OnLevel: func(level int, rms float64) {
			sessionID := ""
			if c := active(); c != nil {
				sessionID = c.ID()
			}
			events.publish(protocol.SubjectAudioLevel, protocol.LevelUpdate{
				SessionID: sessionID,
				Level:     level,
				RMS:       rms,
			})
		},
		OnAutoStop: func() {
			if c := active(); c != nil {
				c.StopListening()
			}
		},
		OnBargeIn: func() {
			if c := active(); c != nil {
				c.BargeIn()
			}
		},
	})
	monitor.SetAutoStop(r.cfg.Interview.AutoStop)
	return monitor
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
