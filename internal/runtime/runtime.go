package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reelsmith/reel-core/internal/bus"
	"github.com/reelsmith/reel-core/internal/config"
	"github.com/reelsmith/reel-core/internal/feed"
	"github.com/reelsmith/reel-core/internal/media"
	"github.com/reelsmith/reel-core/internal/natsserver"
	"github.com/reelsmith/reel-core/internal/playback"
	"github.com/reelsmith/reel-core/internal/presence"
	"github.com/reelsmith/reel-core/internal/speech"
	"github.com/reelsmith/reel-core/internal/transport"
	"github.com/reelsmith/reel-core/internal/viewport"
)

// Runtime assembles the engine: bus, feed, viewport trackers, playback
// manager, transport controller, presence registry, and the operational
// HTTP surface. Start blocks until the context is cancelled, then shuts
// components down in reverse dependency order.
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

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
	}
	busClient, err := bus.Connect(ctx, busCfg, r.logger.With(slog.String("component", "bus")))
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	store, err := feed.Open(ctx, r.cfg.Feed, r.logger.With(slog.String("component", "feed-store")))
	if err != nil {
		return fmt.Errorf("failed to open feed store: %w", err)
	}
	defer store.Close()

	beats, err := media.LoadBeats(r.cfg.Playback.BeatDir, r.logger.With(slog.String("component", "media")))
	if err != nil {
		return fmt.Errorf("failed to load beat loops: %w", err)
	}
	clips, err := media.NewCache(r.cfg.Playback.ClipCacheSize)
	if err != nil {
		return fmt.Errorf("failed to create clip cache: %w", err)
	}

	synth, err := r.buildSynthesizer()
	if err != nil {
		return fmt.Errorf("failed to build synthesizer: %w", err)
	}
	voices := speech.NewVoiceRegistry(r.cfg.Speech.DefaultVoice, r.cfg.Speech.Voices)

	manager := playback.NewManager(r.cfg.Playback, busClient, synth, voices, beats, clips, r.logger)
	defer manager.Stop()

	slides := viewport.NewSlideTracker(r.cfg.Viewport.SlideThreshold, busClient, r.logger)
	tracker := viewport.NewActivationTracker(r.cfg.Viewport.ItemThreshold, busClient, manager, slides, r.logger)

	viewportSvc := viewport.NewService(busClient, tracker, slides, r.logger)
	if err := viewportSvc.Start(); err != nil {
		return fmt.Errorf("failed to start viewport service: %w", err)
	}
	defer viewportSvc.Close()

	feedSvc := feed.NewService(ctx, store, busClient, tracker, r.logger)
	if err := feedSvc.Start(); err != nil {
		return fmt.Errorf("failed to start feed service: %w", err)
	}
	defer feedSvc.Close()

	controller := transport.NewController(r.cfg.Transport, busClient, manager, tracker, r.logger)
	if err := controller.Start(); err != nil {
		return fmt.Errorf("failed to start transport controller: %w", err)
	}
	defer controller.Close()

	var clients *presence.Registry
	if r.cfg.Presence.Enabled {
		clients, err = presence.NewRegistry(ctx, r.cfg.Presence, busClient, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start presence registry: %w", err)
		}
		defer clients.Close()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

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

func (r *Runtime) buildSynthesizer() (speech.Synthesizer, error) {
	switch r.cfg.Speech.Mode {
	case "exec":
		return speech.NewExecSynth(r.cfg.Speech.Command, r.cfg.Speech.SampleRate, r.cfg.Speech.Channels)
	default:
		return speech.NewMockSynth(r.cfg.Speech.SampleRate, r.cfg.Speech.Channels), nil
	}
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
