package playback

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/reelsmith/reel-core/internal/config"
	"github.com/reelsmith/reel-core/internal/feed"
	"github.com/reelsmith/reel-core/internal/media"
	"github.com/reelsmith/reel-core/internal/protocol"
	"github.com/reelsmith/reel-core/internal/speech"
)

// Publisher is the slice of the bus client the manager needs.
type Publisher interface {
	PublishJSON(subject string, payload any) error
}

// Manager owns at most one live Session system-wide. Every transition —
// start, stop, completion, failure — runs under one mutex, so a new
// session can never begin before the previous one's stop logic finished.
type Manager struct {
	cfg    config.PlaybackConfig
	pub    Publisher
	synth  speech.Synthesizer
	voices *speech.VoiceRegistry
	beats  *media.BeatSet
	clips  *media.Cache
	logger *slog.Logger

	mu      sync.Mutex
	current *Session

	started metric.Int64Counter
	ended   metric.Int64Counter
	failed  metric.Int64Counter
}

func NewManager(cfg config.PlaybackConfig, pub Publisher, synth speech.Synthesizer, voices *speech.VoiceRegistry, beats *media.BeatSet, clips *media.Cache, log *slog.Logger) *Manager {
	m := &Manager{
		cfg:    cfg,
		pub:    pub,
		synth:  synth,
		voices: voices,
		beats:  beats,
		clips:  clips,
		logger: log.With(slog.String("component", "playback")),
	}
	meter := otel.Meter("github.com/reelsmith/reel-core/playback")
	if c, err := meter.Int64Counter("reel.playback.sessions_started"); err == nil {
		m.started = c
	}
	if c, err := meter.Int64Counter("reel.playback.sessions_ended"); err == nil {
		m.ended = c
	}
	if c, err := meter.Int64Counter("reel.playback.sessions_failed"); err == nil {
		m.failed = c
	}
	return m
}

// Live reports whether a session currently holds audio resources.
func (m *Manager) Live() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil
}

// CurrentItemID returns the item of the live session, zero when idle.
func (m *Manager) CurrentItemID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return 0
	}
	return m.current.item.ID
}

// Start tears down any live session and begins playback for item. A nil
// item or one with no slides is a silent no-op (a normal transient state
// between activation and rebinding, not an error).
func (m *Manager) Start(item *feed.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if item == nil || item.SlideCount() == 0 {
		return
	}

	m.stopLocked(StateStopped)

	s := &Session{
		ID:        uuid.NewString(),
		item:      item,
		lastIndex: -1,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	m.current = s
	m.setStateLocked(s, StateStarting)
	if m.started != nil {
		m.started.Add(s.ctx, 1)
	}

	m.startBackgroundLocked(s)

	switch item.Mode {
	case feed.ModeSpeech:
		go m.runSpeech(s)
	case feed.ModeNarration:
		if !m.startNarrationLocked(s) {
			return
		}
	}

	m.setStateLocked(s, StateRunning)
	m.logger.Info("session started",
		slog.String("session", s.ID),
		slog.Int64("item", item.ID),
		slog.String("mode", item.Mode))
}

// Stop tears down the live session. Idempotent; safe on an idle manager.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(StateStopped)
}

func (m *Manager) stopLocked(terminal string) {
	s := m.current
	if s == nil {
		return
	}
	m.current = nil
	s.cancel()
	s.resetCursor()
	m.setStateLocked(s, terminal)
	if m.ended != nil {
		m.ended.Add(context.Background(), 1)
	}
	m.logger.Info("session stopped",
		slog.String("session", s.ID),
		slog.Int64("item", s.item.ID),
		slog.String("state", terminal))
}

// startBackgroundLocked wires the instrumental layer: a shared beat loop
// when the item names one, else a decoded instrumental track. Failures
// here are non-fatal; narration continues without the background layer.
func (m *Manager) startBackgroundLocked(s *Session) {
	item := s.item
	switch {
	case item.BeatID != "":
		clip, err := m.beats.Get(item.BeatID)
		if err != nil {
			m.reportLocked(s, err, "beat-unavailable", false)
			return
		}
		m.spawnPlayerLocked(s, clip, protocol.AudioKindBeat, m.cfg.BeatGain, true, nil, nil)
	case item.InstrumentalRef != "":
		clip, err := m.clips.Resolve(item.ID, "instrumental", item.InstrumentalRef)
		if err != nil {
			m.reportLocked(s, err, "instrumental-decode", false)
			return
		}
		m.spawnPlayerLocked(s, clip, protocol.AudioKindInstrumental, m.cfg.InstrumentalGain, true, nil, nil)
	}
}

// startNarrationLocked sets up the audio-driven narration branch. Decode
// failures are fatal to the session. Returns false when the session died.
func (m *Manager) startNarrationLocked(s *Session) bool {
	clip, err := m.clips.Resolve(s.item.ID, "narration", s.item.NarrationRef)
	if err != nil {
		m.failLocked(s, err, "narration-decode")
		return false
	}
	s.total = clip.Duration
	m.spawnPlayerLocked(s, clip, protocol.AudioKindNarration, 1.0, false,
		func(pos time.Duration) { m.advanceByTime(s, pos) },
		func() { m.complete(s) })
	return true
}

func (m *Manager) spawnPlayerLocked(s *Session, clip media.Clip, kind string, gain float64, loop bool, progress func(time.Duration), done func()) {
	interval := time.Duration(m.cfg.ProgressIntervalMS) * time.Millisecond
	p := &player{clip: clip, loop: loop, interval: interval}
	format := chunkFormat{kind: kind, gain: gain, sampleRate: clip.SampleRate, channels: clip.Channels}
	go p.run(s.ctx, func(seq int, pcm []byte, final bool) bool {
		return m.emitAudio(s, format, seq, pcm, final)
	}, progress, done)
}

// runSpeech walks the slides strictly in order. Blank lines advance the
// scroll with no synthesis call; everything else scrolls first, then
// speaks, and moves on only when the utterance reports completion.
func (m *Manager) runSpeech(s *Session) {
	n := s.item.SlideCount()
	for idx := 0; idx < n; idx++ {
		if !m.focusSlide(s, idx) {
			return
		}
		text := strings.TrimSpace(s.item.Slides[idx].Text)
		if text == "" {
			continue
		}
		voice := m.voices.Resolve(s.item.Voice)
		chunks, errs := m.synth.Synthesize(s.ctx, speech.SynthRequest{
			SessionID: s.ID,
			Text:      text,
			Voice:     voice,
		})
		if !m.drainUtterance(s, chunks, errs) {
			return
		}
	}
	m.complete(s)
}

// drainUtterance forwards speech chunks until the utterance finishes.
// Returns false when the session ended (cancel or fatal error).
func (m *Manager) drainUtterance(s *Session, chunks <-chan speech.SynthChunk, errs <-chan error) bool {
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			format := chunkFormat{kind: protocol.AudioKindSpeech, gain: 1.0, sampleRate: chunk.SampleRate, channels: chunk.Channels}
			if !m.emitAudio(s, format, chunk.Sequence, chunk.PCM, chunk.Final) {
				return false
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				m.fail(s, err, "speech-synthesis")
				return false
			}
		case <-s.ctx.Done():
			return false
		}
	}
	return true
}

// focusSlide scrolls a slide into view on behalf of s. Returns false when
// the session is no longer current.
func (m *Manager) focusSlide(s *Session, idx int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != s {
		return false
	}
	s.lastIndex = idx
	m.pub.PublishJSON(protocol.SubjectSlideFocus, protocol.SlideFocus{
		ItemID:     s.item.ID,
		SlideIndex: idx,
	})
	return true
}

// advanceByTime converts a narration position into a slide target. Targets
// are monotonic: a position sample can never scroll backwards.
func (m *Manager) advanceByTime(s *Session, pos time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != s {
		return
	}
	n := s.item.SlideCount()
	target := targetSlideIndex(pos, s.total, n)
	if target > s.lastIndex && target < n {
		s.lastIndex = target
		m.pub.PublishJSON(protocol.SubjectSlideFocus, protocol.SlideFocus{
			ItemID:     s.item.ID,
			SlideIndex: target,
		})
	}
}

// chunkFormat carries the stream metadata for one audio layer.
type chunkFormat struct {
	kind       string
	gain       float64
	sampleRate int
	channels   int
}

// emitAudio forwards a PCM chunk owned by s. Returns false when the
// session is gone, which halts the producer.
func (m *Manager) emitAudio(s *Session, format chunkFormat, seq int, pcm []byte, final bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != s {
		return false
	}
	m.pub.PublishJSON(protocol.SubjectAudioOut, protocol.AudioChunk{
		SessionID:  s.ID,
		Kind:       format.kind,
		Sequence:   seq,
		SampleRate: format.sampleRate,
		Channels:   format.channels,
		Gain:       format.gain,
		PCM:        pcm,
		Final:      final,
	})
	return true
}

// complete marks natural end of playback.
func (m *Manager) complete(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current != s {
		return
	}
	m.current = nil
	s.cancel()
	s.resetCursor()
	m.setStateLocked(s, StateCompleted)
	if m.ended != nil {
		m.ended.Add(context.Background(), 1)
	}
	m.logger.Info("session completed", slog.String("session", s.ID), slog.Int64("item", s.item.ID))
}

// fail tears the session down and surfaces a fatal error. No retry: the
// user must re-invoke play.
func (m *Manager) fail(s *Session, err error, code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLocked(s, err, code)
}

func (m *Manager) failLocked(s *Session, err error, code string) {
	if m.current != s {
		return
	}
	m.current = nil
	s.cancel()
	s.resetCursor()
	m.reportLocked(s, err, code, true)
	m.setStateLocked(s, StateErrored)
	if m.failed != nil {
		m.failed.Add(context.Background(), 1)
	}
}

// reportLocked converts an audio/speech error into a user-visible
// notification. Fatal reports accompany session teardown; non-fatal ones
// leave the session running degraded.
func (m *Manager) reportLocked(s *Session, err error, code string, fatal bool) {
	m.pub.PublishJSON(protocol.SubjectPlaybackError, protocol.PlaybackError{
		ItemID:  s.item.ID,
		Message: err.Error(),
		Code:    code,
		Fatal:   fatal,
	})
	level := slog.LevelWarn
	if fatal {
		level = slog.LevelError
	}
	m.logger.Log(context.Background(), level, "playback error",
		slog.String("session", s.ID),
		slog.Int64("item", s.item.ID),
		slog.String("code", code),
		slog.String("error", err.Error()),
		slog.Bool("fatal", fatal))
}

func (m *Manager) setStateLocked(s *Session, state string) {
	s.state = state
	m.pub.PublishJSON(protocol.SubjectPlaybackState, protocol.PlaybackState{
		SessionID: s.ID,
		ItemID:    s.item.ID,
		State:     state,
		Timestamp: time.Now().UTC(),
	})
}
