package playback

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/reelsmith/reel-core/internal/config"
	"github.com/reelsmith/reel-core/internal/feed"
	"github.com/reelsmith/reel-core/internal/media"
	"github.com/reelsmith/reel-core/internal/protocol"
	"github.com/reelsmith/reel-core/internal/speech"
)

// recorder captures everything the manager publishes.
type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	subject string
	payload any
}

func (r *recorder) PublishJSON(subject string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{subject: subject, payload: payload})
	return nil
}

func (r *recorder) focuses() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, e := range r.events {
		if e.subject == protocol.SubjectSlideFocus {
			out = append(out, e.payload.(protocol.SlideFocus).SlideIndex)
		}
	}
	return out
}

func (r *recorder) states() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.subject == protocol.SubjectPlaybackState {
			out = append(out, e.payload.(protocol.PlaybackState).State)
		}
	}
	return out
}

func (r *recorder) playbackErrors() []protocol.PlaybackError {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []protocol.PlaybackError
	for _, e := range r.events {
		if e.subject == protocol.SubjectPlaybackError {
			out = append(out, e.payload.(protocol.PlaybackError))
		}
	}
	return out
}

func (r *recorder) audioKinds() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int)
	for _, e := range r.events {
		if e.subject == protocol.SubjectAudioOut {
			out[e.payload.(protocol.AudioChunk).Kind]++
		}
	}
	return out
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// scriptSynth is a deterministic synthesizer for tests.
type scriptSynth struct {
	mu      sync.Mutex
	calls   []speech.SynthRequest
	failOn  string
	release chan struct{} // when non-nil, utterances block until closed
}

func (ss *scriptSynth) requests() []speech.SynthRequest {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return append([]speech.SynthRequest(nil), ss.calls...)
}

func (ss *scriptSynth) Synthesize(ctx context.Context, req speech.SynthRequest) (<-chan speech.SynthChunk, <-chan error) {
	ss.mu.Lock()
	ss.calls = append(ss.calls, req)
	release := ss.release
	failOn := ss.failOn
	ss.mu.Unlock()

	chunks := make(chan speech.SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		if release != nil {
			select {
			case <-release:
			case <-ctx.Done():
				return
			}
		}
		if failOn != "" && req.Text == failOn {
			errs <- errors.New("synthesis exploded")
			return
		}
		chunks <- speech.SynthChunk{SampleRate: 22050, Channels: 1, Final: true}
	}()
	return chunks, errs
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() config.PlaybackConfig {
	return config.PlaybackConfig{
		BeatGain:           0.2,
		InstrumentalGain:   0.5,
		ProgressIntervalMS: 10,
		ClipCacheSize:      8,
	}
}

func newTestManager(t *testing.T, synth speech.Synthesizer, beats *media.BeatSet) (*Manager, *recorder) {
	t.Helper()
	rec := &recorder{}
	cache, err := media.NewCache(8)
	if err != nil {
		t.Fatalf("new cache: %v", err)
	}
	if beats == nil {
		beats, err = media.LoadBeats(filepath.Join(t.TempDir(), "none"), discardLogger())
		if err != nil {
			t.Fatalf("empty beat set: %v", err)
		}
	}
	voices := speech.NewVoiceRegistry("en-US", []string{"en-GB"})
	m := NewManager(testConfig(), rec, synth, voices, beats, cache, discardLogger())
	t.Cleanup(m.Stop)
	return m, rec
}

func speechItem(id int64, texts ...string) *feed.Item {
	slides := make([]feed.Slide, len(texts))
	for i, text := range texts {
		slides[i] = feed.Slide{Text: text, ImageRef: "img"}
	}
	return &feed.Item{ID: id, Mode: feed.ModeSpeech, Slides: slides, CreatedAt: time.Now()}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeWAVDataURI(t *testing.T, seconds float64, sampleRate int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create wav: %v", err)
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	n := int(float64(sampleRate) * seconds)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, n),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(1500 * math.Sin(float64(i)/15))
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	return "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(data)
}

func TestSequentialSpeechSkipsBlankSlides(t *testing.T) {
	synth := &scriptSynth{}
	m, rec := newTestManager(t, synth, nil)

	m.Start(speechItem(1, "first line", "   ", "third line"))
	waitFor(t, "completion", func() bool {
		states := rec.states()
		return len(states) > 0 && states[len(states)-1] == StateCompleted
	})

	reqs := synth.requests()
	if len(reqs) != 2 {
		t.Fatalf("expected exactly 2 synthesis calls, got %d", len(reqs))
	}
	if reqs[0].Text != "first line" || reqs[1].Text != "third line" {
		t.Fatalf("unexpected synthesis texts: %q, %q", reqs[0].Text, reqs[1].Text)
	}

	focuses := rec.focuses()
	if len(focuses) != 3 || focuses[0] != 0 || focuses[1] != 1 || focuses[2] != 2 {
		t.Fatalf("expected scroll through 0,1,2, got %v", focuses)
	}
	if m.Live() {
		t.Fatal("expected no live session after completion")
	}
}

func TestVoiceFallback(t *testing.T) {
	synth := &scriptSynth{}
	m, rec := newTestManager(t, synth, nil)

	item := speechItem(2, "hello")
	item.Voice = "klingon"
	m.Start(item)
	waitFor(t, "completion", func() bool {
		states := rec.states()
		return len(states) > 0 && states[len(states)-1] == StateCompleted
	})

	reqs := synth.requests()
	if len(reqs) != 1 || reqs[0].Voice != "en-US" {
		t.Fatalf("expected fallback to default voice, got %+v", reqs)
	}
}

func TestAtMostOneSession(t *testing.T) {
	synth := &scriptSynth{release: make(chan struct{})}
	m, rec := newTestManager(t, synth, nil)

	m.Start(speechItem(10, "a", "b"))
	waitFor(t, "first session running", func() bool { return m.Live() })
	firstID := m.CurrentItemID()

	m.Start(speechItem(11, "c"))
	if got := m.CurrentItemID(); got != 11 {
		t.Fatalf("expected item 11 live, got %d", got)
	}
	if firstID != 10 {
		t.Fatalf("expected first session on item 10, got %d", firstID)
	}

	// The first session must be fully stopped before the second starts.
	states := rec.states()
	sawStopped := false
	for _, st := range states {
		if st == StateStopped {
			sawStopped = true
		}
		if st == StateStarting && sawStopped {
			break
		}
	}
	if !sawStopped {
		t.Fatalf("expected a stopped transition between sessions, states: %v", states)
	}

	close(synth.release)
}

func TestStopIdempotent(t *testing.T) {
	m, rec := newTestManager(t, &scriptSynth{}, nil)

	m.Stop()
	m.Stop()

	if rec.count() != 0 {
		t.Fatalf("expected no events from stopping an idle manager, got %d", rec.count())
	}
	if m.Live() {
		t.Fatal("manager should stay idle")
	}
}

func TestStartNoopWithoutSlides(t *testing.T) {
	m, rec := newTestManager(t, &scriptSynth{}, nil)

	m.Start(nil)
	m.Start(&feed.Item{ID: 5, Mode: feed.ModeSpeech})

	if rec.count() != 0 || m.Live() {
		t.Fatal("expected silent no-op for empty preconditions")
	}
}

func TestStartPreconditionKeepsLiveSession(t *testing.T) {
	synth := &scriptSynth{release: make(chan struct{})}
	m, rec := newTestManager(t, synth, nil)

	m.Start(speechItem(12, "a", "b"))
	waitFor(t, "first slide focused", func() bool { return len(rec.focuses()) == 1 })

	before := rec.count()
	m.Start(nil)
	m.Start(&feed.Item{ID: 13, Mode: feed.ModeSpeech})

	if !m.Live() || m.CurrentItemID() != 12 {
		t.Fatal("a failed precondition must leave the running session untouched")
	}
	if rec.count() != before {
		t.Fatalf("no-op start published %d events", rec.count()-before)
	}
	close(synth.release)
}

func TestStaleCallbacksSuppressed(t *testing.T) {
	synth := &scriptSynth{release: make(chan struct{})}
	m, rec := newTestManager(t, synth, nil)

	m.Start(speechItem(20, "a", "b", "c"))
	waitFor(t, "session live", func() bool { return m.Live() })

	m.mu.Lock()
	s := m.current
	m.mu.Unlock()
	m.Stop()

	before := rec.count()
	m.advanceByTime(s, 10*time.Second)
	if m.focusSlide(s, 2) {
		t.Fatal("focusSlide must refuse a stale session")
	}
	if m.emitAudio(s, chunkFormat{kind: protocol.AudioKindSpeech}, 0, nil, false) {
		t.Fatal("emitAudio must refuse a stale session")
	}
	m.complete(s)
	m.fail(s, errors.New("late"), "late")

	if rec.count() != before {
		t.Fatalf("stale callbacks published %d events", rec.count()-before)
	}
	close(synth.release)
}

func TestTargetSlideIndex(t *testing.T) {
	total := 20 * time.Second
	cases := []struct {
		at   time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Second, 1},
		{10 * time.Second, 2},
		{15 * time.Second, 3},
		{19 * time.Second, 3},
		{25 * time.Second, 3},
	}
	for _, tc := range cases {
		if got := targetSlideIndex(tc.at, total, 4); got != tc.want {
			t.Fatalf("targetSlideIndex(%v) = %d, want %d", tc.at, got, tc.want)
		}
	}
	if got := targetSlideIndex(5*time.Second, 0, 4); got != 0 {
		t.Fatalf("zero duration should pin index 0, got %d", got)
	}
}

func TestAdvanceByTimeMonotonic(t *testing.T) {
	m, rec := newTestManager(t, &scriptSynth{}, nil)

	s := &Session{ID: "manual", item: speechItem(30, "a", "b", "c", "d"), lastIndex: -1, total: 20 * time.Second}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()

	m.advanceByTime(s, 11*time.Second) // jumps to slide 2
	m.advanceByTime(s, 6*time.Second)  // earlier sample must not regress
	m.advanceByTime(s, 16*time.Second)

	focuses := rec.focuses()
	if len(focuses) != 2 || focuses[0] != 2 || focuses[1] != 3 {
		t.Fatalf("expected monotonic focuses [2 3], got %v", focuses)
	}
}

func TestSpeechSynthesisErrorIsFatal(t *testing.T) {
	synth := &scriptSynth{failOn: "boom"}
	m, rec := newTestManager(t, synth, nil)

	m.Start(speechItem(40, "fine", "boom", "never"))
	waitFor(t, "errored state", func() bool {
		states := rec.states()
		return len(states) > 0 && states[len(states)-1] == StateErrored
	})

	errsSeen := rec.playbackErrors()
	if len(errsSeen) != 1 || !errsSeen[0].Fatal || errsSeen[0].Code != "speech-synthesis" {
		t.Fatalf("expected one fatal speech error, got %+v", errsSeen)
	}
	if m.Live() {
		t.Fatal("expected session torn down after fatal error")
	}
	if reqs := synth.requests(); len(reqs) != 2 {
		t.Fatalf("expected synthesis to stop after the failure, got %d calls", len(reqs))
	}
}

func TestUnknownBeatIsNonFatal(t *testing.T) {
	synth := &scriptSynth{}
	m, rec := newTestManager(t, synth, nil)

	item := speechItem(50, "only line")
	item.BeatID = "phonk"
	m.Start(item)
	waitFor(t, "completion", func() bool {
		states := rec.states()
		return len(states) > 0 && states[len(states)-1] == StateCompleted
	})

	errsSeen := rec.playbackErrors()
	if len(errsSeen) != 1 || errsSeen[0].Fatal || errsSeen[0].Code != "beat-unavailable" {
		t.Fatalf("expected one non-fatal beat error, got %+v", errsSeen)
	}
}

func TestNarrationDecodeErrorIsFatal(t *testing.T) {
	m, rec := newTestManager(t, &scriptSynth{}, nil)

	item := &feed.Item{
		ID:           60,
		Mode:         feed.ModeNarration,
		NarrationRef: "data:audio/wav;base64,AAAA",
		Slides:       []feed.Slide{{Text: "a"}, {Text: "b"}},
	}
	m.Start(item)
	waitFor(t, "errored state", func() bool {
		states := rec.states()
		return len(states) > 0 && states[len(states)-1] == StateErrored
	})

	errsSeen := rec.playbackErrors()
	if len(errsSeen) != 1 || !errsSeen[0].Fatal || errsSeen[0].Code != "narration-decode" {
		t.Fatalf("expected one fatal decode error, got %+v", errsSeen)
	}
	if m.Live() {
		t.Fatal("expected no live session after decode failure")
	}
}

func TestNarrationDrivesSlidesToCompletion(t *testing.T) {
	m, rec := newTestManager(t, &scriptSynth{}, nil)

	item := &feed.Item{
		ID:           70,
		Mode:         feed.ModeNarration,
		NarrationRef: writeWAVDataURI(t, 0.2, 8000),
		Slides:       []feed.Slide{{Text: "a"}, {Text: "b"}},
	}
	m.Start(item)
	waitFor(t, "completion", func() bool {
		states := rec.states()
		return len(states) > 0 && states[len(states)-1] == StateCompleted
	})

	focuses := rec.focuses()
	if len(focuses) == 0 {
		t.Fatal("expected slide focus events")
	}
	for i := 1; i < len(focuses); i++ {
		if focuses[i] <= focuses[i-1] {
			t.Fatalf("expected strictly increasing focuses, got %v", focuses)
		}
	}
	if last := focuses[len(focuses)-1]; last != 1 {
		t.Fatalf("expected to end on the last slide, got %d", last)
	}
	if kinds := rec.audioKinds(); kinds[protocol.AudioKindNarration] == 0 {
		t.Fatalf("expected narration audio chunks, got %v", kinds)
	}
}

func TestBeatLoopPlaysAtLowGain(t *testing.T) {
	dir := t.TempDir()
	uri := writeWAVDataURI(t, 0.05, 8000)
	// materialize the same clip as a beat file
	data, err := base64.StdEncoding.DecodeString(uri[len("data:audio/wav;base64,"):])
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lofi.wav"), data, 0o644); err != nil {
		t.Fatalf("write beat: %v", err)
	}
	beats, err := media.LoadBeats(dir, discardLogger())
	if err != nil {
		t.Fatalf("load beats: %v", err)
	}

	synth := &scriptSynth{release: make(chan struct{})}
	m, rec := newTestManager(t, synth, beats)

	item := speechItem(80, "line")
	item.BeatID = "lofi"
	m.Start(item)

	waitFor(t, "beat chunks", func() bool {
		return rec.audioKinds()[protocol.AudioKindBeat] >= 2
	})

	rec.mu.Lock()
	var gain float64 = -1
	for _, e := range rec.events {
		if e.subject == protocol.SubjectAudioOut {
			chunk := e.payload.(protocol.AudioChunk)
			if chunk.Kind == protocol.AudioKindBeat {
				gain = chunk.Gain
				break
			}
		}
	}
	rec.mu.Unlock()
	if gain != 0.2 {
		t.Fatalf("expected beat gain 0.2, got %v", gain)
	}

	m.Stop()
	close(synth.release)

	// no beat audio may continue after stop
	time.Sleep(50 * time.Millisecond)
	before := rec.audioKinds()[protocol.AudioKindBeat]
	time.Sleep(50 * time.Millisecond)
	after := rec.audioKinds()[protocol.AudioKindBeat]
	if after != before {
		t.Fatalf("beat audio continued after stop: %d -> %d", before, after)
	}
}
