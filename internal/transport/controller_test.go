package transport

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reelsmith/reel-core/internal/feed"
	"github.com/reelsmith/reel-core/internal/protocol"
)

type recorder struct {
	mu     sync.Mutex
	events []recorded
}

type recorded struct {
	subject string
	payload any
}

func (r *recorder) PublishJSON(subject string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recorded{subject, payload})
	return nil
}

func (r *recorder) bySubject(subject string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, ev := range r.events {
		if ev.subject == subject {
			out = append(out, ev.payload)
		}
	}
	return out
}

// fakeManager records start/stop calls and tracks liveness the way the
// real manager does.
type fakeManager struct {
	mu      sync.Mutex
	live    bool
	starts  []*feed.Item
	stops   int
}

func (f *fakeManager) Live() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.live
}

func (f *fakeManager) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = false
	f.stops++
}

func (f *fakeManager) Start(item *feed.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item == nil || item.SlideCount() == 0 {
		return
	}
	f.live = true
	f.starts = append(f.starts, item)
}

func (f *fakeManager) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

type fakeFeed struct {
	mu        sync.Mutex
	active    *feed.Item
	neighbors map[string]*feed.Item
}

func (f *fakeFeed) Active() *feed.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeFeed) setActive(item *feed.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = item
}

func (f *fakeFeed) Neighbor(direction string) *feed.Item { return f.neighbors[direction] }

func testItem(id int64) *feed.Item {
	return &feed.Item{ID: id, Mode: feed.ModeSpeech, Slides: []feed.Slide{{Text: "a"}, {Text: "b"}}}
}

func newController(manager *fakeManager, tracker *fakeFeed, settle time.Duration) (*Controller, *recorder) {
	rec := &recorder{}
	return &Controller{
		pub:     rec,
		manager: manager,
		tracker: tracker,
		settle:  settle,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, rec
}

func TestTapToggles(t *testing.T) {
	fm := &fakeManager{}
	item := testItem(100)
	c, _ := newController(fm, &fakeFeed{active: item}, 10*time.Millisecond)

	c.handleTap(&nats.Msg{})
	if !fm.Live() || fm.startCount() != 1 {
		t.Fatal("first tap should start the active item")
	}
	c.handleTap(&nats.Msg{})
	if fm.Live() || fm.stops != 1 {
		t.Fatal("second tap should stop playback")
	}
}

func TestTapWithNoActiveItem(t *testing.T) {
	fm := &fakeManager{}
	c, _ := newController(fm, &fakeFeed{}, 10*time.Millisecond)

	c.handleTap(&nats.Msg{})
	if fm.Live() || fm.startCount() != 0 {
		t.Fatal("tap without an active item must be a no-op")
	}
}

func TestReplayRestartsFromZero(t *testing.T) {
	fm := &fakeManager{live: true}
	item := testItem(100)
	c, rec := newController(fm, &fakeFeed{active: item}, 10*time.Millisecond)

	c.handleReplay(&nats.Msg{})

	focuses := rec.bySubject(protocol.SubjectSlideFocus)
	if len(focuses) != 1 {
		t.Fatalf("focus events = %d, want 1", len(focuses))
	}
	if f := focuses[0].(protocol.SlideFocus); f.SlideIndex != 0 || f.ItemID != item.ID {
		t.Fatalf("focus = %+v, want slide 0 of item %d", f, item.ID)
	}
	if fm.Live() {
		t.Fatal("replay must stop the session before restarting")
	}

	deadline := time.Now().Add(2 * time.Second)
	for fm.startCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if fm.startCount() != 1 {
		t.Fatal("replay did not restart after the settle delay")
	}
}

func TestReplayCancelledByNewerCommand(t *testing.T) {
	fm := &fakeManager{live: true}
	item := testItem(100)
	c, _ := newController(fm, &fakeFeed{active: item}, 50*time.Millisecond)

	c.handleReplay(&nats.Msg{})
	c.handleTap(&nats.Msg{}) // supersedes the pending restart; toggles playback on

	time.Sleep(120 * time.Millisecond)
	if got := fm.startCount(); got != 1 {
		t.Fatalf("starts = %d, want only the tap's start", got)
	}
}

func TestReplayCancelledByActivationChange(t *testing.T) {
	fm := &fakeManager{live: true}
	old, next := testItem(100), testItem(200)
	tracker := &fakeFeed{active: old}
	c, _ := newController(fm, tracker, 50*time.Millisecond)

	c.handleReplay(&nats.Msg{})
	tracker.setActive(next) // scrolled away before the settle elapsed

	time.Sleep(120 * time.Millisecond)
	if got := fm.startCount(); got != 0 {
		t.Fatalf("starts = %d, want none for an item no longer active", got)
	}
	if fm.Live() {
		t.Fatal("stale replay must not bring a session back")
	}
}

func TestNavigatePublishesFocusOnly(t *testing.T) {
	fm := &fakeManager{live: true}
	active, newer := testItem(200), testItem(300)
	tracker := &fakeFeed{active: active, neighbors: map[string]*feed.Item{protocol.DirectionPrev: newer}}
	c, rec := newController(fm, tracker, 10*time.Millisecond)

	data, _ := json.Marshal(protocol.Navigate{Direction: protocol.DirectionPrev})
	c.handleNavigate(&nats.Msg{Data: data})

	focuses := rec.bySubject(protocol.SubjectItemFocus)
	if len(focuses) != 1 || focuses[0].(protocol.ItemFocus).ItemID != newer.ID {
		t.Fatalf("item focus = %v, want exactly one for item %d", focuses, newer.ID)
	}
	if !fm.Live() || fm.stops != 0 {
		t.Fatal("navigate must not touch the session directly")
	}

	data, _ = json.Marshal(protocol.Navigate{Direction: protocol.DirectionNext})
	c.handleNavigate(&nats.Msg{Data: data})
	if got := len(rec.bySubject(protocol.SubjectItemFocus)); got != 1 {
		t.Fatalf("navigate past the feed edge published %d focus events, want 1", got)
	}
}
