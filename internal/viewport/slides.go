package viewport

import (
	"log/slog"
	"sync"

	"github.com/reelsmith/reel-core/internal/feed"
	"github.com/reelsmith/reel-core/internal/protocol"
)

// Publisher is the slice of the bus client the trackers need.
type Publisher interface {
	PublishJSON(subject string, payload any) error
}

// SlideTracker observes slide visibility for the active item only and
// derives the scroll-containment mode: vertical scroll is free exactly
// when an edge slide (first or last) is on screen, locked otherwise.
type SlideTracker struct {
	pub       Publisher
	threshold float64
	logger    *slog.Logger

	mu      sync.Mutex
	item    *feed.Item
	visible map[int]bool
	mode    string
}

func NewSlideTracker(threshold float64, pub Publisher, log *slog.Logger) *SlideTracker {
	return &SlideTracker{
		pub:       pub,
		threshold: threshold,
		logger:    log.With(slog.String("component", "slide-tracker")),
		visible:   make(map[int]bool),
	}
}

// Rebind detaches from the previous item's slides and attaches to the new
// item. Detach always completes first: markers and mode reset before any
// event from the new item is considered, so slides of two items are never
// counted together. A nil item leaves the tracker unbound.
func (t *SlideTracker) Rebind(item *feed.Item) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.item = item
	t.visible = make(map[int]bool)
	t.mode = ""
}

// OnVisibility processes one observation batch entry. Events for items
// other than the bound one are dropped.
func (t *SlideTracker) OnVisibility(ev protocol.SlideVisibility) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.item == nil || ev.ItemID != t.item.ID {
		return
	}
	if ev.SlideIndex < 0 || ev.SlideIndex >= t.item.SlideCount() {
		return
	}

	visible := ev.Ratio >= t.threshold
	if t.visible[ev.SlideIndex] != visible {
		t.visible[ev.SlideIndex] = visible
		t.pub.PublishJSON(protocol.SubjectSlideMarker, protocol.SlideMarker{
			ItemID:     t.item.ID,
			SlideIndex: ev.SlideIndex,
			Visible:    visible,
		})
	}

	t.evaluateLocked()
}

// evaluateLocked recomputes containment from the current visible set.
func (t *SlideTracker) evaluateLocked() {
	last := t.item.SlideCount() - 1
	mode := protocol.ContainmentLocked
	anyVisible := false
	for idx, vis := range t.visible {
		if !vis {
			continue
		}
		anyVisible = true
		if idx == 0 || idx == last {
			mode = protocol.ContainmentFree
			break
		}
	}
	if !anyVisible {
		// nothing crossed the threshold yet; keep the previous mode
		return
	}
	if mode == t.mode {
		return
	}
	t.mode = mode
	t.pub.PublishJSON(protocol.SubjectContainment, protocol.ContainmentChanged{
		ItemID: t.item.ID,
		Mode:   mode,
	})
	t.logger.Debug("containment changed",
		slog.Int64("item", t.item.ID),
		slog.String("mode", mode))
}

// Mode returns the current containment mode ("" before the first batch).
func (t *SlideTracker) Mode() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}
