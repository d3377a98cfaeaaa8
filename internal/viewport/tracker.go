package viewport

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/reelsmith/reel-core/internal/feed"
	"github.com/reelsmith/reel-core/internal/protocol"
)

// SessionStopper is the slice of the playback manager the tracker needs
// during an activation transition.
type SessionStopper interface {
	Stop()
}

// ActivationTracker decides which feed item is active. The active item is
// the one whose container covers at least the configured fraction of the
// viewport; at most one item is active at a time, and none is a valid
// state (mid-scroll, empty feed).
type ActivationTracker struct {
	pub       Publisher
	threshold float64
	stopper   SessionStopper
	slides    *SlideTracker
	logger    *slog.Logger

	mu       sync.Mutex
	items    map[int64]*feed.Item
	order    []int64 // ids, descending (newest first)
	activeID int64

	activations metric.Int64Counter
}

func NewActivationTracker(threshold float64, pub Publisher, stopper SessionStopper, slides *SlideTracker, log *slog.Logger) *ActivationTracker {
	t := &ActivationTracker{
		pub:       pub,
		threshold: threshold,
		stopper:   stopper,
		slides:    slides,
		logger:    log.With(slog.String("component", "activation-tracker")),
		items:     make(map[int64]*feed.Item),
	}
	meter := otel.Meter("github.com/reelsmith/reel-core/viewport")
	if c, err := meter.Int64Counter("reel.viewport.activations"); err == nil {
		t.activations = c
	}
	return t
}

// Register adds an item to the tracked set. Registration is append-only;
// items are never removed while the daemon runs.
func (t *ActivationTracker) Register(item *feed.Item) {
	if item == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.items[item.ID]; ok {
		return
	}
	t.items[item.ID] = item
	t.order = append(t.order, item.ID)
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] > t.order[j] })
}

// OnVisibility consumes one item visibility sample. A crossing above the
// threshold by a different item triggers the activation transition:
// teardown of the live session, rebind of the slide tracker, then the
// announcement. The whole transition runs under the tracker mutex, so a
// rapid scroll through many items resolves to a clean sequence of
// stop/rebind pairs rather than interleaved half-transitions.
func (t *ActivationTracker) OnVisibility(ev protocol.ItemVisibility) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Ratio < t.threshold || ev.ItemID == t.activeID {
		return
	}
	item, ok := t.items[ev.ItemID]
	if !ok {
		return
	}

	prev := t.activeID
	t.stopper.Stop()
	t.activeID = item.ID
	t.slides.Rebind(item)

	t.pub.PublishJSON(protocol.SubjectActiveItem, protocol.ActiveItemChanged{
		ItemID:     item.ID,
		PrevItemID: prev,
		Timestamp:  time.Now().UTC(),
	})
	if t.activations != nil {
		t.activations.Add(context.Background(), 1)
	}
	t.logger.Debug("active item changed",
		slog.Int64("item", item.ID),
		slog.Int64("prev", prev))
}

// Active returns the currently active item, nil when none is.
func (t *ActivationTracker) Active() *feed.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.items[t.activeID]
}

// Neighbor returns the item adjacent to the active one in feed order.
// The feed renders newest first, so "prev" is the newer item (higher id)
// and "next" the older one. Returns nil at either end or when no item
// is active.
func (t *ActivationTracker) Neighbor(direction string) *feed.Item {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.activeID == 0 {
		return nil
	}
	pos := -1
	for i, id := range t.order {
		if id == t.activeID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil
	}
	switch direction {
	case protocol.DirectionPrev:
		pos--
	case protocol.DirectionNext:
		pos++
	default:
		return nil
	}
	if pos < 0 || pos >= len(t.order) {
		return nil
	}
	return t.items[t.order[pos]]
}
