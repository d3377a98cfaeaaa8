package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reelsmith/reel-core/internal/bus"
	"github.com/reelsmith/reel-core/internal/config"
	"github.com/reelsmith/reel-core/internal/feed"
	"github.com/reelsmith/reel-core/internal/protocol"
)

// Publisher is the slice of the bus client the controller publishes on.
type Publisher interface {
	PublishJSON(subject string, payload any) error
}

// PlaybackManager is the slice of the playback manager the controller
// drives.
type PlaybackManager interface {
	Live() bool
	Stop()
	Start(item *feed.Item)
}

// Feed resolves the active item and its neighbors in feed order.
type Feed interface {
	Active() *feed.Item
	Neighbor(direction string) *feed.Item
}

// Controller translates user gestures arriving on the bus into playback
// and focus commands. It is the only component that starts sessions; the
// activation tracker only ever stops them.
type Controller struct {
	bus     *bus.Client
	pub     Publisher
	manager PlaybackManager
	tracker Feed
	settle  time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	pending *time.Timer

	subs []*nats.Subscription
}

func NewController(cfg config.TransportConfig, busClient *bus.Client, manager PlaybackManager, tracker Feed, log *slog.Logger) *Controller {
	return &Controller{
		bus:     busClient,
		pub:     busClient,
		manager: manager,
		tracker: tracker,
		settle:  time.Duration(cfg.ReplaySettleMS) * time.Millisecond,
		logger:  log.With(slog.String("component", "transport")),
	}
}

func (c *Controller) Start() error {
	for subject, handler := range map[string]nats.MsgHandler{
		protocol.SubjectInputTap:      c.handleTap,
		protocol.SubjectInputReplay:   c.handleReplay,
		protocol.SubjectInputNavigate: c.handleNavigate,
	} {
		sub, err := c.bus.Conn().Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}
	return nil
}

func (c *Controller) Close() {
	c.cancelPending()
	for _, sub := range c.subs {
		_ = sub.Drain()
	}
}

func (c *Controller) Healthy() bool { return len(c.subs) == 3 }

// Tap toggles playback of the active item. Tap with nothing active is a
// no-op rather than an error.
func (c *Controller) handleTap(*nats.Msg) {
	c.cancelPending()
	if c.manager.Live() {
		c.manager.Stop()
		return
	}
	c.manager.Start(c.tracker.Active())
}

// Replay rewinds the active item: scroll back to the first slide, tear the
// session down, and restart once the scroll had a moment to settle. The
// delayed start is cancellable; any newer gesture supersedes it.
func (c *Controller) handleReplay(*nats.Msg) {
	c.cancelPending()
	item := c.tracker.Active()
	if item == nil {
		return
	}
	_ = c.pub.PublishJSON(protocol.SubjectSlideFocus, protocol.SlideFocus{
		ItemID:     item.ID,
		SlideIndex: 0,
	})
	c.manager.Stop()

	c.mu.Lock()
	c.pending = time.AfterFunc(c.settle, func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
		// the user may have scrolled away during the settle window
		if c.tracker.Active() != item {
			return
		}
		c.manager.Start(item)
	})
	c.mu.Unlock()
	c.logger.Debug("replay scheduled", slog.Int64("item", item.ID))
}

// Navigate moves keyboard focus to the adjacent item. It only publishes
// the focus command; the activation transition follows from the
// visibility events the resulting scroll produces.
func (c *Controller) handleNavigate(msg *nats.Msg) {
	c.cancelPending()
	var nav protocol.Navigate
	if err := json.Unmarshal(msg.Data, &nav); err != nil {
		c.logger.Warn("bad navigate payload", slog.String("error", err.Error()))
		return
	}
	neighbor := c.tracker.Neighbor(nav.Direction)
	if neighbor == nil {
		return
	}
	_ = c.pub.PublishJSON(protocol.SubjectItemFocus, protocol.ItemFocus{ItemID: neighbor.ID})
}

func (c *Controller) cancelPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}
